// frame.go - Relay wire protocol framing.
// SPDX-FileCopyrightText: © 2026 Tavolo Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package relay implements the client side of the relay wire protocol: JSON
// array frames over one persistent duplex connection per relay URL, a
// fan-out publisher, and a reconnecting subscriber.
package relay

import (
	"encoding/json"
	"fmt"

	"github.com/tavolo/tavolo/core/record"
)

// Wire frame labels.
const (
	labelEvent  = "EVENT"
	labelReq    = "REQ"
	labelClose  = "CLOSE"
	labelOK     = "OK"
	labelEOSE   = "EOSE"
	labelNotice = "NOTICE"
	labelClosed = "CLOSED"
)

// Filter selects records from a relay subscription.  Field names follow the
// wire protocol.
type Filter struct {
	Kinds []int    `json:"kinds,omitempty"`
	PTags []string `json:"#p,omitempty"`
}

// EventFrame is a relay delivering a record that matched a subscription.
type EventFrame struct {
	SubscriptionID string
	Record         *record.Record
}

// OKFrame is a relay acknowledging a publish.
type OKFrame struct {
	RecordID string
	Accepted bool
	Message  string
}

// EOSEFrame marks the end of a subscription's stored backlog.
type EOSEFrame struct {
	SubscriptionID string
}

// NoticeFrame is an informational message from the relay.
type NoticeFrame struct {
	Message string
}

// ClosedFrame is a relay unilaterally closing a subscription.
type ClosedFrame struct {
	SubscriptionID string
	Message        string
}

// MarshalEventFrame encodes a publish frame: ["EVENT", <record>].
func MarshalEventFrame(rec *record.Record) ([]byte, error) {
	return json.Marshal([]interface{}{labelEvent, rec})
}

// MarshalReqFrame encodes a subscribe frame: ["REQ", <sub id>, <filter>].
func MarshalReqFrame(subID string, f *Filter) ([]byte, error) {
	return json.Marshal([]interface{}{labelReq, subID, f})
}

// MarshalCloseFrame encodes an unsubscribe frame: ["CLOSE", <sub id>].
func MarshalCloseFrame(subID string) ([]byte, error) {
	return json.Marshal([]interface{}{labelClose, subID})
}

// ParseFrame decodes a relay-to-client frame into one of the typed frames
// above.  Unknown labels and malformed arrays are errors; callers treat them
// as protocol noise, not connection failures.
func ParseFrame(data []byte) (interface{}, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return nil, fmt.Errorf("relay: malformed frame: %v", err)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("relay: empty frame")
	}
	var label string
	if err := json.Unmarshal(parts[0], &label); err != nil {
		return nil, fmt.Errorf("relay: malformed frame label: %v", err)
	}

	switch label {
	case labelOK:
		if len(parts) < 3 {
			return nil, fmt.Errorf("relay: truncated OK frame")
		}
		f := new(OKFrame)
		if err := json.Unmarshal(parts[1], &f.RecordID); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(parts[2], &f.Accepted); err != nil {
			return nil, err
		}
		if len(parts) > 3 {
			if err := json.Unmarshal(parts[3], &f.Message); err != nil {
				return nil, err
			}
		}
		return f, nil
	case labelEvent:
		if len(parts) < 3 {
			return nil, fmt.Errorf("relay: truncated EVENT frame")
		}
		f := &EventFrame{Record: new(record.Record)}
		if err := json.Unmarshal(parts[1], &f.SubscriptionID); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(parts[2], f.Record); err != nil {
			return nil, err
		}
		return f, nil
	case labelEOSE:
		if len(parts) < 2 {
			return nil, fmt.Errorf("relay: truncated EOSE frame")
		}
		f := new(EOSEFrame)
		if err := json.Unmarshal(parts[1], &f.SubscriptionID); err != nil {
			return nil, err
		}
		return f, nil
	case labelNotice:
		f := new(NoticeFrame)
		if len(parts) > 1 {
			if err := json.Unmarshal(parts[1], &f.Message); err != nil {
				return nil, err
			}
		}
		return f, nil
	case labelClosed:
		if len(parts) < 2 {
			return nil, fmt.Errorf("relay: truncated CLOSED frame")
		}
		f := new(ClosedFrame)
		if err := json.Unmarshal(parts[1], &f.SubscriptionID); err != nil {
			return nil, err
		}
		if len(parts) > 2 {
			if err := json.Unmarshal(parts[2], &f.Message); err != nil {
				return nil, err
			}
		}
		return f, nil
	default:
		return nil, fmt.Errorf("relay: unknown frame label %q", label)
	}
}
