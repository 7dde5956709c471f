// publisher_test.go - Fan-out publisher tests.
// SPDX-FileCopyrightText: © 2026 Tavolo Authors
// SPDX-License-Identifier: AGPL-3.0-only

package relay

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tavolo/tavolo/core/crypto"
	"github.com/tavolo/tavolo/core/log"
	"github.com/tavolo/tavolo/core/record"
)

func testLogBackend(t *testing.T) *log.Backend {
	backend, err := log.New("", "DEBUG", true)
	require.NoError(t, err)
	return backend
}

func testSignedRecord(t *testing.T) *record.Record {
	keys, err := crypto.NewKeypair()
	require.NoError(t, err)
	rec := &record.Record{
		Kind:      record.KindWrap,
		CreatedAt: time.Now().Unix(),
		Tags:      record.Tags{{"p", keys.PublicHex()}},
		Content:   "ciphertext",
	}
	require.NoError(t, rec.Sign(keys))
	return rec
}

func TestPublishAggregation(t *testing.T) {
	rec := testSignedRecord(t)
	dialer := newFakeDialer()

	// Relay A accepts, relay B never answers, relay C rejects.
	connA := newFakeConn()
	connA.onWrite = okResponder(true, "")
	dialer.add("ws://relay-a", connA)

	connB := newFakeConn()
	dialer.add("ws://relay-b", connB)

	connC := newFakeConn()
	connC.onWrite = okResponder(false, "rate limited")
	dialer.add("ws://relay-c", connC)

	p := NewPublisher(dialer, testLogBackend(t))
	timeout := 100 * time.Millisecond
	result := p.Publish(context.Background(), rec,
		[]string{"ws://relay-a", "ws://relay-b", "ws://relay-c"}, timeout)

	require.Equal(t, 3, result.Total)
	require.Equal(t, 1, result.SuccessCount)
	require.Equal(t, 2, result.FailureCount)

	byURL := make(map[string]RelayResult)
	for _, r := range result.PerRelay {
		byURL[r.URL] = r
	}
	require.True(t, byURL["ws://relay-a"].Success)
	require.Empty(t, byURL["ws://relay-a"].Err)
	require.False(t, byURL["ws://relay-b"].Success)
	require.Equal(t, fmt.Sprintf("timeout after %dms", timeout.Milliseconds()), byURL["ws://relay-b"].Err)
	require.False(t, byURL["ws://relay-c"].Success)
	require.Equal(t, "rate limited", byURL["ws://relay-c"].Err)
}

func TestPublishConnectionError(t *testing.T) {
	rec := testSignedRecord(t)
	dialer := newFakeDialer()
	dialer.failWith("ws://relay-x", errors.New("connection refused"))

	p := NewPublisher(dialer, testLogBackend(t))
	result := p.Publish(context.Background(), rec, []string{"ws://relay-x"}, time.Second)

	require.Equal(t, 1, result.FailureCount)
	require.Contains(t, result.PerRelay[0].Err, "connection error:")
	require.Contains(t, result.PerRelay[0].Err, "connection refused")
}

func TestPublishConnectionClosedBeforeAck(t *testing.T) {
	rec := testSignedRecord(t)
	dialer := newFakeDialer()

	conn := newFakeConn()
	conn.onWrite = func(c *fakeConn, data []byte) {
		c.Close()
	}
	dialer.add("ws://relay-x", conn)

	p := NewPublisher(dialer, testLogBackend(t))
	result := p.Publish(context.Background(), rec, []string{"ws://relay-x"}, time.Second)

	require.Equal(t, 1, result.FailureCount)
	require.Equal(t, "connection closed before acknowledgment", result.PerRelay[0].Err)
}

func TestPublishReadFaultIsConnectionError(t *testing.T) {
	rec := testSignedRecord(t)
	dialer := newFakeDialer()

	// A network fault after the EVENT frame is written is a connection
	// error, not a clean close.
	conn := newFakeConn()
	conn.onWrite = func(c *fakeConn, data []byte) {
		c.failRead(errors.New("read: connection reset by peer"))
	}
	dialer.add("ws://relay-x", conn)

	p := NewPublisher(dialer, testLogBackend(t))
	result := p.Publish(context.Background(), rec, []string{"ws://relay-x"}, time.Second)

	require.Equal(t, 1, result.FailureCount)
	require.Equal(t, "connection error: read: connection reset by peer", result.PerRelay[0].Err)
}

func TestPublishIgnoresForeignAcks(t *testing.T) {
	rec := testSignedRecord(t)
	dialer := newFakeDialer()

	conn := newFakeConn()
	conn.onWrite = func(c *fakeConn, data []byte) {
		id, ok := parseClientEventID(data)
		if !ok {
			return
		}
		// An acknowledgment for some other record must not terminate
		// the wait.
		c.deliver(marshalOK("not-our-record", false, "duplicate"))
		c.deliver(marshalOK(id, true, ""))
	}
	dialer.add("ws://relay-x", conn)

	p := NewPublisher(dialer, testLogBackend(t))
	result := p.Publish(context.Background(), rec, []string{"ws://relay-x"}, time.Second)

	require.Equal(t, 1, result.SuccessCount)
	require.True(t, result.PerRelay[0].Success)
}

func TestPublishIndependentCalls(t *testing.T) {
	rec := testSignedRecord(t)
	dialer := newFakeDialer()
	for i := 0; i < 2; i++ {
		conn := newFakeConn()
		conn.onWrite = okResponder(true, "")
		dialer.add("ws://relay-a", conn)
	}

	p := NewPublisher(dialer, testLogBackend(t))
	first := p.Publish(context.Background(), rec, []string{"ws://relay-a"}, time.Second)
	second := p.Publish(context.Background(), rec, []string{"ws://relay-a"}, time.Second)

	require.Equal(t, 1, first.SuccessCount)
	require.Equal(t, 1, second.SuccessCount)
	require.Equal(t, 2, dialer.dialCount("ws://relay-a"))
}
