// subscriber.go - Resilient relay subscriber.
// SPDX-FileCopyrightText: © 2026 Tavolo Authors
// SPDX-License-Identifier: AGPL-3.0-only

package relay

import (
	"context"
	"encoding/hex"
	"io"
	"sync"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/tavolo/tavolo/core/crypto"
	"github.com/tavolo/tavolo/core/log"
	"github.com/tavolo/tavolo/core/record"
	"github.com/tavolo/tavolo/core/worker"
	"github.com/tavolo/tavolo/giftwrap"
	"github.com/tavolo/tavolo/internal/instrument"
)

// DefaultReconnectDelay is the fixed delay between reconnect attempts.
const DefaultReconnectDelay = 5 * time.Second

// RumorHandler receives every rumor addressed to this identity, along with
// the wrap it arrived in.
type RumorHandler func(rumor *giftwrap.Rumor, wrap *record.Record)

// ErrorHandler receives per-record and per-connection failures.  A single
// bad record never stops a subscription.
type ErrorHandler func(relayURL string, err error)

// SubscriberConfig carries a Subscriber's dependencies.
type SubscriberConfig struct {
	// RelayURLs is the set of relays to hold subscriptions on.
	RelayURLs []string

	// Keys is this node's identity, used both as the subscription
	// routing filter and to open inbound wraps.
	Keys *crypto.Keypair

	// Dialer opens relay connections.
	Dialer Dialer

	// ReconnectDelay is the fixed delay before a dropped relay link is
	// redialed.  Zero means DefaultReconnectDelay.
	ReconnectDelay time.Duration

	// OnRumor is invoked for every successfully opened inbound wrap.
	OnRumor RumorHandler

	// OnError is invoked for decryption and connection failures.  May be
	// nil.
	OnError ErrorHandler

	LogBackend *log.Backend
}

// Subscriber maintains one persistent connection per relay, subscribed to
// inbound wraps addressed to this identity, reconnecting on failure until
// stopped.
type Subscriber struct {
	worker.Worker

	cfg *SubscriberConfig
	log *logging.Logger

	linksLock sync.RWMutex
	links     map[string]*relayLink

	startOnce sync.Once
	stopOnce  sync.Once
}

// relayLink is per-relay connection state.
type relayLink struct {
	url   string
	subID string

	lock      sync.Mutex
	conn      Conn
	connected bool
	closed    bool // intentionally closed, suppresses reconnect
}

// NewSubscriber constructs a Subscriber.  Call Start to begin.
func NewSubscriber(cfg *SubscriberConfig) *Subscriber {
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	return &Subscriber{
		cfg:   cfg,
		log:   cfg.LogBackend.GetLogger("relay/subscriber"),
		links: make(map[string]*relayLink),
	}
}

// Start opens a connection and subscription per configured relay.
func (s *Subscriber) Start() {
	s.startOnce.Do(func() {
		for _, url := range s.cfg.RelayURLs {
			link := &relayLink{
				url:   url,
				subID: newSubscriptionID(),
			}
			s.linksLock.Lock()
			s.links[url] = link
			s.linksLock.Unlock()
			s.Go(func() { s.linkWorker(link) })
		}
	})
}

// Stop marks every link intentionally closed, cancels pending reconnects,
// unsubscribes where connected, and closes all connections.  Idempotent.
func (s *Subscriber) Stop() {
	s.stopOnce.Do(func() {
		s.linksLock.RLock()
		for _, link := range s.links {
			link.lock.Lock()
			link.closed = true
			if link.conn != nil {
				if frame, err := MarshalCloseFrame(link.subID); err == nil {
					_ = link.conn.WriteFrame(frame)
				}
				_ = link.conn.Close()
			}
			link.lock.Unlock()
		}
		s.linksLock.RUnlock()
		s.Halt()
	})
}

// ConnectionStatus reports, per relay, whether the link is currently
// connected and subscribed.
func (s *Subscriber) ConnectionStatus() map[string]bool {
	status := make(map[string]bool)
	s.linksLock.RLock()
	defer s.linksLock.RUnlock()
	for url, link := range s.links {
		link.lock.Lock()
		status[url] = link.connected
		link.lock.Unlock()
	}
	return status
}

// linkWorker drives one relay link through
// disconnected -> connecting -> subscribed -> disconnected -> ... until the
// subscriber halts.
func (s *Subscriber) linkWorker(link *relayLink) {
	dialCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Go(func() {
		select {
		case <-s.HaltCh():
			cancel()
		case <-dialCtx.Done():
		}
	})

	first := true
	for {
		if !first {
			instrument.Reconnect()
			select {
			case <-time.After(s.cfg.ReconnectDelay):
			case <-s.HaltCh():
				return
			}
		}
		first = false

		if link.intentionallyClosed() {
			return
		}

		conn, err := s.cfg.Dialer.DialContext(dialCtx, link.url)
		if err != nil {
			s.reportError(link.url, err)
			s.log.Debugf("Failed to connect to %s: %v", link.url, err)
			continue
		}

		link.lock.Lock()
		if link.closed {
			link.lock.Unlock()
			conn.Close()
			return
		}
		link.conn = conn
		link.lock.Unlock()

		err = s.runSubscription(link, conn)

		link.lock.Lock()
		link.conn = nil
		wasConnected := link.connected
		link.connected = false
		link.lock.Unlock()
		if wasConnected {
			instrument.RelayConnected(false)
		}
		conn.Close()

		if link.intentionallyClosed() {
			return
		}
		select {
		case <-s.HaltCh():
			return
		default:
		}
		if err != nil && err != io.EOF {
			s.reportError(link.url, err)
		}
		s.log.Debugf("Connection to %s terminated, will reconnect: %v", link.url, err)
	}
}

// runSubscription sends the REQ frame and dispatches inbound frames until
// the connection fails or the relay closes our subscription.  The filter
// never carries a lower time bound: wrap timestamps are deliberately
// randomized, so a since filter would systematically miss valid messages.
func (s *Subscriber) runSubscription(link *relayLink, conn Conn) error {
	filter := &Filter{
		Kinds: []int{record.KindWrap},
		PTags: []string{s.cfg.Keys.PublicHex()},
	}
	frame, err := MarshalReqFrame(link.subID, filter)
	if err != nil {
		return err
	}
	if err := conn.WriteFrame(frame); err != nil {
		return err
	}

	link.lock.Lock()
	link.connected = true
	link.lock.Unlock()
	instrument.RelayConnected(true)
	s.log.Debugf("Subscribed to %s as %s", link.url, link.subID)

	for {
		data, err := conn.ReadFrame()
		if err != nil {
			return err
		}
		parsed, err := ParseFrame(data)
		if err != nil {
			s.log.Debugf("%s: %v", link.url, err)
			continue
		}
		switch f := parsed.(type) {
		case *EventFrame:
			s.handleEvent(link, f.Record)
		case *EOSEFrame:
			s.log.Debugf("%s: end of stored records for %s", link.url, f.SubscriptionID)
		case *NoticeFrame:
			s.log.Noticef("%s: notice: %s", link.url, f.Message)
		case *ClosedFrame:
			if f.SubscriptionID == link.subID {
				// Server-initiated unsubscribe is a connection
				// loss for reconnect purposes.
				return io.EOF
			}
		case *OKFrame:
			// Not ours to consume; publishes use their own
			// connections.
		}
	}
}

// handleEvent filters and decrypts one inbound record.
func (s *Subscriber) handleEvent(link *relayLink, rec *record.Record) {
	if rec == nil || rec.Kind != record.KindWrap {
		return
	}
	if !rec.Tags.ContainsValue("p", s.cfg.Keys.PublicHex()) {
		// Not addressed here, even if it would decrypt.
		return
	}
	rumor, err := giftwrap.UnwrapAndUnseal(rec, s.cfg.Keys)
	if err != nil {
		instrument.DecryptFailure()
		s.reportError(link.url, err)
		return
	}
	s.cfg.OnRumor(rumor, rec)
}

func (s *Subscriber) reportError(url string, err error) {
	if s.cfg.OnError != nil {
		s.cfg.OnError(url, err)
	}
}

func (l *relayLink) intentionallyClosed() bool {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.closed
}

func newSubscriptionID() string {
	var raw [8]byte
	if _, err := io.ReadFull(crypto.Rand(), raw[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(raw[:])
}
