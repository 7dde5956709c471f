// reserve.go - Reservation round trips over the relay network.
// SPDX-FileCopyrightText: © 2026 Tavolo Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package reserve carries a reservation request from this node to a
// restaurant's client over the relay network and carries the confirmation
// back, and publishes the venue's profile and menu records.
package reserve

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/tavolo/tavolo/core/crypto"
	"github.com/tavolo/tavolo/core/log"
	"github.com/tavolo/tavolo/core/record"
	"github.com/tavolo/tavolo/core/worker"
	"github.com/tavolo/tavolo/correlate"
	"github.com/tavolo/tavolo/giftwrap"
	"github.com/tavolo/tavolo/relay"
	"github.com/tavolo/tavolo/store"
)

// Request is the application payload of a reservation request rumor.
type Request struct {
	PartySize int    `json:"party_size"`
	Time      int64  `json:"time"`
	Name      string `json:"name"`
	Phone     string `json:"phone,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

// Confirmation is the application payload of a reservation reply rumor.
type Confirmation struct {
	Status  string `json:"status"` // "confirmed" or "declined"
	Table   string `json:"table,omitempty"`
	Message string `json:"message,omitempty"`
}

// RequestHandler decides on an inbound reservation request when this node
// acts as the restaurant's client.
type RequestHandler func(from string, req *Request) *Confirmation

// Config carries a Service's dependencies.
type Config struct {
	Keys       *crypto.Keypair
	Relays     []string
	Publisher  *relay.Publisher
	Correlator *correlate.Correlator

	// Store receives audit copies and locally published records.  May be
	// nil.
	Store *store.BoltStore

	// OnRequest, when set, makes the node answer inbound reservation
	// requests.
	OnRequest RequestHandler

	// PublishTimeout bounds each per-relay publish acknowledgment.
	PublishTimeout time.Duration

	// ResponseTimeout is the default reservation round-trip deadline.  A
	// context deadline on RequestReservation overrides it per call.
	ResponseTimeout time.Duration

	LogBackend *log.Backend
}

// Service ties the publisher, subscriber callback and correlator together
// into the reservation control flow.
type Service struct {
	worker.Worker

	cfg *Config
	log *logging.Logger
}

// New constructs a Service.
func New(cfg *Config) *Service {
	return &Service{
		cfg: cfg,
		log: cfg.LogBackend.GetLogger("reserve"),
	}
}

// Shutdown stops any in-flight reply workers.
func (s *Service) Shutdown() {
	s.Halt()
}

// RequestReservation sends req to the restaurant identified by
// restaurantPub and blocks until its client confirms, declines, or the
// deadline passes.  A request the recipient cannot decrypt is simply never
// answered and surfaces here as a timeout.
func (s *Service) RequestReservation(ctx context.Context, restaurantPub string, req *Request) (*Confirmation, error) {
	content, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	rumor := &giftwrap.Rumor{
		PubKey:    s.cfg.Keys.PublicHex(),
		CreatedAt: time.Now().Unix(),
		Kind:      record.KindReservationRequest,
		Tags:      record.Tags{{"p", restaurantPub}},
		Content:   string(content),
	}
	rumor.ID = rumor.ComputeID()

	timeout := s.cfg.ResponseTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	// Register before publishing so a fast reply cannot race the wait.
	pending, err := s.cfg.Correlator.Register(rumor.ID, timeout)
	if err != nil {
		return nil, err
	}

	wrap, err := giftwrap.SealAndWrap(rumor, s.cfg.Keys, restaurantPub)
	if err != nil {
		s.cfg.Correlator.Cancel(rumor.ID)
		return nil, err
	}
	auditWrap, err := giftwrap.SealAndWrap(rumor, s.cfg.Keys, s.cfg.Keys.PublicHex())
	if err != nil {
		s.cfg.Correlator.Cancel(rumor.ID)
		return nil, err
	}

	result := s.cfg.Publisher.Publish(ctx, wrap, s.cfg.Relays, s.cfg.PublishTimeout)
	if result.SuccessCount == 0 {
		s.cfg.Correlator.Cancel(rumor.ID)
		return nil, fmt.Errorf("reserve: no relay accepted reservation request %s", rumor.ID)
	}

	// The audit copy is best effort; the request is already in flight.
	auditResult := s.cfg.Publisher.Publish(ctx, auditWrap, s.cfg.Relays, s.cfg.PublishTimeout)
	if auditResult.SuccessCount == 0 {
		s.log.Warningf("No relay accepted audit copy for request %s", rumor.ID)
	}

	reply, err := pending.Wait()
	if err != nil {
		return nil, err
	}
	if reply.PubKey != restaurantPub {
		return nil, fmt.Errorf("reserve: reply to %s from unexpected sender %s", rumor.ID, reply.PubKey)
	}

	conf := new(Confirmation)
	if err := json.Unmarshal([]byte(reply.Content), conf); err != nil {
		return nil, fmt.Errorf("reserve: malformed confirmation: %v", err)
	}
	return conf, nil
}

// HandleInbound routes every rumor the subscriber delivers: correlated
// replies first, then reservation requests addressed to this venue, then
// our own audit copies arriving back from the relays.
func (s *Service) HandleInbound(rumor *giftwrap.Rumor, wrap *record.Record) {
	if s.cfg.Correlator.HandleRumor(rumor) {
		return
	}
	switch rumor.Kind {
	case record.KindReservationRequest:
		if rumor.PubKey == s.cfg.Keys.PublicHex() {
			s.storeAudit(wrap)
			return
		}
		if s.cfg.OnRequest == nil {
			s.log.Debugf("Dropping reservation request %s: no handler", rumor.ID)
			return
		}
		s.Go(func() { s.answerRequest(rumor) })
	default:
		s.log.Debugf("Dropping rumor %s of kind %d", rumor.ID, rumor.Kind)
	}
}

// answerRequest runs the request handler and sends the wrapped reply back
// through the relays.
func (s *Service) answerRequest(rumor *giftwrap.Rumor) {
	req := new(Request)
	if err := json.Unmarshal([]byte(rumor.Content), req); err != nil {
		s.log.Warningf("Malformed reservation request %s: %v", rumor.ID, err)
		return
	}
	conf := s.cfg.OnRequest(rumor.PubKey, req)
	if conf == nil {
		return
	}
	content, err := json.Marshal(conf)
	if err != nil {
		s.log.Errorf("Failed to encode confirmation for %s: %v", rumor.ID, err)
		return
	}

	reply := &giftwrap.Rumor{
		PubKey:    s.cfg.Keys.PublicHex(),
		CreatedAt: time.Now().Unix(),
		Kind:      record.KindReservationReply,
		Tags: record.Tags{
			{correlate.ReferenceTag, rumor.ID},
			{"p", rumor.PubKey},
		},
		Content: string(content),
	}
	reply.ID = reply.ComputeID()

	wrap, err := giftwrap.SealAndWrap(reply, s.cfg.Keys, rumor.PubKey)
	if err != nil {
		s.log.Errorf("Failed to wrap reply for %s: %v", rumor.ID, err)
		return
	}
	result := s.cfg.Publisher.Publish(context.Background(), wrap, s.cfg.Relays, s.cfg.PublishTimeout)
	if result.SuccessCount == 0 {
		s.log.Warningf("No relay accepted reply to request %s", rumor.ID)
	}
}

func (s *Service) storeAudit(wrap *record.Record) {
	if s.cfg.Store == nil {
		return
	}
	if _, err := s.cfg.Store.Ingest(wrap); err != nil {
		s.log.Errorf("Failed to store audit copy %s: %v", wrap.ID, err)
	}
}
