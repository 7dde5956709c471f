// catalog.go - Venue profile and menu publishing.
// SPDX-FileCopyrightText: © 2026 Tavolo Authors
// SPDX-License-Identifier: AGPL-3.0-only

package reserve

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tavolo/tavolo/core/record"
	"github.com/tavolo/tavolo/relay"
)

// Profile is the venue's singleton-replaceable public profile.
type Profile struct {
	Name    string `json:"name"`
	About   string `json:"about,omitempty"`
	Address string `json:"address,omitempty"`
}

// MenuItem is one entry of a menu listing.
type MenuItem struct {
	Name        string `json:"name"`
	Price       string `json:"price"`
	Description string `json:"description,omitempty"`
}

// MenuListing is a parameterized-replaceable menu record; Slug is its "d"
// tag discriminator, so republishing the same slug supersedes the old menu.
type MenuListing struct {
	Slug  string     `json:"-"`
	Title string     `json:"title"`
	Items []MenuItem `json:"items"`
}

// PublishProfile signs and publishes the venue profile as a kind 0 record.
func (s *Service) PublishProfile(ctx context.Context, p *Profile) (*relay.PublishResult, error) {
	content, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	rec := &record.Record{
		Kind:      record.KindProfile,
		CreatedAt: time.Now().Unix(),
		Tags:      record.Tags{},
		Content:   string(content),
	}
	return s.publishRecord(ctx, rec)
}

// PublishMenu signs and publishes a menu listing as a kind 30402 record
// discriminated by its slug.
func (s *Service) PublishMenu(ctx context.Context, m *MenuListing) (*relay.PublishResult, error) {
	content, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	rec := &record.Record{
		Kind:      record.KindMenuListing,
		CreatedAt: time.Now().Unix(),
		Tags: record.Tags{
			{"d", m.Slug},
			{"title", m.Title},
		},
		Content: string(content),
	}
	return s.publishRecord(ctx, rec)
}

func (s *Service) publishRecord(ctx context.Context, rec *record.Record) (*relay.PublishResult, error) {
	if s.cfg.Store != nil {
		// Timestamps are second-granularity and replacement is
		// strictly-newer, so a republication within the same second
		// must be stamped past the stored copy or it would be skipped
		// locally while still reaching the relays.
		old, err := s.cfg.Store.Current(rec)
		if err != nil {
			return nil, err
		}
		if old != nil && old.Record.CreatedAt >= rec.CreatedAt {
			rec.CreatedAt = old.Record.CreatedAt + 1
		}
	}
	if err := rec.Sign(s.cfg.Keys); err != nil {
		return nil, err
	}
	if s.cfg.Store != nil {
		if _, err := s.cfg.Store.Ingest(rec); err != nil {
			return nil, err
		}
	}
	return s.cfg.Publisher.Publish(ctx, rec, s.cfg.Relays, s.cfg.PublishTimeout), nil
}
