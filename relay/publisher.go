// publisher.go - Fan-out record publisher.
// SPDX-FileCopyrightText: © 2026 Tavolo Authors
// SPDX-License-Identifier: AGPL-3.0-only

package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/tavolo/tavolo/core/log"
	"github.com/tavolo/tavolo/core/record"
	"github.com/tavolo/tavolo/internal/instrument"
)

// RelayResult is the terminal outcome of one relay's publish attempt.
type RelayResult struct {
	URL     string
	Success bool
	Err     string
}

// PublishResult aggregates the per-relay outcomes of one Publish call.
type PublishResult struct {
	Total        int
	SuccessCount int
	FailureCount int
	PerRelay     []RelayResult
}

// Publisher fans a signed record out to a set of relays concurrently and
// collects per-relay accept/reject/timeout outcomes.  It performs no
// retries; a caller that wants retry-on-failure issues a new Publish call.
// Concurrent Publish calls are independent.
type Publisher struct {
	dialer Dialer
	log    *logging.Logger
}

// NewPublisher constructs a Publisher.
func NewPublisher(dialer Dialer, logBackend *log.Backend) *Publisher {
	return &Publisher{
		dialer: dialer,
		log:    logBackend.GetLogger("relay/publisher"),
	}
}

// Publish sends rec to every relay in relayURLs and blocks until each has
// reached a terminal outcome.  Per-relay failures never fail the call;
// partial success is a normal, structurally reported result.
func (p *Publisher) Publish(ctx context.Context, rec *record.Record, relayURLs []string, timeout time.Duration) *PublishResult {
	result := &PublishResult{
		Total:    len(relayURLs),
		PerRelay: make([]RelayResult, len(relayURLs)),
	}

	var wg sync.WaitGroup
	for i, url := range relayURLs {
		wg.Add(1)
		go func(i int, url string) {
			defer wg.Done()
			result.PerRelay[i] = p.publishOne(ctx, rec, url, timeout)
		}(i, url)
	}
	wg.Wait()

	for _, r := range result.PerRelay {
		if r.Success {
			result.SuccessCount++
		} else {
			result.FailureCount++
		}
		instrument.PublishOutcome(r.Success)
	}
	p.log.Debugf("Publish %s: %d/%d relays accepted", rec.ID, result.SuccessCount, result.Total)
	return result
}

func (p *Publisher) publishOne(ctx context.Context, rec *record.Record, url string, timeout time.Duration) RelayResult {
	res := RelayResult{URL: url}
	fail := func(msg string) RelayResult {
		res.Success = false
		res.Err = msg
		return res
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := p.dialer.DialContext(attemptCtx, url)
	if err != nil {
		return fail(fmt.Sprintf("connection error: %v", err))
	}
	defer conn.Close()

	frame, err := MarshalEventFrame(rec)
	if err != nil {
		return fail(fmt.Sprintf("connection error: %v", err))
	}
	if err := conn.WriteFrame(frame); err != nil {
		return fail(fmt.Sprintf("connection error: %v", err))
	}

	// One reader per attempt; the deadline and the connection race it.
	type readOutcome struct {
		frame interface{}
		err   error
	}
	readCh := make(chan readOutcome)
	readerCtx, stopReader := context.WithCancel(attemptCtx)
	defer stopReader()
	go func() {
		defer close(readCh)
		for {
			data, err := conn.ReadFrame()
			if err != nil {
				select {
				case readCh <- readOutcome{err: err}:
				case <-readerCtx.Done():
				}
				return
			}
			parsed, err := ParseFrame(data)
			if err != nil {
				// Protocol noise, not a terminal outcome.
				p.log.Debugf("%s: %v", url, err)
				continue
			}
			select {
			case readCh <- readOutcome{frame: parsed}:
			case <-readerCtx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-attemptCtx.Done():
			if attemptCtx.Err() == context.DeadlineExceeded {
				return fail(fmt.Sprintf("timeout after %dms", timeout.Milliseconds()))
			}
			return fail(fmt.Sprintf("connection error: %v", attemptCtx.Err()))
		case out := <-readCh:
			if out.err != nil {
				if errors.Is(out.err, io.EOF) {
					return fail("connection closed before acknowledgment")
				}
				return fail(fmt.Sprintf("connection error: %v", out.err))
			}
			if out.frame == nil {
				return fail("connection closed before acknowledgment")
			}
			ok, isOK := out.frame.(*OKFrame)
			if !isOK || ok.RecordID != rec.ID {
				continue
			}
			if ok.Accepted {
				res.Success = true
				return res
			}
			return fail(ok.Message)
		}
	}
}
