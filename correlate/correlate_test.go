// correlate_test.go - Request/response correlation tests.
// SPDX-FileCopyrightText: © 2026 Tavolo Authors
// SPDX-License-Identifier: AGPL-3.0-only

package correlate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tavolo/tavolo/core/log"
	"github.com/tavolo/tavolo/core/record"
	"github.com/tavolo/tavolo/giftwrap"
)

func testCorrelator(t *testing.T) *Correlator {
	backend, err := log.New("", "DEBUG", true)
	require.NoError(t, err)
	c := NewCorrelator(backend)
	t.Cleanup(c.Stop)
	return c
}

func replyTo(requestID, content string) *giftwrap.Rumor {
	return &giftwrap.Rumor{
		CreatedAt: time.Now().Unix(),
		Kind:      record.KindReservationReply,
		Tags:      record.Tags{{ReferenceTag, requestID}},
		Content:   content,
	}
}

func TestCorrelatorMatchesReply(t *testing.T) {
	c := testCorrelator(t)

	pending, err := c.Register("req-1", time.Second)
	require.NoError(t, err)

	require.True(t, c.HandleRumor(replyTo("req-1", "confirmed")))

	rumor, err := pending.Wait()
	require.NoError(t, err)
	require.Equal(t, "confirmed", rumor.Content)
}

func TestCorrelatorRejectsDuplicateRegistration(t *testing.T) {
	c := testCorrelator(t)

	_, err := c.Register("req-1", time.Second)
	require.NoError(t, err)

	_, err = c.Register("req-1", time.Second)
	require.ErrorIs(t, err, ErrAlreadyWaiting)
}

func TestCorrelatorDuplicateReplyIsNoOp(t *testing.T) {
	c := testCorrelator(t)

	pending, err := c.Register("req-1", time.Second)
	require.NoError(t, err)

	require.True(t, c.HandleRumor(replyTo("req-1", "first")))
	require.False(t, c.HandleRumor(replyTo("req-1", "second")))

	rumor, err := pending.Wait()
	require.NoError(t, err)
	require.Equal(t, "first", rumor.Content)
}

func TestCorrelatorIgnoresUnsolicited(t *testing.T) {
	c := testCorrelator(t)

	require.False(t, c.HandleRumor(replyTo("nobody-asked", "hello")))

	noRef := &giftwrap.Rumor{
		CreatedAt: time.Now().Unix(),
		Kind:      record.KindReservationReply,
		Tags:      record.Tags{},
		Content:   "tagless",
	}
	require.False(t, c.HandleRumor(noRef))
}

func TestCorrelatorTimeout(t *testing.T) {
	c := testCorrelator(t)

	start := time.Now()
	pending, err := c.Register("req-slow", 50*time.Millisecond)
	require.NoError(t, err)

	_, err = pending.Wait()
	require.ErrorIs(t, err, ErrTimeout)
	elapsed := time.Since(start)
	require.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	require.Less(t, elapsed, time.Second)

	// The id is free again after expiry.
	_, err = c.Register("req-slow", time.Second)
	require.NoError(t, err)
}

func TestCorrelatorEarliestDeadlineFiresFirst(t *testing.T) {
	c := testCorrelator(t)

	// Register the longer wait first so the timer worker has to retarget
	// when the shorter one arrives.
	longWait, err := c.Register("req-long", 500*time.Millisecond)
	require.NoError(t, err)
	shortWait, err := c.Register("req-short", 30*time.Millisecond)
	require.NoError(t, err)

	_, err = shortWait.Wait()
	require.ErrorIs(t, err, ErrTimeout)

	// The long wait is still live and can be satisfied.
	require.True(t, c.HandleRumor(replyTo("req-long", "ok")))
	rumor, err := longWait.Wait()
	require.NoError(t, err)
	require.Equal(t, "ok", rumor.Content)
}

func TestCorrelatorStaleExpiryIgnoresReRegistration(t *testing.T) {
	c := testCorrelator(t)

	first, err := c.Register("req-1", time.Minute)
	require.NoError(t, err)
	c.lock.Lock()
	stale := c.pending["req-1"]
	c.lock.Unlock()

	// The wait is matched and the id immediately re-registered, as a
	// retry would do.  A timeout delivery still holding the old entry
	// must not resolve the fresh wait.
	require.True(t, c.HandleRumor(replyTo("req-1", "ok")))
	second, err := c.Register("req-1", time.Minute)
	require.NoError(t, err)

	require.False(t, c.resolveEntry(stale, waitResult{err: ErrTimeout}))

	rumor, err := first.Wait()
	require.NoError(t, err)
	require.Equal(t, "ok", rumor.Content)

	require.True(t, c.HandleRumor(replyTo("req-1", "retry ok")))
	rumor, err = second.Wait()
	require.NoError(t, err)
	require.Equal(t, "retry ok", rumor.Content)
}

func TestCorrelatorCancel(t *testing.T) {
	c := testCorrelator(t)

	pending, err := c.Register("req-1", time.Minute)
	require.NoError(t, err)

	require.True(t, c.Cancel("req-1"))
	require.False(t, c.Cancel("req-1"))

	_, err = pending.Wait()
	require.ErrorIs(t, err, ErrCancelled)

	// Cancellation frees the id for reuse.
	_, err = c.Register("req-1", time.Minute)
	require.NoError(t, err)
}

func TestCorrelatorCancelAll(t *testing.T) {
	c := testCorrelator(t)

	a, err := c.Register("req-a", time.Minute)
	require.NoError(t, err)
	b, err := c.Register("req-b", time.Minute)
	require.NoError(t, err)

	c.CancelAll()

	_, err = a.Wait()
	require.ErrorIs(t, err, ErrCancelled)
	_, err = b.Wait()
	require.ErrorIs(t, err, ErrCancelled)
}

func TestCorrelatorWaitForResponse(t *testing.T) {
	c := testCorrelator(t)

	go func() {
		time.Sleep(10 * time.Millisecond)
		c.HandleRumor(replyTo("req-1", "table 4"))
	}()

	rumor, err := c.WaitForResponse("req-1", time.Second)
	require.NoError(t, err)
	require.Equal(t, "table 4", rumor.Content)
}
