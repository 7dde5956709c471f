// transport_test.go - In-memory fake relay transport.
// SPDX-FileCopyrightText: © 2026 Tavolo Authors
// SPDX-License-Identifier: AGPL-3.0-only

package relay

import (
	"context"
	"errors"
	"io"
	"sync"
)

// fakeConn is an in-memory Conn scripted by the test.
type fakeConn struct {
	in      chan []byte
	readErr chan error
	closeCh chan struct{}

	lock      sync.Mutex
	writes    [][]byte
	closeOnce sync.Once

	// onWrite, when set, plays the relay's side of the protocol.
	onWrite func(c *fakeConn, data []byte)
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:      make(chan []byte, 16),
		readErr: make(chan error, 1),
		closeCh: make(chan struct{}),
	}
}

func (c *fakeConn) ReadFrame() ([]byte, error) {
	select {
	case data := <-c.in:
		return data, nil
	case err := <-c.readErr:
		return nil, err
	case <-c.closeCh:
		return nil, io.EOF
	}
}

// failRead makes the next ReadFrame return err instead of a frame.
func (c *fakeConn) failRead(err error) {
	c.readErr <- err
}

func (c *fakeConn) WriteFrame(data []byte) error {
	select {
	case <-c.closeCh:
		return errors.New("connection closed")
	default:
	}
	c.lock.Lock()
	c.writes = append(c.writes, data)
	onWrite := c.onWrite
	c.lock.Unlock()
	if onWrite != nil {
		onWrite(c, data)
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closeCh) })
	return nil
}

// deliver queues a frame for the client to read.
func (c *fakeConn) deliver(data []byte) {
	select {
	case c.in <- data:
	case <-c.closeCh:
	}
}

func (c *fakeConn) writeCount() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return len(c.writes)
}

// fakeDialer hands out scripted connections per relay URL.
type fakeDialer struct {
	lock  sync.Mutex
	conns map[string][]*fakeConn // remaining conns per URL, consumed in order
	dials map[string]int
	errs  map[string]error
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{
		conns: make(map[string][]*fakeConn),
		dials: make(map[string]int),
		errs:  make(map[string]error),
	}
}

func (d *fakeDialer) add(url string, c *fakeConn) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.conns[url] = append(d.conns[url], c)
}

func (d *fakeDialer) failWith(url string, err error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.errs[url] = err
}

func (d *fakeDialer) dialCount(url string) int {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.dials[url]
}

func (d *fakeDialer) DialContext(ctx context.Context, url string) (Conn, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.dials[url]++
	if err := d.errs[url]; err != nil {
		return nil, err
	}
	remaining := d.conns[url]
	if len(remaining) == 0 {
		return nil, errors.New("no more scripted connections")
	}
	c := remaining[0]
	d.conns[url] = remaining[1:]
	return c, nil
}

// okResponder scripts a relay that acknowledges every published record.
func okResponder(accepted bool, message string) func(c *fakeConn, data []byte) {
	return func(c *fakeConn, data []byte) {
		id, ok := parseClientEventID(data)
		if !ok {
			return
		}
		c.deliver(marshalOK(id, accepted, message))
	}
}
