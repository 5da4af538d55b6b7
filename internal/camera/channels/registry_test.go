// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package channels

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	open   atomic.Bool
	closes atomic.Int32
}

func newConn(open bool) *fakeConn {
	c := &fakeConn{}
	c.open.Store(open)
	return c
}

func (c *fakeConn) IsOpen() bool { return c.open.Load() }

func (c *fakeConn) Close() error {
	c.open.Store(false)
	c.closes.Add(1)
	return nil
}

func TestTrackGetReply(t *testing.T) {
	r := New(0, zerolog.Nop())
	conn := newConn(true)
	r.Track("/cgi-bin/status", conn)

	e, ok := r.Get("/cgi-bin/status")
	require.True(t, ok)
	assert.Same(t, conn, e.Conn)
	assert.Empty(t, e.Reply)

	assert.True(t, r.SetReply("/cgi-bin/status", "ok"))
	assert.False(t, r.SetReply("/missing", "ok"))

	e, _ = r.Get("/cgi-bin/status")
	assert.Equal(t, "ok", e.Reply)
}

func TestPruneRemovesClosedWithoutReply(t *testing.T) {
	r := New(0, zerolog.Nop())
	r.Track("open", newConn(true))
	r.Track("closed-no-reply", newConn(false))
	r.Track("closed-with-reply", newConn(false))
	r.SetReply("closed-with-reply", "200 OK")
	r.Track("nil-conn", nil)

	assert.Equal(t, 2, r.Prune())
	assert.Equal(t, []string{"closed-with-reply", "open"}, r.Keys())
}

func TestCloseKeepsEntryUntilPrune(t *testing.T) {
	r := New(0, zerolog.Nop())
	conn := newConn(true)
	r.Track("k", conn)

	require.NoError(t, r.Close("k"))
	require.NoError(t, r.Close("k"))
	require.NoError(t, r.Close("unknown"))
	assert.Equal(t, int32(1), conn.closes.Load())
	assert.Equal(t, 1, r.Len())

	r.Prune()
	assert.Equal(t, 0, r.Len())
}

func TestPruneIfNeededHonorsThreshold(t *testing.T) {
	r := New(3, zerolog.Nop())
	for i := 0; i < 3; i++ {
		r.Track(fmt.Sprintf("req-%d", i), newConn(false))
	}
	assert.Equal(t, 0, r.PruneIfNeeded(), "at threshold nothing is pruned")

	r.Track("req-3", newConn(false))
	assert.Equal(t, 4, r.PruneIfNeeded())
	assert.Equal(t, 0, r.Len())
}

func TestClearClosesOpenConnections(t *testing.T) {
	r := New(0, zerolog.Nop())
	a, b := newConn(true), newConn(false)
	r.Track("a", a)
	r.Track("b", b)

	r.Clear()
	assert.Equal(t, 0, r.Len())
	assert.False(t, a.IsOpen())
	assert.Equal(t, int32(0), b.closes.Load())
}

func TestConcurrentAccess(t *testing.T) {
	r := New(5, zerolog.Nop())
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k-%d", i%7)
			r.Track(key, newConn(i%2 == 0))
			r.SetReply(key, "")
			_ = r.Close(key)
			r.PruneIfNeeded()
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, r.Len(), 7)
}
