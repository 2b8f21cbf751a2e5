// Package lookahead coordinates concurrent producers that race ahead of a
// single sequential consumer.
//
// Producers take heights from Claims, each height handed out exactly once.
// The consumer publishes progress through Commits. A producer holding a
// claimed height may only work on it while the height is within the
// lookahead bound of the last committed height.
package lookahead

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrEndOfChain is returned by Wait when the claimed height is at or past
// a height already observed to be missing.
var ErrEndOfChain = errors.New("end of chain")

// Claims hands out monotonically increasing heights
type Claims struct {
	next atomic.Uint64
}

// NewClaims returns a counter whose first claim is start
func NewClaims(start uint64) *Claims {
	c := &Claims{}
	c.next.Store(start)
	return c
}

// Claim returns the next unclaimed height. No two callers receive the same value.
func (c *Claims) Claim() uint64 {
	return c.next.Add(1) - 1
}

// Peek returns the height the next Claim will return
func (c *Claims) Peek() uint64 {
	return c.next.Load()
}

// WithinBound reports whether claimed may be worked on when next is the
// lowest uncommitted height, i.e. committed + bound >= claimed.
func WithinBound(claimed, next, bound uint64) bool {
	return claimed < next+bound
}

// Commits is a single-writer, multi-reader broadcast of commit progress
type Commits struct {
	mu        sync.Mutex
	next      uint64
	committed bool
	end       uint64
	hasEnd    bool
	changed   chan struct{}
}

// NewCommits returns a publisher whose lowest uncommitted height is next.
// committed reports whether next-1 is already committed.
func NewCommits(next uint64, committed bool) *Commits {
	return &Commits{
		next:      next,
		committed: committed,
		changed:   make(chan struct{}),
	}
}

// Publish marks height as committed. Only the committing goroutine calls it,
// and only after the data for height is applied.
func (c *Commits) Publish(height uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.committed && height+1 <= c.next {
		return
	}
	c.next = height + 1
	c.committed = true
	c.notifyLocked()
}

// Committed returns the highest committed height, ok is false when nothing
// has been committed yet.
func (c *Commits) Committed() (height uint64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.committed {
		return 0, false
	}
	return c.next - 1, true
}

// Next returns the lowest uncommitted height
func (c *Commits) Next() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next
}

// MarkEnd records that height does not exist. The lowest marked height wins.
func (c *Commits) MarkEnd(height uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hasEnd && c.end <= height {
		return
	}
	c.end = height
	c.hasEnd = true
	c.notifyLocked()
}

// End returns the lowest height observed to be missing
func (c *Commits) End() (height uint64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.end, c.hasEnd
}

// Allowed reports whether claimed is currently within bound
func (c *Commits) Allowed(claimed, bound uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return WithinBound(claimed, c.next, bound)
}

// Wait blocks until claimed is within bound of the committed height.
// It returns ErrEndOfChain as soon as claimed is known to be past the tip.
func (c *Commits) Wait(ctx context.Context, claimed, bound uint64) error {
	for {
		c.mu.Lock()
		if c.hasEnd && claimed >= c.end {
			c.mu.Unlock()
			return ErrEndOfChain
		}
		if WithinBound(claimed, c.next, bound) {
			c.mu.Unlock()
			return nil
		}
		changed := c.changed
		c.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// WaitCommitted blocks until height is committed
func (c *Commits) WaitCommitted(ctx context.Context, height uint64) error {
	for {
		c.mu.Lock()
		if c.committed && height < c.next {
			c.mu.Unlock()
			return nil
		}
		changed := c.changed
		c.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Commits) notifyLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}

// Window binds Claims and Commits with a lookahead bound
type Window struct {
	Claims  *Claims
	Commits *Commits
	Bound   uint64
}

// NewWindow returns a window starting at next
func NewWindow(next uint64, committed bool, bound uint64) *Window {
	if bound == 0 {
		bound = 1
	}
	return &Window{
		Claims:  NewClaims(next),
		Commits: NewCommits(next, committed),
		Bound:   bound,
	}
}
