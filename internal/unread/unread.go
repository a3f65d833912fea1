// Package unread derives unread counts from thread state.
package unread

import (
	"sync"

	"github.com/and161185/leaguechat/internal/model"
)

// Total sums UnreadCount across threads. Zero threads yield 0.
func Total(threads []model.Thread) int {
	n := 0
	for _, t := range threads {
		n += t.UnreadCount
	}
	return n
}

// PerThread maps thread id to its unread count, omitting fully read threads.
func PerThread(threads []model.Thread) map[string]int {
	out := make(map[string]int)
	for _, t := range threads {
		if t.UnreadCount > 0 {
			out[t.ID] = t.UnreadCount
		}
	}
	return out
}

// Counter memoizes Total keyed on the thread-collection revision.
// Any revision change invalidates the cached value.
type Counter struct {
	mu    sync.Mutex
	rev   uint64
	total int
	valid bool
}

// Total returns the unread sum for threads observed at rev.
func (c *Counter) Total(rev uint64, threads []model.Thread) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.valid && c.rev == rev {
		return c.total
	}
	c.rev, c.total, c.valid = rev, Total(threads), true
	return c.total
}
