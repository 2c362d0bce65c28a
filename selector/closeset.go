// File: selector/closeset.go
// Author: momentics <momentics@gmail.com>
//
// CloseSet dedups a shutdown fan-out: when several ManagedSelector shards
// apply a CloseConnections update concurrently, a shared set stops any one
// io.Closer from being closed twice even if it is reachable from more than
// one shard's key table.
package selector

import (
	"io"
	"sync"
)

type CloseSet struct {
	mu   sync.Mutex
	seen map[io.Closer]struct{}
}

func NewCloseSet() *CloseSet {
	return &CloseSet{seen: make(map[io.Closer]struct{})}
}

// NewSharedCloseSet builds a CloseSet for facade.Runtime to hand to every
// shard's CloseConnections update.
func NewSharedCloseSet() *CloseSet { return NewCloseSet() }

// markClosed returns true the first time c is seen, false on every
// subsequent call - the caller should only actually Close() on true.
func (s *CloseSet) markClosed(c io.Closer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[c]; ok {
		return false
	}
	s.seen[c] = struct{}{}
	return true
}
