package proxy

import (
	"errors"
	"sync/atomic"
)

// ErrNoProxies is returned when a Rotator is constructed without entries.
var ErrNoProxies = errors.New("proxy rotator requires at least one entry")

// Rotator hands out proxy entries round-robin. The entry list is fixed at
// construction; only the cursor mutates, so a single atomic counter is
// enough to keep concurrent fetch workers from skipping or repeating slots.
type Rotator struct {
	entries []Entry
	cursor  atomic.Uint64
}

// NewRotator builds a Rotator over entries. It fails fast on an empty list
// so a crawl never starts without an egress identity.
func NewRotator(entries []Entry) (*Rotator, error) {
	if len(entries) == 0 {
		return nil, ErrNoProxies
	}
	return &Rotator{entries: append([]Entry(nil), entries...)}, nil
}

// Next returns the entry at the current cursor and advances it.
func (r *Rotator) Next() Entry {
	idx := r.cursor.Add(1) - 1
	return r.entries[idx%uint64(len(r.entries))]
}

// Size reports how many entries the rotator cycles through.
func (r *Rotator) Size() int {
	return len(r.entries)
}
