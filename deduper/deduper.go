// Package deduper remembers which keys have been seen during one pass.
package deduper

import (
	"context"
	"strings"
	"sync"
)

type Deduper interface {
	// AddIfNotExists reports true the first time a key is offered.
	AddIfNotExists(context.Context, string) bool
	Seen(string) bool
	Len() int
}

// New returns an in-memory Deduper. Keys are compared after trimming and
// lowercasing.
func New() Deduper {
	return &hashmap{
		seen: make(map[uint64]struct{}),
		mux:  &sync.RWMutex{},
	}
}

// Normalize is the key form the deduper compares.
func Normalize(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
