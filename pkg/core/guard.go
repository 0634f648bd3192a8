// Copyright © 2024 Zyncio

package core

import (
	"sync"

	"github.com/zyncio/zync/pkg/model"
)

// Guard tracks snapshots currently serving as incremental send bases so the
// clean phase leaves them alone while a transfer is in flight. Holds are
// counted: a snapshot stays guarded until every holder released it.
type Guard struct {
	mu   sync.Mutex
	held map[string]int
}

// NewGuard returns an empty guard.
func NewGuard() *Guard {
	return &Guard{held: make(map[string]int)}
}

// Hold marks snap as in use and returns its release. Release is idempotent.
func (g *Guard) Hold(snap model.Snapshot) (release func()) {
	key := snap.String()
	g.mu.Lock()
	g.held[key]++
	g.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			if g.held[key] <= 1 {
				delete(g.held, key)
				return
			}
			g.held[key]--
		})
	}
}

// Held reports whether snap is currently guarded.
func (g *Guard) Held(snap model.Snapshot) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held[snap.String()] > 0
}
