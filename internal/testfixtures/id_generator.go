package testfixtures

import (
	"fmt"
	"sync"
)

// IDGenerator yields deterministic identifiers so tests can assert on the
// IDs a service hands out.
type IDGenerator struct {
	mu      sync.Mutex
	prefix  string
	counter uint64
}

// NewIDGenerator builds a generator producing "<prefix>-1", "<prefix>-2", …
// An empty prefix defaults to "schedule".
func NewIDGenerator(prefix string) *IDGenerator {
	if prefix == "" {
		prefix = "schedule"
	}
	return &IDGenerator{prefix: prefix}
}

// Next returns the next identifier in the sequence.
func (g *IDGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counter++
	return fmt.Sprintf("%s-%d", g.prefix, g.counter)
}

// NextFunc exposes Next as a function suitable for dependency injection.
func (g *IDGenerator) NextFunc() func() string {
	if g == nil {
		return func() string { return "" }
	}
	return g.Next
}
