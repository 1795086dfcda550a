package testutil

import (
	"context"
	"sync"
	"sync/atomic"

	"dsda-uploader/internal/demo"
)

// StaticLocator answers lookups from a name-keyed table.
type StaticLocator struct {
	Locations map[string]*demo.AssetLocation
	Err       error

	calls atomic.Int32
}

// NewStaticLocator creates a locator that knows nothing.
func NewStaticLocator() *StaticLocator {
	return &StaticLocator{Locations: make(map[string]*demo.AssetLocation)}
}

func (l *StaticLocator) Lookup(ctx context.Context, q demo.AssetQuery) (*demo.AssetLocation, error) {
	l.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l.Err != nil {
		return nil, l.Err
	}
	return l.Locations[q.Name], nil
}

// Calls returns how many lookups were made.
func (l *StaticLocator) Calls() int {
	return int(l.calls.Load())
}

// StubPrompter returns a fixed decision.
type StubPrompter struct {
	Decision *demo.AssetDecision
	Err      error

	mu    sync.Mutex
	asked []demo.Asset
}

func (p *StubPrompter) DecideAsset(ctx context.Context, a demo.Asset) (*demo.AssetDecision, error) {
	p.mu.Lock()
	p.asked = append(p.asked, a)
	p.mu.Unlock()
	if p.Err != nil {
		return nil, p.Err
	}
	return p.Decision, nil
}

// Asked returns the assets the user was asked about.
func (p *StubPrompter) Asked() []demo.Asset {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]demo.Asset(nil), p.asked...)
}
