package testutil

import (
	"context"
	"sync"

	"dsda-uploader/internal/demo"
)

// FakeReplayEngine returns a canned output. When Block is set, Run waits
// until its context is done, which lets tests exercise cancellation and
// timeouts.
type FakeReplayEngine struct {
	Output *demo.ReplayOutput
	Err    error
	Block  bool

	mu       sync.Mutex
	requests []demo.ReplayRequest
	started  chan struct{}
}

// NewFakeReplayEngine creates an engine that returns out.
func NewFakeReplayEngine(out *demo.ReplayOutput) *FakeReplayEngine {
	return &FakeReplayEngine{Output: out, started: make(chan struct{}, 16)}
}

func (e *FakeReplayEngine) Run(ctx context.Context, req demo.ReplayRequest) (*demo.ReplayOutput, error) {
	e.mu.Lock()
	e.requests = append(e.requests, req)
	started := e.started
	e.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if e.Block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return e.Output, e.Err
}

// Started receives once per Run call.
func (e *FakeReplayEngine) Started() <-chan struct{} {
	return e.started
}

// Requests returns the requests Run was called with.
func (e *FakeReplayEngine) Requests() []demo.ReplayRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]demo.ReplayRequest(nil), e.requests...)
}

// SingleLevelOutput is a one-level, solo run on Map 01.
func SingleLevelOutput() *demo.ReplayOutput {
	return &demo.ReplayOutput{
		Levels: []demo.LevelStat{{
			Level:   "Map 01",
			Time:    "1:23.00",
			Tics:    2905,
			Kills:   demo.Tally{Count: 20, Total: 20},
			Items:   demo.Tally{Count: 9, Total: 9},
			Secrets: demo.Tally{Count: 5, Total: 5},
		}},
		TotalTime: "1:23",
		TotalTics: 2905,
		Analysis:  map[string]string{"category": "UV Max", "turbo": "0"},
	}
}
