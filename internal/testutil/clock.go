package testutil

import (
	"strconv"
	"sync/atomic"
	"time"

	"dsda-uploader/internal/demo"
)

// AttemptTime is the instant reported by FixedClock.
var AttemptTime = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

type fixedClock struct{}

func (fixedClock) Now() time.Time { return AttemptTime }

// FixedClock returns a clock stopped at AttemptTime.
func FixedClock() demo.Clock {
	return fixedClock{}
}

// SequentialIDs hands out "id-1", "id-2", ... and is safe for concurrent use.
type SequentialIDs struct {
	n atomic.Int64
}

func NewSequentialIDs() *SequentialIDs {
	return &SequentialIDs{}
}

func (g *SequentialIDs) New() string {
	return "id-" + strconv.FormatInt(g.n.Add(1), 10)
}

var _ demo.IDGenerator = (*SequentialIDs)(nil)
