package app

import "time"

// Operation tracks the CLI command being run. Its ID prefixes every log line
// written while the command runs.
type Operation struct {
	ID        string
	Command   string
	Arguments string
	StartedAt time.Time
	Status    string // "success" or "error"
}

// NewOperation creates an operation started at now.
func NewOperation(command, arguments string, now time.Time) *Operation {
	return &Operation{
		ID:        now.UTC().Format("20060102T150405Z"),
		Command:   command,
		Arguments: arguments,
		StartedAt: now,
		Status:    "success",
	}
}

// Fail marks the operation as failed.
func (op *Operation) Fail() {
	op.Status = "error"
}

// Duration returns the elapsed time at now.
func (op *Operation) Duration(now time.Time) time.Duration {
	return now.Sub(op.StartedAt)
}
