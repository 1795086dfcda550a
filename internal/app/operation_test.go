package app

import (
	"testing"
	"time"
)

func TestNewOperation(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		name      string
		command   string
		arguments string
	}{
		{name: "with arguments", command: "process", arguments: "run.zip"},
		{name: "empty arguments", command: "history", arguments: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := NewOperation(tt.command, tt.arguments, now)

			if op.Command != tt.command {
				t.Errorf("Command = %q, want %q", op.Command, tt.command)
			}
			if op.Arguments != tt.arguments {
				t.Errorf("Arguments = %q, want %q", op.Arguments, tt.arguments)
			}
			if op.Status != "success" {
				t.Errorf("Status = %q, want %q", op.Status, "success")
			}
			if op.ID != "20240115T103000Z" {
				t.Errorf("ID = %q, want %q", op.ID, "20240115T103000Z")
			}
		})
	}
}

func TestOperation_Fail(t *testing.T) {
	op := NewOperation("process", "", time.Now())
	op.Fail()
	if op.Status != "error" {
		t.Errorf("Status = %q, want %q", op.Status, "error")
	}
}

func TestOperation_Duration(t *testing.T) {
	start := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	op := NewOperation("process", "", start)
	if got := op.Duration(start.Add(90 * time.Second)); got != 90*time.Second {
		t.Errorf("Duration() = %v, want 90s", got)
	}
}
