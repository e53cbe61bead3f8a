package domain

import (
	"fmt"
	"strings"
	"time"
)

// AttemptStatus tracks the lifecycle stage of an attempt.
type AttemptStatus string

const (
	AttemptBuilding  AttemptStatus = "building"
	AttemptDeploying AttemptStatus = "deploying"
	AttemptSuccess   AttemptStatus = "success"
	AttemptFailed    AttemptStatus = "failed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s AttemptStatus) Terminal() bool {
	return s == AttemptSuccess || s == AttemptFailed
}

// Valid reports whether s is a known status.
func (s AttemptStatus) Valid() bool {
	switch s {
	case AttemptBuilding, AttemptDeploying, AttemptSuccess, AttemptFailed:
		return true
	default:
		return false
	}
}

// Attempt captures a single deployment or rollback run.
type Attempt struct {
	ID         string
	WorkloadID string
	Reference  string
	Status     AttemptStatus
	Log        []LogLine
	CreatedAt  time.Time
	FinishedAt *time.Time
}

// Clone returns a deep copy of the attempt.
func (a Attempt) Clone() Attempt {
	out := a
	if a.Log != nil {
		out.Log = make([]LogLine, len(a.Log))
		copy(out.Log, a.Log)
	}
	if a.FinishedAt != nil {
		finished := *a.FinishedAt
		out.FinishedAt = &finished
	}
	return out
}

// LogText renders the attempt log one line per entry.
func (a Attempt) LogText() string {
	var b strings.Builder
	for _, line := range a.Log {
		b.WriteString(line.String())
		b.WriteByte('\n')
	}
	return b.String()
}

// LogLine is a single timestamped entry of an attempt log.
type LogLine struct {
	Seq     int
	At      time.Time
	Message string
}

const logTimeLayout = "2006-01-02 15:04:05"

func (l LogLine) String() string {
	return fmt.Sprintf("[%s] %s", l.At.UTC().Format(logTimeLayout), l.Message)
}
