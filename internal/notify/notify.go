package notify

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/Canejo/vault-state-plugin/internal/types"
)

// Level is the severity of a notification
type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

// Notification is a short user-facing summary of a snapshot run
type Notification struct {
	Level   Level
	Title   string
	Message string
	Fields  map[string]string
}

// Notifier delivers notifications. Delivery is best-effort: implementations
// log their own failures and never block the snapshot run on them.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// LogNotifier writes notifications to a logger
type LogNotifier struct {
	Logger *log.Logger
}

func (l LogNotifier) Notify(_ context.Context, n Notification) {
	logger := l.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf("notify: [%s] %s: %s", n.Level, n.Title, n.Message)
}

// Multi fans a notification out to several notifiers
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) {
	for _, notifier := range m {
		if notifier != nil {
			notifier.Notify(ctx, n)
		}
	}
}

// FromSummary turns a run summary into a notification
func FromSummary(s *types.RunSummary) Notification {
	n := Notification{
		Level: LevelInfo,
		Title: "Vault snapshot",
		Fields: map[string]string{
			"period":  s.Period,
			"outcome": string(s.Outcome),
			"run_id":  s.RunID,
		},
	}

	switch s.Outcome {
	case types.OutcomeBaseCreated:
		n.Message = fmt.Sprintf("Base snapshot created with %d files", s.TrackedFiles)
	case types.OutcomeDeltaCreated:
		n.Message = fmt.Sprintf("Delta saved: %d added, %d modified, %d removed", s.Added, s.Modified, s.Removed)
	case types.OutcomeNoChanges:
		n.Message = "No changes since the last snapshot"
	case types.OutcomeSkipped:
		n.Message = "Snapshot already taken for " + s.Period
	case types.OutcomeConsolidated:
		n.Message = fmt.Sprintf("History consolidated into a new base (%d files)", s.TrackedFiles)
	case types.OutcomeFailed:
		n.Level = LevelError
		n.Title = "Vault snapshot failed"
		if s.Err != nil {
			n.Message = s.Err.Error()
		} else {
			n.Message = "unknown error"
		}
	}

	if s.Consolidated && s.Outcome != types.OutcomeConsolidated {
		n.Message += fmt.Sprintf("; consolidated %d deltas", s.DeltaCount)
	}
	if len(s.ReadErrors) > 0 {
		n.Fields["read_errors"] = strings.Join(s.ReadErrors, ", ")
		n.Message += fmt.Sprintf(" (%d unreadable files)", len(s.ReadErrors))
	}

	return n
}
