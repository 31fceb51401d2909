// Package scheduler runs background sweeps over pending approvals.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pesio-ai/be-exp-approvals/internal/approval"
	"github.com/pesio-ai/be-exp-approvals/internal/client"
	"github.com/pesio-ai/be-exp-approvals/internal/pkg/logger"
)

// PendingLister returns every expense awaiting approval.
type PendingLister interface {
	ListPending(ctx context.Context) ([]approval.Expense, error)
}

// Notifier publishes approval events.
type Notifier interface {
	PublishExpenseEvent(ctx context.Context, eventType, expenseID, actorID string, recipients []string, payload map[string]any)
}

// ReminderScheduler periodically publishes approval_overdue for pending chain
// entries whose due time has passed. Each entry is reminded once per due time.
type ReminderScheduler struct {
	cron     *cron.Cron
	spec     string
	expenses PendingLister
	notifier Notifier
	log      *logger.Logger
	now      func() time.Time

	mu       sync.Mutex
	reminded map[string]time.Time // entry ID -> due time already reminded
}

// NewReminderScheduler creates a scheduler that sweeps on the given cron spec
// (standard five fields or descriptors such as "@every 15m").
func NewReminderScheduler(spec string, expenses PendingLister, notifier Notifier, log *logger.Logger) *ReminderScheduler {
	return &ReminderScheduler{
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{log}))),
		spec:     spec,
		expenses: expenses,
		notifier: notifier,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
		reminded: make(map[string]time.Time),
	}
}

// Start registers the sweep and starts the cron runner.
func (s *ReminderScheduler) Start() error {
	_, err := s.cron.AddFunc(s.spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		start := time.Now()
		sent, err := s.Sweep(ctx)
		if err != nil {
			s.log.Error().Err(err).Msg("Overdue approval sweep failed")
			return
		}
		s.log.Info().
			Int("reminders", sent).
			Dur("duration", time.Since(start)).
			Msg("Overdue approval sweep finished")
	})
	if err != nil {
		s.log.Error().Err(err).Str("spec", s.spec).Msg("Failed to register overdue approval sweep")
		return err
	}

	s.cron.Start()
	s.log.Info().Str("spec", s.spec).Msg("Reminder scheduler started")
	return nil
}

// Stop halts the runner and waits for a running sweep to finish or ctx to end.
func (s *ReminderScheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
	s.log.Info().Msg("Reminder scheduler stopped")
}

// Sweep publishes one reminder per overdue pending entry and returns how many
// were sent.
func (s *ReminderScheduler) Sweep(ctx context.Context) (int, error) {
	pending, err := s.expenses.ListPending(ctx)
	if err != nil {
		return 0, err
	}

	now := s.now()
	live := make(map[string]bool)
	sent := 0

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, exp := range pending {
		for _, entry := range exp.Chain {
			if entry.Status != approval.EntryPending || entry.DueAt == nil {
				continue
			}
			live[entry.ID] = true
			if !entry.DueAt.Before(now) {
				continue
			}
			if last, ok := s.reminded[entry.ID]; ok && last.Equal(*entry.DueAt) {
				continue
			}

			recipients := []string{entry.ApproverID}
			if entry.Delegation != nil {
				recipients = append(recipients, entry.Delegation.To)
			}
			s.notifier.PublishExpenseEvent(ctx, client.EventApprovalOverdue, exp.ID, "", recipients, map[string]any{
				"entry_id":      entry.ID,
				"order":         entry.Order,
				"due_at":        entry.DueAt.Format(time.RFC3339),
				"overdue_hours": now.Sub(*entry.DueAt).Hours(),
				"amount":        exp.Amount.String(),
				"currency":      exp.Currency,
			})
			s.reminded[entry.ID] = *entry.DueAt
			sent++
		}
	}

	// Forget entries that are no longer pending.
	for id := range s.reminded {
		if !live[id] {
			delete(s.reminded, id)
		}
	}
	return sent, nil
}

// cronLogger adapts the service logger to cron.Logger.
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
