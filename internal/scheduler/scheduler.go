// Package scheduler polls the store for due reminders and recurring task
// follow-ups and dispatches them. Every delivery is claimed in the store
// before the send, so a notification goes out at most once even when ticks
// overlap or the process restarts mid-cycle.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"aide/internal/domain"
	"aide/internal/store"
)

// Sender is the minimal interface the scheduler needs to push a text message.
// telegram.Gateway implements it.
type Sender interface {
	SendMessage(chatID int64, text string) error
}

const (
	defaultInterval = time.Minute
	batchSize       = 100
	maxAttempts     = 3
	retryBase       = time.Minute
	retryCap        = 10 * time.Minute
)

// retryItem is an already-claimed delivery whose send failed transiently.
// The claim is never released; only the send is repeated.
type retryItem struct {
	id       string
	chatID   int64
	text     string
	attempts int
	nextTry  time.Time
}

// Scheduler periodically polls the DB and dispatches due notifications.
type Scheduler struct {
	repo     store.Repo
	log      *zap.Logger
	sender   Sender
	interval time.Duration
	now      func() time.Time

	ticking atomic.Bool

	mu      sync.Mutex
	retries []retryItem
}

// Option tweaks a Scheduler.
type Option func(*Scheduler)

// WithInterval overrides the poll interval.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.interval = d }
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a Scheduler.
func New(repo store.Repo, log *zap.Logger, sender Sender, opts ...Option) *Scheduler {
	s := &Scheduler{
		repo:     repo,
		log:      log,
		sender:   sender,
		interval: defaultInterval,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run starts the loop until ctx is canceled. One immediate tick catches up on
// anything that came due while the process was down.
func (s *Scheduler) Run(ctx context.Context) {
	s.tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopping")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick performs one scheduling cycle. If a previous tick is still running the
// whole cycle is skipped; the claims make the skip harmless either way.
func (s *Scheduler) tick(ctx context.Context) {
	if !s.ticking.CompareAndSwap(false, true) {
		s.log.Debug("tick still in progress, skipping")
		return
	}
	defer s.ticking.Store(false)

	now := s.now().UTC()
	s.flushRetries(now)
	s.fireReminders(ctx, now)
	s.fireFollowups(ctx, now)
}

func (s *Scheduler) fireReminders(ctx context.Context, now time.Time) {
	due, err := s.repo.ListDueReminders(ctx, now, batchSize)
	if err != nil {
		s.log.Error("ListDueReminders failed", zap.Error(err))
		return
	}
	for i := range due {
		r := &due[i]
		ok, err := s.repo.ClaimReminder(ctx, r.ID)
		if err != nil {
			s.log.Error("ClaimReminder failed", zap.Error(err), zap.String("id", r.ID))
			continue
		}
		if !ok {
			continue // another tick got there first
		}
		s.deliver(r.ID, r.TargetUser, "⏰ "+r.Message, 0)
	}
}

func (s *Scheduler) fireFollowups(ctx context.Context, now time.Time) {
	tasks, err := s.repo.ListRecurringTasks(ctx)
	if err != nil {
		s.log.Error("ListRecurringTasks failed", zap.Error(err))
		return
	}
	for i := range tasks {
		t := &tasks[i]
		rule := t.Recurrence
		if rule == nil {
			continue
		}

		assignee, err := s.repo.GetUser(ctx, t.AssigneeID)
		if err != nil {
			s.log.Error("assignee lookup failed", zap.Error(err), zap.String("task", t.ID))
			continue
		}

		next := rule.Next(now, assignee.Location())
		if next.After(now) {
			continue
		}
		ok, err := s.repo.AdvanceTaskFire(ctx, t.ID, rule.LastFired, next)
		if err != nil {
			s.log.Error("AdvanceTaskFire failed", zap.Error(err), zap.String("task", t.ID))
			continue
		}
		if !ok {
			continue // claimed by a concurrent tick, or the task completed
		}
		s.deliver(t.ID, t.AssigneeID, followupText(t), 0)
	}
}

func followupText(t *domain.Task) string {
	return fmt.Sprintf("🔔 Follow-up: %s (%s)", t.Label(), t.Recurrence.Describe())
}

// deliver sends one message for the reminder or task with the given id.
// Transient failures requeue the send with exponential backoff; permanent
// failures and exhausted retries are logged with the item id so the dead
// letter can be found in the store. The claim stays consumed in every case.
func (s *Scheduler) deliver(id string, chatID int64, text string, attempts int) {
	err := s.sender.SendMessage(chatID, text)
	if err == nil {
		return
	}

	var de *domain.DeliveryError
	transient := errors.As(err, &de) && de.Transient
	if transient && attempts+1 < maxAttempts {
		delay := retryBase << attempts
		if delay > retryCap {
			delay = retryCap
		}
		s.mu.Lock()
		s.retries = append(s.retries, retryItem{
			id:       id,
			chatID:   chatID,
			text:     text,
			attempts: attempts + 1,
			nextTry:  s.now().UTC().Add(delay),
		})
		s.mu.Unlock()
		s.log.Warn("delivery failed, will retry",
			zap.String("id", id), zap.Int64("chatID", chatID),
			zap.Int("attempts", attempts+1), zap.Error(err))
		return
	}
	s.log.Error("delivery failed permanently",
		zap.String("id", id), zap.Int64("chatID", chatID),
		zap.Int("attempts", attempts+1), zap.Error(err))
}

// flushRetries re-sends claimed deliveries whose backoff has elapsed.
func (s *Scheduler) flushRetries(now time.Time) {
	s.mu.Lock()
	var ready []retryItem
	kept := s.retries[:0]
	for _, it := range s.retries {
		if it.nextTry.After(now) {
			kept = append(kept, it)
		} else {
			ready = append(ready, it)
		}
	}
	s.retries = kept
	s.mu.Unlock()

	for _, it := range ready {
		s.deliver(it.id, it.chatID, it.text, it.attempts)
	}
}
