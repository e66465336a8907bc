package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"aide/internal/domain"
)

// memRepo is an in-memory store.Repo for scheduler tests.
type memRepo struct {
	mu        sync.Mutex
	users     map[int64]*domain.User
	tasks     map[string]*domain.Task
	reminders map[string]*domain.Reminder
	claims    int
}

func newMemRepo() *memRepo {
	return &memRepo{
		users:     map[int64]*domain.User{},
		tasks:     map[string]*domain.Task{},
		reminders: map[string]*domain.Reminder{},
	}
}

func (m *memRepo) GetUser(_ context.Context, chatID int64) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[chatID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memRepo) UpsertUser(_ context.Context, u *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.users[u.ChatID] = &cp
	return nil
}

func (m *memRepo) SetRole(context.Context, int64, domain.Role, int64, *time.Time) error {
	return nil
}

func (m *memRepo) ListUsers(context.Context) ([]domain.User, error) { return nil, nil }

func (m *memRepo) CreateTask(_ context.Context, t *domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[t.ID] = t
	return nil
}

func (m *memRepo) GetTask(_ context.Context, id string) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return t, nil
}

func (m *memRepo) ListTasks(context.Context, int64, bool, int) ([]domain.Task, error) {
	return nil, nil
}

func (m *memRepo) UpdateTaskStatus(context.Context, string, domain.Status, domain.Status) (bool, error) {
	return false, nil
}
func (m *memRepo) SetTaskPriority(context.Context, string, domain.Priority) error { return nil }

func (m *memRepo) AssignTask(context.Context, string, int64) error { return nil }

func (m *memRepo) SetFocusedTask(context.Context, int64, string) error { return nil }

func (m *memRepo) SetTaskRecurrence(context.Context, string, *domain.RecurrenceRule) error {
	return nil
}

func (m *memRepo) ListRecurringTasks(context.Context) ([]domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Task
	for _, t := range m.tasks {
		if t.Recurrence != nil && t.Status != domain.StatusCompleted {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *memRepo) AdvanceTaskFire(_ context.Context, id string, prev *time.Time, fired time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.Recurrence == nil || t.Status == domain.StatusCompleted {
		return false, nil
	}
	stored := t.Recurrence.LastFired
	if (stored == nil) != (prev == nil) {
		return false, nil
	}
	if stored != nil && !stored.Equal(*prev) {
		return false, nil
	}
	f := fired
	t.Recurrence.LastFired = &f
	return true, nil
}

func (m *memRepo) DeleteTask(context.Context, string) error { return nil }

func (m *memRepo) CreateReminder(_ context.Context, r *domain.Reminder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reminders[r.ID] = r
	return nil
}

func (m *memRepo) GetReminder(_ context.Context, id string) (*domain.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reminders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return r, nil
}

func (m *memRepo) ListDueReminders(_ context.Context, now time.Time, _ int) ([]domain.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Reminder
	for _, r := range m.reminders {
		if !r.Delivered && !r.FireAt.After(now) {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *memRepo) ClaimReminder(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reminders[id]
	if !ok || r.Delivered {
		return false, nil
	}
	r.Delivered = true
	m.claims++
	return true, nil
}

func (m *memRepo) DeleteReminder(context.Context, string) error { return nil }

func (m *memRepo) CreateNote(context.Context, *domain.Note) error { return nil }

func (m *memRepo) ListNotes(context.Context, int64, int) ([]domain.Note, error) {
	return nil, nil
}

func (m *memRepo) Close() error { return nil }

// scriptSender replays a list of per-call errors, then succeeds.
type scriptSender struct {
	mu     sync.Mutex
	script []error
	sent   []string
	calls  int
	gate   chan struct{} // when set, every send blocks until the gate closes
}

func (s *scriptSender) SendMessage(chatID int64, text string) error {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	var err error
	if len(s.script) > 0 {
		err, s.script = s.script[0], s.script[1:]
	}
	if err == nil {
		s.sent = append(s.sent, text)
	}
	return err
}

func (s *scriptSender) delivered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func (s *scriptSender) attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func addReminder(repo *memRepo, id string, chatID int64, fireAt time.Time) {
	repo.reminders[id] = &domain.Reminder{
		ID:         id,
		TargetUser: chatID,
		Message:    "check the oven",
		FireAt:     fireAt,
		CreatedAt:  fireAt.Add(-time.Hour),
	}
}

func TestReminderDeliveredExactlyOnce(t *testing.T) {
	repo := newMemRepo()
	now := time.Date(2025, 6, 4, 12, 0, 0, 0, time.UTC)
	addReminder(repo, "r1", 42, now.Add(-time.Minute))

	sender := &scriptSender{}
	s := New(repo, zap.NewNop(), sender, WithClock(func() time.Time { return now }))

	s.tick(context.Background())
	s.tick(context.Background())

	if got := sender.delivered(); got != 1 {
		t.Fatalf("delivered %d times, want 1", got)
	}
	if repo.claims != 1 {
		t.Fatalf("claims = %d, want 1", repo.claims)
	}
	if !repo.reminders["r1"].Delivered {
		t.Fatal("reminder not marked delivered")
	}
}

func TestOverlappingTickIsSkipped(t *testing.T) {
	repo := newMemRepo()
	now := time.Date(2025, 6, 4, 12, 0, 0, 0, time.UTC)
	addReminder(repo, "r1", 42, now.Add(-time.Minute))

	gate := make(chan struct{})
	sender := &scriptSender{gate: gate}
	s := New(repo, zap.NewNop(), sender, WithClock(func() time.Time { return now }))

	done := make(chan struct{})
	go func() {
		s.tick(context.Background())
		close(done)
	}()
	for !s.ticking.Load() {
		time.Sleep(time.Millisecond)
	}

	s.tick(context.Background()) // must return immediately
	close(gate)
	<-done

	if got := sender.delivered(); got != 1 {
		t.Fatalf("delivered %d times, want 1", got)
	}
}

func TestTransientFailureRetriedWithoutDuplicateClaim(t *testing.T) {
	repo := newMemRepo()
	now := time.Date(2025, 6, 4, 12, 0, 0, 0, time.UTC)
	addReminder(repo, "r1", 42, now.Add(-time.Minute))

	sender := &scriptSender{script: []error{
		&domain.DeliveryError{Transient: true, Err: errors.New("flood wait")},
	}}
	s := New(repo, zap.NewNop(), sender, WithClock(func() time.Time { return now }))

	s.tick(context.Background())
	if sender.delivered() != 0 {
		t.Fatal("first attempt should have failed")
	}
	if repo.claims != 1 {
		t.Fatalf("claims = %d, want 1", repo.claims)
	}

	now = now.Add(2 * time.Minute) // past the backoff
	s.tick(context.Background())

	if got := sender.delivered(); got != 1 {
		t.Fatalf("delivered %d times, want 1", got)
	}
	if sender.attempts() != 2 {
		t.Fatalf("attempts = %d, want 2", sender.attempts())
	}
	if repo.claims != 1 {
		t.Fatalf("claims = %d after retry, want 1", repo.claims)
	}
}

func TestPermanentFailureIsNotRetried(t *testing.T) {
	repo := newMemRepo()
	now := time.Date(2025, 6, 4, 12, 0, 0, 0, time.UTC)
	addReminder(repo, "r1", 42, now.Add(-time.Minute))

	sender := &scriptSender{script: []error{
		&domain.DeliveryError{Transient: false, Err: errors.New("blocked by user")},
	}}
	s := New(repo, zap.NewNop(), sender, WithClock(func() time.Time { return now }))

	s.tick(context.Background())
	now = now.Add(time.Hour)
	s.tick(context.Background())

	if sender.attempts() != 1 {
		t.Fatalf("attempts = %d, want 1", sender.attempts())
	}
	if sender.delivered() != 0 {
		t.Fatal("nothing should have been delivered")
	}
}

func TestPermanentFailureLogsItemID(t *testing.T) {
	repo := newMemRepo()
	now := time.Date(2025, 6, 4, 12, 0, 0, 0, time.UTC)
	addReminder(repo, "r-dead", 42, now.Add(-time.Minute))

	sender := &scriptSender{script: []error{
		&domain.DeliveryError{Transient: false, Err: errors.New("blocked by user")},
	}}
	core, logs := observer.New(zapcore.WarnLevel)
	s := New(repo, zap.New(core), sender, WithClock(func() time.Time { return now }))

	s.tick(context.Background())

	entries := logs.FilterMessage("delivery failed permanently").All()
	if len(entries) != 1 {
		t.Fatalf("permanent failure logged %d times, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if got := fields["id"]; got != "r-dead" {
		t.Fatalf("logged id = %v, want r-dead", got)
	}
}

func TestFollowupFiresThenWaitsForInterval(t *testing.T) {
	repo := newMemRepo()
	now := time.Date(2025, 6, 4, 12, 0, 0, 0, time.UTC)
	repo.users[7] = &domain.User{ChatID: 7, DisplayName: "Luke", Role: domain.RoleEmployee, TZ: "UTC"}
	repo.tasks["t1"] = &domain.Task{
		ID:         "t1",
		CreatorID:  7,
		AssigneeID: 7,
		Title:      "call client",
		Priority:   domain.PriorityMedium,
		Status:     domain.StatusPending,
		Recurrence: &domain.RecurrenceRule{Interval: 2, Unit: domain.UnitHour},
	}

	sender := &scriptSender{}
	s := New(repo, zap.NewNop(), sender, WithClock(func() time.Time { return now }))

	s.tick(context.Background())
	if got := sender.delivered(); got != 1 {
		t.Fatalf("delivered %d times, want 1", got)
	}
	if repo.tasks["t1"].Recurrence.LastFired == nil {
		t.Fatal("LastFired not advanced")
	}

	now = now.Add(30 * time.Minute) // inside the 2h interval
	s.tick(context.Background())
	if got := sender.delivered(); got != 1 {
		t.Fatalf("fired again inside the interval: %d sends", got)
	}

	now = now.Add(2 * time.Hour)
	s.tick(context.Background())
	if got := sender.delivered(); got != 2 {
		t.Fatalf("delivered %d times after interval elapsed, want 2", got)
	}
}

func TestCompletedTaskNeverFires(t *testing.T) {
	repo := newMemRepo()
	now := time.Date(2025, 6, 4, 12, 0, 0, 0, time.UTC)
	repo.users[7] = &domain.User{ChatID: 7, Role: domain.RoleEmployee, TZ: "UTC"}
	repo.tasks["t1"] = &domain.Task{
		ID:         "t1",
		AssigneeID: 7,
		Title:      "old chore",
		Status:     domain.StatusCompleted,
		Recurrence: &domain.RecurrenceRule{Interval: 5, Unit: domain.UnitMinute},
	}

	sender := &scriptSender{}
	s := New(repo, zap.NewNop(), sender, WithClock(func() time.Time { return now }))

	s.tick(context.Background())
	if sender.attempts() != 0 {
		t.Fatal("completed task produced a delivery")
	}
}
