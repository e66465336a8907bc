package router

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"aide/internal/classify"
	"aide/internal/convo"
	"aide/internal/domain"
)

// fakeRepo is an in-memory store.Repo good enough for routing tests.
type fakeRepo struct {
	users     map[int64]*domain.User
	tasks     map[string]*domain.Task
	reminders map[string]*domain.Reminder
	notes     []domain.Note
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users:     map[int64]*domain.User{},
		tasks:     map[string]*domain.Task{},
		reminders: map[string]*domain.Reminder{},
	}
}

func (f *fakeRepo) GetUser(_ context.Context, chatID int64) (*domain.User, error) {
	u, ok := f.users[chatID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeRepo) UpsertUser(_ context.Context, u *domain.User) error {
	cp := *u
	f.users[u.ChatID] = &cp
	return nil
}

func (f *fakeRepo) SetRole(_ context.Context, chatID int64, role domain.Role, by int64, at *time.Time) error {
	u, ok := f.users[chatID]
	if !ok {
		return domain.ErrNotFound
	}
	u.Role, u.AuthorizedBy, u.AuthorizedAt = role, by, at
	return nil
}

func (f *fakeRepo) ListUsers(_ context.Context) ([]domain.User, error) {
	out := make([]domain.User, 0, len(f.users))
	for _, u := range f.users {
		out = append(out, *u)
	}
	return out, nil
}

func (f *fakeRepo) CreateTask(_ context.Context, t *domain.Task) error {
	cp := *t
	f.tasks[t.ID] = &cp
	return nil
}

func (f *fakeRepo) GetTask(_ context.Context, id string) (*domain.Task, error) {
	t, ok := f.tasks[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeRepo) ListTasks(_ context.Context, assigneeID int64, includeCompleted bool, limit int) ([]domain.Task, error) {
	var out []domain.Task
	for _, t := range f.tasks {
		if t.AssigneeID != assigneeID {
			continue
		}
		if !includeCompleted && t.Status == domain.StatusCompleted {
			continue
		}
		out = append(out, *t)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRepo) UpdateTaskStatus(_ context.Context, id string, from, to domain.Status) (bool, error) {
	t, ok := f.tasks[id]
	if !ok || t.Status != from {
		return false, nil
	}
	t.Status = to
	return true, nil
}

func (f *fakeRepo) SetTaskPriority(_ context.Context, id string, p domain.Priority) error {
	t, ok := f.tasks[id]
	if !ok {
		return domain.ErrNotFound
	}
	t.Priority = p
	return nil
}

func (f *fakeRepo) AssignTask(_ context.Context, id string, assigneeID int64) error {
	t, ok := f.tasks[id]
	if !ok {
		return domain.ErrNotFound
	}
	t.AssigneeID = assigneeID
	return nil
}

func (f *fakeRepo) SetFocusedTask(_ context.Context, assigneeID int64, taskID string) error {
	for _, t := range f.tasks {
		if t.AssigneeID == assigneeID {
			t.Focused = false
		}
	}
	t, ok := f.tasks[taskID]
	if !ok {
		return domain.ErrNotFound
	}
	t.Focused = true
	return nil
}

func (f *fakeRepo) SetTaskRecurrence(_ context.Context, id string, rule *domain.RecurrenceRule) error {
	t, ok := f.tasks[id]
	if !ok {
		return domain.ErrNotFound
	}
	t.Recurrence = rule
	return nil
}

func (f *fakeRepo) ListRecurringTasks(_ context.Context) ([]domain.Task, error) {
	var out []domain.Task
	for _, t := range f.tasks {
		if t.Recurrence != nil && t.Status != domain.StatusCompleted {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (f *fakeRepo) AdvanceTaskFire(_ context.Context, id string, prev *time.Time, fired time.Time) (bool, error) {
	t, ok := f.tasks[id]
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
	t.Recurrence.LastFired = &fired
	return true, nil
}

func (f *fakeRepo) DeleteTask(_ context.Context, id string) error {
	delete(f.tasks, id)
	return nil
}

func (f *fakeRepo) CreateReminder(_ context.Context, r *domain.Reminder) error {
	cp := *r
	f.reminders[r.ID] = &cp
	return nil
}

func (f *fakeRepo) GetReminder(_ context.Context, id string) (*domain.Reminder, error) {
	r, ok := f.reminders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeRepo) ListDueReminders(_ context.Context, now time.Time, limit int) ([]domain.Reminder, error) {
	var out []domain.Reminder
	for _, r := range f.reminders {
		if !r.Delivered && !r.FireAt.After(now) {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeRepo) ClaimReminder(_ context.Context, id string) (bool, error) {
	r, ok := f.reminders[id]
	if !ok || r.Delivered {
		return false, nil
	}
	r.Delivered = true
	return true, nil
}

func (f *fakeRepo) DeleteReminder(_ context.Context, id string) error {
	delete(f.reminders, id)
	return nil
}

func (f *fakeRepo) CreateNote(_ context.Context, n *domain.Note) error {
	f.notes = append(f.notes, *n)
	return nil
}

func (f *fakeRepo) ListNotes(_ context.Context, ownerID int64, limit int) ([]domain.Note, error) {
	var out []domain.Note
	for _, n := range f.notes {
		if n.OwnerID == ownerID {
			out = append(out, n)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRepo) Close() error { return nil }

func testUser(id int64, role domain.Role, name string) *domain.User {
	return &domain.User{
		ChatID:      id,
		DisplayName: name,
		Role:        role,
		TZ:          "UTC",
	}
}

func newTestRouter(t *testing.T, repo *fakeRepo) (*Router, *convo.Tracker) {
	t.Helper()
	tracker := convo.New()
	h := NewHandlers(repo, nil, nil, nil, zap.NewNop())
	r, err := New(repo, tracker, h.Registry(), zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r, tracker
}

func TestNewRejectsIncompleteRegistry(t *testing.T) {
	repo := newFakeRepo()
	h := NewHandlers(repo, nil, nil, nil, zap.NewNop())
	reg := h.Registry()
	delete(reg, IntentTodoFocus)

	if _, err := New(repo, convo.New(), reg, zap.NewNop()); err == nil {
		t.Fatal("expected error for missing handler")
	}
}

func TestRouteCreateThenFollowup(t *testing.T) {
	repo := newFakeRepo()
	r, _ := newTestRouter(t, repo)
	owner := testUser(1, domain.RoleOwner, "Boss")

	outcomes := r.Route(context.Background(), owner,
		"Create todo to call client. Set reminder every 2 hours during business hours.",
		[]classify.Result{
			{Intent: "todo_add", Entities: map[string]string{"title": "call client"}},
			{Intent: "followup_set", Entities: map[string]string{"recurrence": "every 2 hours during business hours"}},
		})

	if len(outcomes) != 2 {
		t.Fatalf("got %d outcomes, want 2", len(outcomes))
	}
	for i, out := range outcomes {
		if out.Err != nil {
			t.Fatalf("outcome %d: %v", i, out.Err)
		}
	}
	if len(repo.tasks) != 1 {
		t.Fatalf("got %d tasks, want 1", len(repo.tasks))
	}
	for _, task := range repo.tasks {
		if task.Recurrence == nil {
			t.Fatal("follow-up rule not attached to the created task")
		}
		if task.Recurrence.Interval != 2 || task.Recurrence.Unit != domain.UnitHour {
			t.Fatalf("unexpected rule: %+v", task.Recurrence)
		}
	}
}

func TestRouteContactCannotCreateTask(t *testing.T) {
	repo := newFakeRepo()
	r, _ := newTestRouter(t, repo)
	contact := testUser(7, domain.RoleContact, "Visitor")

	outcomes := r.Route(context.Background(), contact, "add todo buy milk",
		[]classify.Result{
			{Intent: "todo_add", Entities: map[string]string{"title": "buy milk"}},
		})

	if !errors.Is(outcomes[0].Err, domain.ErrPermissionDenied) {
		t.Fatalf("err = %v, want permission denied", outcomes[0].Err)
	}
	if len(repo.tasks) != 0 {
		t.Fatal("denied command must not create a task")
	}
}

func TestRouteIncompleteReminderLeavesNoState(t *testing.T) {
	repo := newFakeRepo()
	r, _ := newTestRouter(t, repo)
	owner := testUser(1, domain.RoleOwner, "Boss")

	outcomes := r.Route(context.Background(), owner, "remind me in 15 minutes",
		[]classify.Result{
			{Intent: "reminder_add", Entities: map[string]string{"time": "in 15 minutes"}},
		})

	var incomplete *domain.IncompleteCommandError
	if !errors.As(outcomes[0].Err, &incomplete) {
		t.Fatalf("err = %v, want IncompleteCommandError", outcomes[0].Err)
	}
	if incomplete.Field != "message" {
		t.Fatalf("missing field = %q, want message", incomplete.Field)
	}
	if len(repo.reminders) != 0 {
		t.Fatal("incomplete command must not create a reminder")
	}
}

func TestRouteCompleteIt(t *testing.T) {
	repo := newFakeRepo()
	r, _ := newTestRouter(t, repo)
	owner := testUser(1, domain.RoleOwner, "Boss")

	out := r.Route(context.Background(), owner, "add todo send invoice",
		[]classify.Result{
			{Intent: "todo_add", Entities: map[string]string{"title": "send invoice"}},
		})
	if out[0].Err != nil {
		t.Fatalf("add: %v", out[0].Err)
	}

	out = r.Route(context.Background(), owner, "actually, complete it",
		[]classify.Result{
			{Intent: "todo_complete", Entities: map[string]string{"reference": "it"}},
		})
	if out[0].Err != nil {
		t.Fatalf("complete: %v", out[0].Err)
	}
	for _, task := range repo.tasks {
		if task.Status != domain.StatusCompleted {
			t.Fatalf("status = %s, want completed", task.Status)
		}
	}
}

func TestRouteCompleteByTitle(t *testing.T) {
	repo := newFakeRepo()
	r, _ := newTestRouter(t, repo)
	owner := testUser(1, domain.RoleOwner, "Boss")

	r.Route(context.Background(), owner, "add todo buy milk",
		[]classify.Result{{Intent: "todo_add", Entities: map[string]string{"title": "buy milk"}}})
	r.Route(context.Background(), owner, "add todo send invoice",
		[]classify.Result{{Intent: "todo_add", Entities: map[string]string{"title": "send invoice"}}})

	out := r.Route(context.Background(), owner, "complete the milk one",
		[]classify.Result{
			{Intent: "todo_complete", Entities: map[string]string{"reference": "milk"}},
		})
	if out[0].Err != nil {
		t.Fatalf("complete: %v", out[0].Err)
	}
	var completed, open int
	for _, task := range repo.tasks {
		if task.Status == domain.StatusCompleted {
			completed++
		} else {
			open++
		}
	}
	if completed != 1 || open != 1 {
		t.Fatalf("completed=%d open=%d, want 1/1", completed, open)
	}
}

func TestRouteTitlePhraseBeatsRecency(t *testing.T) {
	repo := newFakeRepo()
	r, _ := newTestRouter(t, repo)
	owner := testUser(1, domain.RoleOwner, "Boss")

	r.Route(context.Background(), owner, "add todo buy milk",
		[]classify.Result{{Intent: "todo_add", Entities: map[string]string{"title": "buy milk"}}})
	r.Route(context.Background(), owner, "add todo send invoice",
		[]classify.Result{{Intent: "todo_add", Entities: map[string]string{"title": "send invoice"}}})

	// "the milk task" names a task; it must not fall back to the most
	// recently mentioned one.
	out := r.Route(context.Background(), owner, "complete the milk task",
		[]classify.Result{
			{Intent: "todo_complete", Entities: map[string]string{"reference": "the milk task"}},
		})
	if out[0].Err != nil {
		t.Fatalf("complete: %v", out[0].Err)
	}
	for _, task := range repo.tasks {
		switch task.Title {
		case "buy milk":
			if task.Status != domain.StatusCompleted {
				t.Fatalf("milk task status = %s, want completed", task.Status)
			}
		case "send invoice":
			if task.Status != domain.StatusPending {
				t.Fatalf("invoice task status = %s, want pending", task.Status)
			}
		}
	}
}

func TestRouteDeleteByTitle(t *testing.T) {
	repo := newFakeRepo()
	r, _ := newTestRouter(t, repo)
	owner := testUser(1, domain.RoleOwner, "Boss")

	r.Route(context.Background(), owner, "add todo buy milk",
		[]classify.Result{{Intent: "todo_add", Entities: map[string]string{"title": "buy milk"}}})
	r.Route(context.Background(), owner, "add todo send invoice",
		[]classify.Result{{Intent: "todo_add", Entities: map[string]string{"title": "send invoice"}}})

	out := r.Route(context.Background(), owner, "delete the milk task",
		[]classify.Result{
			{Intent: "todo_delete", Entities: map[string]string{"reference": "the milk task"}},
		})
	if out[0].Err != nil {
		t.Fatalf("delete: %v", out[0].Err)
	}
	if len(repo.tasks) != 1 {
		t.Fatalf("got %d tasks after delete, want 1", len(repo.tasks))
	}
	for _, task := range repo.tasks {
		if task.Title != "send invoice" {
			t.Fatalf("surviving task = %q, want send invoice", task.Title)
		}
	}
}

func TestRouteSetPriority(t *testing.T) {
	repo := newFakeRepo()
	r, _ := newTestRouter(t, repo)
	owner := testUser(1, domain.RoleOwner, "Boss")

	r.Route(context.Background(), owner, "add todo write report",
		[]classify.Result{{Intent: "todo_add", Entities: map[string]string{"title": "write report"}}})

	out := r.Route(context.Background(), owner, "make it urgent",
		[]classify.Result{
			{Intent: "priority_set", Entities: map[string]string{"reference": "it", "priority": "urgent"}},
		})
	if out[0].Err != nil {
		t.Fatalf("priority_set: %v", out[0].Err)
	}
	for _, task := range repo.tasks {
		if task.Priority != domain.PriorityUrgent {
			t.Fatalf("priority = %s, want urgent", task.Priority)
		}
	}

	out = r.Route(context.Background(), owner, "change the priority",
		[]classify.Result{
			{Intent: "priority_set", Entities: map[string]string{"reference": "it"}},
		})
	var incompleteErr *domain.IncompleteCommandError
	if !errors.As(out[0].Err, &incompleteErr) || incompleteErr.Field != "priority" {
		t.Fatalf("err = %v, want incomplete priority", out[0].Err)
	}
}

func TestRouteCancelReminder(t *testing.T) {
	repo := newFakeRepo()
	r, _ := newTestRouter(t, repo)
	owner := testUser(1, domain.RoleOwner, "Boss")

	out := r.Route(context.Background(), owner, "remind me in 15 minutes to call the client",
		[]classify.Result{
			{Intent: "reminder_add", Entities: map[string]string{"title": "call the client", "time": "in 15 minutes"}},
		})
	if out[0].Err != nil {
		t.Fatalf("reminder_add: %v", out[0].Err)
	}
	if len(repo.reminders) != 1 {
		t.Fatalf("got %d reminders, want 1", len(repo.reminders))
	}

	out = r.Route(context.Background(), owner, "cancel that reminder",
		[]classify.Result{
			{Intent: "reminder_cancel", Entities: map[string]string{"reference": "that reminder"}},
		})
	if out[0].Err != nil {
		t.Fatalf("reminder_cancel: %v", out[0].Err)
	}
	if len(repo.reminders) != 0 {
		t.Fatal("cancelled reminder must be removed")
	}
}

func TestRouteCancelDeliveredReminderFails(t *testing.T) {
	repo := newFakeRepo()
	r, _ := newTestRouter(t, repo)
	owner := testUser(1, domain.RoleOwner, "Boss")

	out := r.Route(context.Background(), owner, "remind me in 15 minutes to call",
		[]classify.Result{
			{Intent: "reminder_add", Entities: map[string]string{"title": "call", "time": "in 15 minutes"}},
		})
	if out[0].Err != nil {
		t.Fatalf("reminder_add: %v", out[0].Err)
	}
	for _, rem := range repo.reminders {
		rem.Delivered = true
	}

	out = r.Route(context.Background(), owner, "cancel that reminder",
		[]classify.Result{
			{Intent: "reminder_cancel", Entities: map[string]string{"reference": "that reminder"}},
		})
	if out[0].Err == nil {
		t.Fatal("expected error cancelling a fired reminder")
	}
	if len(repo.reminders) != 1 {
		t.Fatal("fired reminder must not be deleted")
	}
}

func TestRouteNotes(t *testing.T) {
	repo := newFakeRepo()
	r, _ := newTestRouter(t, repo)
	owner := testUser(1, domain.RoleOwner, "Boss")

	out := r.Route(context.Background(), owner, "note that the wifi password is hunter2",
		[]classify.Result{
			{Intent: "note_add", Entities: map[string]string{"title": "the wifi password is hunter2"}},
		})
	if out[0].Err != nil {
		t.Fatalf("note_add: %v", out[0].Err)
	}
	if len(repo.notes) != 1 {
		t.Fatalf("got %d notes, want 1", len(repo.notes))
	}

	out = r.Route(context.Background(), owner, "show my notes",
		[]classify.Result{{Intent: "note_list", Entities: map[string]string{}}})
	if out[0].Err != nil {
		t.Fatalf("note_list: %v", out[0].Err)
	}
	if !strings.Contains(out[0].Reply, "hunter2") {
		t.Fatalf("note missing from listing: %q", out[0].Reply)
	}
}

func TestRouteSiblingIsolation(t *testing.T) {
	repo := newFakeRepo()
	r, _ := newTestRouter(t, repo)
	owner := testUser(1, domain.RoleOwner, "Boss")

	outcomes := r.Route(context.Background(), owner,
		"remind me every fortnight, and add todo water plants",
		[]classify.Result{
			{Intent: "todo_add", Entities: map[string]string{"title": "check stock", "recurrence": "every 1 fortnight"}},
			{Intent: "todo_add", Entities: map[string]string{"title": "water plants"}},
		})

	var parseErr *domain.ParseError
	if !errors.As(outcomes[0].Err, &parseErr) {
		t.Fatalf("first outcome err = %v, want ParseError", outcomes[0].Err)
	}
	if outcomes[1].Err != nil {
		t.Fatalf("second outcome: %v", outcomes[1].Err)
	}
	if len(repo.tasks) != 1 {
		t.Fatalf("got %d tasks, want only the valid one", len(repo.tasks))
	}
}

func TestRouteAssignToNamedUser(t *testing.T) {
	repo := newFakeRepo()
	r, _ := newTestRouter(t, repo)
	owner := testUser(1, domain.RoleOwner, "Boss")
	luke := testUser(2, domain.RoleEmployee, "Luke")
	repo.users[owner.ChatID] = owner
	repo.users[luke.ChatID] = luke

	out := r.Route(context.Background(), owner, "add todo write report and assign it to luke",
		[]classify.Result{
			{Intent: "todo_add", Entities: map[string]string{"title": "write report"}},
			{Intent: "task_assign", Entities: map[string]string{"assignee": "luke", "reference": "it"}},
		})
	for i, o := range out {
		if o.Err != nil {
			t.Fatalf("outcome %d: %v", i, o.Err)
		}
	}
	for _, task := range repo.tasks {
		if task.AssigneeID != luke.ChatID {
			t.Fatalf("assignee = %d, want %d", task.AssigneeID, luke.ChatID)
		}
	}
}

func TestRouteEmployeeCannotAddressOthers(t *testing.T) {
	repo := newFakeRepo()
	r, _ := newTestRouter(t, repo)
	emp := testUser(2, domain.RoleEmployee, "Luke")
	other := testUser(3, domain.RoleEmployee, "Maria")
	repo.users[emp.ChatID] = emp
	repo.users[other.ChatID] = other

	out := r.Route(context.Background(), emp, "add todo for maria: file taxes",
		[]classify.Result{
			{Intent: "todo_add", Entities: map[string]string{"title": "file taxes", "assignee": "maria"}},
		})
	if !errors.Is(out[0].Err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want not found", out[0].Err)
	}
	if len(repo.tasks) != 0 {
		t.Fatal("no task must be created")
	}
}

func TestRoutePastTimeRejected(t *testing.T) {
	repo := newFakeRepo()
	r, _ := newTestRouter(t, repo)
	owner := testUser(1, domain.RoleOwner, "Boss")

	out := r.Route(context.Background(), owner, "remind me yesterday to call",
		[]classify.Result{
			{Intent: "reminder_add", Entities: map[string]string{"title": "call", "time": "yesterday"}},
		})
	if out[0].Err == nil {
		t.Fatal("expected error for past time")
	}
	if len(repo.reminders) != 0 {
		t.Fatal("no reminder must be created")
	}
}

func TestRouteUnknownIntentFallsBackToChat(t *testing.T) {
	repo := newFakeRepo()
	r, _ := newTestRouter(t, repo)
	contact := testUser(7, domain.RoleContact, "Visitor")

	out := r.Route(context.Background(), contact, "do a backflip",
		[]classify.Result{{Intent: "dance", Entities: map[string]string{}}})
	if out[0].Err != nil {
		t.Fatalf("fallback chat errored: %v", out[0].Err)
	}
	if out[0].Reply == "" {
		t.Fatal("expected a conversational reply")
	}
}

func TestCatalogCoversEveryIntent(t *testing.T) {
	specs := Catalog()
	byName := make(map[string]bool, len(specs))
	for _, s := range specs {
		byName[s.Name] = true
	}
	for _, in := range AllIntents() {
		if !byName[string(in)] {
			t.Fatalf("intent %s missing from catalog", in)
		}
	}
}
