package router

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"aide/internal/auth"
	"aide/internal/convo"
	"aide/internal/domain"
	"aide/internal/store"
)

// Event is one upcoming calendar entry.
type Event struct {
	Title string
	Start time.Time
}

// Calendar is the external calendar the assistant reads and writes.
type Calendar interface {
	Add(ctx context.Context, title string, start time.Time) error
	Upcoming(ctx context.Context, from time.Time, days int) ([]Event, error)
}

// Mailer sends outbound mail and reports unread counts.
type Mailer interface {
	Send(ctx context.Context, recipient, subject, body string) error
	UnreadCount(ctx context.Context) (int, error)
}

// Responder produces a conversational reply for messages that carry no
// actionable intent.
type Responder interface {
	Respond(ctx context.Context, message, contextSummary string) (string, error)
}

// Handlers holds the concrete intent implementations and their dependencies.
// Calendar, mail and chat collaborators may be nil; the matching intents then
// answer that the feature is not connected.
type Handlers struct {
	repo store.Repo
	cal  Calendar
	mail Mailer
	chat Responder
	log  *zap.Logger

	now   func() time.Time
	newID func() string
}

// NewHandlers wires the handler set.
func NewHandlers(repo store.Repo, cal Calendar, mail Mailer, chat Responder, log *zap.Logger) *Handlers {
	return &Handlers{
		repo:  repo,
		cal:   cal,
		mail:  mail,
		chat:  chat,
		log:   log,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// Registry maps every intent to its handler.
func (h *Handlers) Registry() map[Intent]Handler {
	return map[Intent]Handler{
		IntentTodoAdd:        HandlerFunc(h.todoAdd),
		IntentTodoList:       HandlerFunc(h.todoList),
		IntentTodoComplete:   HandlerFunc(h.todoComplete),
		IntentTodoReopen:     HandlerFunc(h.todoReopen),
		IntentTodoFocus:      HandlerFunc(h.todoFocus),
		IntentTodoDelete:     HandlerFunc(h.todoDelete),
		IntentPrioritySet:    HandlerFunc(h.prioritySet),
		IntentTaskAssign:     HandlerFunc(h.taskAssign),
		IntentFollowupSet:    HandlerFunc(h.followupSet),
		IntentReminderAdd:    HandlerFunc(h.reminderAdd),
		IntentReminderCancel: HandlerFunc(h.reminderCancel),
		IntentNoteAdd:        HandlerFunc(h.noteAdd),
		IntentNoteList:       HandlerFunc(h.noteList),
		IntentCalendarAdd:    HandlerFunc(h.calendarAdd),
		IntentCalendarList:   HandlerFunc(h.calendarList),
		IntentEmailSend:      HandlerFunc(h.emailSend),
		IntentEmailCheck:     HandlerFunc(h.emailCheck),
		IntentGeneralChat:    HandlerFunc(h.generalChat),
		IntentHelp:           HandlerFunc(h.help),
	}
}

func incomplete(i Intent, field string) error {
	return &domain.IncompleteCommandError{Intent: string(i), Field: field}
}

func (h *Handlers) todoAdd(ctx context.Context, cmd *Command) (*Outcome, error) {
	title := cmd.entity("title")
	if title == "" {
		return nil, incomplete(cmd.Intent, "title")
	}
	prio, err := domain.ParsePriority(cmd.entity("priority"))
	if err != nil {
		return nil, err
	}

	assignee := cmd.Actor.ChatID
	if cmd.Target != nil && cmd.Target.ChatID != cmd.Actor.ChatID {
		if err := auth.Check(cmd.Actor, auth.CapTaskAssign); err != nil {
			return nil, err
		}
		assignee = cmd.Target.ChatID
	}

	now := h.now().UTC()
	t := &domain.Task{
		ID:          h.newID(),
		CreatorID:   cmd.Actor.ChatID,
		AssigneeID:  assignee,
		Title:       title,
		Description: cmd.entity("description"),
		Priority:    prio,
		Status:      domain.StatusPending,
		Due:         cmd.Time,
		Recurrence:  cmd.Recurrence,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := h.repo.CreateTask(ctx, t); err != nil {
		return nil, err
	}

	reply := fmt.Sprintf("Added task: %s", t.Label())
	if t.Due != nil {
		reply += ", due " + t.Due.In(cmd.Actor.Location()).Format("Mon Jan 2 15:04")
	}
	if t.Recurrence != nil {
		reply += ", follow-up " + t.Recurrence.Describe()
	}
	return &Outcome{
		Reply:   reply,
		Created: &convo.Ref{Kind: convo.KindTask, ID: t.ID},
	}, nil
}

func (h *Handlers) todoList(ctx context.Context, cmd *Command) (*Outcome, error) {
	tasks, err := h.repo.ListTasks(ctx, cmd.Actor.ChatID, false, 20)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return &Outcome{Reply: "No open tasks."}, nil
	}

	var b strings.Builder
	b.WriteString("Open tasks:\n")
	for i := range tasks {
		t := &tasks[i]
		b.WriteString("• ")
		if t.Focused {
			b.WriteString("🎯 ")
		}
		b.WriteString(t.Label())
		if t.Due != nil {
			b.WriteString(" (due ")
			b.WriteString(t.Due.In(cmd.Actor.Location()).Format("Mon Jan 2 15:04"))
			b.WriteString(")")
		}
		b.WriteString("\n")
	}
	return &Outcome{Reply: strings.TrimRight(b.String(), "\n")}, nil
}

// loadTaskRef fetches the referenced task and checks that the actor may touch
// it: owners may touch anything, others only tasks they created or hold.
func (h *Handlers) loadTaskRef(ctx context.Context, cmd *Command) (*domain.Task, error) {
	if cmd.Ref == nil || cmd.Ref.Kind != convo.KindTask {
		return nil, domain.ErrNotFound
	}
	t, err := h.repo.GetTask(ctx, cmd.Ref.ID)
	if err != nil {
		return nil, err
	}
	if cmd.Actor.Role != domain.RoleOwner &&
		t.CreatorID != cmd.Actor.ChatID && t.AssigneeID != cmd.Actor.ChatID {
		return nil, fmt.Errorf("task %s: %w", t.ID, domain.ErrPermissionDenied)
	}
	return t, nil
}

func (h *Handlers) setStatus(ctx context.Context, cmd *Command, to domain.Status, verb string) (*Outcome, error) {
	t, err := h.loadTaskRef(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if !domain.CanTransition(t.Status, to) {
		return nil, fmt.Errorf("task %q is already %s", t.Title, t.Status)
	}
	ok, err := h.repo.UpdateTaskStatus(ctx, t.ID, t.Status, to)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("task %q changed underneath, try again", t.Title)
	}
	return &Outcome{Reply: fmt.Sprintf("%s: %s", verb, t.Label())}, nil
}

func (h *Handlers) todoComplete(ctx context.Context, cmd *Command) (*Outcome, error) {
	return h.setStatus(ctx, cmd, domain.StatusCompleted, "Completed")
}

func (h *Handlers) todoReopen(ctx context.Context, cmd *Command) (*Outcome, error) {
	return h.setStatus(ctx, cmd, domain.StatusPending, "Reopened")
}

func (h *Handlers) todoFocus(ctx context.Context, cmd *Command) (*Outcome, error) {
	t, err := h.loadTaskRef(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if t.Status == domain.StatusCompleted {
		return nil, fmt.Errorf("task %q is completed", t.Title)
	}
	if err := h.repo.SetFocusedTask(ctx, t.AssigneeID, t.ID); err != nil {
		return nil, err
	}
	return &Outcome{Reply: fmt.Sprintf("Focus set: %s", t.Label())}, nil
}

func (h *Handlers) todoDelete(ctx context.Context, cmd *Command) (*Outcome, error) {
	t, err := h.loadTaskRef(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if err := h.repo.DeleteTask(ctx, t.ID); err != nil {
		return nil, err
	}
	return &Outcome{Reply: fmt.Sprintf("Deleted: %s", t.Label())}, nil
}

func (h *Handlers) prioritySet(ctx context.Context, cmd *Command) (*Outcome, error) {
	raw := cmd.entity("priority")
	if raw == "" {
		return nil, incomplete(cmd.Intent, "priority")
	}
	prio, err := domain.ParsePriority(raw)
	if err != nil {
		return nil, err
	}
	t, err := h.loadTaskRef(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if err := h.repo.SetTaskPriority(ctx, t.ID, prio); err != nil {
		return nil, err
	}
	return &Outcome{Reply: fmt.Sprintf("Priority of %q set to %s", t.Title, prio)}, nil
}

func (h *Handlers) taskAssign(ctx context.Context, cmd *Command) (*Outcome, error) {
	if cmd.Target == nil {
		return nil, incomplete(cmd.Intent, "assignee")
	}
	t, err := h.loadTaskRef(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if err := h.repo.AssignTask(ctx, t.ID, cmd.Target.ChatID); err != nil {
		return nil, err
	}
	return &Outcome{
		Reply: fmt.Sprintf("Assigned %s to %s", t.Label(), cmd.Target.DisplayName),
	}, nil
}

func (h *Handlers) followupSet(ctx context.Context, cmd *Command) (*Outcome, error) {
	if cmd.Recurrence == nil {
		return nil, incomplete(cmd.Intent, "recurrence")
	}
	t, err := h.loadTaskRef(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if err := h.repo.SetTaskRecurrence(ctx, t.ID, cmd.Recurrence); err != nil {
		return nil, err
	}
	return &Outcome{
		Reply: fmt.Sprintf("Will follow up on %s %s", t.Label(), cmd.Recurrence.Describe()),
	}, nil
}

func (h *Handlers) reminderAdd(ctx context.Context, cmd *Command) (*Outcome, error) {
	message := cmd.entity("title")
	if message == "" {
		message = cmd.entity("description")
	}
	if message == "" {
		return nil, incomplete(cmd.Intent, "message")
	}
	if cmd.Time == nil {
		return nil, incomplete(cmd.Intent, "time")
	}

	target := cmd.Actor.ChatID
	if cmd.Target != nil {
		target = cmd.Target.ChatID
	}
	rem := &domain.Reminder{
		ID:         h.newID(),
		TargetUser: target,
		Message:    message,
		FireAt:     cmd.Time.UTC(),
		CreatedAt:  h.now().UTC(),
	}
	if err := h.repo.CreateReminder(ctx, rem); err != nil {
		return nil, err
	}
	return &Outcome{
		Reply: fmt.Sprintf("Reminder set for %s: %s",
			rem.FireAt.In(cmd.Actor.Location()).Format("Mon Jan 2 15:04"), message),
		Created: &convo.Ref{Kind: convo.KindReminder, ID: rem.ID},
	}, nil
}

// reminderCancel deletes a not-yet-delivered reminder, so it can never fire.
// The target must be the actor's own reminder unless the actor is the owner.
func (h *Handlers) reminderCancel(ctx context.Context, cmd *Command) (*Outcome, error) {
	if cmd.Ref == nil || cmd.Ref.Kind != convo.KindReminder {
		return nil, domain.ErrNotFound
	}
	rem, err := h.repo.GetReminder(ctx, cmd.Ref.ID)
	if err != nil {
		return nil, err
	}
	if cmd.Actor.Role != domain.RoleOwner && rem.TargetUser != cmd.Actor.ChatID {
		return nil, fmt.Errorf("reminder %s: %w", rem.ID, domain.ErrPermissionDenied)
	}
	if rem.Delivered {
		return nil, fmt.Errorf("that reminder already fired")
	}
	if err := h.repo.DeleteReminder(ctx, rem.ID); err != nil {
		return nil, err
	}
	return &Outcome{Reply: "Reminder cancelled: " + rem.Message}, nil
}

func (h *Handlers) noteAdd(ctx context.Context, cmd *Command) (*Outcome, error) {
	text := cmd.entity("title")
	if text == "" {
		text = cmd.entity("description")
	}
	if text == "" {
		return nil, incomplete(cmd.Intent, "text")
	}
	n := &domain.Note{
		ID:        h.newID(),
		OwnerID:   cmd.Actor.ChatID,
		Text:      text,
		CreatedAt: h.now().UTC(),
	}
	if err := h.repo.CreateNote(ctx, n); err != nil {
		return nil, err
	}
	return &Outcome{Reply: "Noted: " + text}, nil
}

func (h *Handlers) noteList(ctx context.Context, cmd *Command) (*Outcome, error) {
	notes, err := h.repo.ListNotes(ctx, cmd.Actor.ChatID, 20)
	if err != nil {
		return nil, err
	}
	if len(notes) == 0 {
		return &Outcome{Reply: "No notes yet."}, nil
	}
	var b strings.Builder
	b.WriteString("Your notes:\n")
	for i := range notes {
		b.WriteString("• ")
		b.WriteString(notes[i].Text)
		b.WriteString("\n")
	}
	return &Outcome{Reply: strings.TrimRight(b.String(), "\n")}, nil
}

func (h *Handlers) calendarAdd(ctx context.Context, cmd *Command) (*Outcome, error) {
	if h.cal == nil {
		return nil, fmt.Errorf("calendar is not connected")
	}
	title := cmd.entity("title")
	if title == "" {
		return nil, incomplete(cmd.Intent, "title")
	}
	if cmd.Time == nil {
		return nil, incomplete(cmd.Intent, "time")
	}
	if err := h.cal.Add(ctx, title, *cmd.Time); err != nil {
		return nil, err
	}
	return &Outcome{
		Reply: fmt.Sprintf("Event added: %s on %s", title,
			cmd.Time.In(cmd.Actor.Location()).Format("Mon Jan 2 15:04")),
	}, nil
}

func (h *Handlers) calendarList(ctx context.Context, cmd *Command) (*Outcome, error) {
	if h.cal == nil {
		return nil, fmt.Errorf("calendar is not connected")
	}
	events, err := h.cal.Upcoming(ctx, h.now().UTC(), 7)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return &Outcome{Reply: "Nothing on the calendar this week."}, nil
	}
	var b strings.Builder
	b.WriteString("This week:\n")
	for _, ev := range events {
		fmt.Fprintf(&b, "• %s — %s\n",
			ev.Start.In(cmd.Actor.Location()).Format("Mon Jan 2 15:04"), ev.Title)
	}
	return &Outcome{Reply: strings.TrimRight(b.String(), "\n")}, nil
}

func (h *Handlers) emailSend(ctx context.Context, cmd *Command) (*Outcome, error) {
	if h.mail == nil {
		return nil, fmt.Errorf("mail is not connected")
	}
	recipient := cmd.entity("recipient")
	if recipient == "" {
		return nil, incomplete(cmd.Intent, "recipient")
	}
	subject := cmd.entity("subject")
	if subject == "" {
		return nil, incomplete(cmd.Intent, "subject")
	}
	body := cmd.entity("body")
	if body == "" {
		return nil, incomplete(cmd.Intent, "body")
	}
	if err := h.mail.Send(ctx, recipient, subject, body); err != nil {
		return nil, err
	}
	return &Outcome{Reply: fmt.Sprintf("Email sent to %s: %s", recipient, subject)}, nil
}

func (h *Handlers) emailCheck(ctx context.Context, cmd *Command) (*Outcome, error) {
	if h.mail == nil {
		return nil, fmt.Errorf("mail is not connected")
	}
	n, err := h.mail.UnreadCount(ctx)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return &Outcome{Reply: "No new mail."}, nil
	}
	return &Outcome{Reply: fmt.Sprintf("%d unread message(s).", n)}, nil
}

func (h *Handlers) generalChat(ctx context.Context, cmd *Command) (*Outcome, error) {
	if h.chat == nil {
		return &Outcome{Reply: "Noted."}, nil
	}
	reply, err := h.chat.Respond(ctx, cmd.Raw, "")
	if err != nil {
		h.log.Warn("chat responder failed", zap.Error(err))
		return &Outcome{Reply: "Noted."}, nil
	}
	return &Outcome{Reply: reply}, nil
}

func (h *Handlers) help(ctx context.Context, cmd *Command) (*Outcome, error) {
	return &Outcome{Reply: strings.Join([]string{
		"I can manage tasks, reminders, calendar and mail:",
		"• add, list, complete, reopen, focus and assign tasks",
		"• set recurring follow-ups, e.g. \"every 2 hours during business hours\"",
		"• one-time reminders, e.g. \"remind me in 15 minutes to call back\"",
		"• calendar events and email, when connected",
	}, "\n")}, nil
}
