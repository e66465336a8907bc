package router

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"aide/internal/auth"
	"aide/internal/classify"
	"aide/internal/convo"
	"aide/internal/domain"
	"aide/internal/store"
)

// Command is one fully resolved sub-command: raw entities from the classifier
// plus whatever the resolution pass could turn into real objects.
type Command struct {
	Intent   Intent
	Actor    *domain.User
	Raw      string
	Entities map[string]string

	// Resolved fields. Nil when the corresponding entity was absent.
	Time       *time.Time
	Recurrence *domain.RecurrenceRule
	Target     *domain.User
	Ref        *convo.Ref
}

func (c *Command) entity(key string) string {
	return strings.TrimSpace(c.Entities[key])
}

// Outcome is the per-sub-command result. Err carries resolution, permission
// or handler failures; sub-commands never abort their siblings.
type Outcome struct {
	Intent  Intent
	Reply   string
	Err     error
	Created *convo.Ref
}

// Handler executes one intent against the stores.
type Handler interface {
	Handle(ctx context.Context, cmd *Command) (*Outcome, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, cmd *Command) (*Outcome, error)

func (f HandlerFunc) Handle(ctx context.Context, cmd *Command) (*Outcome, error) {
	return f(ctx, cmd)
}

// Router dispatches classified sub-commands to their handlers, threading
// created references and checking permissions per sub-command.
type Router struct {
	repo     store.Repo
	tracker  *convo.Tracker
	registry map[Intent]Handler
	log      *zap.Logger
	now      func() time.Time
}

// New builds a Router and validates the registry: an intent without a handler
// or a handler for an unknown intent is a programming error.
func New(repo store.Repo, tracker *convo.Tracker, registry map[Intent]Handler, log *zap.Logger) (*Router, error) {
	known := make(map[Intent]bool, len(AllIntents()))
	for _, in := range AllIntents() {
		known[in] = true
		if registry[in] == nil {
			return nil, fmt.Errorf("router: no handler for intent %q", in)
		}
	}
	for in := range registry {
		if !known[in] {
			return nil, fmt.Errorf("router: handler for unknown intent %q", in)
		}
	}
	return &Router{
		repo:     repo,
		tracker:  tracker,
		registry: registry,
		log:      log,
		now:      time.Now,
	}, nil
}

// Route processes the extraction in order. Each sub-command is resolved,
// permission-checked and executed independently; a task created by an earlier
// sub-command becomes the implicit target of later ones in the same message.
func (r *Router) Route(ctx context.Context, actor *domain.User, raw string, results []classify.Result) []Outcome {
	outcomes := make([]Outcome, 0, len(results))
	var created *convo.Ref
	var obs []convo.Observation

	for _, res := range results {
		intent := Intent(res.Intent)
		if _, ok := r.registry[intent]; !ok {
			// Unknown intent names degrade to conversation.
			intent = IntentGeneralChat
		}

		out := r.dispatch(ctx, actor, raw, intent, res.Entities, created)
		if out.Err != nil {
			r.log.Debug("sub-command failed",
				zap.String("intent", string(intent)),
				zap.Int64("user", actor.ChatID),
				zap.Error(out.Err))
		}
		if out.Created != nil {
			created = out.Created
			obs = append(obs, convo.Observation{Intent: string(intent), Ref: out.Created})
		} else if out.Err == nil && out.Ref != nil {
			obs = append(obs, convo.Observation{Intent: string(intent), Ref: out.Ref})
		}
		outcomes = append(outcomes, out.Outcome)
	}

	if len(obs) > 0 {
		r.tracker.Observe(actor.ChatID, obs)
	}
	return outcomes
}

// dispatchResult carries the touched reference alongside the outcome so Route
// can record it in the context window.
type dispatchResult struct {
	Outcome
	Ref *convo.Ref
}

func (r *Router) dispatch(ctx context.Context, actor *domain.User, raw string, intent Intent, entities map[string]string, created *convo.Ref) dispatchResult {
	cmd := &Command{
		Intent:   intent,
		Actor:    actor,
		Raw:      raw,
		Entities: entities,
	}
	if cmd.Entities == nil {
		cmd.Entities = map[string]string{}
	}

	if err := auth.Check(actor, intent.Capability()); err != nil {
		return dispatchResult{Outcome: Outcome{Intent: intent, Err: err}}
	}
	if err := r.resolve(ctx, cmd, created); err != nil {
		return dispatchResult{Outcome: Outcome{Intent: intent, Err: err}}
	}

	out, err := r.registry[intent].Handle(ctx, cmd)
	if err != nil {
		return dispatchResult{Outcome: Outcome{Intent: intent, Err: err}, Ref: cmd.Ref}
	}
	out.Intent = intent
	return dispatchResult{Outcome: *out, Ref: cmd.Ref}
}

// resolve turns raw entity strings into times, rules, users and references.
// Any failure aborts this sub-command before its handler runs, so a bad
// entity never leaves partial state behind.
func (r *Router) resolve(ctx context.Context, cmd *Command, created *convo.Ref) error {
	if phrase := cmd.entity("time"); phrase != "" {
		t, err := domain.ResolveTime(phrase, r.now(), cmd.Actor.Location())
		if err != nil {
			return err
		}
		cmd.Time = &t
	}
	if phrase := cmd.entity("recurrence"); phrase != "" {
		rule, err := domain.ParseRecurrence(phrase)
		if err != nil {
			return err
		}
		cmd.Recurrence = rule
	}
	if phrase := cmd.entity("assignee"); phrase != "" {
		u, err := r.resolveUser(ctx, cmd.Actor, phrase)
		if err != nil {
			return err
		}
		cmd.Target = u
	}

	if !needsRef(cmd.Intent) {
		return nil
	}
	refPhrase := cmd.entity("reference")
	if refPhrase == "" {
		refPhrase = cmd.entity("title")
	}
	if refPhrase != "" && !convo.Referring(refPhrase) && refKindAllowed(cmd.Intent, convo.KindTask) {
		ref, err := r.findTaskByTitle(ctx, cmd.Actor, refPhrase)
		if err != nil {
			return err
		}
		cmd.Ref = ref
		return nil
	}
	// An object created earlier in this same message beats anything older.
	if created != nil && refKindAllowed(cmd.Intent, created.Kind) {
		ref := *created
		cmd.Ref = &ref
		return nil
	}
	ref, err := r.tracker.Resolve(cmd.Actor.ChatID, refPhrase)
	if err != nil {
		return err
	}
	cmd.Ref = &ref
	return nil
}

// needsRef reports whether the intent operates on an existing object.
func needsRef(i Intent) bool {
	switch i {
	case IntentTodoComplete, IntentTodoReopen, IntentTodoFocus, IntentTodoDelete,
		IntentPrioritySet, IntentTaskAssign, IntentFollowupSet, IntentReminderCancel:
		return true
	}
	return false
}

func refKindAllowed(i Intent, k convo.Kind) bool {
	if i == IntentReminderCancel {
		return k == convo.KindReminder
	}
	if needsRef(i) {
		return k == convo.KindTask
	}
	return true
}

// resolveUser maps a person phrase to a known authorized user. Owners may
// address anyone; everyone else only themselves. Zero or multiple matches
// both read as "no such person".
func (r *Router) resolveUser(ctx context.Context, actor *domain.User, phrase string) (*domain.User, error) {
	p := strings.ToLower(strings.TrimSpace(phrase))
	if p == "" || p == "me" || p == "myself" {
		return actor, nil
	}
	if actor.Role != domain.RoleOwner {
		if actor.MatchesName(phrase) {
			return actor, nil
		}
		return nil, domain.ErrNotFound
	}
	users, err := r.repo.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	var match *domain.User
	for i := range users {
		u := &users[i]
		if !u.Authorized() || !u.MatchesName(phrase) {
			continue
		}
		if match != nil {
			return nil, domain.ErrNotFound
		}
		match = u
	}
	if match == nil {
		return nil, domain.ErrNotFound
	}
	return match, nil
}

// titleFiller are words a reference phrase wraps around the actual title,
// e.g. "the milk task" for a task titled "buy milk".
var titleFiller = map[string]bool{
	"the": true, "a": true, "an": true, "my": true, "that": true, "this": true,
	"task": true, "todo": true, "one": true, "item": true,
}

// findTaskByTitle matches a phrase against the actor's open tasks: filler
// words are dropped and every remaining word must appear in the title. A
// unique hit becomes the reference; two hits are ambiguous.
func (r *Router) findTaskByTitle(ctx context.Context, actor *domain.User, phrase string) (*convo.Ref, error) {
	var words []string
	for _, w := range strings.Fields(strings.ToLower(phrase)) {
		if !titleFiller[w] {
			words = append(words, w)
		}
	}
	if len(words) == 0 {
		return nil, domain.ErrNotFound
	}

	tasks, err := r.repo.ListTasks(ctx, actor.ChatID, false, 0)
	if err != nil {
		return nil, err
	}
	var match *domain.Task
	for i := range tasks {
		t := &tasks[i]
		title := strings.ToLower(t.Title)
		hit := true
		for _, w := range words {
			if !strings.Contains(title, w) {
				hit = false
				break
			}
		}
		if !hit {
			continue
		}
		if match != nil {
			return nil, domain.ErrAmbiguousReference
		}
		match = t
	}
	if match == nil {
		return nil, domain.ErrNotFound
	}
	return &convo.Ref{Kind: convo.KindTask, ID: match.ID}, nil
}
