// Package telegram turns bot updates into classified commands and renders the
// results back as chat messages. It is the only package that talks to the
// Telegram API.
package telegram

import (
	"context"
	"errors"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"aide/internal/auth"
	"aide/internal/classify"
	"aide/internal/convo"
	"aide/internal/domain"
	"aide/internal/router"
	"aide/internal/store"
)

// Callback data prefixes for the owner's authorization keyboard.
const (
	cbApproveEmployee = "auth_approve_employee_"
	cbApproveContact  = "auth_approve_contact_"
	cbDeny            = "auth_deny_"
)

// Gateway wires Telegram updates to the classifier and command router.
type Gateway struct {
	bot        *tgbotapi.BotAPI
	log        *zap.Logger
	repo       store.Repo
	classifier classify.Classifier
	cmds       *router.Router
	tracker    *convo.Tracker
	workflow   *auth.Workflow
	disp       *dispatcher
	ownerID    int64
	defaultTZ  string
}

// NewGateway creates a Gateway. ownerID is the chat whose user is always the
// owner; defaultTZ seeds new user rows.
func NewGateway(
	bot *tgbotapi.BotAPI,
	log *zap.Logger,
	repo store.Repo,
	classifier classify.Classifier,
	cmds *router.Router,
	tracker *convo.Tracker,
	ownerID int64,
	defaultTZ string,
) *Gateway {
	g := &Gateway{
		bot:        bot,
		log:        log,
		repo:       repo,
		classifier: classifier,
		cmds:       cmds,
		tracker:    tracker,
		workflow:   auth.NewWorkflow(repo),
		ownerID:    ownerID,
		defaultTZ:  defaultTZ,
	}
	g.disp = newDispatcher(g.HandleUpdate, log)
	return g
}

// HandleUpdate routes a single update.
func (g *Gateway) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.Message != nil {
		g.handleMessage(ctx, upd.Message)
		return
	}
	if upd.CallbackQuery != nil {
		g.handleCallback(ctx, upd.CallbackQuery)
		return
	}
}

func (g *Gateway) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	text := strings.TrimSpace(msg.Text)
	u, err := g.ensureUser(ctx, msg)
	if err != nil {
		g.log.Error("ensureUser failed", zap.Error(err), zap.Int64("chatID", msg.Chat.ID))
		g.sendText(msg.Chat.ID, "Something went wrong, please try again later.")
		return
	}

	switch {
	case strings.HasPrefix(text, "/start"):
		g.handleStart(ctx, u)
	case strings.HasPrefix(text, "/help"):
		g.sendText(u.ChatID, helpText)
	case strings.HasPrefix(text, "/status"):
		g.handleStatus(ctx, u)
	case strings.HasPrefix(text, "/timezone"):
		g.handleTimezone(ctx, u, strings.TrimSpace(strings.TrimPrefix(text, "/timezone")))
	default:
		g.handleFreeText(ctx, u, text)
	}
}

func (g *Gateway) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	actor, err := g.repo.GetUser(ctx, cb.From.ID)
	if err != nil {
		g.log.Error("callback from unknown user", zap.Error(err), zap.Int64("from", cb.From.ID))
		return
	}

	var decision auth.Decision
	var subjectRaw string
	switch {
	case strings.HasPrefix(cb.Data, cbApproveEmployee):
		decision, subjectRaw = auth.DecisionEmployee, strings.TrimPrefix(cb.Data, cbApproveEmployee)
	case strings.HasPrefix(cb.Data, cbApproveContact):
		decision, subjectRaw = auth.DecisionContact, strings.TrimPrefix(cb.Data, cbApproveContact)
	case strings.HasPrefix(cb.Data, cbDeny):
		decision, subjectRaw = auth.DecisionDeny, strings.TrimPrefix(cb.Data, cbDeny)
	default:
		return // unknown callback, ignore
	}

	subjectID, err := strconv.ParseInt(subjectRaw, 10, 64)
	if err != nil {
		g.log.Warn("bad callback payload", zap.String("data", cb.Data))
		return
	}

	subject, err := g.workflow.Decide(ctx, actor, subjectID, decision)
	if err != nil {
		g.log.Warn("authorization decision failed", zap.Error(err), zap.Int64("subject", subjectID))
		_ = g.answerCallback(cb.ID, "Could not apply the decision.")
		return
	}

	switch decision {
	case auth.DecisionDeny:
		_ = g.answerCallback(cb.ID, "Denied.")
		g.sendText(subjectID, deniedText)
	default:
		_ = g.answerCallback(cb.ID, "Approved as "+string(subject.Role)+".")
		g.sendText(subjectID, approvedText)
	}
}

// handleFreeText is the main path: classify, route, reply.
func (g *Gateway) handleFreeText(ctx context.Context, u *domain.User, text string) {
	if text == "" {
		return
	}
	if !u.Authorized() {
		g.handleAccessRequest(ctx, u)
		return
	}

	results, err := g.classifier.Classify(ctx, classify.Request{
		Message:        text,
		ContextSummary: g.tracker.Summary(u.ChatID),
		Intents:        router.Catalog(),
	})
	if err != nil {
		g.log.Error("classification failed", zap.Error(err), zap.Int64("chatID", u.ChatID))
		g.sendText(u.ChatID, "I could not make sense of that right now, please try again.")
		return
	}

	outcomes := g.cmds.Route(ctx, u, text, results)
	var lines []string
	for _, out := range outcomes {
		if out.Err != nil {
			lines = append(lines, errorText(out.Err))
			continue
		}
		if out.Reply != "" {
			lines = append(lines, out.Reply)
		}
	}
	if len(lines) == 0 {
		return
	}
	g.sendText(u.ChatID, strings.Join(lines, "\n"))
}

// SendMessage sends a plain text message and classifies failures for the
// scheduler's retry logic. This makes Gateway satisfy scheduler.Sender.
func (g *Gateway) SendMessage(chatID int64, text string) error {
	_, err := g.bot.Send(tgbotapi.NewMessage(chatID, text))
	if err == nil {
		return nil
	}
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		// 429 and server-side errors resolve themselves; 403 means the user
		// blocked the bot and retrying is pointless.
		transient := apiErr.Code == 429 || apiErr.Code >= 500
		return &domain.DeliveryError{Transient: transient, Err: err}
	}
	return &domain.DeliveryError{Transient: true, Err: err}
}

func (g *Gateway) sendText(chatID int64, text string) {
	if _, err := g.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		g.log.Warn("send failed", zap.Error(err), zap.Int64("chatID", chatID))
	}
}

func (g *Gateway) answerCallback(id, text string) error {
	_, err := g.bot.Request(tgbotapi.NewCallback(id, text))
	return err
}

// errorText maps command failures to user-facing replies.
func errorText(err error) string {
	var parse *domain.ParseError
	if errors.As(err, &parse) {
		if parse.Fragment != "" {
			return "I couldn't understand \"" + parse.Fragment + "\". Try rephrasing that part."
		}
		return "I couldn't understand that, try rephrasing."
	}
	var incomplete *domain.IncompleteCommandError
	if errors.As(err, &incomplete) {
		return "I need a " + incomplete.Field + " for that. Can you tell me?"
	}
	switch {
	case errors.Is(err, domain.ErrPermissionDenied):
		return "You're not allowed to do that."
	case errors.Is(err, domain.ErrAmbiguousReference):
		return "I'm not sure which one you mean. Can you name it?"
	case errors.Is(err, domain.ErrNotFound):
		return "I couldn't find what you're referring to."
	}
	return "Sorry, that didn't work."
}
