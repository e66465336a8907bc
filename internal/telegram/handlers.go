package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"aide/internal/domain"
)

// ensureUser makes sure a user row exists and reflects the current Telegram
// profile. The configured owner chat is always the owner; everyone else
// starts unauthorized.
func (g *Gateway) ensureUser(ctx context.Context, msg *tgbotapi.Message) (*domain.User, error) {
	chatID := msg.Chat.ID

	name, uname := displayName(msg), userName(msg)

	u, err := g.repo.GetUser(ctx, chatID)
	if err == nil {
		// Keep the profile fields fresh; the role never changes here.
		if u.DisplayName != name || u.Username != uname {
			u.DisplayName, u.Username = name, uname
			if err := g.repo.UpsertUser(ctx, u); err != nil {
				return nil, err
			}
		}
		return u, nil
	}

	role := domain.RoleUnauthorized
	if chatID == g.ownerID {
		role = domain.RoleOwner
	}
	u = &domain.User{
		ChatID:      chatID,
		DisplayName: name,
		Username:    uname,
		Role:        role,
		TZ:          g.defaultTZ,
		CreatedAt:   time.Now().UTC(),
	}
	if err := g.repo.UpsertUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func displayName(msg *tgbotapi.Message) string {
	if msg.From == nil {
		return ""
	}
	name := strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
	if name == "" {
		name = msg.From.UserName
	}
	return name
}

func userName(msg *tgbotapi.Message) string {
	if msg.From == nil {
		return ""
	}
	return msg.From.UserName
}

func (g *Gateway) handleStart(ctx context.Context, u *domain.User) {
	if !u.Authorized() {
		g.handleAccessRequest(ctx, u)
		return
	}
	g.sendText(u.ChatID, startText)
}

func (g *Gateway) handleStatus(ctx context.Context, u *domain.User) {
	if !u.Authorized() {
		g.handleAccessRequest(ctx, u)
		return
	}
	tasks, err := g.repo.ListTasks(ctx, u.ChatID, false, 0)
	if err != nil {
		g.log.Error("ListTasks failed", zap.Error(err))
		g.sendText(u.ChatID, "Error reading your status.")
		return
	}
	focused := "—"
	for i := range tasks {
		if tasks[i].Focused {
			focused = tasks[i].Label()
		}
	}
	g.sendText(u.ChatID, fmt.Sprintf(statusFmt, u.Role, u.TZ, len(tasks), focused))
}

func (g *Gateway) handleTimezone(ctx context.Context, u *domain.User, arg string) {
	if arg == "" {
		g.sendText(u.ChatID, "Usage: /timezone Region/City, e.g. /timezone Europe/Berlin")
		return
	}
	tz, err := domain.ValidateTZ(arg)
	if err != nil {
		g.sendText(u.ChatID, "Invalid timezone. Example: Europe/Berlin")
		return
	}
	u.TZ = tz
	if err := g.repo.UpsertUser(ctx, u); err != nil {
		g.log.Error("save timezone failed", zap.Error(err))
		g.sendText(u.ChatID, "Could not save the timezone.")
		return
	}
	g.sendText(u.ChatID, "Timezone updated: "+tz)
}

// handleAccessRequest puts the user in the pending queue and pings the owner
// with a decision keyboard. Repeat messages while pending stay quiet except
// for a short note.
func (g *Gateway) handleAccessRequest(ctx context.Context, u *domain.User) {
	wasPending := u.Role == domain.RolePending

	if err := g.workflow.RequestAccess(ctx, u); err != nil {
		g.log.Error("RequestAccess failed", zap.Error(err), zap.Int64("chatID", u.ChatID))
		g.sendText(u.ChatID, "Something went wrong, please try again later.")
		return
	}
	if wasPending {
		g.sendText(u.ChatID, pendingText)
		return
	}

	g.sendText(u.ChatID, requestSentText)

	who := u.DisplayName
	if u.Username != "" {
		who += " (@" + u.Username + ")"
	}
	msg := tgbotapi.NewMessage(g.ownerID, fmt.Sprintf("New access request from %s.", who))
	msg.ReplyMarkup = authDecisionKeyboard(u.ChatID)
	if _, err := g.bot.Send(msg); err != nil {
		g.log.Error("owner notification failed", zap.Error(err))
	}
}
