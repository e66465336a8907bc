package telegram

import (
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// UI texts in English
const (
	startText = "👋 I'm your assistant.\n\n" +
		"Tell me things like \"add todo to call the client tomorrow at 3pm\" or " +
		"\"remind me in 20 minutes to check the oven\" and I'll keep track.\n\n" +
		"Use /help for the full list."

	helpText = "I understand plain language:\n" +
		"• \"add todo buy milk\", \"list my tasks\", \"complete the milk task\"\n" +
		"• \"delete the milk task\", \"make the report task urgent\"\n" +
		"• \"assign the report task to Luke\"\n" +
		"• \"set reminder every 2 hours during business hours\"\n" +
		"• \"remind me in 15 minutes to call back\", \"cancel that reminder\"\n" +
		"• \"note that the wifi password is hunter2\", \"list my notes\"\n\n" +
		"Commands: /status, /timezone Region/City"

	statusFmt = "🧾 Your status:\n• Role: %s\n• Timezone: %s\n• Open tasks: %d\n• Focus: %s"

	requestSentText = "I don't know you yet. I've asked the owner to approve you — " +
		"you'll get a message once that happens."
	pendingText  = "Your access request is still waiting for a decision."
	approvedText = "✅ You're in. Say hi, or /help to see what I can do."
	deniedText   = "Your access request was declined. You can write again to re-request."
)

// authDecisionKeyboard is the inline keyboard the owner uses to resolve an
// access request.
func authDecisionKeyboard(subjectID int64) tgbotapi.InlineKeyboardMarkup {
	id := strconv.FormatInt(subjectID, 10)
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("👔 Employee", cbApproveEmployee+id),
			tgbotapi.NewInlineKeyboardButtonData("👤 Contact", cbApproveContact+id),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🚫 Deny", cbDeny+id),
		),
	)
}
