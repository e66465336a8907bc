package router

import (
	"aide/internal/auth"
	"aide/internal/classify"
)

// Intent is an enumerated command kind. The registry is validated at startup
// so every intent has exactly one handler.
type Intent string

const (
	IntentTodoAdd        Intent = "todo_add"
	IntentTodoList       Intent = "todo_list"
	IntentTodoComplete   Intent = "todo_complete"
	IntentTodoReopen     Intent = "todo_reopen"
	IntentTodoFocus      Intent = "todo_focus"
	IntentTodoDelete     Intent = "todo_delete"
	IntentPrioritySet    Intent = "priority_set"
	IntentTaskAssign     Intent = "task_assign"
	IntentFollowupSet    Intent = "followup_set"
	IntentReminderAdd    Intent = "reminder_add"
	IntentReminderCancel Intent = "reminder_cancel"
	IntentNoteAdd        Intent = "note_add"
	IntentNoteList       Intent = "note_list"
	IntentCalendarAdd    Intent = "calendar_add"
	IntentCalendarList   Intent = "calendar_list"
	IntentEmailSend      Intent = "email_send"
	IntentEmailCheck     Intent = "email_check"
	IntentGeneralChat    Intent = "general_chat"
	IntentHelp           Intent = "help"
)

// AllIntents lists every intent the router understands.
func AllIntents() []Intent {
	return []Intent{
		IntentTodoAdd, IntentTodoList, IntentTodoComplete, IntentTodoReopen,
		IntentTodoFocus, IntentTodoDelete, IntentPrioritySet, IntentTaskAssign,
		IntentFollowupSet, IntentReminderAdd, IntentReminderCancel,
		IntentNoteAdd, IntentNoteList,
		IntentCalendarAdd, IntentCalendarList, IntentEmailSend, IntentEmailCheck,
		IntentGeneralChat, IntentHelp,
	}
}

// Capability returns the capability a user needs for this intent.
func (i Intent) Capability() auth.Capability {
	switch i {
	case IntentTodoAdd, IntentTodoList, IntentTodoComplete, IntentTodoReopen,
		IntentTodoFocus, IntentTodoDelete, IntentPrioritySet, IntentFollowupSet,
		IntentNoteAdd, IntentNoteList:
		return auth.CapTaskSelf
	case IntentTaskAssign:
		return auth.CapTaskAssign
	case IntentReminderAdd, IntentReminderCancel:
		return auth.CapReminderSelf
	case IntentCalendarAdd, IntentCalendarList:
		return auth.CapCalendar
	case IntentEmailSend, IntentEmailCheck:
		return auth.CapMail
	}
	return auth.CapConverse
}

// Catalog enumerates the allowed intents for the classification service, with
// descriptions and examples. This is the whole contract: the model knows
// nothing the catalog does not say.
func Catalog() []classify.IntentSpec {
	return []classify.IntentSpec{
		{Name: string(IntentTodoAdd), Description: "create a new task/todo item",
			Examples: []string{"add todo to buy milk", "create a task to call the client tomorrow at 3pm"}},
		{Name: string(IntentTodoList), Description: "list open tasks"},
		{Name: string(IntentTodoComplete), Description: "mark a task as completed",
			Examples: []string{"complete the milk task", "actually, complete it"}},
		{Name: string(IntentTodoReopen), Description: "reopen a completed task"},
		{Name: string(IntentTodoFocus), Description: "mark one task as the current focus",
			Examples: []string{"focus on the report task"}},
		{Name: string(IntentTodoDelete), Description: "delete a task entirely",
			Examples: []string{"delete the milk task", "remove that task"}},
		{Name: string(IntentPrioritySet), Description: "change a task's priority",
			Examples: []string{"make the report task urgent", "set the milk task to low priority"}},
		{Name: string(IntentTaskAssign), Description: "assign a task to another person",
			Examples: []string{"assign the report task to Luke"}},
		{Name: string(IntentFollowupSet), Description: "attach a recurring follow-up reminder to a task",
			Examples: []string{"set reminder every 2 hours during business hours"}},
		{Name: string(IntentReminderAdd), Description: "set a one-time reminder with a message and a time",
			Examples: []string{"remind me in 15 minutes to check the oven"}},
		{Name: string(IntentReminderCancel), Description: "cancel a reminder before it fires",
			Examples: []string{"cancel that reminder"}},
		{Name: string(IntentNoteAdd), Description: "save a free-form note",
			Examples: []string{"note that the wifi password is hunter2"}},
		{Name: string(IntentNoteList), Description: "list saved notes"},
		{Name: string(IntentCalendarAdd), Description: "add a calendar event"},
		{Name: string(IntentCalendarList), Description: "list upcoming calendar events"},
		{Name: string(IntentEmailSend), Description: "send an email"},
		{Name: string(IntentEmailCheck), Description: "check for new email"},
		{Name: string(IntentGeneralChat), Description: "conversational message that is none of the above"},
		{Name: string(IntentHelp), Description: "ask what the assistant can do"},
	}
}
