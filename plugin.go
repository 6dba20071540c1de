package coinscot

import (
	"fmt"

	"github.com/fraqlab/coinscot/schedule"
	"github.com/slack-go/slack"
)

// IncomingMessage holds a slack message along with the normalized text content.
// The normalized text is the message text stripped of the "<@botUserID> " prefix
// when the message was addressed to the bot, which is the form actions should
// match on.
type IncomingMessage struct {
	NormalizedText string
	slack.Msg
}

// Matcher is the function that determines whether or not an action should be
// triggered. Note that a match doesn't guarantee that the action should
// actually respond with anything once invoked
type Matcher func(m *IncomingMessage) bool

// Answerer is what gets executed when an ActionDefinition is triggered
type Answerer func(m *IncomingMessage) *Answer

// ActionDefinition represents how an action is triggered, published, used and
// described along with the function defining its behavior
type ActionDefinition struct {
	// Indicates whether the action should be omitted from the help message
	Hidden bool

	// Matcher that will determine whether or not the action should be triggered
	Match Matcher

	// Usage example
	Usage string

	// Help description for the action
	Description string

	// Function to execute if the Matcher matches
	Answer Answerer
}

// String returns a friendly description of an ActionDefinition
func (a ActionDefinition) String() string {
	return fmt.Sprintf("`%s` - %s", a.Usage, a.Description)
}

// ScheduledAction is what gets executed when a ScheduledActionDefinition is
// triggered by its schedule. The gateway is provided so that actions can
// interact with the chat without holding on to engine internals
type ScheduledAction func(gateway ChatGateway)

// ScheduledActionDefinition represents when a scheduled action is triggered as
// well as what it does and how
type ScheduledActionDefinition struct {
	// Indicates whether the action should be omitted from the help message
	Hidden bool

	// Schedule on which the action runs
	Schedule schedule.Definition

	// Help description for the scheduled action
	Description string

	// Action is the function that is invoked when the schedule activates
	Action ScheduledAction
}

// String returns a friendly description of a ScheduledActionDefinition
func (a ScheduledActionDefinition) String() string {
	return fmt.Sprintf("`%s` - %s", a.Schedule, a.Description)
}

// Plugin represents a plugin (its name and action definitions) along with the
// services injected by the engine prior to Run
type Plugin struct {
	Name             string
	Commands         []ActionDefinition
	HearActions      []ActionDefinition
	ScheduledActions []ScheduledActionDefinition

	// Set by the engine before any action is invoked
	Logger         SLogger
	UserInfoFinder UserInfoFinder
	Gateway        ChatGateway
}

// ActionDefinitionWithID holds an action definition along with its identifier string
type ActionDefinitionWithID struct {
	ActionDefinition
	id string
}
