// Package coinscot provides the building blocks to create a slack bot. It is
// extendable via plugins that can combine commands, hear actions (listeners)
// as well as scheduled actions. Plugins get their external services (logging,
// user info lookups and the chat gateway) injected by the engine before the
// bot starts processing messages.
package coinscot

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"github.com/fraqlab/coinscot/config"
	"github.com/fraqlab/coinscot/schedule"
	"github.com/marcsantiago/gocron"
	"github.com/slack-go/slack"
	"github.com/spf13/viper"
)

// VERSION holds the engine version
const VERSION = "1.0.0"

// Coinscot represents a bot instance: a name, its configuration and its plugins
type Coinscot struct {
	name          string
	config        *viper.Viper
	defaultAction Answerer
	plugins       []*Plugin

	// Internal state as an optimization when looping through all commands/hearActions
	commandsWithID    []ActionDefinitionWithID
	hearActionsWithID []ActionDefinitionWithID

	selfID   string
	selfName string

	api            *slack.Client
	gateway        ChatGateway
	userInfoFinder UserInfoFinder

	log SLogger
}

// New creates a new bot instance with the given name and configuration. The
// slack client and the engine services (user info finder, chat gateway) are
// built here so they can be handed to plugin constructors before Run
func New(name string, v *viper.Viper) (bot *Coinscot, err error) {
	logger := NewSLogger(log.New(os.Stdout, name+": ", log.Lshortfile|log.LstdFlags), v.GetBool(config.DebugKey))

	bot = &Coinscot{name: name, config: v, defaultAction: func(m *IncomingMessage) *Answer {
		return &Answer{Text: fmt.Sprintf("I don't understand, ask me for `help` to get a list of things I do")}
	}, plugins: []*Plugin{}, log: logger}

	bot.api = slack.New(
		v.GetString(config.TokenKey),
		slack.OptionDebug(v.GetBool(config.DebugKey)),
		slack.OptionLog(log.New(os.Stdout, "slack: ", log.Lshortfile|log.LstdFlags)),
	)

	bot.userInfoFinder, err = NewCachingUserInfoFinder(v, bot.api, logger)
	if err != nil {
		return nil, err
	}

	bot.gateway = NewSlackChatGateway(bot.api, bot.userInfoFinder, logger)

	return bot, nil
}

// Gateway returns the chat gateway so plugin constructors needing chat access
// beyond answering (history mining, out-of-band posts) can receive it explicitly
func (s *Coinscot) Gateway() ChatGateway {
	return s.gateway
}

// Logger returns the engine logger
func (s *Coinscot) Logger() SLogger {
	return s.log
}

// RegisterPlugin registers a plugin with the engine. This should be invoked
// prior to calling Run
func (s *Coinscot) RegisterPlugin(p *Plugin) {
	s.plugins = append(s.plugins, p)
}

// Run starts the bot and loops until the process is interrupted
func (s *Coinscot) Run() (err error) {
	rtm := s.api.NewRTM()
	go rtm.ManageConnection()

	s.injectServices()
	s.attachIdentifiersToPluginActions()

	timeLoc, err := config.GetTimeLocation(s.config)
	if err != nil {
		return err
	}

	go s.startActionScheduler(timeLoc)
	go s.watchForTerminationSignalToAbort(rtm)

	for msg := range rtm.IncomingEvents {
		switch e := msg.Data.(type) {
		case *slack.ConnectedEvent:
			s.log.Printf("Connected (counter %d)\n", e.ConnectionCount)
			s.cacheSelfIdentity(rtm)

		case *slack.MessageEvent:
			s.processMessageEvent(rtm, e)

		case *slack.RTMError:
			s.log.Printf("Error: %s\n", e.Error())

		case *slack.InvalidAuthEvent:
			s.log.Printf("Invalid credentials\n")
			return nil

		default:
			// Ignoring other events
		}
	}

	return nil
}

// injectServices sets the engine services (logger, cached user info finder
// and chat gateway) on all registered plugins
func (s *Coinscot) injectServices() {
	for _, p := range s.plugins {
		p.Logger = s.log
		p.UserInfoFinder = s.userInfoFinder
		p.Gateway = s.gateway
	}
}

// watchForTerminationSignalToAbort waits for a SIGTERM or SIGINT and closes the
// rtm's IncomingEvents channel to finish the main Run() loop and terminate
// cleanly. Note that this is meant to run in a goroutine given that this is blocking
func (s *Coinscot) watchForTerminationSignalToAbort(rtm *slack.RTM) {
	tSignals := make(chan os.Signal, 1)
	signal.Notify(tSignals, syscall.SIGINT, syscall.SIGTERM)
	sig := <-tSignals

	s.log.Debugf("Received termination signal [%s], closing RTM's incoming events channel to terminate processing\n", sig)
	close(rtm.IncomingEvents)
}

// attachIdentifiersToPluginActions attaches an action identifier to every
// plugin action and sets them accordingly in the internal engine state.
// The identifiers are generated the following way:
//  - pluginName.c[pluginIndexOfTheCommand] for commands
//  - pluginName.h[pluginIndexOfTheHearAction] for hear actions
func (s *Coinscot) attachIdentifiersToPluginActions() {
	s.commandsWithID = make([]ActionDefinitionWithID, 0)
	s.hearActionsWithID = make([]ActionDefinitionWithID, 0)

	for _, p := range s.plugins {
		for i, c := range p.Commands {
			s.commandsWithID = append(s.commandsWithID, ActionDefinitionWithID{ActionDefinition: c, id: fmt.Sprintf("%s.c[%d]", p.Name, i)})
		}

		for i, h := range p.HearActions {
			s.hearActionsWithID = append(s.hearActionsWithID, ActionDefinitionWithID{ActionDefinition: h, id: fmt.Sprintf("%s.h[%d]", p.Name, i)})
		}
	}
}

// cacheSelfIdentity gets "our" identity and keeps the selfID and selfName to
// avoid having to look it up every time
func (s *Coinscot) cacheSelfIdentity(rtm *slack.RTM) {
	s.selfID = rtm.GetInfo().User.ID
	s.selfName = rtm.GetInfo().User.Name

	s.log.Debugf("Caching self id [%s] and self name [%s]\n", s.selfID, s.selfName)
}

// startActionScheduler creates all ScheduledActionDefinition from all plugins
// and registers them with the scheduler. Very importantly, it also starts the
// scheduler
func (s *Coinscot) startActionScheduler(timeLoc *time.Location) {
	gocron.ChangeLoc(timeLoc)
	sc := gocron.NewScheduler()

	for _, p := range s.plugins {
		for _, sa := range p.ScheduledActions {
			j, err := schedule.NewJob(sc, sa.Schedule)
			if err != nil {
				s.log.Printf("Error scheduling action [%s]: %v\n", sa, err)
				continue
			}

			s.log.Debugf("Adding job [%v] to scheduler\n", j)
			j.Do(sa.Action, s.gateway)
		}
	}

	_, t := sc.NextRun()
	s.log.Debugf("Starting scheduler with first job scheduled at [%s]\n", t)

	<-sc.Start()
}

// processMessageEvent handles high-level processing of all slack message events
func (s *Coinscot) processMessageEvent(rtm *slack.RTM, msgEvent *slack.MessageEvent) {
	// reply_to is a field set to 1 sent by slack when a sent message has been
	// acknowledged. We ignore those, they're mostly for clients/UI to show status
	if msgEvent.ReplyTo > 0 || msgEvent.Type != "message" {
		return
	}

	if IsDeleteEvent(&msgEvent.Msg) {
		s.log.Debugf("Ignoring deletion of message [%s]\n", msgEvent.DeletedTimestamp)
		return
	}

	m := combineIncomingMessageToHandle(msgEvent)
	outMsgs := s.routeMessage(m)

	for _, o := range outMsgs {
		rtm.SendMessage(o)
	}
}

// combineIncomingMessageToHandle combines a main message and its sub message to
// form what would be an intuitive message to process for a bot. For a
// message_changed event, that means taking the channel of the main message
// along with the text and user of the edited sub message
func combineIncomingMessageToHandle(messageEvent *slack.MessageEvent) (combinedMessage *slack.Msg) {
	if messageEvent.SubType == "message_changed" && messageEvent.SubMessage != nil {
		combined := messageEvent.Msg
		combined.Text = messageEvent.SubMessage.Text
		combined.User = messageEvent.SubMessage.User
		return &combined
	}

	return &messageEvent.Msg
}

// routeMessage handles routing the message to commands or hear actions
// according to the context. The rules are the following:
// 	1. If the message is on a channel with a direct mention to us (@name), we route to commands
// 	2. If the message is a direct message to us, we route to commands
// 	3. If the message is on a channel without mention (regular conversation), we route to hear actions
// Note that hear actions are still evaluated for command messages so that
// passive listeners (like mining triggers) see every message
func (s *Coinscot) routeMessage(m *slack.Msg) (responses []*slack.OutgoingMessage) {
	responses = make([]*slack.OutgoingMessage, 0)

	// Ignore messages sent by "us"
	if m.User == s.selfID || m.BotID == s.selfID {
		s.log.Debugf("Ignoring message from user [%s] because that's \"us\" [%s]\n", m.User, s.selfID)
		return responses
	}

	hearMsg := IncomingMessage{NormalizedText: m.Text, Msg: *m}
	hearResponses := handleMessage(s.hearActionsWithID, &hearMsg, sendStrategy)

	directedRegexp := regexp.MustCompile("^(<@" + s.selfID + ">|@?" + s.selfName + "):? (.+)")
	matches := directedRegexp.FindStringSubmatch(m.Text)

	if len(matches) == 3 {
		inMsg := IncomingMessage{NormalizedText: matches[2], Msg: *m}
		responses = append(responses, s.handleCommand(&inMsg, replyStrategy, len(hearResponses) == 0)...)
	} else if IsPrivateMessage(m) {
		inMsg := IncomingMessage{NormalizedText: m.Text, Msg: *m}
		responses = append(responses, s.handleCommand(&inMsg, sendStrategy, len(hearResponses) == 0)...)
	}

	return append(responses, hearResponses...)
}

// handleCommand handles a command by trying a match with all known commands.
// If no match is found and nothing else answered the message, the default
// action is invoked; a hear action answering suppresses the default so
// plugins routing their command surface through hear actions don't get the
// "I don't understand" noise on top of their answer
func (s *Coinscot) handleCommand(m *IncomingMessage, rs responseStrategy, fallback bool) (outMsgs []*slack.OutgoingMessage) {
	outMsgs = handleMessage(s.commandsWithID, m, rs)
	if len(outMsgs) == 0 && fallback {
		if answer := s.defaultAction(m); answer != nil {
			outMsgs = append(outMsgs, rs(&m.Msg, answer))
		}
	}

	return outMsgs
}

// handleMessage loops over all action definitions and invokes the action of
// every definition whose matcher matches the incoming message. Note that more
// than one action can be triggered during the processing of a single message
func handleMessage(actions []ActionDefinitionWithID, m *IncomingMessage, rs responseStrategy) (outMsgs []*slack.OutgoingMessage) {
	outMsgs = make([]*slack.OutgoingMessage, 0)

	for _, action := range actions {
		if action.Match(m) {
			answer := action.Answer(m)

			if answer != nil && answer.Text != "" {
				outMsgs = append(outMsgs, rs(&m.Msg, answer))
			}
		}
	}

	return outMsgs
}

// responseStrategy defines how a slack.OutgoingMessage is generated from an answer
type responseStrategy func(m *slack.Msg, answer *Answer) *slack.OutgoingMessage

// replyStrategy replies to the user (using @user) who sent the message on the
// channel it was sent on
func replyStrategy(m *slack.Msg, answer *Answer) *slack.OutgoingMessage {
	return newOutgoingMessage(m, fmt.Sprintf("<@%s>: %s", m.User, answer.Text), answer)
}

// sendStrategy sends the answer on the same channel as received (which can be
// a direct message since slack internally uses a channel id for private
// conversations)
func sendStrategy(m *slack.Msg, answer *Answer) *slack.OutgoingMessage {
	return newOutgoingMessage(m, answer.Text, answer)
}

func newOutgoingMessage(m *slack.Msg, text string, answer *Answer) *slack.OutgoingMessage {
	sendOpts := ApplyAnswerOpts(answer.Options...)

	om := slack.OutgoingMessage{Type: "message", Channel: m.Channel, Text: text}

	if threaded, ok := sendOpts[ThreadedReplyOpt]; ok && threaded == "true" {
		om.ThreadTimestamp = m.Timestamp
		if ts, ok := sendOpts[ThreadTimestamp]; ok {
			om.ThreadTimestamp = ts
		}
	}

	return &om
}
