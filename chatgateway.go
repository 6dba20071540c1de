package coinscot

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/slack-go/slack"
	"github.com/spf13/cast"
)

// HistoryMessage is a single entry of a channel history fetch
type HistoryMessage struct {
	User      string
	Text      string
	Timestamp int64
}

// ChatGateway is the narrow chat transport interface injected into plugins
// that need more than replying to the message that triggered them: name
// resolution, channel lookups, bounded history fetches and out-of-band posts
type ChatGateway interface {
	// GetDisplayName resolves a user id to a display name, falling back to
	// the raw id if the user can't be resolved
	GetDisplayName(userID string) (displayName string)

	// GetChannelID resolves a channel name to its channel id
	GetChannelID(name string) (channelID string, err error)

	// FetchChannelHistory returns up to totalLimit messages posted on the
	// channel between oldest and latest (unix seconds, latest of 0 meaning
	// now), oldest first
	FetchChannelHistory(channelID string, oldest int64, latest int64, totalLimit int) (msgs []HistoryMessage, err error)

	// PostMessage posts a plain text message to the given channel
	PostMessage(channelID string, text string) (err error)
}

// IsPrivateMessage returns true if the message was sent over a direct message
// channel rather than a public or private channel
func IsPrivateMessage(m *slack.Msg) bool {
	return strings.HasPrefix(m.Channel, "D")
}

// IsDeleteEvent returns true if the message event represents a message deletion
func IsDeleteEvent(m *slack.Msg) bool {
	return m.SubType == "message_deleted"
}

// historyFetcher is the slice of the slack API the gateway needs for history
// queries. slack.Client implements this interface
type historyFetcher interface {
	GetConversationHistory(params *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error)
}

// conversationLister is the slice of the slack API the gateway needs for
// channel name resolution. slack.Client implements this interface
type conversationLister interface {
	GetConversations(params *slack.GetConversationsParameters) ([]slack.Channel, string, error)
}

// messagePoster is the slice of the slack API the gateway needs for posting.
// slack.Client implements this interface
type messagePoster interface {
	PostMessage(channelID string, options ...slack.MsgOption) (string, string, error)
}

// slackChatGateway implements ChatGateway on top of the slack web API
type slackChatGateway struct {
	userInfoFinder UserInfoFinder
	history        historyFetcher
	conversations  conversationLister
	poster         messagePoster
	logger         SLogger

	pageSize int
}

const defaultHistoryPageSize = 200

// NewSlackChatGateway returns a ChatGateway backed by a slack client
func NewSlackChatGateway(client *slack.Client, userInfoFinder UserInfoFinder, logger SLogger) ChatGateway {
	return &slackChatGateway{userInfoFinder: userInfoFinder, history: client, conversations: client, poster: client, logger: logger, pageSize: defaultHistoryPageSize}
}

// GetDisplayName resolves the display name via the user info finder and falls
// back to the raw user id on error
func (g *slackChatGateway) GetDisplayName(userID string) (displayName string) {
	u, err := g.userInfoFinder.GetUserInfo(userID)
	if err != nil || u == nil {
		g.logger.Debugf("Error getting user info for [%s], falling back to the id: %v", userID, err)
		return userID
	}

	if u.Profile.DisplayName != "" {
		return u.Profile.DisplayName
	}

	return u.RealName
}

// GetChannelID pages through conversations until it finds a channel with a
// matching name
func (g *slackChatGateway) GetChannelID(name string) (channelID string, err error) {
	name = strings.TrimPrefix(name, "#")

	params := slack.GetConversationsParameters{Types: []string{"public_channel", "private_channel"}, Limit: g.pageSize}
	for {
		channels, nextCursor, err := g.conversations.GetConversations(&params)
		if err != nil {
			return "", errors.Wrapf(err, "failed to list conversations looking for [%s]", name)
		}

		for _, c := range channels {
			if c.Name == name {
				return c.ID, nil
			}
		}

		if nextCursor == "" {
			return "", errors.Errorf("no channel named [%s] found", name)
		}

		params.Cursor = nextCursor
	}
}

// FetchChannelHistory pages through the conversation history with a cursor,
// capped at totalLimit messages so a wide time window can't result in
// unbounded work
func (g *slackChatGateway) FetchChannelHistory(channelID string, oldest int64, latest int64, totalLimit int) (msgs []HistoryMessage, err error) {
	msgs = make([]HistoryMessage, 0)

	params := slack.GetConversationHistoryParameters{ChannelID: channelID, Limit: g.pageSize, Oldest: strconv.FormatInt(oldest, 10)}
	if latest > 0 {
		params.Latest = strconv.FormatInt(latest, 10)
	}

	for {
		resp, err := g.history.GetConversationHistory(&params)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to fetch history for channel [%s]", channelID)
		}

		for _, m := range resp.Messages {
			msgs = append(msgs, HistoryMessage{User: m.User, Text: m.Text, Timestamp: int64(cast.ToFloat64(m.Timestamp))})
		}

		if !resp.HasMore || len(msgs) >= totalLimit || resp.ResponseMetaData.NextCursor == "" {
			break
		}

		params.Cursor = resp.ResponseMetaData.NextCursor
	}

	if len(msgs) > totalLimit {
		msgs = msgs[:totalLimit]
	}

	// Slack returns history newest first, callers want replay order
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	return msgs, nil
}

// PostMessage posts a plain text message to channelID
func (g *slackChatGateway) PostMessage(channelID string, text string) (err error) {
	_, _, err = g.poster.PostMessage(channelID, slack.MsgOptionText(text, false), slack.MsgOptionAsUser(true))
	return err
}
