// Package classify decides whether an inbound Slack event should get a reply.
package classify

import (
	"strings"

	"gemini-slack-bot/models"
)

const (
	eventTypeMessage    = "message"
	eventTypeAppMention = "app_mention"

	directMessagePrefix = "D"
	channelTypeIM       = "im"
)

type Disposition = models.Disposition
type InboundEvent = models.InboundEvent

// Classify maps an event to a disposition. Events authored by botID are
// always ignored so the bot never answers itself.
func Classify(event InboundEvent, botID string) Disposition {
	if event.Type != eventTypeMessage && event.Type != eventTypeAppMention {
		return models.Ignore
	}
	// edits, deletions, bot_message and other meta messages
	if event.Subtype != "" {
		return models.Ignore
	}
	if event.User == botID {
		return models.Ignore
	}

	if event.Type == eventTypeAppMention {
		return models.MentionReply
	}
	if IsDirectMessage(event) {
		return models.DirectReply
	}
	// plain channel chatter without a mention
	return models.Ignore
}

func IsDirectMessage(event InboundEvent) bool {
	return strings.HasPrefix(event.Channel, directMessagePrefix) || event.ChannelType == channelTypeIM
}
