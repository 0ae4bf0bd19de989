package models

import "strings"

// InboundEvent is the inner "event" object of a Slack Events API callback.
// Only the fields the bot reads are decoded.
type InboundEvent struct {
	Type        string `json:"type"`
	Text        string `json:"text"`
	Channel     string `json:"channel"`
	ChannelType string `json:"channel_type,omitempty"`
	User        string `json:"user,omitempty"`
	Subtype     string `json:"subtype,omitempty"`
	ClientMsgID string `json:"client_msg_id,omitempty"`
	Timestamp   string `json:"ts,omitempty"`
	EventTS     string `json:"event_ts,omitempty"`
}

// DedupKey returns the identifier used to recognise redeliveries of the
// same message. An empty key means the event cannot be deduplicated.
func (e InboundEvent) DedupKey() string {
	if id := strings.TrimSpace(e.ClientMsgID); id != "" {
		return id
	}
	if e.Channel == "" {
		return ""
	}
	if e.Timestamp != "" {
		return e.Channel + ":" + e.Timestamp
	}
	if e.EventTS != "" {
		return e.Channel + ":" + e.EventTS
	}
	return ""
}

// OutboundMessage is a reply ready to be posted to Slack.
type OutboundMessage struct {
	Channel         string
	Text            string
	MarkdownEnabled bool
}

type Disposition int

const (
	Ignore Disposition = iota
	DirectReply
	MentionReply
)

func (d Disposition) String() string {
	switch d {
	case DirectReply:
		return "direct_reply"
	case MentionReply:
		return "mention_reply"
	default:
		return "ignore"
	}
}

// Outcome is the terminal state of one dispatched event.
type Outcome string

const (
	OutcomeIgnored          Outcome = "ignored"
	OutcomeDuplicateSkipped Outcome = "duplicate_skipped"
	OutcomeReplied          Outcome = "replied"
	OutcomeReplyFailed      Outcome = "reply_failed"
	OutcomeCompletionFailed Outcome = "completion_failed"
	OutcomeInvalidEvent     Outcome = "invalid_event"
	OutcomePanicked         Outcome = "panicked"
)
