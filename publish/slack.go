// Package publish posts replies to Slack.
package publish

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/slack-go/slack"

	"gemini-slack-bot/models"
)

type OutboundMessage = models.OutboundMessage

// Poster delivers one message to a Slack conversation.
type Poster interface {
	Post(ctx context.Context, msg OutboundMessage) error
}

// PlatformError carries the error code Slack reported for a failed call,
// e.g. "channel_not_found" or "not_authed".
type PlatformError struct {
	Code string
	Err  error
}

func (e *PlatformError) Error() string {
	return "slack: " + e.Code
}

func (e *PlatformError) Unwrap() error {
	return e.Err
}

// ErrorCode returns the Slack error code inside err, or "" if err did not
// come from the platform.
func ErrorCode(err error) string {
	var platformErr *PlatformError
	if errors.As(err, &platformErr) {
		return platformErr.Code
	}
	return ""
}

type Slack struct {
	client *slack.Client
}

// NewSlack builds a bot client. Extra options are passed to slack.New,
// which lets tests point the client at a local API.
func NewSlack(botToken string, options ...slack.Option) (*Slack, error) {
	if strings.TrimSpace(botToken) == "" {
		return nil, fmt.Errorf("publish: missing slack bot token")
	}
	return &Slack{client: slack.New(botToken, options...)}, nil
}

func (s *Slack) Post(ctx context.Context, msg OutboundMessage) error {
	params := slack.NewPostMessageParameters()
	params.Markdown = msg.MarkdownEnabled

	_, _, err := s.client.PostMessageContext(
		ctx,
		msg.Channel,
		slack.MsgOptionText(msg.Text, false),
		slack.MsgOptionPostMessageParameters(params),
	)
	if err != nil {
		return platformError(err)
	}
	return nil
}

// BotUserID asks Slack which user the bot token belongs to.
func (s *Slack) BotUserID(ctx context.Context) (string, error) {
	auth, err := s.client.AuthTestContext(ctx)
	if err != nil {
		return "", fmt.Errorf("publish: auth.test: %w", platformError(err))
	}
	userID := strings.TrimSpace(auth.UserID)
	if userID == "" {
		return "", fmt.Errorf("publish: auth.test returned empty user_id")
	}
	return userID, nil
}

func platformError(err error) error {
	var slackErr slack.SlackErrorResponse
	if errors.As(err, &slackErr) {
		return &PlatformError{Code: slackErr.Err, Err: err}
	}
	var rateLimited *slack.RateLimitedError
	if errors.As(err, &rateLimited) {
		return &PlatformError{Code: "ratelimited", Err: err}
	}
	var statusErr slack.StatusCodeError
	if errors.As(err, &statusErr) {
		return &PlatformError{Code: fmt.Sprintf("http_%d", statusErr.Code), Err: err}
	}
	return err
}

var _ Poster = (*Slack)(nil)
