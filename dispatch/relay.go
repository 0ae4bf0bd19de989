// Package dispatch runs the classify, complete and reply pipeline for Slack
// events on a bounded pool of workers, off the webhook request path.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gemini-slack-bot/classify"
	"gemini-slack-bot/dedup"
	"gemini-slack-bot/generate"
	"gemini-slack-bot/metrics"
	"gemini-slack-bot/models"
	"gemini-slack-bot/publish"
)

type InboundEvent = models.InboundEvent
type Outcome = models.Outcome

// FailurePolicy decides what the user sees when the completion call fails.
type FailurePolicy string

const (
	FailurePolicyDrop   FailurePolicy = "drop"
	FailurePolicyNotify FailurePolicy = "notify"
)

const DefaultFailureText = "Sorry, I couldn't come up with an answer just now. Please try again in a moment."

func ParseFailurePolicy(raw string) (FailurePolicy, error) {
	switch policy := FailurePolicy(strings.ToLower(strings.TrimSpace(raw))); policy {
	case "":
		return FailurePolicyDrop, nil
	case FailurePolicyDrop, FailurePolicyNotify:
		return policy, nil
	default:
		return "", fmt.Errorf("unknown completion failure policy %q (want drop or notify)", raw)
	}
}

// FormatForSlack converts Markdown bold markers to Slack mrkdwn bold.
func FormatForSlack(text string) string {
	return strings.ReplaceAll(text, "**", "*")
}

type RelayOptions struct {
	Completer generate.Completer
	Poster    publish.Poster
	Dedup     dedup.Store
	BotUserID string

	// Zero means the completion call may take as long as it needs.
	CompletionTimeout time.Duration
	FailurePolicy     FailurePolicy
	FailureText       string

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Relay handles a single decoded event from classification to reply.
type Relay struct {
	completer         generate.Completer
	poster            publish.Poster
	dedup             dedup.Store
	botUserID         string
	completionTimeout time.Duration
	failurePolicy     FailurePolicy
	failureText       string
	metrics           *metrics.Metrics
	logger            *slog.Logger
}

func NewRelay(opts RelayOptions) (*Relay, error) {
	if opts.Completer == nil {
		return nil, fmt.Errorf("dispatch: completer is required")
	}
	if opts.Poster == nil {
		return nil, fmt.Errorf("dispatch: poster is required")
	}
	if opts.Dedup == nil {
		return nil, fmt.Errorf("dispatch: dedup store is required")
	}
	policy, err := ParseFailurePolicy(string(opts.FailurePolicy))
	if err != nil {
		return nil, err
	}
	failureText := strings.TrimSpace(opts.FailureText)
	if failureText == "" {
		failureText = DefaultFailureText
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		completer:         opts.Completer,
		poster:            opts.Poster,
		dedup:             opts.Dedup,
		botUserID:         opts.BotUserID,
		completionTimeout: opts.CompletionTimeout,
		failurePolicy:     policy,
		failureText:       failureText,
		metrics:           m,
		logger:            logger.With("component", "relay"),
	}, nil
}

// Handle runs the pipeline for event and returns its terminal state.
func (r *Relay) Handle(ctx context.Context, event InboundEvent) Outcome {
	disposition := classify.Classify(event, r.botUserID)
	r.metrics.Dispositions.WithLabelValues(disposition.String()).Inc()

	logger := r.logger.With(
		"disposition", disposition.String(),
		"channel", event.Channel,
		"client_msg_id", event.ClientMsgID,
	)
	if disposition == models.Ignore {
		logger.Debug("event ignored", "type", event.Type, "subtype", event.Subtype)
		return models.OutcomeIgnored
	}

	if r.isDuplicate(ctx, logger, event) {
		logger.Info("duplicate delivery skipped")
		return models.OutcomeDuplicateSkipped
	}

	text, err := r.complete(ctx, event.Text)
	if err != nil {
		logger.Error("completion failed", "error", err)
		if r.failurePolicy == FailurePolicyNotify {
			r.post(ctx, logger, event.Channel, r.failureText)
		}
		return models.OutcomeCompletionFailed
	}

	if err := r.post(ctx, logger, event.Channel, FormatForSlack(text)); err != nil {
		return models.OutcomeReplyFailed
	}
	logger.Info("reply posted")
	return models.OutcomeReplied
}

// isDuplicate records the event in the dedup store before any work is done.
// Store failures let the event through.
func (r *Relay) isDuplicate(ctx context.Context, logger *slog.Logger, event InboundEvent) bool {
	key := event.DedupKey()
	if key == "" {
		logger.Debug("event has no dedup key")
		return false
	}
	seen, err := r.dedup.SeenOrRecord(ctx, key)
	if err != nil {
		r.metrics.DedupErrors.Inc()
		logger.Warn("dedup check failed, processing anyway", "dedup_key", key, "error", err)
		return false
	}
	return seen
}

func (r *Relay) complete(ctx context.Context, prompt string) (string, error) {
	if r.completionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.completionTimeout)
		defer cancel()
	}
	start := time.Now()
	text, err := r.completer.Complete(ctx, prompt)
	r.metrics.CompletionLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", generate.ErrEmptyCompletion
	}
	return text, nil
}

func (r *Relay) post(ctx context.Context, logger *slog.Logger, channel, text string) error {
	err := r.poster.Post(ctx, models.OutboundMessage{
		Channel:         channel,
		Text:            text,
		MarkdownEnabled: true,
	})
	if err == nil {
		return nil
	}
	if code := publish.ErrorCode(err); code != "" {
		logger.Error("post message failed", "slack_error", code)
	} else {
		logger.Error("post message failed", "error", err)
	}
	return err
}
