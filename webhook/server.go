// Package webhook serves the Slack Events API endpoint and the small
// operational routes around it.
package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"gemini-slack-bot/generate"
	"gemini-slack-bot/metrics"
)

const (
	HealthText  = "Gemini Slack Bot is running!"
	probePrompt = "Hi"

	maxBodyBytes = 1 << 20
)

// Dispatcher accepts the inner "event" object of a callback for
// asynchronous processing. It must not block.
type Dispatcher interface {
	Dispatch(raw json.RawMessage) bool
}

type Options struct {
	Dispatcher Dispatcher
	Completer  generate.Completer
	// Requests are verified against this secret when it is set.
	SigningSecret string

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

type Server struct {
	dispatcher    Dispatcher
	completer     generate.Completer
	signingSecret string
	metrics       *metrics.Metrics
	logger        *slog.Logger
}

func New(opts Options) (*Server, error) {
	if opts.Dispatcher == nil {
		return nil, fmt.Errorf("webhook: dispatcher is required")
	}
	if opts.Completer == nil {
		return nil, fmt.Errorf("webhook: completer is required")
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		dispatcher:    opts.Dispatcher,
		completer:     opts.Completer,
		signingSecret: strings.TrimSpace(opts.SigningSecret),
		metrics:       m,
		logger:        logger.With("component", "webhook"),
	}, nil
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleHealth)
	mux.HandleFunc("GET /gemini", s.handleGeminiProbe)
	mux.HandleFunc("POST /slack/events", s.handleSlackEvents)
	mux.Handle("GET /metrics", s.metrics.Handler())
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, HealthText)
}

// handleGeminiProbe calls the completion service synchronously with a fixed
// prompt and returns its raw text.
func (s *Server) handleGeminiProbe(w http.ResponseWriter, r *http.Request) {
	text, err := s.completer.Complete(r.Context(), probePrompt)
	if err != nil {
		s.logger.Error("gemini probe failed", "error", err)
		http.Error(w, "completion failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, text)
}

func (s *Server) handleSlackEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.metrics.WebhookRequests.WithLabelValues("invalid").Inc()
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		s.logger.Error("read request body failed", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	if s.signingSecret != "" {
		if err := s.verify(r.Header, body); err != nil {
			s.metrics.WebhookRequests.WithLabelValues("unauthorized").Inc()
			s.logger.Warn("slack signature rejected", "remote_addr", r.RemoteAddr, "error", err)
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		s.metrics.WebhookRequests.WithLabelValues("invalid").Inc()
		s.logger.Error("decode slack payload failed", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	// The verification handshake must be answered in this response.
	if challenge, ok := payload["challenge"]; ok {
		s.metrics.WebhookRequests.WithLabelValues("challenge").Inc()
		s.logger.Info("answering url verification challenge")
		writeJSON(w, http.StatusOK, map[string]json.RawMessage{"challenge": challenge})
		return
	}

	if event, ok := payload["event"]; ok {
		s.metrics.WebhookRequests.WithLabelValues("event").Inc()
		if retry := r.Header.Get("X-Slack-Retry-Num"); retry != "" {
			s.logger.Debug("slack redelivery", "retry_num", retry, "retry_reason", r.Header.Get("X-Slack-Retry-Reason"))
		}
		s.dispatcher.Dispatch(event)
		w.WriteHeader(http.StatusOK)
		return
	}

	s.metrics.WebhookRequests.WithLabelValues("empty").Inc()
	if payloadType(payload) == string(slackevents.AppRateLimited) {
		s.logger.Warn("slack is rate limiting event delivery")
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) verify(header http.Header, body []byte) error {
	verifier, err := slack.NewSecretsVerifier(header, s.signingSecret)
	if err != nil {
		return err
	}
	if _, err := verifier.Write(body); err != nil {
		return err
	}
	return verifier.Ensure()
}

func payloadType(payload map[string]json.RawMessage) string {
	var t string
	if raw, ok := payload["type"]; ok {
		_ = json.Unmarshal(raw, &t)
	}
	return t
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
