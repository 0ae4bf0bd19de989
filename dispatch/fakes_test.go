package dispatch

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"gemini-slack-bot/dedup"
	"gemini-slack-bot/metrics"
	"gemini-slack-bot/models"
)

type fakeCompleter struct {
	mu      sync.Mutex
	prompts []string
	reply   string
	err     error
	delay   time.Duration
	panicOn string
	started chan struct{}
	release chan struct{}
}

func (f *fakeCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()

	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.panicOn != "" && prompt == f.panicOn {
		panic("completer exploded")
	}
	return f.reply, f.err
}

func (f *fakeCompleter) Prompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

type fakePoster struct {
	mu       sync.Mutex
	messages []models.OutboundMessage
	err      error
}

func (f *fakePoster) Post(_ context.Context, msg models.OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	return f.err
}

func (f *fakePoster) Messages() []models.OutboundMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.OutboundMessage(nil), f.messages...)
}

type failingStore struct{ err error }

func (s failingStore) SeenOrRecord(context.Context, string) (bool, error) {
	return false, s.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type relayFixture struct {
	relay     *Relay
	completer *fakeCompleter
	poster    *fakePoster
	metrics   *metrics.Metrics
}

func newRelayFixture(opts RelayOptions) relayFixture {
	completer, _ := opts.Completer.(*fakeCompleter)
	if completer == nil {
		completer = &fakeCompleter{reply: "this is **bold** text"}
		opts.Completer = completer
	}
	poster, _ := opts.Poster.(*fakePoster)
	if poster == nil {
		poster = &fakePoster{}
		opts.Poster = poster
	}
	if opts.Dedup == nil {
		opts.Dedup = dedup.NewMemoryStore(time.Hour, 100)
	}
	if opts.BotUserID == "" {
		opts.BotUserID = "UBOT"
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	opts.Logger = discardLogger()

	relay, err := NewRelay(opts)
	if err != nil {
		panic(err)
	}
	return relayFixture{relay: relay, completer: completer, poster: poster, metrics: opts.Metrics}
}
