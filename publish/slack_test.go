package publish

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSlackAPI struct {
	mu    sync.Mutex
	forms []url.Values
	reply string
}

func (f *fakeSlackAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	f.mu.Lock()
	f.forms = append(f.forms, r.PostForm)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/auth.test":
		_, _ = w.Write([]byte(`{"ok":true,"user_id":"UBOT","team_id":"T1"}`))
	default:
		_, _ = w.Write([]byte(f.reply))
	}
}

func newTestSlack(t *testing.T, reply string) (*Slack, *fakeSlackAPI) {
	t.Helper()
	api := &fakeSlackAPI{reply: reply}
	server := httptest.NewServer(api)
	t.Cleanup(server.Close)

	s, err := NewSlack("xoxb-test", slack.OptionAPIURL(server.URL+"/"))
	require.NoError(t, err)
	return s, api
}

func TestSlackPost(t *testing.T) {
	s, api := newTestSlack(t, `{"ok":true,"channel":"D123","ts":"1700000000.000100"}`)

	err := s.Post(context.Background(), OutboundMessage{
		Channel:         "D123",
		Text:            "this is *bold* text",
		MarkdownEnabled: true,
	})
	require.NoError(t, err)

	require.Len(t, api.forms, 1)
	form := api.forms[0]
	assert.Equal(t, "D123", form.Get("channel"))
	assert.Equal(t, "this is *bold* text", form.Get("text"))
	assert.NotEqual(t, "false", form.Get("mrkdwn"))
}

func TestSlackPostWithoutMarkdown(t *testing.T) {
	s, api := newTestSlack(t, `{"ok":true}`)

	require.NoError(t, s.Post(context.Background(), OutboundMessage{Channel: "C1", Text: "plain"}))
	assert.Equal(t, "false", api.forms[0].Get("mrkdwn"))
}

func TestSlackPostPlatformError(t *testing.T) {
	s, _ := newTestSlack(t, `{"ok":false,"error":"channel_not_found"}`)

	err := s.Post(context.Background(), OutboundMessage{Channel: "C404", Text: "hi", MarkdownEnabled: true})
	require.Error(t, err)

	var platformErr *PlatformError
	require.True(t, errors.As(err, &platformErr))
	assert.Equal(t, "channel_not_found", platformErr.Code)
	assert.Equal(t, "channel_not_found", ErrorCode(err))
}

func TestSlackBotUserID(t *testing.T) {
	s, _ := newTestSlack(t, `{"ok":true}`)

	userID, err := s.BotUserID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "UBOT", userID)
}

func TestErrorCodeOfForeignError(t *testing.T) {
	assert.Empty(t, ErrorCode(errors.New("dial tcp: refused")))
	assert.Empty(t, ErrorCode(nil))
}

func TestNewSlackRequiresToken(t *testing.T) {
	_, err := NewSlack("")
	assert.Error(t, err)
}
