package notify

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"testing"

	"github.com/brunobpinto/smart-trashcans/internal/config"
	"github.com/brunobpinto/smart-trashcans/log2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// botAPI answers every request with canned raw HTTP response and keeps
// what was sent.
type botAPI struct {
	mu     sync.Mutex
	status string
	body   string
	err    error

	urls  []string
	forms []url.Values
}

func (self *botAPI) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := req.Context().Err(); err != nil {
		return nil, err
	}
	b, _ := io.ReadAll(req.Body)
	form, _ := url.ParseQuery(string(b))
	self.mu.Lock()
	self.urls = append(self.urls, req.URL.String())
	self.forms = append(self.forms, form)
	self.mu.Unlock()
	if self.err != nil {
		return nil, self.err
	}
	status := self.status
	if status == "" {
		status = "200 OK"
	}
	raw := "HTTP/1.0 " + status + "\r\nContent-Type: application/json\r\n\r\n" + self.body
	return http.ReadResponse(bufio.NewReader(bytes.NewReader([]byte(raw))), req)
}

func TestTelegramSend(t *testing.T) {
	t.Parallel()

	cfg := config.Telegram{BotToken: "123:secret", ChatID: "-100", APIURL: "https://tg.example/"}
	cases := []struct {
		name   string
		cfg    config.Telegram
		api    botAPI
		expect string
		chat   string
	}{
		{name: "ok", cfg: cfg, api: botAPI{body: `{"ok":true,"result":{"message_id":7}}`}, chat: "-100"},
		{name: "channel-username",
			cfg:  config.Telegram{BotToken: "123:secret", ChatID: "@bins", APIURL: "https://tg.example"},
			api:  botAPI{body: `{"ok":true,"result":{"message_id":8}}`},
			chat: "@bins"},
		{name: "api-error", cfg: cfg,
			api:    botAPI{status: "400 Bad Request", body: `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`},
			expect: "telegram send code=400 err=Bad Request: chat not found", chat: "-100"},
		{name: "network-error-redacted", cfg: cfg,
			api:    botAPI{err: fmt.Errorf("dial tcp: refused")},
			expect: "telegram send code=0 err=Post \"https://tg.example/bot<token>/sendMessage\": dial tcp: refused", chat: "-100"},
		{name: "garbage-response", cfg: cfg,
			api:    botAPI{body: `<html>`},
			expect: "invalid character '<'", chat: "-100"},
		{name: "unconfigured", cfg: config.Telegram{APIURL: "https://tg.example"},
			expect: "telegram bot_token or chat_id not configured not valid"},
	}
	for i := range cases {
		c := &cases[i]
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			api := &c.api
			tg := NewTelegram(log2.NewTest(t, log2.LDebug), c.cfg, &http.Client{Transport: api})
			err := tg.Send(context.Background(), "<b>Kitchen &amp; Hall</b>")
			if c.expect == "" {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), c.expect)
				assert.NotContains(t, err.Error(), "secret")
			}
			if c.chat == "" {
				assert.Empty(t, api.urls)
				return
			}
			require.Len(t, api.urls, 1)
			assert.Equal(t, "https://tg.example/bot123:secret/sendMessage", api.urls[0])
			form := api.forms[0]
			assert.Equal(t, c.chat, form.Get("chat_id"))
			assert.Equal(t, "HTML", form.Get("parse_mode"))
			assert.Equal(t, "true", form.Get("disable_web_page_preview"))
			assert.Equal(t, "<b>Kitchen &amp; Hall</b>", form.Get("text"))
		})
	}
}

func TestTelegramSendCanceled(t *testing.T) {
	t.Parallel()
	cfg := config.Telegram{BotToken: "123:secret", ChatID: "-100", APIURL: "https://tg.example"}
	api := &botAPI{body: `{"ok":true,"result":{}}`}
	tg := NewTelegram(log2.NewTest(t, log2.LDebug), cfg, &http.Client{Transport: api})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := tg.Send(ctx, "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context canceled")
	assert.NotContains(t, err.Error(), "secret")
}
