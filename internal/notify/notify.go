// Package notify sends text messages to operators.
package notify

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/brunobpinto/smart-trashcans/helpers"
	"github.com/brunobpinto/smart-trashcans/internal/config"
	"github.com/brunobpinto/smart-trashcans/log2"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/juju/errors"
)

type Notifier interface {
	// Send text formatted as Telegram HTML subset.
	Send(ctx context.Context, text string) error
}

// Telegram sends messages with Bot API sendMessage, no update polling.
type Telegram struct {
	log    *log2.Log
	cfg    config.Telegram
	client *http.Client
}

// NewTelegram uses client if not nil.
func NewTelegram(log *log2.Log, cfg config.Telegram, client *http.Client) *Telegram {
	if client == nil {
		client = &http.Client{Timeout: helpers.IntSecondDefault(cfg.TimeoutSec, 30*time.Second)}
	}
	return &Telegram{log: log, cfg: cfg, client: client}
}

func (self *Telegram) Enabled() bool { return self.cfg.Enabled() }

// bot is built per call so each request carries its own context.
// Struct literal skips getMe round trip of tgbotapi.NewBotAPIWithClient.
func (self *Telegram) bot(ctx context.Context) *tgbotapi.BotAPI {
	b := &tgbotapi.BotAPI{
		Token:  self.cfg.BotToken,
		Client: ctxClient{ctx: ctx, c: self.client},
	}
	b.SetAPIEndpoint(strings.TrimRight(self.cfg.APIURL, "/") + "/bot%s/%s")
	return b
}

func (self *Telegram) message(text string) tgbotapi.MessageConfig {
	m := tgbotapi.MessageConfig{
		Text:                  text,
		ParseMode:             tgbotapi.ModeHTML,
		DisableWebPagePreview: true,
	}
	if id, err := strconv.ParseInt(self.cfg.ChatID, 10, 64); err == nil && id != 0 {
		m.ChatID = id
	} else {
		// @channelname
		m.ChannelUsername = self.cfg.ChatID
	}
	return m
}

func (self *Telegram) Send(ctx context.Context, text string) error {
	if !self.Enabled() {
		return errors.NotValidf("telegram bot_token or chat_id not configured")
	}
	_, err := self.bot(ctx).Send(self.message(text))
	if err != nil {
		var code int
		if apiErr, ok := err.(*tgbotapi.Error); ok {
			code = apiErr.Code
		}
		// transport errors include request url with token
		return errors.Errorf("telegram send code=%d err=%s", code, redact(err.Error(), self.cfg.BotToken))
	}
	self.log.Debugf("telegram sent chat=%s len=%d", self.cfg.ChatID, len(text))
	return nil
}

type ctxClient struct {
	ctx context.Context
	c   *http.Client
}

func (self ctxClient) Do(req *http.Request) (*http.Response, error) {
	return self.c.Do(req.WithContext(self.ctx))
}

func redact(s, secret string) string {
	if secret == "" {
		return s
	}
	return strings.ReplaceAll(s, secret, "<token>")
}
