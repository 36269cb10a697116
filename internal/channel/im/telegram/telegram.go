// Package telegram posts instant messages through a Telegram bot.
package telegram

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
)

const defaultTimeout = 10 * time.Second

// bot abstracts the telebot methods we use, enabling test mocks.
type bot interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Opts holds parameters for creating a Provider.
type Opts struct {
	Token   string
	Timeout time.Duration
	// For testing: inject a mock bot instead of the real Bot API.
	Bot bot
}

// Provider sends to Telegram chat IDs.
type Provider struct {
	bot bot
}

// New creates a Provider. The bot is built offline so no request is made
// until the first send.
func New(opts Opts) (*Provider, error) {
	if opts.Bot != nil {
		return &Provider{bot: opts.Bot}, nil
	}
	if strings.TrimSpace(opts.Token) == "" {
		return nil, fmt.Errorf("telegram: token is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   opts.Token,
		Offline: true,
		Client:  &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: new bot: %w", err)
	}
	return &Provider{bot: b}, nil
}

func (p *Provider) Name() string { return "telegram" }

// Send posts text to the chat whose numeric ID is handle.
func (p *Provider) Send(ctx context.Context, handle, text string) error {
	chatID, err := strconv.ParseInt(handle, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat id %q", handle)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := p.bot.Send(&tele.Chat{ID: chatID}, text); err != nil {
		return fmt.Errorf("telegram: send to %d: %w", chatID, err)
	}
	return nil
}
