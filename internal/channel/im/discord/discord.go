// Package discord posts instant messages as Discord direct messages.
package discord

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial rate-limit backoff.
	baseBackoff = time.Second
	// maxBackoff caps the rate-limit backoff.
	maxBackoff = 30 * time.Second
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Opts holds parameters for creating a Provider.
type Opts struct {
	BotToken string
	Timeout  time.Duration
	// For testing: inject a mock session instead of the real Discord API.
	Session session
}

// Provider sends DMs to Discord user IDs over the REST API. No gateway
// connection is opened.
type Provider struct {
	sess        session
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

// New creates a Provider.
func New(opts Opts) (*Provider, error) {
	p := &Provider{baseBackoff: baseBackoff, maxBackoff: maxBackoff}
	if opts.Session != nil {
		p.sess = opts.Session
		return p, nil
	}
	if opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	s, err := discordgo.New("Bot " + opts.BotToken)
	if err != nil {
		return nil, fmt.Errorf("discord: new session: %w", err)
	}
	if opts.Timeout > 0 {
		s.Client = &http.Client{Timeout: opts.Timeout}
	}
	p.sess = s
	return p, nil
}

func (p *Provider) Name() string { return "discord" }

// Send opens (or reuses) the DM channel with the user whose ID is handle and
// posts text there.
func (p *Provider) Send(ctx context.Context, handle, text string) error {
	var dm *discordgo.Channel
	err := p.retryOnRateLimit(ctx, func() error {
		var err error
		dm, err = p.sess.UserChannelCreate(handle, discordgo.WithContext(ctx))
		return err
	})
	if err != nil {
		return fmt.Errorf("discord: open dm with %s: %w", handle, err)
	}

	err = p.retryOnRateLimit(ctx, func() error {
		_, err := p.sess.ChannelMessageSend(dm.ID, text, discordgo.WithContext(ctx))
		return err
	})
	if err != nil {
		return fmt.Errorf("discord: send message: %w", err)
	}
	return nil
}

// retryOnRateLimit calls fn and retries with exponential backoff on HTTP 429
// responses. It respects context cancellation.
func (p *Provider) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var restErr *discordgo.RESTError
		if !errors.As(err, &restErr) || restErr.Response == nil ||
			restErr.Response.StatusCode != http.StatusTooManyRequests || attempt == maxRetries {
			return err
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * p.baseBackoff
		if wait > p.maxBackoff {
			wait = p.maxBackoff
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
