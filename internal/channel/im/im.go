// Package im delivers notifications through an instant-messaging bot. The
// concrete network is a Provider chosen by configuration.
package im

import (
	"context"
	"fmt"
	"time"

	"github.com/zulandar/signalbox/internal/channel"
	"github.com/zulandar/signalbox/internal/channel/im/discord"
	"github.com/zulandar/signalbox/internal/channel/im/slack"
	"github.com/zulandar/signalbox/internal/channel/im/telegram"
	"github.com/zulandar/signalbox/internal/config"
	"github.com/zulandar/signalbox/internal/models"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Name is the channel label used in logs and metrics.
const Name = "im"

// Suffix is appended to every instant message.
const Suffix = "\nMore information at cinema.online."

// Provider posts text to a handle on one IM network. Any non-nil error,
// including a rejected API response, counts as a failed delivery.
type Provider interface {
	Name() string
	Send(ctx context.Context, handle, text string) error
}

// Options configures a Sender.
type Options struct {
	Provider   Provider
	RatePerSec int
	Timeout    time.Duration
	Logger     *zap.Logger
}

// Sender is the instant-message channel.
type Sender struct {
	provider Provider
	limiter  *rate.Limiter
	timeout  time.Duration
	logger   *zap.Logger
}

// New creates a Sender. RatePerSec <= 0 disables rate limiting.
func New(opts Options) (*Sender, error) {
	if opts.Provider == nil {
		return nil, fmt.Errorf("im: provider is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.RatePerSec)
	}
	return &Sender{
		provider: opts.Provider,
		limiter:  limiter,
		timeout:  opts.Timeout,
		logger:   opts.Logger.Named("im").With(zap.String("provider", opts.Provider.Name())),
	}, nil
}

// NewFromConfig builds the channel for cfg. An empty provider yields a
// sender that skips every user.
func NewFromConfig(cfg config.IMConfig, logger *zap.Logger) (channel.Sender, error) {
	var (
		p   Provider
		err error
	)
	switch cfg.Provider {
	case "":
		return channel.Nop{Channel: Name}, nil
	case "telegram":
		p, err = telegram.New(telegram.Opts{Token: cfg.Token, Timeout: cfg.Timeout})
	case "slack":
		p, err = slack.New(slack.Opts{BotToken: cfg.Token})
	case "discord":
		p, err = discord.New(discord.Opts{BotToken: cfg.Token, Timeout: cfg.Timeout})
	default:
		return nil, fmt.Errorf("im: unknown provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return New(Options{Provider: p, RatePerSec: cfg.RatePerSec, Timeout: cfg.Timeout, Logger: logger})
}

func (s *Sender) Name() string { return Name }

// Send posts text to the user's IM handle when they accept instant messages.
func (s *Sender) Send(ctx context.Context, user *models.User, text string) bool {
	if !user.AcceptsInstantMessage || user.IMHandle == "" {
		channel.Record(Name, channel.StatusSkipped)
		return false
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if err := s.limiter.Wait(ctx); err != nil {
		s.logger.Warn("IM rate limit wait aborted", zap.String("user", user.UUID), zap.Error(err))
		channel.Record(Name, channel.StatusFailure)
		return false
	}

	start := time.Now()
	err := s.provider.Send(ctx, user.IMHandle, text+Suffix)
	channel.ObserveSince(Name, start)
	if err != nil {
		s.logger.Error("IM sending failed", zap.String("user", user.UUID), zap.Error(err))
		channel.Record(Name, channel.StatusFailure)
		return false
	}

	s.logger.Debug("IM sending success", zap.String("user", user.UUID))
	channel.Record(Name, channel.StatusSuccess)
	return true
}

var _ channel.Sender = (*Sender)(nil)
