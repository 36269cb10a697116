// Package email delivers notifications over SMTP.
package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/zulandar/signalbox/internal/channel"
	"github.com/zulandar/signalbox/internal/config"
	"github.com/zulandar/signalbox/internal/models"
	"go.uber.org/zap"
)

// Name is the channel label used in logs and metrics.
const Name = "email"

// Footer is appended to every outgoing email body.
const Footer = "\nThis email was sent automatically, you don't need to reply to it.\n" +
	"To cancel receiving - visit cinema.online settings and turn off email notifications."

const defaultTimeout = 10 * time.Second

// Transport hands a composed RFC 5322 message to a mail server.
type Transport interface {
	Send(ctx context.Context, from string, to []string, msg []byte) error
}

// Options configures a Sender.
type Options struct {
	From      string
	Subject   string
	Transport Transport
	Logger    *zap.Logger
	Now       func() time.Time
}

// Sender is the email channel.
type Sender struct {
	from      string
	subject   string
	transport Transport
	logger    *zap.Logger
	now       func() time.Time
}

// New creates an email Sender.
func New(opts Options) (*Sender, error) {
	if opts.From == "" {
		return nil, fmt.Errorf("email: from address is required")
	}
	if opts.Transport == nil {
		return nil, fmt.Errorf("email: transport is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Sender{
		from:      opts.From,
		subject:   opts.Subject,
		transport: opts.Transport,
		logger:    opts.Logger.Named("email"),
		now:       opts.Now,
	}, nil
}

// NewFromConfig builds a Sender that talks SMTP to the configured server.
func NewFromConfig(smtpCfg config.SMTPConfig, subject string, logger *zap.Logger) (*Sender, error) {
	return New(Options{
		From:      smtpCfg.From,
		Subject:   subject,
		Transport: NewSMTPTransport(smtpCfg),
		Logger:    logger,
	})
}

func (s *Sender) Name() string { return Name }

// Send emails text to user when they accept email.
func (s *Sender) Send(ctx context.Context, user *models.User, text string) bool {
	if !user.AcceptsEmail || user.Email == "" {
		channel.Record(Name, channel.StatusSkipped)
		return false
	}
	return s.SendTo(ctx, user.Email, text)
}

// SendTo emails text to address without any opt-in check.
func (s *Sender) SendTo(ctx context.Context, address, text string) bool {
	msg, err := s.compose(address, text+Footer)
	if err != nil {
		s.logger.Error("Email compose failed", zap.String("to", address), zap.Error(err))
		channel.Record(Name, channel.StatusFailure)
		return false
	}

	start := time.Now()
	err = s.transport.Send(ctx, s.from, []string{address}, msg)
	channel.ObserveSince(Name, start)
	if err != nil {
		s.logger.Error("Email sending failed", zap.String("to", address), zap.Error(err))
		channel.Record(Name, channel.StatusFailure)
		return false
	}

	s.logger.Debug("Email sending success", zap.String("to", address))
	channel.Record(Name, channel.StatusSuccess)
	return true
}

func (s *Sender) compose(to, body string) ([]byte, error) {
	var h mail.Header
	h.SetDate(s.now())
	h.SetAddressList("From", []*mail.Address{{Address: s.from}})
	h.SetAddressList("To", []*mail.Address{{Address: to}})
	h.SetSubject(s.subject)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	if err := h.GenerateMessageID(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(w, body); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SMTPTransport delivers over SMTP, upgrading with STARTTLS when configured.
// Every connection is bounded by the configured timeout.
type SMTPTransport struct {
	addr     string
	host     string
	username string
	password string
	startTLS bool
	timeout  time.Duration
}

// NewSMTPTransport returns a transport for cfg.
func NewSMTPTransport(cfg config.SMTPConfig) *SMTPTransport {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &SMTPTransport{
		addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		host:     cfg.Host,
		username: cfg.Username,
		password: cfg.Password,
		startTLS: cfg.StartTLS,
		timeout:  timeout,
	}
}

// Send dials, optionally authenticates, and submits msg.
func (t *SMTPTransport) Send(ctx context.Context, from string, to []string, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	dialer := &net.Dialer{Timeout: t.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return fmt.Errorf("email: dial %s: %w", t.addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := t.client(conn)
	if err != nil {
		return err
	}
	defer c.Close()

	if t.username != "" {
		if err := c.Auth(sasl.NewPlainClient("", t.username, t.password)); err != nil {
			return fmt.Errorf("email: auth: %w", err)
		}
	}
	if err := c.SendMail(from, to, bytes.NewReader(msg)); err != nil {
		return fmt.Errorf("email: send: %w", err)
	}
	return c.Quit()
}

func (t *SMTPTransport) client(conn net.Conn) (*smtp.Client, error) {
	if !t.startTLS {
		return smtp.NewClient(conn), nil
	}
	c, err := smtp.NewClientStartTLS(conn, &tls.Config{ServerName: t.host})
	if err != nil {
		return nil, fmt.Errorf("email: starttls: %w", err)
	}
	return c, nil
}

var _ channel.Sender = (*Sender)(nil)
