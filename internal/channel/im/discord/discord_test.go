package discord

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
)

// --- Mock session ---

type mockSession struct {
	mu        sync.Mutex
	dmErr     error
	sendErrs  []error
	sends     int
	dmFor     []string
	delivered map[string]string
}

func newMockSession() *mockSession {
	return &mockSession{delivered: map[string]string{}}
}

func (m *mockSession) UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dmErr != nil {
		return nil, m.dmErr
	}
	m.dmFor = append(m.dmFor, recipientID)
	return &discordgo.Channel{ID: "dm-" + recipientID, Type: discordgo.ChannelTypeDM}, nil
}

func (m *mockSession) ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sends++
	if len(m.sendErrs) > 0 {
		err := m.sendErrs[0]
		m.sendErrs = m.sendErrs[1:]
		return nil, err
	}
	m.delivered[channelID] = content
	return &discordgo.Message{ID: "m1", ChannelID: channelID, Content: content}, nil
}

func rateLimited() error {
	return &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusTooManyRequests}}
}

func newTestProvider(sess session) *Provider {
	p, _ := New(Opts{Session: sess})
	p.baseBackoff = time.Millisecond
	p.maxBackoff = 5 * time.Millisecond
	return p
}

func TestNew_RequiresToken(t *testing.T) {
	if _, err := New(Opts{}); err == nil {
		t.Fatal("expected error for missing token")
	}
}

func TestNew_RealSession(t *testing.T) {
	p, err := New(Opts{BotToken: "abc", Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name() != "discord" {
		t.Errorf("Name() = %q", p.Name())
	}
}

func TestSend_OpensDMAndPosts(t *testing.T) {
	m := newMockSession()
	p := newTestProvider(m)

	if err := p.Send(context.Background(), "user-1", "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(m.dmFor) != 1 || m.dmFor[0] != "user-1" {
		t.Errorf("dmFor = %v", m.dmFor)
	}
	if m.delivered["dm-user-1"] != "hello" {
		t.Errorf("delivered = %v", m.delivered)
	}
}

func TestSend_DMError(t *testing.T) {
	m := newMockSession()
	m.dmErr = errors.New("Unknown User")
	p := newTestProvider(m)

	err := p.Send(context.Background(), "user-1", "hello")
	if err == nil {
		t.Fatal("expected error")
	}
	if m.sends != 0 {
		t.Errorf("sends = %d, want 0", m.sends)
	}
}

func TestSend_RetriesOn429(t *testing.T) {
	m := newMockSession()
	m.sendErrs = []error{rateLimited(), rateLimited()}
	p := newTestProvider(m)

	if err := p.Send(context.Background(), "user-1", "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if m.sends != 3 {
		t.Errorf("sends = %d, want 3", m.sends)
	}
}

func TestSend_GivesUpAfterMaxRetries(t *testing.T) {
	m := newMockSession()
	for i := 0; i <= maxRetries; i++ {
		m.sendErrs = append(m.sendErrs, rateLimited())
	}
	p := newTestProvider(m)

	if err := p.Send(context.Background(), "user-1", "hello"); err == nil {
		t.Fatal("expected error after retries exhausted")
	}
	if m.sends != maxRetries+1 {
		t.Errorf("sends = %d, want %d", m.sends, maxRetries+1)
	}
}

func TestSend_ServerErrorNotRetried(t *testing.T) {
	m := newMockSession()
	m.sendErrs = []error{&discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusForbidden}}}
	p := newTestProvider(m)

	if err := p.Send(context.Background(), "user-1", "hello"); err == nil {
		t.Fatal("expected error")
	}
	if m.sends != 1 {
		t.Errorf("sends = %d, want 1", m.sends)
	}
}
