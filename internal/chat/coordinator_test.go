package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botfleet/techbot/internal/config"
	"github.com/botfleet/techbot/internal/database"
	"github.com/botfleet/techbot/internal/quota"
)

// fakeStore is an in-memory Store with the same contract as the SQLite
// implementation: idempotent upserts and ErrUserNotFound for events that
// reference an unknown user.
type fakeStore struct {
	mu     sync.Mutex
	users  map[int64]*database.User
	events []database.ChatEvent
	nextID uint
}

func newFakeStore() *fakeStore {
	return &fakeStore{users: make(map[int64]*database.User)}
}

func (s *fakeStore) Ping(context.Context) error { return nil }

func (s *fakeStore) GetUser(_ context.Context, telegramID int64) (*database.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[telegramID]
	if !ok {
		return nil, nil
	}
	copied := *user
	return &copied, nil
}

func (s *fakeStore) UpsertUser(_ context.Context, telegramID int64, username string) (*database.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user, ok := s.users[telegramID]; ok {
		copied := *user
		return &copied, nil
	}
	s.nextID++
	user := &database.User{ID: s.nextID, TelegramID: telegramID, Username: username}
	s.users[telegramID] = user
	copied := *user
	return &copied, nil
}

func (s *fakeStore) RecordEvent(_ context.Context, chatID, telegramID int64, timestamp time.Time, payload string) (*database.ChatEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[telegramID]; !ok {
		return nil, fmt.Errorf("record event for user %d: %w", telegramID, database.ErrUserNotFound)
	}
	s.nextID++
	event := database.ChatEvent{
		ID:             s.nextID,
		ChatID:         chatID,
		UserTelegramID: telegramID,
		Timestamp:      timestamp,
		Payload:        payload,
	}
	s.events = append(s.events, event)
	return &event, nil
}

func (s *fakeStore) CountEventsSince(_ context.Context, telegramID int64, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, event := range s.events {
		if event.UserTelegramID == telegramID && !event.Timestamp.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *fakeStore) UpdateLastActivity(_ context.Context, telegramID int64, timestamp time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[telegramID]
	if !ok {
		return fmt.Errorf("update last activity for user %d: %w", telegramID, database.ErrUserNotFound)
	}
	user.LastMessageAt.Time = timestamp
	user.LastMessageAt.Valid = true
	return nil
}

func (s *fakeStore) PruneEventsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.events[:0]
	var pruned int64
	for _, event := range s.events {
		if event.Timestamp.Before(cutoff) {
			pruned++
			continue
		}
		kept = append(kept, event)
	}
	s.events = kept
	return pruned, nil
}

func (s *fakeStore) RunSQLMaintenance(context.Context) error { return nil }

func (s *fakeStore) eventCount(telegramID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, event := range s.events {
		if event.UserTelegramID == telegramID {
			count++
		}
	}
	return count
}

// fakeGenerator records every prompt it receives and returns a fixed reply
// or error.
type fakeGenerator struct {
	mu      sync.Mutex
	prompts []string
	calls   atomic.Int64
	reply   string
	err     error
}

func (g *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.calls.Add(1)
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	return g.reply, nil
}

func testConfig(maxMessages int) *config.Config {
	return &config.Config{
		Gemini: config.GeminiConfig{Timeout: 30 * time.Second},
		Quota:  config.QuotaConfig{MaxMessagesPerDay: maxMessages, Window: 24 * time.Hour},
		Persona: config.PersonaConfig{
			Description:   "You are a helpful and friendly assistant specializing in technology and coding.",
			AllowedTopics: []string{"technology", "coding"},
		},
		Messages: config.MessagesConfig{
			Welcome:       "Welcome! I'm your AI assistant. How can I help you today?",
			Help:          "Send me a message and I'll answer.",
			QuotaExceeded: "Sorry, you have exceeded the daily message limit.",
			GeneralError:  "Sorry, I encountered an error while processing your request.",
		},
	}
}

func newTestCoordinator(cfg *config.Config, store database.Store, gen Generator) *Coordinator {
	tracker := quota.NewTracker(store, cfg.Quota.MaxMessagesPerDay, cfg.Quota.Window, nil)
	return NewCoordinator(nil, cfg, store, tracker, gen)
}

func TestHandleAllowsUntilQuotaExhausted(t *testing.T) {
	t.Parallel()

	cfg := testConfig(3)
	store := newFakeStore()
	gen := &fakeGenerator{reply: "sure, here is how"}
	c := newTestCoordinator(cfg, store, gen)

	msg := InboundMessage{UserID: 42, Username: "alice", ChatID: 100, Text: "how do goroutines work?"}

	for i := 0; i < 3; i++ {
		reply := c.Handle(context.Background(), msg)
		require.Equal(t, "sure, here is how", reply.Text, "message %d should be answered", i+1)
	}
	require.EqualValues(t, 3, gen.calls.Load())
	require.Equal(t, 3, store.eventCount(42))

	// The message over the limit gets the fixed quota reply, no backend
	// call, and no new event.
	reply := c.Handle(context.Background(), msg)
	assert.Equal(t, cfg.Messages.QuotaExceeded, reply.Text)
	assert.EqualValues(t, 3, gen.calls.Load())
	assert.Equal(t, 3, store.eventCount(42))
}

func TestHandleReadmitsAfterWindowRolls(t *testing.T) {
	t.Parallel()

	cfg := testConfig(2)
	store := newFakeStore()
	gen := &fakeGenerator{reply: "answer"}
	c := newTestCoordinator(cfg, store, gen)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }

	msg := InboundMessage{UserID: 42, Username: "alice", ChatID: 100, Text: "hi"}
	for i := 0; i < 2; i++ {
		require.Equal(t, "answer", c.Handle(context.Background(), msg).Text)
	}
	require.Equal(t, cfg.Messages.QuotaExceeded, c.Handle(context.Background(), msg).Text)

	c.now = func() time.Time { return base.Add(cfg.Quota.Window).Add(time.Minute) }
	assert.Equal(t, "answer", c.Handle(context.Background(), msg).Text,
		"user should be admitted again once old events leave the window")
}

func TestHandleBackendFailureKeepsEventRecorded(t *testing.T) {
	t.Parallel()

	cfg := testConfig(50)
	store := newFakeStore()
	gen := &fakeGenerator{err: errors.New("upstream timeout")}
	c := newTestCoordinator(cfg, store, gen)

	reply := c.Handle(context.Background(), InboundMessage{UserID: 42, Username: "alice", ChatID: 100, Text: "hi"})

	assert.Equal(t, cfg.Messages.GeneralError, reply.Text)
	assert.Equal(t, 1, store.eventCount(42), "the inbound message counts against quota even when generation fails")
}

func TestHandleGreetingBypassesQuota(t *testing.T) {
	t.Parallel()

	cfg := testConfig(1)
	store := newFakeStore()
	gen := &fakeGenerator{reply: "answer"}
	c := newTestCoordinator(cfg, store, gen)

	msg := InboundMessage{UserID: 42, Username: "alice", ChatID: 100, Text: "hi"}
	require.Equal(t, "answer", c.Handle(context.Background(), msg).Text)
	require.Equal(t, cfg.Messages.QuotaExceeded, c.Handle(context.Background(), msg).Text)

	greeting := msg
	greeting.IsGreeting = true
	greeting.Text = "/start"

	reply := c.Handle(context.Background(), greeting)
	assert.Equal(t, cfg.Messages.Welcome, reply.Text, "greeting replies even with the quota exhausted")
	assert.EqualValues(t, 1, gen.calls.Load(), "greetings never reach the generation backend")
	assert.Equal(t, 2, store.eventCount(42), "the greeting itself is recorded")

	user, err := store.GetUser(context.Background(), 42)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.True(t, user.LastMessageAt.Valid)
}

func TestHandlePromptCarriesPersonaAndMessage(t *testing.T) {
	t.Parallel()

	cfg := testConfig(50)
	store := newFakeStore()
	gen := &fakeGenerator{reply: "answer"}
	c := newTestCoordinator(cfg, store, gen)

	c.Handle(context.Background(), InboundMessage{UserID: 42, Username: "alice", ChatID: 100, Text: "what is a channel?"})

	gen.mu.Lock()
	defer gen.mu.Unlock()
	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], cfg.Persona.Description)
	assert.Contains(t, gen.prompts[0], "technology")
	assert.Contains(t, gen.prompts[0], "what is a channel?")
}

func TestHandleConcurrentUsersAreIndependent(t *testing.T) {
	t.Parallel()

	cfg := testConfig(1)
	store := newFakeStore()
	gen := &fakeGenerator{reply: "answer"}
	c := newTestCoordinator(cfg, store, gen)

	var wg sync.WaitGroup
	replies := make([]string, 2)
	for i, userID := range []int64{1, 2} {
		wg.Add(1)
		go func(i int, userID int64) {
			defer wg.Done()
			reply := c.Handle(context.Background(), InboundMessage{
				UserID: userID, Username: "user", ChatID: userID * 10, Text: "hi",
			})
			replies[i] = reply.Text
		}(i, userID)
	}
	wg.Wait()

	// One user's quota state never affects the other's.
	assert.Equal(t, "answer", replies[0])
	assert.Equal(t, "answer", replies[1])
	assert.Equal(t, 1, store.eventCount(1))
	assert.Equal(t, 1, store.eventCount(2))
}

func TestHandleQuotaHoldsUnderConcurrency(t *testing.T) {
	t.Parallel()

	const maxMessages = 5
	const attempts = 20

	cfg := testConfig(maxMessages)
	store := newFakeStore()
	gen := &fakeGenerator{reply: "answer"}
	c := newTestCoordinator(cfg, store, gen)

	var wg sync.WaitGroup
	var allowed, denied atomic.Int64
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reply := c.Handle(context.Background(), InboundMessage{
				UserID: 42, Username: "alice", ChatID: 100, Text: "hi",
			})
			switch reply.Text {
			case "answer":
				allowed.Add(1)
			case cfg.Messages.QuotaExceeded:
				denied.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, maxMessages, allowed.Load(), "exactly the quota is admitted")
	assert.EqualValues(t, attempts-maxMessages, denied.Load())
	assert.Equal(t, maxMessages, store.eventCount(42), "one event per admitted message")
	assert.EqualValues(t, maxMessages, gen.calls.Load())
}
