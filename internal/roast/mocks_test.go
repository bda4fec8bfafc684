package roast_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-roaster/internal/core"
	"github.com/book-expert/voice-roaster/internal/profanity"
	"github.com/book-expert/voice-roaster/internal/roast"
	"github.com/book-expert/voice-roaster/internal/state"
	"github.com/stretchr/testify/require"
)

var (
	errMockStorage   = errors.New("mock storage error")
	errMockSynthesis = errors.New("mock synthesis error")
	errMockDelivery  = errors.New("mock delivery error")
	errMockAdmin     = errors.New("mock admin lookup error")
	errMockVoices    = errors.New("mock voices error")
	errMockContent   = errors.New("mock content error")
)

const (
	testIssuer  state.UserID    = 1001
	testTarget  state.UserID    = 2002
	testAdmin   state.UserID    = 3003
	testGroup   state.GroupID   = -100500
	testReplyTo state.MessageID = 77
)

// memoryStore is an in-memory core.DocumentStore with failure injection.
type memoryStore struct {
	mu             sync.Mutex
	doc            *state.Document
	loadShouldFail bool
	updateFailures int
	updates        int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{doc: state.NewDocument()}
}

func (m *memoryStore) Load(_ context.Context) (*state.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.loadShouldFail {
		return nil, errMockStorage
	}

	return m.doc.Clone(), nil
}

func (m *memoryStore) Update(_ context.Context, fn func(doc *state.Document) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.updateFailures != 0 {
		if m.updateFailures > 0 {
			m.updateFailures--
		}

		return errMockStorage
	}

	working := m.doc.Clone()

	err := fn(working)
	if err != nil {
		return err
	}

	m.doc = working
	m.updates++

	return nil
}

func (m *memoryStore) snapshot() *state.Document {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.doc.Clone()
}

// mockContent is a mock implementation of core.ContentSource.
type mockContent struct {
	lines      map[state.Tier][]string
	shouldFail bool
	calls      int
}

func (m *mockContent) LinesForTier(_ context.Context, tier state.Tier) ([]string, error) {
	m.calls++

	if m.shouldFail {
		return nil, errMockContent
	}

	return m.lines[tier], nil
}

// mockSynthesizer is a mock implementation of core.Synthesizer.
type mockSynthesizer struct {
	mu         sync.Mutex
	shouldFail bool
	calls      int
	lastText   string
	lastMode   state.VoiceMode
}

func (m *mockSynthesizer) Synthesize(_ context.Context, text string, mode state.VoiceMode) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	m.lastText = text
	m.lastMode = mode

	if m.shouldFail {
		return nil, errMockSynthesis
	}

	return []byte("ogg:" + text), nil
}

// mockDeliverer is a mock implementation of core.Deliverer.
type mockDeliverer struct {
	mu         sync.Mutex
	shouldFail bool
	calls      int
	last       core.Delivery
	nextID     state.MessageID
}

func (m *mockDeliverer) Deliver(_ context.Context, delivery core.Delivery) (core.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	m.last = delivery

	if m.shouldFail {
		return core.Receipt{MessageID: 0}, errMockDelivery
	}

	m.nextID++

	return core.Receipt{MessageID: 900 + m.nextID}, nil
}

// mockAdmins is a mock implementation of core.AdminChecker.
type mockAdmins struct {
	admins     map[state.UserID]bool
	shouldFail bool
}

func (m *mockAdmins) IsAdmin(_ context.Context, _ state.GroupID, user state.UserID) (bool, error) {
	if m.shouldFail {
		return false, errMockAdmin
	}

	return m.admins[user], nil
}

// mockVoices is a mock implementation of core.VoiceLister.
type mockVoices struct {
	shouldFail bool
}

func (m *mockVoices) ListVoices(_ context.Context) ([]core.Voice, error) {
	if m.shouldFail {
		return nil, errMockVoices
	}

	return []core.Voice{{ID: "21m00Tcm4TlvDq8ikWAM", Name: "Rachel"}}, nil
}

// countingPicker records how often content was drawn.
type countingPicker struct {
	mu    sync.Mutex
	calls int
}

func (p *countingPicker) pick(_ int) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls++

	return 0
}

// fakeClock is a settable clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

type harness struct {
	service     *roast.Service
	store       *memoryStore
	content     *mockContent
	synthesizer *mockSynthesizer
	deliverer   *mockDeliverer
	admins      *mockAdmins
	voices      *mockVoices
	picker      *countingPicker
	clock       *fakeClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	testLogger, err := logger.New(t.TempDir(), "roast-test.log")
	require.NoError(t, err)

	h := &harness{
		service: nil,
		store:   newMemoryStore(),
		content: &mockContent{
			lines: map[state.Tier][]string{
				state.TierTame:    {"Your code compiles on the first try, which is suspicious."},
				state.TierSpicy:   {"You are the reason the linter has trust issues."},
				state.TierNuclear: {"Even your rubber duck asked for a transfer."},
			},
			shouldFail: false,
			calls:      0,
		},
		synthesizer: &mockSynthesizer{},
		deliverer:   &mockDeliverer{},
		admins:      &mockAdmins{admins: map[state.UserID]bool{testAdmin: true}, shouldFail: false},
		voices:      &mockVoices{shouldFail: false},
		picker:      &countingPicker{},
		clock:       &fakeClock{now: time.UnixMilli(1_700_000_000_000)},
	}

	service, err := roast.NewService(roast.Dependencies{
		Store:       h.store,
		Content:     h.content,
		Filter:      profanity.NewDefaultFilter(),
		Synthesizer: h.synthesizer,
		Deliverer:   h.deliverer,
		Admins:      h.admins,
		Voices:      h.voices,
	}, roast.Config{
		RateLimit:     5 * time.Minute,
		LogRetention:  state.DefaultLogRetention,
		CommitTimeout: 500 * time.Millisecond,
		Clock:         h.clock.Now,
		Picker:        h.picker.pick,
	}, testLogger)
	require.NoError(t, err)

	h.service = service

	return h
}

// consent opts the target in directly in the store.
func (h *harness) consent(user state.UserID) {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()

	h.store.doc.SetConsent(user, true)
}

func (h *harness) editDocument(fn func(doc *state.Document)) {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()

	fn(h.store.doc)
}

func roastRequest(tier, mode string) roast.Request {
	return roast.Request{
		RequestID: "req-1",
		Issuer:    testIssuer,
		Target:    testTarget,
		Group:     testGroup,
		ReplyTo:   testReplyTo,
		Tier:      tier,
		Mode:      mode,
	}
}
