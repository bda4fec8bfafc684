// Package core defines the collaborator contracts the roast workflow depends on.
package core

import (
	"context"

	"github.com/book-expert/voice-roaster/internal/state"
)

// ObjectStore is the worker's side of the audio handoff bucket. The worker only
// writes and discards objects; the chat bridge reads them out of process.
type ObjectStore interface {
	Upload(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// DocumentStore persists the roast document. Load returns a private snapshot;
// Update performs an atomic read-modify-write, discarding the write when fn fails.
type DocumentStore interface {
	Load(ctx context.Context) (*state.Document, error)
	Update(ctx context.Context, fn func(doc *state.Document) error) error
}

// ContentSource returns the candidate roast lines of a tier.
type ContentSource interface {
	LinesForTier(ctx context.Context, tier state.Tier) ([]string, error)
}

// Synthesizer turns a line into a playable voice payload.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, mode state.VoiceMode) ([]byte, error)
}

// Voice describes a provider voice.
type Voice struct {
	ID   string `json:"voiceId"`
	Name string `json:"name"`
}

// VoiceLister enumerates the voices offered by the synthesis provider.
type VoiceLister interface {
	ListVoices(ctx context.Context) ([]Voice, error)
}

// Delivery is a voice message addressed as a threaded reply in a group.
type Delivery struct {
	GroupID   state.GroupID
	ReplyTo   state.MessageID
	IssuerID  state.UserID
	TargetID  state.UserID
	Audio     []byte
	RequestID string
}

// Receipt confirms a delivered voice message.
type Receipt struct {
	MessageID state.MessageID
}

// Deliverer sends voice messages to the chat platform. A nil error means delivery is confirmed.
type Deliverer interface {
	Deliver(ctx context.Context, delivery Delivery) (Receipt, error)
}

// AdminChecker resolves whether a user holds admin capability in a group.
type AdminChecker interface {
	IsAdmin(ctx context.Context, group state.GroupID, user state.UserID) (bool, error)
}
