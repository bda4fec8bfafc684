// Package state holds the persisted roast document and the pure consent,
// policy, cooldown and audit-log operations performed on it.
package state

import (
	"errors"
	"fmt"
	"strings"
)

// UserID identifies a chat participant.
type UserID int64

// GroupID identifies a chat group.
type GroupID int64

// MessageID identifies a chat message within a group.
type MessageID int64

// Tier is the severity classification of roast content.
type Tier string

// Supported tiers.
const (
	TierTame    Tier = "tame"
	TierSpicy   Tier = "spicy"
	TierNuclear Tier = "nuclear"
)

// VoiceMode is a named persona mapped to a synthesis provider voice.
type VoiceMode string

// Supported voice modes.
const (
	VoiceSilly  VoiceMode = "silly"
	VoiceRobot  VoiceMode = "robot"
	VoiceDeep   VoiceMode = "deep"
	VoiceSultry VoiceMode = "sultry"
)

// Defaults applied when a request or a group policy leaves a field unset.
const (
	DefaultTier      = TierTame
	DefaultVoiceMode = VoiceSilly
)

var (
	// ErrInvalidTier indicates a tier outside tame, spicy and nuclear.
	ErrInvalidTier = errors.New("invalid tier")
	// ErrInvalidVoiceMode indicates a voice mode outside silly, robot, deep and sultry.
	ErrInvalidVoiceMode = errors.New("invalid voice mode")
)

// Tiers lists every tier in severity order.
func Tiers() []Tier {
	return []Tier{TierTame, TierSpicy, TierNuclear}
}

// VoiceModes lists every voice mode.
func VoiceModes() []VoiceMode {
	return []VoiceMode{VoiceSilly, VoiceRobot, VoiceDeep, VoiceSultry}
}

// ParseTier converts raw input into a Tier. Empty input yields DefaultTier.
func ParseTier(raw string) (Tier, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value == "" {
		return DefaultTier, nil
	}

	for _, tier := range Tiers() {
		if string(tier) == value {
			return tier, nil
		}
	}

	return "", fmt.Errorf("%w: %q", ErrInvalidTier, raw)
}

// ParseVoiceMode converts raw input into a VoiceMode. Empty input yields an
// empty mode so callers can fall back to a group default.
func ParseVoiceMode(raw string) (VoiceMode, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value == "" {
		return "", nil
	}

	for _, mode := range VoiceModes() {
		if string(mode) == value {
			return mode, nil
		}
	}

	return "", fmt.Errorf("%w: %q", ErrInvalidVoiceMode, raw)
}

// Valid reports whether the mode is one of the supported voice modes.
func (m VoiceMode) Valid() bool {
	_, err := ParseVoiceMode(string(m))

	return err == nil && m != ""
}

// UserConsent is a user's opt-in flag.
type UserConsent struct {
	AllowRoasts bool `json:"allowRoasts"`
}

// GroupPolicy holds the per-group moderation settings. A zero value carries
// the documented defaults except DefaultVoiceMode, which is resolved by
// Document.GroupPolicy.
type GroupPolicy struct {
	SafeMode         bool      `json:"safeMode,omitempty"`
	NuclearOK        bool      `json:"nuclearOk,omitempty"`
	DefaultVoiceMode VoiceMode `json:"defaultVoiceMode,omitempty"`
}

// Cooldown records the last successful roast issued by a user, in unix milliseconds.
type Cooldown struct {
	LastRoastTime int64 `json:"lastRoastTime"`
}

// RoastEvent is one entry of the audit log.
type RoastEvent struct {
	Timestamp    int64   `json:"timestamp"`
	TargetUserID UserID  `json:"targetUserId"`
	IssuerUserID UserID  `json:"issuerUserId"`
	Tier         Tier    `json:"tier"`
	GroupID      GroupID `json:"groupId"`
}
