// Package roast implements the consent-gated voice roast workflow and the
// consent and group policy operations around it.
package roast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-roaster/internal/content"
	"github.com/book-expert/voice-roaster/internal/core"
	"github.com/book-expert/voice-roaster/internal/state"
	"github.com/cenkalti/backoff/v4"
)

const (
	// DefaultRateLimit is the minimum time between an issuer's successful roasts.
	DefaultRateLimit = 5 * time.Minute
	// DefaultCommitTimeout bounds the retried write that records a delivered roast.
	DefaultCommitTimeout = 10 * time.Second
	// RecentRoastsLimit is the number of events returned by RecentRoasts.
	RecentRoastsLimit = 10

	commitInitialInterval = 50 * time.Millisecond
	commitMaxInterval     = 2 * time.Second
)

// ErrMissingDependency is returned by NewService when a collaborator is nil.
var ErrMissingDependency = errors.New("missing service dependency")

// LanguageFilter classifies a line as containing disallowed language.
type LanguageFilter interface {
	ContainsDisallowedLanguage(text string) bool
}

// Dependencies are the collaborators of the Service.
type Dependencies struct {
	Store       core.DocumentStore
	Content     core.ContentSource
	Filter      LanguageFilter
	Synthesizer core.Synthesizer
	Deliverer   core.Deliverer
	Admins      core.AdminChecker
	Voices      core.VoiceLister
}

// Config tunes the Service. Zero values take the package defaults.
type Config struct {
	RateLimit     time.Duration
	LogRetention  int
	CommitTimeout time.Duration
	Clock         func() time.Time
	Picker        content.Picker
}

func (c Config) withDefaults() Config {
	if c.RateLimit <= 0 {
		c.RateLimit = DefaultRateLimit
	}

	if c.LogRetention <= 0 {
		c.LogRetention = state.DefaultLogRetention
	}

	if c.CommitTimeout <= 0 {
		c.CommitTimeout = DefaultCommitTimeout
	}

	if c.Clock == nil {
		c.Clock = time.Now
	}

	if c.Picker == nil {
		c.Picker = content.RandomPicker
	}

	return c
}

// Service runs roast workflows and the admin operations of a group.
type Service struct {
	store     core.DocumentStore
	content   core.ContentSource
	filter    LanguageFilter
	synth     core.Synthesizer
	deliverer core.Deliverer
	admins    core.AdminChecker
	voices    core.VoiceLister
	config    Config
	log       *logger.Logger
}

// NewService creates a Service. Every dependency is required.
func NewService(deps Dependencies, cfg Config, log *logger.Logger) (*Service, error) {
	required := map[string]any{
		"store":       deps.Store,
		"content":     deps.Content,
		"filter":      deps.Filter,
		"synthesizer": deps.Synthesizer,
		"deliverer":   deps.Deliverer,
		"admins":      deps.Admins,
		"voices":      deps.Voices,
	}

	for name, dep := range required {
		if dep == nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingDependency, name)
		}
	}

	return &Service{
		store:     deps.Store,
		content:   deps.Content,
		filter:    deps.Filter,
		synth:     deps.Synthesizer,
		deliverer: deps.Deliverer,
		admins:    deps.Admins,
		voices:    deps.Voices,
		config:    cfg.withDefaults(),
		log:       log,
	}, nil
}

// Roast runs one roast workflow. Every gate is evaluated before synthesis and
// the issuer's cooldown and the audit log change only after confirmed delivery.
// Refusals are *AbortError; a delivered roast that could not be recorded is
// *CommitError.
func (s *Service) Roast(ctx context.Context, req Request) (Outcome, error) {
	r := &run{
		request:  req,
		cmd:      command{},
		started:  s.config.Clock(),
		snapshot: nil,
		policy:   state.GroupPolicy{},
		line:     "",
		payload:  nil,
		receipt:  core.Receipt{},
		event:    state.RoastEvent{},
		trace:    nil,
	}

	outcome, err := s.execute(ctx, r)
	if err != nil {
		s.log.Info("Roast %s by %d in group %d ended: %v", req.RequestID, req.Issuer, req.Group, err)

		return outcome, err
	}

	s.log.Info(
		"Roast %s delivered: issuer %d, target %d, group %d, tier %s, mode %s, message %d",
		req.RequestID, outcome.Event.IssuerUserID, outcome.Event.TargetUserID, outcome.Event.GroupID,
		outcome.Event.Tier, outcome.Mode, outcome.Receipt.MessageID,
	)

	return outcome, nil
}

// AllowRoasts opts user in to being roasted.
func (s *Service) AllowRoasts(ctx context.Context, user state.UserID) error {
	return s.setConsent(ctx, user, true)
}

// StopRoasts opts user out of being roasted.
func (s *Service) StopRoasts(ctx context.Context, user state.UserID) error {
	return s.setConsent(ctx, user, false)
}

func (s *Service) setConsent(ctx context.Context, user state.UserID, allow bool) error {
	if user == 0 {
		return abort(ReasonInvalidArgument, "", errIssuerMissing)
	}

	err := s.write(ctx, func(doc *state.Document) error {
		doc.SetConsent(user, allow)

		return nil
	})
	if err != nil {
		return err
	}

	s.log.Info("User %d set roast consent to %t", user, allow)

	return nil
}

// SetSafeMode toggles profanity filtering for group. admin must hold admin capability.
func (s *Service) SetSafeMode(ctx context.Context, group state.GroupID, admin state.UserID, enabled bool) error {
	return s.adminWrite(ctx, group, admin, fmt.Sprintf("safe mode to %t", enabled), func(doc *state.Document) {
		doc.SetSafeMode(group, enabled)
	})
}

// SetNuclearOK toggles the nuclear tier for group. admin must hold admin capability.
func (s *Service) SetNuclearOK(ctx context.Context, group state.GroupID, admin state.UserID, allowed bool) error {
	return s.adminWrite(ctx, group, admin, fmt.Sprintf("nuclear tier to %t", allowed), func(doc *state.Document) {
		doc.SetNuclearOK(group, allowed)
	})
}

// SetDefaultVoiceMode sets the voice used by roasts in group that name no mode.
func (s *Service) SetDefaultVoiceMode(
	ctx context.Context,
	group state.GroupID,
	admin state.UserID,
	rawMode string,
) (state.VoiceMode, error) {
	mode, parseErr := state.ParseVoiceMode(rawMode)
	if parseErr != nil {
		return "", abort(ReasonInvalidArgument, "", parseErr)
	}

	if mode == "" {
		return "", abort(ReasonInvalidArgument, "", fmt.Errorf("%w: mode is required", state.ErrInvalidVoiceMode))
	}

	err := s.adminWrite(ctx, group, admin, "default voice mode to "+string(mode), func(doc *state.Document) {
		doc.SetDefaultVoiceMode(group, mode)
	})
	if err != nil {
		return "", err
	}

	return mode, nil
}

// RecentRoasts returns the latest roasts of group, newest first.
func (s *Service) RecentRoasts(ctx context.Context, group state.GroupID, admin state.UserID) ([]state.RoastEvent, error) {
	adminErr := s.requireAdmin(ctx, group, admin)
	if adminErr != nil {
		return nil, adminErr
	}

	doc, loadErr := s.store.Load(ctx)
	if loadErr != nil {
		return nil, abort(ReasonStorageError, "", loadErr)
	}

	return doc.RecentEvents(group, RecentRoastsLimit), nil
}

// ListVoices returns the voices offered by the synthesis provider.
func (s *Service) ListVoices(ctx context.Context, group state.GroupID, admin state.UserID) ([]core.Voice, error) {
	adminErr := s.requireAdmin(ctx, group, admin)
	if adminErr != nil {
		return nil, adminErr
	}

	voices, listErr := s.voices.ListVoices(ctx)
	if listErr != nil {
		return nil, abort(ReasonSynthesisFailed, "", listErr)
	}

	return voices, nil
}

func (s *Service) adminWrite(
	ctx context.Context,
	group state.GroupID,
	admin state.UserID,
	change string,
	apply func(doc *state.Document),
) error {
	adminErr := s.requireAdmin(ctx, group, admin)
	if adminErr != nil {
		return adminErr
	}

	err := s.write(ctx, func(doc *state.Document) error {
		apply(doc)

		return nil
	})
	if err != nil {
		return err
	}

	s.log.Info("Admin %d set %s in group %d", admin, change, group)

	return nil
}

func (s *Service) requireAdmin(ctx context.Context, group state.GroupID, user state.UserID) error {
	if group == 0 {
		return abort(ReasonInvalidArgument, "", errGroupMissing)
	}

	if user == 0 {
		return abort(ReasonInvalidArgument, "", errIssuerMissing)
	}

	isAdmin, err := s.admins.IsAdmin(ctx, group, user)
	if err != nil {
		s.log.Warn("Admin lookup for user %d in group %d failed: %v", user, group, err)

		return abort(ReasonPermissionDenied, "", err)
	}

	if !isAdmin {
		return abort(ReasonPermissionDenied, "", nil)
	}

	return nil
}

func (s *Service) write(ctx context.Context, fn func(doc *state.Document) error) error {
	err := s.store.Update(ctx, fn)
	if err != nil {
		return abort(ReasonStorageError, "", err)
	}

	return nil
}

// retryWrite applies fn with exponential backoff until it succeeds or ctx ends.
func (s *Service) retryWrite(ctx context.Context, fn func(doc *state.Document) error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = commitInitialInterval
	policy.MaxInterval = commitMaxInterval
	policy.MaxElapsedTime = 0

	attempt := 0
	operation := func() error {
		attempt++

		updateErr := s.store.Update(ctx, fn)
		if updateErr != nil {
			s.log.Warn("Recording delivered roast failed (attempt %d): %v", attempt, updateErr)
		}

		return updateErr
	}

	return backoff.Retry(operation, backoff.WithContext(policy, ctx))
}
