package roast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/voice-roaster/internal/content"
	"github.com/book-expert/voice-roaster/internal/core"
	"github.com/book-expert/voice-roaster/internal/state"
)

// State is a step of the roast workflow.
type State string

// Workflow states, in transition order. Logged and Aborted are terminal.
const (
	StateReceived        State = "received"
	StateValidated       State = "validated"
	StateConsentChecked  State = "consent_checked"
	StatePolicyChecked   State = "policy_checked"
	StateRateChecked     State = "rate_checked"
	StateContentSelected State = "content_selected"
	StateFilterChecked   State = "filter_checked"
	StateSynthesized     State = "synthesized"
	StateDelivered       State = "delivered"
	StateLogged          State = "logged"
	StateAborted         State = "aborted"
)

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateLogged || s == StateAborted
}

var (
	errTargetMissing  = errors.New("request must reply to the target's message")
	errIssuerMissing  = errors.New("request has no issuer")
	errGroupMissing   = errors.New("request has no group")
	errUnknownState   = errors.New("no transition defined")
	errDeliveryDenied = errors.New("delivery not confirmed")
)

// Request is an inbound roast command as received from the chat platform.
// Tier and Mode are raw user input; an empty Mode selects the group default.
type Request struct {
	RequestID string
	Issuer    state.UserID
	Target    state.UserID
	Group     state.GroupID
	ReplyTo   state.MessageID
	Tier      string
	Mode      string
}

// Outcome describes a finished workflow. Trace lists every state entered,
// ending with Logged or Aborted.
type Outcome struct {
	Event   state.RoastEvent
	Receipt core.Receipt
	Line    string
	Mode    state.VoiceMode
	Trace   []State
}

// command is a Request that passed validation.
type command struct {
	requestID string
	issuer    state.UserID
	target    state.UserID
	group     state.GroupID
	replyTo   state.MessageID
	tier      state.Tier
	mode      state.VoiceMode
}

// run carries one workflow through the machine.
type run struct {
	request  Request
	cmd      command
	started  time.Time
	snapshot *state.Document
	policy   state.GroupPolicy
	line     string
	payload  []byte
	receipt  core.Receipt
	event    state.RoastEvent
	trace    []State
}

// execute drives r from Received until a terminal state.
func (s *Service) execute(ctx context.Context, r *run) (Outcome, error) {
	current := StateReceived

	for !current.Terminal() {
		r.trace = append(r.trace, current)

		next, err := s.step(ctx, r, current)
		if err != nil {
			r.trace = append(r.trace, StateAborted)

			return r.outcome(), err
		}

		current = next
	}

	r.trace = append(r.trace, current)

	return r.outcome(), nil
}

// step performs the transition out of current.
func (s *Service) step(ctx context.Context, r *run, current State) (State, error) {
	switch current {
	case StateReceived:
		return s.validate(r)
	case StateValidated:
		return s.checkConsent(ctx, r)
	case StateConsentChecked:
		return s.checkPolicy(r)
	case StatePolicyChecked:
		return s.checkRate(r)
	case StateRateChecked:
		return s.selectContent(ctx, r)
	case StateContentSelected:
		return s.checkFilter(r)
	case StateFilterChecked:
		return s.synthesize(ctx, r)
	case StateSynthesized:
		return s.deliver(ctx, r)
	case StateDelivered:
		return s.commit(ctx, r)
	case StateLogged, StateAborted:
		return current, nil
	default:
		return StateAborted, fmt.Errorf("%w from state %q", errUnknownState, current)
	}
}

func (s *Service) validate(r *run) (State, error) {
	req := r.request

	switch {
	case req.Issuer == 0:
		return StateAborted, abort(ReasonInvalidArgument, StateReceived, errIssuerMissing)
	case req.Group == 0:
		return StateAborted, abort(ReasonInvalidArgument, StateReceived, errGroupMissing)
	case req.Target == 0 || req.ReplyTo == 0:
		return StateAborted, abort(ReasonInvalidArgument, StateReceived, errTargetMissing)
	}

	tier, tierErr := state.ParseTier(req.Tier)
	if tierErr != nil {
		return StateAborted, abort(ReasonInvalidArgument, StateReceived, tierErr)
	}

	mode, modeErr := state.ParseVoiceMode(req.Mode)
	if modeErr != nil {
		return StateAborted, abort(ReasonInvalidArgument, StateReceived, modeErr)
	}

	r.cmd = command{
		requestID: req.RequestID,
		issuer:    req.Issuer,
		target:    req.Target,
		group:     req.Group,
		replyTo:   req.ReplyTo,
		tier:      tier,
		mode:      mode,
	}

	return StateValidated, nil
}

// checkConsent reads the snapshot every later gate evaluates against.
func (s *Service) checkConsent(ctx context.Context, r *run) (State, error) {
	snapshot, loadErr := s.store.Load(ctx)
	if loadErr != nil {
		return StateAborted, abort(ReasonStorageError, StateValidated, loadErr)
	}

	r.snapshot = snapshot

	if !snapshot.IsConsenting(r.cmd.target) {
		return StateAborted, abort(ReasonConsentDenied, StateValidated, nil)
	}

	return StateConsentChecked, nil
}

func (s *Service) checkPolicy(r *run) (State, error) {
	r.policy = r.snapshot.GroupPolicy(r.cmd.group)

	if r.cmd.tier == state.TierNuclear && !r.policy.NuclearOK {
		return StateAborted, abort(ReasonTierDisabled, StateConsentChecked, nil)
	}

	if r.cmd.mode == "" {
		r.cmd.mode = r.policy.DefaultVoiceMode
	}

	return StatePolicyChecked, nil
}

func (s *Service) checkRate(r *run) (State, error) {
	last := time.UnixMilli(r.snapshot.LastRoastTime(r.cmd.issuer))
	elapsed := r.started.Sub(last)

	if elapsed < s.config.RateLimit {
		abortErr := abort(ReasonRateLimited, StatePolicyChecked, nil)
		abortErr.Remaining = remainingWait(s.config.RateLimit, elapsed)

		return StateAborted, abortErr
	}

	return StateRateChecked, nil
}

func (s *Service) selectContent(ctx context.Context, r *run) (State, error) {
	lines, linesErr := s.content.LinesForTier(ctx, r.cmd.tier)
	if linesErr != nil {
		return StateAborted, abort(ReasonContentUnavailable, StateRateChecked, linesErr)
	}

	line, pickErr := content.Pick(lines, s.config.Picker)
	if pickErr != nil {
		return StateAborted, abort(ReasonContentUnavailable, StateRateChecked, pickErr)
	}

	r.line = line

	return StateContentSelected, nil
}

func (s *Service) checkFilter(r *run) (State, error) {
	if r.policy.SafeMode && s.filter.ContainsDisallowedLanguage(r.line) {
		s.log.Warn("Blocked profanity in %s roast for group %d", r.cmd.tier, r.cmd.group)

		return StateAborted, abort(ReasonProfanityBlocked, StateContentSelected, nil)
	}

	return StateFilterChecked, nil
}

func (s *Service) synthesize(ctx context.Context, r *run) (State, error) {
	payload, synthErr := s.synth.Synthesize(ctx, r.line, r.cmd.mode)
	if synthErr != nil {
		return StateAborted, abort(ReasonSynthesisFailed, StateFilterChecked, synthErr)
	}

	r.payload = payload

	return StateSynthesized, nil
}

func (s *Service) deliver(ctx context.Context, r *run) (State, error) {
	receipt, deliverErr := s.deliverer.Deliver(ctx, core.Delivery{
		GroupID:   r.cmd.group,
		ReplyTo:   r.cmd.replyTo,
		IssuerID:  r.cmd.issuer,
		TargetID:  r.cmd.target,
		Audio:     r.payload,
		RequestID: r.cmd.requestID,
	})
	if deliverErr != nil {
		return StateAborted, abort(ReasonDeliveryFailed, StateSynthesized, deliverErr)
	}

	if receipt.MessageID == 0 {
		return StateAborted, abort(ReasonDeliveryFailed, StateSynthesized, errDeliveryDenied)
	}

	r.receipt = receipt

	return StateDelivered, nil
}

// commit is the only step that writes. It runs detached from the caller's
// cancellation because the roast has already been delivered.
func (s *Service) commit(ctx context.Context, r *run) (State, error) {
	r.event = state.RoastEvent{
		Timestamp:    s.config.Clock().UnixMilli(),
		TargetUserID: r.cmd.target,
		IssuerUserID: r.cmd.issuer,
		Tier:         r.cmd.tier,
		GroupID:      r.cmd.group,
	}

	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.CommitTimeout)
	defer cancel()

	writeErr := s.retryWrite(commitCtx, func(doc *state.Document) error {
		doc.RecordCooldown(r.event.IssuerUserID, r.event.Timestamp)
		doc.AppendEvent(r.event, s.config.LogRetention)

		return nil
	})
	if writeErr != nil {
		s.log.System(
			"ALARM: roast delivered as message %d in group %d but not recorded (issuer %d, target %d): %v",
			r.receipt.MessageID, r.cmd.group, r.cmd.issuer, r.cmd.target, writeErr,
		)

		return StateAborted, &CommitError{
			Event:   r.event,
			Receipt: r.receipt,
			Err:     writeErr,
		}
	}

	return StateLogged, nil
}

func (r *run) outcome() Outcome {
	return Outcome{
		Event:   r.event,
		Receipt: r.receipt,
		Line:    r.line,
		Mode:    r.cmd.mode,
		Trace:   r.trace,
	}
}
