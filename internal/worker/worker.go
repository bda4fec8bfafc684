// Package worker provides a NATS worker that processes chat commands for the roast service.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/voice-roaster/internal/core"
	"github.com/book-expert/voice-roaster/internal/roast"
	"github.com/book-expert/voice-roaster/internal/state"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/sourcegraph/conc/pool"
)

const (
	// DefaultHandleTimeout bounds the handling of one command.
	DefaultHandleTimeout = 90 * time.Second
	// DefaultMaxInFlight bounds the commands handled concurrently.
	DefaultMaxInFlight = 16
)

// CommandKind names an inbound chat command.
type CommandKind string

// Supported commands.
const (
	KindRoast       CommandKind = "roast"
	KindAllowRoasts CommandKind = "allow_roasts"
	KindStopRoasts  CommandKind = "stop_roasts"
	KindSafeMode    CommandKind = "safe_mode"
	KindNuclearOK   CommandKind = "nuclear_ok"
	KindVoiceMode   CommandKind = "voice_mode"
	KindRoastLog    CommandKind = "roast_log"
	KindListVoices  CommandKind = "list_voices"
)

// Reasons reported by the worker itself, alongside the roast.Reason values.
const (
	ReasonMalformed  roast.Reason = "malformed_command"
	ReasonInternal   roast.Reason = "internal_error"
	ReasonUnrecorded roast.Reason = "delivered_unrecorded"
)

var (
	// ErrUnknownCommand indicates a command kind the worker does not handle.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrMissingToggle indicates a safe_mode or nuclear_ok command without a value.
	ErrMissingToggle = errors.New("command requires enabled to be set")
)

// Roaster is the service the worker dispatches to.
type Roaster interface {
	Roast(ctx context.Context, req roast.Request) (roast.Outcome, error)
	AllowRoasts(ctx context.Context, user state.UserID) error
	StopRoasts(ctx context.Context, user state.UserID) error
	SetSafeMode(ctx context.Context, group state.GroupID, admin state.UserID, enabled bool) error
	SetNuclearOK(ctx context.Context, group state.GroupID, admin state.UserID, allowed bool) error
	SetDefaultVoiceMode(ctx context.Context, group state.GroupID, admin state.UserID, rawMode string) (state.VoiceMode, error)
	RecentRoasts(ctx context.Context, group state.GroupID, admin state.UserID) ([]state.RoastEvent, error)
	ListVoices(ctx context.Context, group state.GroupID, admin state.UserID) ([]core.Voice, error)
}

// CommandEvent is a chat command forwarded by the chat bridge. UserID is the
// sender; for roasts TargetUserID and ReplyToMessageID identify the message
// the command replied to.
type CommandEvent struct {
	Header           events.EventHeader `json:"header"`
	Kind             CommandKind        `json:"kind"`
	GroupID          state.GroupID      `json:"groupId"`
	UserID           state.UserID       `json:"userId"`
	TargetUserID     state.UserID       `json:"targetUserId,omitempty"`
	ReplyToMessageID state.MessageID    `json:"replyToMessageId,omitempty"`
	Tier             string             `json:"tier,omitempty"`
	VoiceMode        string             `json:"voiceMode,omitempty"`
	Enabled          *bool              `json:"enabled,omitempty"`
}

// CommandResult is the reply to a CommandEvent. Message is the text the bridge
// shows in the chat.
type CommandResult struct {
	Header            events.EventHeader `json:"header"`
	Kind              CommandKind        `json:"kind"`
	OK                bool               `json:"ok"`
	Reason            roast.Reason       `json:"reason,omitempty"`
	Message           string             `json:"message"`
	RetryAfterMinutes int64              `json:"retryAfterMinutes,omitempty"`
	VoiceMessageID    state.MessageID    `json:"voiceMessageId,omitempty"`
	Events            []state.RoastEvent `json:"events,omitempty"`
	Voices            []core.Voice       `json:"voices,omitempty"`
}

// NatsWorker listens for chat commands on a NATS subject and processes them.
type NatsWorker struct {
	natsConnection *nats.Conn
	subject        string
	roaster        Roaster
	timeout        time.Duration
	maxInFlight    int
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker. A non-positive
// timeout takes DefaultHandleTimeout and a non-positive maxInFlight takes
// DefaultMaxInFlight.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subject string,
	roaster Roaster,
	timeout time.Duration,
	maxInFlight int,
	log *logger.Logger,
) (*NatsWorker, error) {
	if timeout <= 0 {
		timeout = DefaultHandleTimeout
	}

	if maxInFlight <= 0 {
		maxInFlight = DefaultMaxInFlight
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		subject:        subject,
		roaster:        roaster,
		timeout:        timeout,
		maxInFlight:    maxInFlight,
		log:            log,
	}, nil
}

// Run starts the worker and begins listening for messages. Each command is
// handled on its own goroutine, at most maxInFlight at a time; when all are
// busy the subscription callback waits for a free slot. On cancellation Run
// drains the subscription and waits for in-flight commands to reply.
func (w *NatsWorker) Run(ctx context.Context) error {
	handlers := pool.New().WithMaxGoroutines(w.maxInFlight)

	sub, err := w.natsConnection.Subscribe(w.subject, func(msg *nats.Msg) {
		handlers.Go(func() {
			w.handleMessage(msg)
		})
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	closed := sub.StatusChanged(nats.SubscriptionClosed)

	w.log.Info("Listening for commands on %s with %d handlers", w.subject, w.maxInFlight)

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr == nil {
		<-closed
	}

	handlers.Wait()

	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	var result CommandResult

	event, parseErr := parseEvent(msg)
	if parseErr != nil {
		w.log.Error("Failed to parse command event: %v", parseErr)

		result = failure(replyHeader(events.EventHeader{}), "", ReasonMalformed, msgMalformed)
	} else {
		result = w.dispatch(ctx, event)
	}

	publishErr := w.publishReply(msg, result)
	if publishErr != nil {
		w.log.Error("Failed to publish reply for workflow %s: %v", result.Header.WorkflowID, publishErr)
	}
}

func (w *NatsWorker) dispatch(ctx context.Context, event *CommandEvent) CommandResult {
	header := replyHeader(event.Header)

	switch event.Kind {
	case KindRoast:
		return w.handleRoast(ctx, header, event)
	case KindAllowRoasts:
		return w.complete(header, event.Kind, w.roaster.AllowRoasts(ctx, event.UserID), msgOptedIn)
	case KindStopRoasts:
		return w.complete(header, event.Kind, w.roaster.StopRoasts(ctx, event.UserID), msgOptedOut)
	case KindSafeMode:
		return w.handleToggle(ctx, header, event, w.roaster.SetSafeMode, msgSafeModeOn, msgSafeModeOff)
	case KindNuclearOK:
		return w.handleToggle(ctx, header, event, w.roaster.SetNuclearOK, msgNuclearOn, msgNuclearOff)
	case KindVoiceMode:
		mode, err := w.roaster.SetDefaultVoiceMode(ctx, event.GroupID, event.UserID, event.VoiceMode)

		return w.complete(header, event.Kind, err, fmt.Sprintf(msgFmtVoiceModeSet, mode))
	case KindRoastLog:
		return w.handleRoastLog(ctx, header, event)
	case KindListVoices:
		return w.handleListVoices(ctx, header, event)
	default:
		w.log.Warn("Ignoring %v %q in workflow %s", ErrUnknownCommand, event.Kind, header.WorkflowID)

		return failure(header, event.Kind, ReasonMalformed, msgMalformed)
	}
}

func (w *NatsWorker) handleRoast(ctx context.Context, header events.EventHeader, event *CommandEvent) CommandResult {
	outcome, err := w.roaster.Roast(ctx, roast.Request{
		RequestID: header.WorkflowID,
		Issuer:    event.UserID,
		Target:    event.TargetUserID,
		Group:     event.GroupID,
		ReplyTo:   event.ReplyToMessageID,
		Tier:      event.Tier,
		Mode:      event.VoiceMode,
	})
	if err != nil {
		result := w.fail(header, event.Kind, err)

		var commitErr *roast.CommitError
		if errors.As(err, &commitErr) {
			result.VoiceMessageID = commitErr.Receipt.MessageID
		}

		return result
	}

	result := success(header, event.Kind, msgRoastDelivered)
	result.VoiceMessageID = outcome.Receipt.MessageID

	return result
}

func (w *NatsWorker) handleToggle(
	ctx context.Context,
	header events.EventHeader,
	event *CommandEvent,
	set func(context.Context, state.GroupID, state.UserID, bool) error,
	onMessage, offMessage string,
) CommandResult {
	if event.Enabled == nil {
		w.log.Warn("Rejecting %s in workflow %s: %v", event.Kind, header.WorkflowID, ErrMissingToggle)

		return failure(header, event.Kind, roast.ReasonInvalidArgument, msgToggleUsage)
	}

	message := offMessage
	if *event.Enabled {
		message = onMessage
	}

	return w.complete(header, event.Kind, set(ctx, event.GroupID, event.UserID, *event.Enabled), message)
}

func (w *NatsWorker) handleRoastLog(ctx context.Context, header events.EventHeader, event *CommandEvent) CommandResult {
	recent, err := w.roaster.RecentRoasts(ctx, event.GroupID, event.UserID)
	if err != nil {
		return w.fail(header, event.Kind, err)
	}

	message := msgRoastLogEmpty
	if len(recent) > 0 {
		message = msgRoastLogHeader
	}

	result := success(header, event.Kind, message)
	result.Events = recent

	return result
}

func (w *NatsWorker) handleListVoices(ctx context.Context, header events.EventHeader, event *CommandEvent) CommandResult {
	voices, err := w.roaster.ListVoices(ctx, event.GroupID, event.UserID)
	if err != nil {
		return w.fail(header, event.Kind, err)
	}

	result := success(header, event.Kind, msgVoicesHeader)
	result.Voices = voices

	return result
}

func (w *NatsWorker) complete(header events.EventHeader, kind CommandKind, err error, message string) CommandResult {
	if err != nil {
		return w.fail(header, kind, err)
	}

	return success(header, kind, message)
}

// fail converts a service error into the reply shown to the user.
func (w *NatsWorker) fail(header events.EventHeader, kind CommandKind, err error) CommandResult {
	var (
		abortErr  *roast.AbortError
		commitErr *roast.CommitError
	)

	switch {
	case errors.As(err, &commitErr):
		w.log.Error("Workflow %s: %v", header.WorkflowID, err)

		return failure(header, kind, ReasonUnrecorded, msgUnrecorded)
	case errors.As(err, &abortErr):
		result := failure(header, kind, abortErr.Reason, messageFor(kind, abortErr))
		result.RetryAfterMinutes = abortErr.RemainingMinutes()

		return result
	default:
		w.log.Error("Workflow %s: %s failed: %v", header.WorkflowID, kind, err)

		return failure(header, kind, ReasonInternal, msgUnexpected)
	}
}

// publishReply marshals and responds with the CommandResult.
func (w *NatsWorker) publishReply(msg *nats.Msg, result CommandResult) error {
	if msg.Reply == "" {
		return nil
	}

	replyData, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal reply event: %w", err)
	}

	err = msg.Respond(replyData)
	if err != nil {
		return fmt.Errorf("failed to publish reply event: %w", err)
	}

	return nil
}

func parseEvent(msg *nats.Msg) (*CommandEvent, error) {
	var event CommandEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	return &event, nil
}

func replyHeader(request events.EventHeader) events.EventHeader {
	workflowID := request.WorkflowID
	if workflowID == "" {
		workflowID = uuid.NewString()
	}

	return events.EventHeader{
		Timestamp:  time.Now(),
		WorkflowID: workflowID,
		EventID:    uuid.NewString(),
		UserID:     request.UserID,
		TenantID:   request.TenantID,
	}
}

func success(header events.EventHeader, kind CommandKind, message string) CommandResult {
	return CommandResult{
		Header:            header,
		Kind:              kind,
		OK:                true,
		Reason:            "",
		Message:           message,
		RetryAfterMinutes: 0,
		VoiceMessageID:    0,
		Events:            nil,
		Voices:            nil,
	}
}

func failure(header events.EventHeader, kind CommandKind, reason roast.Reason, message string) CommandResult {
	result := success(header, kind, message)
	result.OK = false
	result.Reason = reason

	return result
}
