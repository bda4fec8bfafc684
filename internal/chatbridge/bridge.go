// Package chatbridge reaches the chat platform through a bridge process over
// NATS request/reply. Voice payloads travel through the audio object store;
// only their keys cross the request subjects.
package chatbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/voice-roaster/internal/core"
	"github.com/book-expert/voice-roaster/internal/state"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const (
	// DefaultRequestTimeout bounds one bridge round trip when the caller sets no deadline.
	DefaultRequestTimeout = 15 * time.Second

	defaultAudioFormat = "ogg"
)

var (
	// ErrDeliveryRejected is returned when the bridge could not post the voice message.
	ErrDeliveryRejected = errors.New("chat bridge rejected delivery")
	// ErrAdminLookup is returned when the bridge could not resolve admin capability.
	ErrAdminLookup = errors.New("chat bridge admin lookup failed")
	// ErrBridgeConfig indicates a missing subject or bucket.
	ErrBridgeConfig = errors.New("invalid chat bridge configuration")
)

// VoiceDeliveryRequested asks the bridge to post a voice message as a threaded reply.
type VoiceDeliveryRequested struct {
	Header           events.EventHeader `json:"header"`
	GroupID          state.GroupID      `json:"groupId"`
	ReplyToMessageID state.MessageID    `json:"replyToMessageId"`
	IssuerUserID     state.UserID       `json:"issuerUserId"`
	TargetUserID     state.UserID       `json:"targetUserId"`
	AudioBucket      string             `json:"audioBucket"`
	AudioKey         string             `json:"audioKey"`
	AudioFormat      string             `json:"audioFormat"`
}

// VoiceDeliveryResult is the bridge's reply to VoiceDeliveryRequested.
type VoiceDeliveryResult struct {
	Header    events.EventHeader `json:"header"`
	Delivered bool               `json:"delivered"`
	MessageID state.MessageID    `json:"messageId"`
	Error     string             `json:"error,omitempty"`
}

// AdminCheckRequested asks the bridge whether a user administers a group.
type AdminCheckRequested struct {
	Header  events.EventHeader `json:"header"`
	GroupID state.GroupID      `json:"groupId"`
	UserID  state.UserID       `json:"userId"`
}

// AdminCheckResult is the bridge's reply to AdminCheckRequested.
type AdminCheckResult struct {
	Header  events.EventHeader `json:"header"`
	IsAdmin bool               `json:"isAdmin"`
	Error   string             `json:"error,omitempty"`
}

// Config names the subjects and bucket shared with the bridge.
type Config struct {
	DeliverySubject string
	AdminSubject    string
	AudioBucket     string
	AudioFormat     string
	RequestTimeout  time.Duration
}

// NatsBridge implements core.Deliverer and core.AdminChecker over NATS.
type NatsBridge struct {
	natsConnection *nats.Conn
	store          core.ObjectStore
	config         Config
	log            *logger.Logger
}

// NewNatsBridge creates a bridge client. store must be the object store bound to cfg.AudioBucket.
func NewNatsBridge(
	natsConnection *nats.Conn,
	store core.ObjectStore,
	cfg Config,
	log *logger.Logger,
) (*NatsBridge, error) {
	if cfg.DeliverySubject == "" || cfg.AdminSubject == "" || cfg.AudioBucket == "" {
		return nil, fmt.Errorf("%w: delivery subject, admin subject and audio bucket are required", ErrBridgeConfig)
	}

	if cfg.AudioFormat == "" {
		cfg.AudioFormat = defaultAudioFormat
	}

	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}

	return &NatsBridge{
		natsConnection: natsConnection,
		store:          store,
		config:         cfg,
		log:            log,
	}, nil
}

// Deliver stages the audio in the object store and asks the bridge to post it.
// The staged object is removed once the bridge has answered or the request failed.
func (b *NatsBridge) Deliver(ctx context.Context, delivery core.Delivery) (core.Receipt, error) {
	audioKey := fmt.Sprintf("roast-%s.%s", uuid.NewString(), b.config.AudioFormat)

	uploadErr := b.store.Upload(ctx, audioKey, delivery.Audio)
	if uploadErr != nil {
		return core.Receipt{MessageID: 0}, fmt.Errorf("failed to stage voice payload: %w", uploadErr)
	}

	defer b.discard(audioKey)

	request := VoiceDeliveryRequested{
		Header:           newHeader(delivery.RequestID, delivery.IssuerID, delivery.GroupID),
		GroupID:          delivery.GroupID,
		ReplyToMessageID: delivery.ReplyTo,
		IssuerUserID:     delivery.IssuerID,
		TargetUserID:     delivery.TargetID,
		AudioBucket:      b.config.AudioBucket,
		AudioKey:         audioKey,
		AudioFormat:      b.config.AudioFormat,
	}

	var result VoiceDeliveryResult

	requestErr := b.request(ctx, b.config.DeliverySubject, request, &result)
	if requestErr != nil {
		return core.Receipt{MessageID: 0}, requestErr
	}

	if !result.Delivered || result.MessageID == 0 {
		return core.Receipt{MessageID: 0}, fmt.Errorf("%w: %s", ErrDeliveryRejected, result.Error)
	}

	b.log.Info("Voice payload %s delivered as message %d in group %d", audioKey, result.MessageID, delivery.GroupID)

	return core.Receipt{MessageID: result.MessageID}, nil
}

// IsAdmin asks the bridge whether user holds admin capability in group.
func (b *NatsBridge) IsAdmin(ctx context.Context, group state.GroupID, user state.UserID) (bool, error) {
	request := AdminCheckRequested{
		Header:  newHeader("", user, group),
		GroupID: group,
		UserID:  user,
	}

	var result AdminCheckResult

	requestErr := b.request(ctx, b.config.AdminSubject, request, &result)
	if requestErr != nil {
		return false, requestErr
	}

	if result.Error != "" {
		return false, fmt.Errorf("%w: %s", ErrAdminLookup, result.Error)
	}

	return result.IsAdmin, nil
}

func (b *NatsBridge) request(ctx context.Context, subject string, request, reply any) error {
	data, marshalErr := json.Marshal(request)
	if marshalErr != nil {
		return fmt.Errorf("failed to marshal request for %s: %w", subject, marshalErr)
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, b.config.RequestTimeout)
		defer cancel()
	}

	msg, requestErr := b.natsConnection.RequestWithContext(ctx, subject, data)
	if requestErr != nil {
		return fmt.Errorf("request on %s failed: %w", subject, requestErr)
	}

	unmarshalErr := json.Unmarshal(msg.Data, reply)
	if unmarshalErr != nil {
		return fmt.Errorf("failed to unmarshal reply from %s: %w", subject, unmarshalErr)
	}

	return nil
}

func (b *NatsBridge) discard(audioKey string) {
	deleteErr := b.store.Delete(context.Background(), audioKey)
	if deleteErr != nil {
		b.log.Warn("Failed to remove staged voice payload %s: %v", audioKey, deleteErr)
	}
}

func newHeader(workflowID string, user state.UserID, group state.GroupID) events.EventHeader {
	if workflowID == "" {
		workflowID = uuid.NewString()
	}

	return events.EventHeader{
		Timestamp:  time.Now(),
		WorkflowID: workflowID,
		EventID:    uuid.NewString(),
		UserID:     strconv.FormatInt(int64(user), 10),
		TenantID:   strconv.FormatInt(int64(group), 10),
	}
}
