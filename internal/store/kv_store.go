package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-roaster/internal/state"
	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"
)

const (
	documentKey        = "roast-document"
	conflictRetries    = 16
	conflictInitialGap = 10 * time.Millisecond
	conflictMaxGap     = 500 * time.Millisecond
)

// KVStore keeps the document under one key of a JetStream key-value bucket.
// Writes are compare-and-set on the entry revision and retried on conflict,
// so several service instances can share one bucket.
type KVStore struct {
	kv     nats.KeyValue
	bucket string
	log    *logger.Logger
}

// NewKVStore creates the bucket, or binds to it when it already exists.
func NewKVStore(jetstreamContext nats.JetStreamContext, bucketName string, log *logger.Logger) (*KVStore, error) {
	kv, err := jetstreamContext.CreateKeyValue(&nats.KeyValueConfig{
		Bucket:      bucketName,
		Description: "Voice roaster consent, policy, cooldown and audit state.",
		History:     1,
		Storage:     nats.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		var bindErr error

		kv, bindErr = jetstreamContext.KeyValue(bucketName)
		if bindErr != nil {
			return nil, fmt.Errorf("%w: failed to open key-value bucket '%s': %w", ErrStorage, bucketName, errors.Join(err, bindErr))
		}
	}

	return &KVStore{
		kv:     kv,
		bucket: bucketName,
		log:    log,
	}, nil
}

// Load returns a snapshot of the document. A missing key yields an empty document.
func (s *KVStore) Load(_ context.Context) (*state.Document, error) {
	doc, _, err := s.get()

	return doc, err
}

// Update applies fn to the latest revision and writes it back only if no one
// else wrote in between. Conflicts re-run fn against the fresh revision.
func (s *KVStore) Update(ctx context.Context, fn func(doc *state.Document) error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = conflictInitialGap
	policy.MaxInterval = conflictMaxGap

	operation := func() error {
		doc, revision, getErr := s.get()
		if getErr != nil {
			return backoff.Permanent(getErr)
		}

		fnErr := fn(doc)
		if fnErr != nil {
			return backoff.Permanent(fnErr)
		}

		putErr := s.put(doc, revision)
		if putErr == nil {
			return nil
		}

		if isRevisionConflict(putErr) {
			s.log.Warn("Document revision %d in bucket '%s' changed concurrently, retrying", revision, s.bucket)

			return putErr
		}

		return backoff.Permanent(fmt.Errorf("%w: failed to write document: %w", ErrStorage, putErr))
	}

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, conflictRetries), ctx))
	if err != nil && isRevisionConflict(err) {
		return fmt.Errorf("%w: document kept changing after %d retries: %w", ErrStorage, conflictRetries, err)
	}

	return err
}

func (s *KVStore) get() (*state.Document, uint64, error) {
	entry, err := s.kv.Get(documentKey)
	if errors.Is(err, nats.ErrKeyNotFound) {
		return state.NewDocument(), 0, nil
	}

	if err != nil {
		return nil, 0, fmt.Errorf("%w: failed to get '%s' from bucket '%s': %w", ErrStorage, documentKey, s.bucket, err)
	}

	doc, decodeErr := decodeDocument(entry.Value())
	if decodeErr != nil {
		return nil, 0, decodeErr
	}

	return doc, entry.Revision(), nil
}

func (s *KVStore) put(doc *state.Document, revision uint64) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}

	if revision == 0 {
		_, err = s.kv.Create(documentKey, data)
	} else {
		_, err = s.kv.Update(documentKey, data, revision)
	}

	return err
}

func isRevisionConflict(err error) bool {
	if errors.Is(err, nats.ErrKeyExists) {
		return true
	}

	var apiErr *nats.APIError

	return errors.As(err, &apiErr) && apiErr.ErrorCode == nats.JSErrCodeStreamWrongLastSequence
}
