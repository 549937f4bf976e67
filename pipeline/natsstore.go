package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/c360studio/semstreams/natsclient"
	"github.com/nats-io/nats.go/jetstream"
)

// DefaultContextBucket is the KV bucket holding checkpointed runs.
const DefaultContextBucket = "concord-pipeline-contexts"

// KVContextStore persists run contexts in a JetStream KV bucket so
// blocked runs can be resumed after a restart.
type KVContextStore struct {
	bucket jetstream.KeyValue
}

// NewKVContextStore creates (or binds to) the context bucket.
func NewKVContextStore(ctx context.Context, nc *natsclient.Client, bucket string) (*KVContextStore, error) {
	if bucket == "" {
		bucket = DefaultContextBucket
	}

	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("get jetstream: %w", err)
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "checkpointed pipeline run contexts",
	})
	if err != nil {
		return nil, fmt.Errorf("create context bucket %s: %w", bucket, err)
	}

	return &KVContextStore{bucket: kv}, nil
}

// Save writes the context as JSON under its run id.
func (s *KVContextStore) Save(ctx context.Context, pc *Context) error {
	data, err := json.Marshal(pc)
	if err != nil {
		return fmt.Errorf("marshal context %s: %w", pc.ID, err)
	}
	if _, err := s.bucket.Put(ctx, pc.ID, data); err != nil {
		return fmt.Errorf("put context %s: %w", pc.ID, err)
	}
	return nil
}

// Load reads a context by run id. Unknown ids return (nil, nil).
func (s *KVContextStore) Load(ctx context.Context, id string) (*Context, error) {
	entry, err := s.bucket.Get(ctx, id)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get context %s: %w", id, err)
	}

	var pc Context
	if err := json.Unmarshal(entry.Value(), &pc); err != nil {
		return nil, fmt.Errorf("unmarshal context %s: %w", id, err)
	}
	return &pc, nil
}

// Delete removes a checkpoint. Unknown ids are a no-op.
func (s *KVContextStore) Delete(ctx context.Context, id string) error {
	if err := s.bucket.Delete(ctx, id); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("delete context %s: %w", id, err)
	}
	return nil
}
