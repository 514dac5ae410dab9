// Package storage persists checkpoints in S3-compatible object storage.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/cory-johannsen/darksun-pf2e-sub001/internal/engine"
)

// DefaultPrefix is the object key prefix checkpoint objects are written
// under.
const DefaultPrefix = "checkpoints"

// ObjectStore writes checkpoints as JSON objects into one bucket, one object
// per checkpoint id, keyed by pipeline name. It implements
// engine.CheckpointStore.
type ObjectStore struct {
	client   *minio.Client
	bucket   string
	pipeline string
	prefix   string
	logger   *slog.Logger
}

// NewObjectStore connects to the object store named by the MINIO_ENDPOINT,
// MINIO_ACCESS_KEY, MINIO_SECRET_KEY and MINIO_USE_SSL environment variables
// and scopes it to one bucket and pipeline.
func NewObjectStore(bucket, pipeline string) (*ObjectStore, error) {
	endpoint := os.Getenv("MINIO_ENDPOINT")
	accessKey := os.Getenv("MINIO_ACCESS_KEY")
	secretKey := os.Getenv("MINIO_SECRET_KEY")
	useSSL := os.Getenv("MINIO_USE_SSL") == "true"

	if endpoint == "" || accessKey == "" || secretKey == "" {
		return nil, errors.New("object store config incomplete: MINIO_ENDPOINT, MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required")
	}
	if bucket == "" {
		return nil, errors.New("object store bucket is required")
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}

	return &ObjectStore{
		client:   client,
		bucket:   bucket,
		pipeline: pipeline,
		prefix:   DefaultPrefix,
		logger:   slog.Default(),
	}, nil
}

// WithLogger overrides the store's logger. Chainable.
func (s *ObjectStore) WithLogger(logger *slog.Logger) *ObjectStore {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// WithPrefix overrides the default object key prefix. Chainable.
func (s *ObjectStore) WithPrefix(prefix string) *ObjectStore {
	if prefix != "" {
		s.prefix = prefix
	}
	return s
}

// EnsureBucket creates the store's bucket when it does not exist yet.
func (s *ObjectStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	s.logger.Info("checkpoint bucket created", "bucket", s.bucket)
	return nil
}

func (s *ObjectStore) key(id string) string {
	return path.Join(s.prefix, sanitizeKey(s.pipeline), sanitizeKey(id)+".json")
}

// Save writes cp as a JSON object and returns its s3:// location.
func (s *ObjectStore) Save(ctx context.Context, cp engine.Checkpoint) (string, error) {
	if cp.ID == "" {
		return "", errors.New("checkpoint id is required")
	}

	data, err := json.Marshal(cp)
	if err != nil {
		return "", fmt.Errorf("marshal checkpoint %s: %w", cp.ID, err)
	}

	key := s.key(cp.ID)
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return "", fmt.Errorf("store checkpoint %s: %w", cp.ID, err)
	}

	location := "s3://" + path.Join(s.bucket, key)
	s.logger.Info("checkpoint stored", "checkpoint", cp.ID, "location", location)
	return location, nil
}

// Load reads the checkpoint saved under id.
func (s *ObjectStore) Load(ctx context.Context, id string) (engine.Checkpoint, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(id), minio.GetObjectOptions{})
	if err != nil {
		return engine.Checkpoint{}, fmt.Errorf("get checkpoint %s: %w", id, err)
	}
	defer obj.Close()

	var cp engine.Checkpoint
	if err := json.NewDecoder(obj).Decode(&cp); err != nil {
		return engine.Checkpoint{}, fmt.Errorf("decode checkpoint %s: %w", id, err)
	}
	return cp, nil
}

// sanitizeKey lowercases s and replaces spaces so the result is safe inside
// an object key.
func sanitizeKey(s string) string {
	s = strings.ReplaceAll(s, " ", "-")
	return strings.ToLower(s)
}
