package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/router-for-me/codexgate/internal/auth/codex"
	log "github.com/sirupsen/logrus"
)

const (
	objectStoreAuthPrefix    = "auths"
	objectStoreCredentialKey = objectStoreAuthPrefix + "/codex.json"
)

// ObjectStoreConfig captures configuration for the object storage-backed credential store.
type ObjectStoreConfig struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	Prefix    string
	UseSSL    bool
	PathStyle bool
}

// ObjectStore persists the credential as one JSON object in an S3-compatible bucket.
type ObjectStore struct {
	client *minio.Client
	cfg    ObjectStoreConfig
	mu     sync.Mutex
}

// NewObjectStore initializes an object storage backed credential store.
func NewObjectStore(cfg ObjectStoreConfig) (*ObjectStore, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.Bucket = strings.TrimSpace(cfg.Bucket)
	cfg.AccessKey = strings.TrimSpace(cfg.AccessKey)
	cfg.SecretKey = strings.TrimSpace(cfg.SecretKey)
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")

	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("object store: endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("object store: bucket is required")
	}
	if cfg.AccessKey == "" {
		return nil, fmt.Errorf("object store: access key is required")
	}
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("object store: secret key is required")
	}

	options := &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	}
	if cfg.PathStyle {
		options.BucketLookup = minio.BucketLookupPath
	}

	client, err := minio.New(cfg.Endpoint, options)
	if err != nil {
		return nil, fmt.Errorf("object store: create client: %w", err)
	}
	return &ObjectStore{client: client, cfg: cfg}, nil
}

// Bootstrap makes sure the bucket exists.
func (s *ObjectStore) Bootstrap(ctx context.Context) error {
	return s.ensureBucket(ctx)
}

// Key returns the full object key of the credential.
func (s *ObjectStore) Key() string {
	return s.prefixedKey(objectStoreCredentialKey)
}

// Load fetches the credential object. A missing object or bucket yields (nil, nil).
func (s *ObjectStore) Load(ctx context.Context) (*codex.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := s.Key()
	object, err := s.client.GetObject(ctx, s.cfg.Bucket, key, minio.GetObjectOptions{})
	if err != nil {
		if isObjectNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("object store: get object %s: %w", key, err)
	}
	defer func() {
		if errClose := object.Close(); errClose != nil {
			log.Errorf("object store: close object %s: %v", key, errClose)
		}
	}()

	// GetObject is lazy; a missing key surfaces on the first read.
	data, err := io.ReadAll(object)
	if err != nil {
		if isObjectNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("object store: read object %s: %w", key, err)
	}
	cred, err := codex.ParseCredential(bytes.TrimSpace(data))
	if err != nil {
		return nil, err
	}
	if cred == nil {
		log.Warnf("object store: ignoring unrecognized credential document %s", key)
	}
	return cred, nil
}

// Save overwrites the credential object.
func (s *ObjectStore) Save(ctx context.Context, cred *codex.Credential) error {
	if cred == nil {
		return fmt.Errorf("object store: credential is nil")
	}
	raw, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("object store: marshal credential: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putObject(ctx, objectStoreCredentialKey, raw, "application/json")
}

// Delete removes the credential object. A missing object is not an error.
func (s *ObjectStore) Delete(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteObject(ctx, objectStoreCredentialKey)
}

func (s *ObjectStore) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("object store: check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err = s.client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{Region: s.cfg.Region}); err != nil {
		return fmt.Errorf("object store: create bucket: %w", err)
	}
	log.Infof("object store: created bucket %s", s.cfg.Bucket)
	return nil
}

func (s *ObjectStore) putObject(ctx context.Context, key string, data []byte, contentType string) error {
	fullKey := s.prefixedKey(key)
	reader := bytes.NewReader(data)
	_, err := s.client.PutObject(ctx, s.cfg.Bucket, fullKey, reader, int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("object store: put object %s: %w", fullKey, err)
	}
	return nil
}

func (s *ObjectStore) deleteObject(ctx context.Context, key string) error {
	fullKey := s.prefixedKey(key)
	err := s.client.RemoveObject(ctx, s.cfg.Bucket, fullKey, minio.RemoveObjectOptions{})
	if err != nil {
		if isObjectNotFound(err) {
			return nil
		}
		return fmt.Errorf("object store: delete object %s: %w", fullKey, err)
	}
	return nil
}

func (s *ObjectStore) prefixedKey(key string) string {
	key = strings.TrimLeft(key, "/")
	if s.cfg.Prefix == "" {
		return key
	}
	return strings.TrimLeft(s.cfg.Prefix+"/"+key, "/")
}

func isObjectNotFound(err error) bool {
	if err == nil {
		return false
	}
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode == http.StatusNotFound {
		return true
	}
	switch resp.Code {
	case "NoSuchKey", "NotFound", "NoSuchBucket":
		return true
	}
	return false
}
