package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const objectStoreTokenPrefix = "tokens"

// ObjectStoreConfig captures configuration for the object storage-backed token store.
type ObjectStoreConfig struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	Prefix    string
	Profile   string
	UseSSL    bool
	PathStyle bool
}

// ObjectTokenStore keeps the token record as one object per profile in an S3-compatible bucket.
type ObjectTokenStore struct {
	records
	client *minio.Client
	cfg    ObjectStoreConfig
	key    string
}

// NewObjectTokenStore initializes an object storage backed token store.
func NewObjectTokenStore(cfg ObjectStoreConfig) (*ObjectTokenStore, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.Bucket = strings.TrimSpace(cfg.Bucket)
	cfg.AccessKey = strings.TrimSpace(cfg.AccessKey)
	cfg.SecretKey = strings.TrimSpace(cfg.SecretKey)
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")
	cfg.Profile = normalizeProfile(cfg.Profile)

	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("object token store: endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("object token store: bucket is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("object token store: access key and secret key are required")
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
		return nil, fmt.Errorf("object token store: create client: %w", err)
	}

	s := &ObjectTokenStore{client: client, cfg: cfg, key: objectKey(cfg.Prefix, cfg.Profile)}
	s.records = records{name: "object token store", backend: s}
	return s, nil
}

// Bootstrap ensures the target bucket exists.
func (s *ObjectTokenStore) Bootstrap(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("object token store: check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err = s.client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{Region: s.cfg.Region}); err != nil {
		return fmt.Errorf("object token store: create bucket: %w", err)
	}
	return nil
}

// Key returns the object key holding this profile's record.
func (s *ObjectTokenStore) Key() string { return s.key }

func (s *ObjectTokenStore) load(ctx context.Context) ([]byte, error) {
	object, err := s.client.GetObject(ctx, s.cfg.Bucket, s.key, minio.GetObjectOptions{})
	if err != nil {
		if isObjectNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	defer func() { _ = object.Close() }()
	data, err := io.ReadAll(object)
	if err != nil {
		// GetObject is lazy; a missing key surfaces on the first read.
		if isObjectNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

func (s *ObjectTokenStore) save(ctx context.Context, data []byte) error {
	_, err := s.client.PutObject(ctx, s.cfg.Bucket, s.key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	return err
}

func (s *ObjectTokenStore) remove(ctx context.Context) error {
	err := s.client.RemoveObject(ctx, s.cfg.Bucket, s.key, minio.RemoveObjectOptions{})
	if err != nil && !isObjectNotFound(err) {
		return err
	}
	return nil
}

func objectKey(prefix, profile string) string {
	return path.Join(prefix, objectStoreTokenPrefix, profile+".json")
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
