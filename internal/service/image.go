package service

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"

	"github.com/phixlab/nutrilens/backend/config"
)

// ErrImageNotFound is returned when no image is stored under a key
var ErrImageNotFound = errors.New("image not found")

const (
	imageKeyPrefix      = "meal-images"
	redisImageKeyPrefix = "nutrilens:image:"
	lifecycleRuleID     = "expire-meal-images"
)

var imageExtensions = map[string]string{
	"image/jpeg":    ".jpg",
	"image/png":     ".png",
	"image/gif":     ".gif",
	"image/webp":    ".webp",
	"image/heic":    ".heic",
	"image/heif":    ".heif",
	"image/bmp":     ".bmp",
	"image/svg+xml": ".svg",
}

// ImageKey derives the storage key of one upload from its session, upload id
// and content fingerprint. Every upload gets its own key, so a key is only
// ever referenced by the selection that stored it.
func ImageKey(sessionID, uploadID string, data []byte, mimeType string) string {
	sum := blake2b.Sum256(data)
	ext := imageExtensions[strings.ToLower(mimeType)]
	return fmt.Sprintf("%s/%s/%s/%s%s", imageKeyPrefix, sessionID, uploadID, hex.EncodeToString(sum[:]), ext)
}

// s3API is the subset of the S3 client used for image storage
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	PutBucketLifecycleConfiguration(ctx context.Context, params *s3.PutBucketLifecycleConfigurationInput, optFns ...func(*s3.Options)) (*s3.PutBucketLifecycleConfigurationOutput, error)
}

// S3ImageStore keeps meal images in an S3 bucket
type S3ImageStore struct {
	client s3API
	bucket string
	log    *logrus.Entry
}

// NewS3ImageStore creates an image store on the configured bucket
func NewS3ImageStore(cfg *config.S3Config) *S3ImageStore {
	return newS3ImageStore(cfg.Client, cfg.BucketName)
}

func newS3ImageStore(client s3API, bucket string) *S3ImageStore {
	return &S3ImageStore{
		client: client,
		bucket: bucket,
		log:    logrus.WithField("component", "s3_image_store"),
	}
}

// Put uploads data under key
func (s *S3ImageStore) Put(ctx context.Context, key, mimeType string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(mimeType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}
	s.log.WithFields(logrus.Fields{"key": key, "bytes": len(data)}).Debug("Uploaded image")
	return nil
}

// Get downloads the image stored under key
func (s *S3ImageStore) Get(ctx context.Context, key string) ([]byte, string, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, "", ErrImageNotFound
		}
		return nil, "", fmt.Errorf("failed to download from S3: %w", err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image data: %w", err)
	}
	return data, aws.ToString(out.ContentType), nil
}

// Delete removes the image stored under key
func (s *S3ImageStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete from S3: %w", err)
	}
	return nil
}

// ExpireAfter installs a lifecycle rule deleting meal images days after
// upload, so images of sessions that simply time out do not pile up. It
// replaces the bucket's lifecycle configuration.
func (s *S3ImageStore) ExpireAfter(ctx context.Context, days int32) error {
	_, err := s.client.PutBucketLifecycleConfiguration(ctx, &s3.PutBucketLifecycleConfigurationInput{
		Bucket: aws.String(s.bucket),
		LifecycleConfiguration: &types.BucketLifecycleConfiguration{
			Rules: []types.LifecycleRule{{
				ID:         aws.String(lifecycleRuleID),
				Status:     types.ExpirationStatusEnabled,
				Filter:     &types.LifecycleRuleFilterMemberPrefix{Value: imageKeyPrefix + "/"},
				Expiration: &types.LifecycleExpiration{Days: aws.Int32(days)},
			}},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to set bucket lifecycle: %w", err)
	}
	s.log.WithFields(logrus.Fields{"bucket": s.bucket, "days": days}).Info("Meal images expire through bucket lifecycle")
	return nil
}

func redisImageKey(key string) string {
	return redisImageKeyPrefix + key
}

// RedisImageStore keeps images in Redis next to the sessions referencing
// them. Entries expire with the session TTL, which RedisSessionStore
// refreshes on every write of the owning session.
type RedisImageStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisImageStore creates a Redis backed image store
func NewRedisImageStore(client *redis.Client, ttl time.Duration) *RedisImageStore {
	return &RedisImageStore{client: client, ttl: ttl}
}

func (r *RedisImageStore) Put(ctx context.Context, key, mimeType string, data []byte) error {
	k := redisImageKey(key)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, k, "mime_type", mimeType, "data", data)
		if r.ttl > 0 {
			pipe.Expire(ctx, k, r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store image: %w", err)
	}
	return nil
}

func (r *RedisImageStore) Get(ctx context.Context, key string) ([]byte, string, error) {
	fields, err := r.client.HGetAll(ctx, redisImageKey(key)).Result()
	if err != nil {
		return nil, "", fmt.Errorf("failed to load image: %w", err)
	}
	data, ok := fields["data"]
	if !ok {
		return nil, "", ErrImageNotFound
	}
	return []byte(data), fields["mime_type"], nil
}

func (r *RedisImageStore) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, redisImageKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete image: %w", err)
	}
	return nil
}

type storedImage struct {
	mimeType string
	data     []byte
}

// MemoryImageStore keeps images in process memory
type MemoryImageStore struct {
	mu     sync.RWMutex
	images map[string]storedImage
}

// NewMemoryImageStore creates an empty in-memory image store
func NewMemoryImageStore() *MemoryImageStore {
	return &MemoryImageStore{images: make(map[string]storedImage)}
}

func (m *MemoryImageStore) Put(_ context.Context, key, mimeType string, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.images[key] = storedImage{mimeType: mimeType, data: cp}
	return nil
}

func (m *MemoryImageStore) Get(_ context.Context, key string) ([]byte, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	img, ok := m.images[key]
	if !ok {
		return nil, "", ErrImageNotFound
	}
	return img.data, img.mimeType, nil
}

func (m *MemoryImageStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.images, key)
	return nil
}

// Len returns the number of stored images
func (m *MemoryImageStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.images)
}
