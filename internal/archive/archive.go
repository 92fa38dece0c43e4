// Package archive keeps raw transcript copies in S3-compatible object
// storage. Imports work without it; the archive is a durability layer for
// re-processing transcripts later.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ErrNotFound is returned when a requested archive object does not exist.
var ErrNotFound = errors.New("archive: object not found")

// Store writes and reads transcript objects in one bucket.
type Store struct {
	s3Client *s3.Client
	bucket   string
}

// Config holds the object storage connection settings.
type Config struct {
	// Endpoint is the S3 endpoint URL. Leave empty for default AWS S3.
	Endpoint string
	// Region is the AWS region ("auto" for Tigris-style providers).
	Region string
	// AccessKeyID and SecretAccessKey are the static credentials.
	AccessKeyID     string
	SecretAccessKey string
	// Bucket is the archive bucket.
	Bucket string
	// UsePathStyle enables path-style addressing, required for gofakes3.
	UsePathStyle bool
}

// New creates a store against the configured endpoint.
func New(ctx context.Context, cfg Config) (*Store, error) {
	var opts []func(*config.LoadOptions) error
	opts = append(opts, config.WithRegion(cfg.Region))
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	sdkConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(sdkConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &Store{s3Client: s3Client, bucket: cfg.Bucket}, nil
}

// NewFromS3Client wraps an existing S3 client; used by tests with gofakes3.
func NewFromS3Client(s3Client *s3.Client, bucket string) *Store {
	return &Store{s3Client: s3Client, bucket: bucket}
}

// Key returns the object key for one meeting's transcript.
func Key(userID, meetingID string) string {
	return fmt.Sprintf("transcripts/%s/%s.txt", userID, meetingID)
}

// Archive stores a transcript and returns its object key. Implements the
// import service's Archiver contract.
func (s *Store) Archive(ctx context.Context, userID, meetingID, transcript string) (string, error) {
	key := Key(userID, meetingID)
	_, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader([]byte(transcript)),
		ContentType: aws.String("text/plain; charset=utf-8"),
	})
	if err != nil {
		return "", fmt.Errorf("archive transcript %q: %w", key, err)
	}
	return key, nil
}

// Get retrieves an archived transcript by key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	result, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		var notFound *types.NotFound
		if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get archived transcript %q: %w", key, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("read archived transcript %q: %w", key, err)
	}
	return data, nil
}

// Delete removes one archived transcript. Deleting a missing key is not an
// error.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete archived transcript %q: %w", key, err)
	}
	return nil
}
