// Package s3store implements an S3-backed blob store for cache snapshots.
// Each namespace maps to one object key under a configurable prefix, so a
// bucket can be shared by multiple deployments.
package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/poolcache/poolcache/pkg/types"
)

// Config holds the S3 connection settings.
type Config struct {
	Bucket string
	Region string

	// Prefix is prepended to every object key. Defaults to "poolcache".
	Prefix string

	// Endpoint overrides the AWS endpoint for S3-compatible stores such as
	// MinIO. Custom endpoints use path-style addressing.
	Endpoint string

	// Static credentials. When empty the default AWS credential chain is
	// used.
	AccessKeyID     string
	SecretAccessKey string
}

// client is the slice of the S3 API the store uses. Tests substitute a fake.
type client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Store persists blobs as S3 objects.
type Store struct {
	client client
	bucket string
	prefix string
	logger *slog.Logger
}

// New connects to S3 using the default credential chain, optionally
// overridden by static credentials or a custom endpoint from cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3store: bucket is required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3store: failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return newWithClient(s3Client, cfg), nil
}

func newWithClient(c client, cfg Config) *Store {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "poolcache"
	}
	return &Store{
		client: c,
		bucket: cfg.Bucket,
		prefix: prefix,
		logger: slog.Default().With("component", "s3store", "bucket", cfg.Bucket),
	}
}

// ReadBlob returns the object for a namespace, or types.ErrBlobNotFound when
// the object does not exist.
func (s *Store) ReadBlob(ctx context.Context, namespace string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(namespace)),
	})
	if err != nil {
		var notFound *s3types.NoSuchKey
		if errors.As(err, &notFound) {
			return nil, types.ErrBlobNotFound
		}
		return nil, fmt.Errorf("s3store: get %s: %w", namespace, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3store: read %s: %w", namespace, err)
	}
	return data, nil
}

// WriteBlob replaces the object for a namespace.
func (s *Store) WriteBlob(ctx context.Context, namespace string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.objectKey(namespace)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("s3store: put %s: %w", namespace, err)
	}
	return nil
}

func (s *Store) objectKey(namespace string) string {
	return path.Join(s.prefix, namespace) + ".json"
}
