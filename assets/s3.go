package assets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// s3API is the subset of the S3 client used by S3Store.
type s3API interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Store publishes objects to an S3 bucket under prefix + key.
type S3Store struct {
	client    s3API
	bucket    string
	prefix    string
	publicURL string
	log       *slog.Logger
}

// S3Config configures an S3Store.
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string // Optional custom endpoint (MinIO, LocalStack)
	Prefix    string // Optional key prefix, e.g. "images/"
	PublicURL string // Base URL objects are served from; derived when empty
}

// NewS3Store loads the default AWS configuration and creates a store.
func NewS3Store(ctx context.Context, cfg S3Config, logger *slog.Logger) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Store(client, cfg, logger), nil
}

func newS3Store(client s3API, cfg S3Config, logger *slog.Logger) *S3Store {
	if logger == nil {
		logger = slog.Default()
	}
	publicURL := cfg.PublicURL
	if publicURL == "" {
		switch {
		case cfg.Endpoint != "":
			publicURL = strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.Bucket
		default:
			publicURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
		}
	}
	return &S3Store{
		client:    client,
		bucket:    cfg.Bucket,
		prefix:    cfg.Prefix,
		publicURL: publicURL,
		log:       logger.With("component", "assets", "backend", "s3", "bucket", cfg.Bucket),
	}
}

// Upload puts obj unless an object with the same key already exists.
func (s *S3Store) Upload(ctx context.Context, obj Object) (string, error) {
	if err := obj.validate(); err != nil {
		return "", err
	}
	key, _ := obj.Key()
	objectKey := s.prefix + key

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	})
	if err == nil {
		s.log.Debug("asset already published", "key", objectKey, "hash", obj.Hash)
		return joinURL(s.publicURL, objectKey), nil
	}
	var notFound *types.NotFound
	if !errors.As(err, &notFound) {
		s.log.Debug("s3 head failed, uploading anyway", "key", objectKey, "error", err)
	}

	contentType := obj.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(s.bucket),
		Key:          aws.String(objectKey),
		Body:         bytes.NewReader(obj.Data),
		ContentType:  aws.String(contentType),
		CacheControl: aws.String("public, max-age=31536000, immutable"),
		Metadata:     map[string]string{"content-hash": obj.Hash},
	})
	if err != nil {
		return "", fmt.Errorf("s3 put %s: %w", objectKey, err)
	}
	s.log.Debug("asset published", "key", objectKey, "hash", obj.Hash, "size", len(obj.Data))
	return joinURL(s.publicURL, objectKey), nil
}

// Delete removes key from the bucket.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.prefix + key),
	})
	if err != nil {
		return fmt.Errorf("s3 delete %s: %w", key, err)
	}
	return nil
}
