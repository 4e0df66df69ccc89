package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/repub/registry/pkg/apierr"
)

// S3Config configures the S3-compatible backend.
type S3Config struct {
	Endpoint       string
	Region         string
	Bucket         string
	AccessKey      string
	SecretKey      string
	UsePathStyle   bool
	SignedURLTTL   time.Duration
}

// S3Store implements Store against an S3-compatible object store. Safe
// to share across processes.
type S3Store struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	ttl     time.Duration
}

// NewS3Store creates an S3-backed blob store.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	var awsCfg aws.Config
	var err error

	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsCfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(cfg.Region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKey, cfg.SecretKey, "",
			)),
		)
	} else {
		awsCfg, err = config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.UsePathStyle {
			o.UsePathStyle = true
		}
	})

	ttl := cfg.SignedURLTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	return &S3Store{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
		ttl:     ttl,
	}, nil
}

func (s *S3Store) EnsureReady(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		return nil
	}
	_, err = s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil && !isBucketAlreadyExists(err) {
		return fmt.Errorf("failed to ensure bucket exists: %w", err)
	}
	return nil
}

func (s *S3Store) PutArchive(ctx context.Context, key string, data []byte) error {
	exists, err := s.Exists(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		// content-addressed: identical content already present, no-op.
		return nil
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/gzip"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload archive to s3: %w", err)
	}
	return nil
}

func (s *S3Store) GetArchive(ctx context.Context, key string) ([]byte, error) {
	rc, err := s.OpenArchive(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive body: %w", err)
	}
	return data, nil
}

func (s *S3Store) OpenArchive(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, apierr.New(apierr.NotFound, "archive not found")
		}
		return nil, fmt.Errorf("failed to get archive from s3: %w", err)
	}
	return out.Body, nil
}

func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check archive existence: %w", err)
	}
	return true, nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete archive: %w", err)
	}
	return nil
}

func (s *S3Store) DownloadURL(ctx context.Context, key string) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.ttl))
	if err != nil {
		return "", fmt.Errorf("failed to presign download url: %w", err)
	}
	return req.URL, nil
}

func (s *S3Store) HealthCheck(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		return fmt.Errorf("s3 blob store health check failed: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	var nf *types.NoSuchKey
	if errors.As(err, &nf) {
		return true
	}
	var nb *types.NotFound
	if errors.As(err, &nb) {
		return true
	}
	return strings.Contains(err.Error(), "NotFound") || strings.Contains(err.Error(), "NoSuchKey")
}

func isBucketAlreadyExists(err error) bool {
	return strings.Contains(err.Error(), "BucketAlreadyExists") ||
		strings.Contains(err.Error(), "BucketAlreadyOwnedByYou")
}

var _ Store = (*S3Store)(nil)
