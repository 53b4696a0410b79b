package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/makeasinger/stemsplit/internal/config"
	"github.com/makeasinger/stemsplit/internal/model"
)

// ObjectStore defines the interface for bucket/key object storage operations
type ObjectStore interface {
	Put(ctx context.Context, bucket, key string, data []byte, contentType string) error
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Remove(ctx context.Context, bucket, key string) error
	Stat(ctx context.Context, bucket, key string) (bool, error)
	BucketExists(ctx context.Context, bucket string) (bool, error)
	CreateBucket(ctx context.Context, bucket string) error
}

// S3Client implements ObjectStore for MinIO and other S3-compatible stores
type S3Client struct {
	s3Client *s3.Client
	endpoint string
}

// NewS3Client creates a new S3 storage client
func NewS3Client(cfg *config.StorageConfig) (*S3Client, error) {
	if cfg.Endpoint == "" || cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("storage configuration incomplete")
	}

	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}
	endpoint := fmt.Sprintf("%s://%s", scheme, cfg.Endpoint)

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)),
		awsconfig.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		// MinIO serves buckets under the path, not as subdomains
		o.UsePathStyle = true
	})

	return &S3Client{
		s3Client: s3Client,
		endpoint: endpoint,
	}, nil
}

// Put uploads an object, replacing any existing object under the same key
func (c *S3Client) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
	}

	if _, err := c.s3Client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("%w: failed to upload %s/%s: %w", model.ErrStorage, bucket, key, err)
	}

	return nil
}

// Get downloads an object
func (c *S3Client) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	out, err := c.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, c.classify(err, "download", bucket, key)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %s/%s: %w", model.ErrStorage, bucket, key, err)
	}

	return data, nil
}

// Remove deletes an object. Missing objects are reported as model.ErrNotFound;
// S3 itself treats deletes of missing keys as success, so a HEAD runs first.
func (c *S3Client) Remove(ctx context.Context, bucket, key string) error {
	exists, err := c.Stat(ctx, bucket, key)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s/%s", model.ErrNotFound, bucket, key)
	}

	_, err = c.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return c.classify(err, "delete", bucket, key)
	}

	return nil
}

// Stat reports whether an object exists
func (c *S3Client) Stat(ctx context.Context, bucket, key string) (bool, error) {
	_, err := c.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: failed to stat %s/%s: %w", model.ErrStorage, bucket, key, err)
	}
	return true, nil
}

// BucketExists reports whether the bucket exists
func (c *S3Client) BucketExists(ctx context.Context, bucket string) (bool, error) {
	_, err := c.s3Client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: failed to check bucket %s: %w", model.ErrStorage, bucket, err)
	}
	return true, nil
}

// CreateBucket creates the bucket. A bucket already owned by the caller is not an error.
func (c *S3Client) CreateBucket(ctx context.Context, bucket string) error {
	_, err := c.s3Client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "BucketAlreadyOwnedByYou" {
			return nil
		}
		return fmt.Errorf("%w: failed to create bucket %s: %w", model.ErrStorage, bucket, err)
	}
	return nil
}

// Endpoint returns the resolved endpoint URL
func (c *S3Client) Endpoint() string {
	return c.endpoint
}

// EnsureBucket creates the bucket if it does not exist yet
func EnsureBucket(ctx context.Context, store ObjectStore, bucket string) error {
	exists, err := store.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return store.CreateBucket(ctx, bucket)
}

func (c *S3Client) classify(err error, op, bucket, key string) error {
	if isNotFound(err) {
		return fmt.Errorf("%w: %s/%s", model.ErrNotFound, bucket, key)
	}
	return fmt.Errorf("%w: failed to %s %s/%s: %w", model.ErrStorage, op, bucket, key, err)
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "NoSuchKey", "NotFound", "NoSuchBucket":
		return true
	}
	return false
}
