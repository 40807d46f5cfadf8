// Package artifacts offloads execution screenshots to S3-compatible storage.
package artifacts

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Store uploads screenshot bytes and hands back a URL to reach them.
type Store struct {
	client    *s3.Client
	bucket    string
	publicURL string
}

type Config struct {
	// Endpoint overrides the AWS endpoint for S3-compatible services.
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	// PublicURL is the base used to build object links; when empty links
	// use the endpoint and bucket path.
	PublicURL string
	PathStyle bool
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	sdkConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(sdkConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	publicURL := cfg.PublicURL
	if publicURL == "" && cfg.Endpoint != "" {
		publicURL = strings.TrimSuffix(cfg.Endpoint, "/") + "/" + cfg.Bucket
	}
	return NewFromClient(client, cfg.Bucket, publicURL), nil
}

// NewFromClient wraps an existing client, e.g. one pointed at gofakes3.
func NewFromClient(client *s3.Client, bucket, publicURL string) *Store {
	return &Store{
		client:    client,
		bucket:    bucket,
		publicURL: strings.TrimSuffix(publicURL, "/"),
	}
}

// ScreenshotKey names the object holding a step's screenshot.
func ScreenshotKey(executionID string, stepIndex int, ext string) string {
	return fmt.Sprintf("executions/%s/step-%03d.%s", executionID, stepIndex+1, ext)
}

// PutScreenshot uploads data under key and returns its URL.
func (s *Store) PutScreenshot(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("artifacts: failed to put %q: %w", key, err)
	}
	return s.URL(key), nil
}

func (s *Store) URL(key string) string {
	if s.publicURL == "" {
		return "s3://" + s.bucket + "/" + strings.TrimPrefix(key, "/")
	}
	return s.publicURL + "/" + strings.TrimPrefix(key, "/")
}
