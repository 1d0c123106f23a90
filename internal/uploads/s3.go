package uploads

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type S3Config struct {
	Bucket string
	Region string
	Prefix string
	// BaseURL replaces the bucket's virtual-hosted URL in returned links,
	// e.g. a CDN in front of the bucket.
	BaseURL string
}

// putObjectAPI is the subset of *s3.Client the storage needs.
type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Storage stores uploads in an S3 bucket.
type S3Storage struct {
	client  putObjectAPI
	bucket  string
	prefix  string
	baseURL string
}

func NewS3Storage(ctx context.Context, cfg S3Config) (*S3Storage, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return newS3Storage(s3.NewFromConfig(awsCfg), bucket, region, cfg.Prefix, cfg.BaseURL), nil
}

func newS3Storage(client putObjectAPI, bucket, region, prefix, baseURL string) *S3Storage {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", bucket, region)
	}
	return &S3Storage{
		client:  client,
		bucket:  bucket,
		prefix:  strings.Trim(prefix, "/"),
		baseURL: baseURL,
	}
}

func (s *S3Storage) Put(ctx context.Context, name string, body io.Reader, size int64, mimeType string) (string, error) {
	key := s.objectKey(name)
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(mimeType),
	}
	if size >= 0 {
		input.ContentLength = aws.Int64(size)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("s3 put object: %w", err)
	}
	return s.baseURL + "/" + key, nil
}

func (s *S3Storage) objectKey(name string) string {
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}
