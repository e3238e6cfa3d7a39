package storage

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// s3API is the part of the S3 client the media store calls
type s3API interface {
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3MediaStore removes user media (story images and clips) from an S3 bucket
// served through a CDN at baseURL.
type S3MediaStore struct {
	client  s3API
	bucket  string
	baseURL string
}

// NewS3MediaStore creates a media store using the default AWS credential chain
func NewS3MediaStore(region, bucket, baseURL string) (*S3MediaStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return newS3MediaStore(s3.NewFromConfig(cfg), bucket, baseURL), nil
}

func newS3MediaStore(client s3API, bucket, baseURL string) *S3MediaStore {
	return &S3MediaStore{
		client:  client,
		bucket:  bucket,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

// DeleteFile deletes one object by key
func (s *S3MediaStore) DeleteFile(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s from S3: %w", key, err)
	}
	return nil
}

// DeleteURL deletes the object behind a public media URL
func (s *S3MediaStore) DeleteURL(ctx context.Context, mediaURL string) error {
	key := KeyFromURL(s.baseURL, mediaURL)
	if key == "" {
		return fmt.Errorf("could not extract S3 key from URL: %s", mediaURL)
	}
	return s.DeleteFile(ctx, key)
}

// CheckBucketAccess verifies that we can access the S3 bucket
func (s *S3MediaStore) CheckBucketAccess(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return fmt.Errorf("cannot access S3 bucket %s: %w", s.bucket, err)
	}
	return nil
}

// KeyFromURL returns the object key of mediaURL.
// https://cdn.example.com/stories/u1/a.jpg -> stories/u1/a.jpg
// When baseURL is set and prefixes mediaURL the key is the remainder, otherwise it is
// the URL path. Returns "" when no key can be derived.
func KeyFromURL(baseURL, mediaURL string) string {
	baseURL = strings.TrimSuffix(baseURL, "/")
	if baseURL != "" && strings.HasPrefix(mediaURL, baseURL+"/") {
		return strings.TrimPrefix(mediaURL, baseURL+"/")
	}

	u, err := url.Parse(mediaURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.TrimPrefix(u.Path, "/")
}
