package imagestore

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

var _ Store = (*S3Store)(nil)

// S3Options configures an S3 (or S3-compatible) bucket.
type S3Options struct {
	Region string
	Bucket string
	// Prefix is prepended to every object name, e.g. "posts/".
	Prefix string
	// Endpoint overrides the AWS endpoint for S3-compatible hosts
	// (MinIO, R2, ...). Usually paired with UsePathStyle.
	Endpoint     string
	UsePathStyle bool
	// AccessKey/SecretKey are optional; without them the default AWS
	// credential chain (env, shared config, instance role) is used.
	AccessKey string
	SecretKey string
	// PublicURL is the base URL objects are served from. Defaults to the
	// bucket's virtual-hosted S3 URL.
	PublicURL string
}

// s3API is the subset of *s3.Client the store calls.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Store keeps images in an S3 bucket.
type S3Store struct {
	client    s3API
	bucket    string
	prefix    string
	publicURL string
}

// NewS3Store loads AWS configuration and builds the S3 client.
func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("imagestore: S3 bucket is required")
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(opts.Region)}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("imagestore: loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	})

	publicURL := opts.PublicURL
	if publicURL == "" {
		publicURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", opts.Bucket, opts.Region)
	}

	return newS3Store(client, opts.Bucket, opts.Prefix, publicURL), nil
}

func newS3Store(client s3API, bucket, prefix, publicURL string) *S3Store {
	return &S3Store{
		client:    client,
		bucket:    bucket,
		prefix:    prefix,
		publicURL: strings.TrimRight(publicURL, "/"),
	}
}

func (s *S3Store) objectName(key string) string {
	return s.prefix + key + ".jpg"
}

func (s *S3Store) Upload(ctx context.Context, key string, jpeg []byte) (string, error) {
	name := s.objectName(key)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(name),
		Body:          bytes.NewReader(jpeg),
		ContentLength: aws.Int64(int64(len(jpeg))),
		ContentType:   aws.String("image/jpeg"),
		CacheControl:  aws.String("public, max-age=31536000, immutable"),
	})
	if err != nil {
		return "", fmt.Errorf("imagestore: uploading %s: %w", name, err)
	}
	return s.publicURL + "/" + name, nil
}

// Delete removes the object. S3 reports success for missing keys.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	name := s.objectName(key)
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(name),
	})
	if err != nil {
		return fmt.Errorf("imagestore: deleting %s: %w", name, err)
	}
	return nil
}
