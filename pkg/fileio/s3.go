package fileio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// s3API is the subset of *s3.Client used here.
type s3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3FileIO reads objects below an s3://bucket/prefix location.
type S3FileIO struct {
	client s3API
	bucket string
	prefix string
	closed atomic.Bool
}

// ParseS3Location splits "s3://bucket/prefix" into bucket and prefix. The
// prefix has no leading or trailing slash.
func ParseS3Location(location string) (bucket, prefix string, err error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", "", fmt.Errorf("parse location %q: %w", location, err)
	}
	if Scheme(location) != SchemeS3 || u.Host == "" {
		return "", "", fmt.Errorf("invalid s3 location %q", location)
	}
	return u.Host, strings.Trim(u.Path, "/"), nil
}

// NewS3FileIO creates an S3 client from the default AWS configuration chain
// plus opts, and roots a FileIO at location.
func NewS3FileIO(ctx context.Context, location string, opts S3Options) (*S3FileIO, error) {
	bucket, prefix, err := ParseS3Location(location)
	if err != nil {
		return nil, err
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if opts.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		})
	}
	if opts.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return newS3FileIO(s3.NewFromConfig(awsCfg, s3Opts...), bucket, prefix), nil
}

func newS3FileIO(client s3API, bucket, prefix string) *S3FileIO {
	return &S3FileIO{client: client, bucket: bucket, prefix: prefix}
}

// Bucket returns the bucket name.
func (s *S3FileIO) Bucket() string {
	return s.bucket
}

func (s *S3FileIO) key(name string) string {
	return strings.TrimPrefix(path.Join(s.prefix, clean(name)), "/")
}

// Open implements FileIO.
func (s *S3FileIO) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		if isNotFoundError(err) {
			return nil, fmt.Errorf("%w: s3://%s/%s", ErrNotFound, s.bucket, s.key(name))
		}
		return nil, fmt.Errorf("s3 get object: %w", err)
	}
	return out.Body, nil
}

// Exists implements FileIO.
func (s *S3FileIO) Exists(ctx context.Context, name string) (bool, error) {
	if s.closed.Load() {
		return false, ErrClosed
	}
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		if isNotFoundError(err) {
			return false, nil
		}
		return false, fmt.Errorf("s3 head object: %w", err)
	}
	return true, nil
}

// Close implements FileIO. The shared HTTP client is left to the SDK.
func (s *S3FileIO) Close() error {
	s.closed.Store(true)
	return nil
}

// isNotFoundError reports whether err means the object does not exist.
func isNotFoundError(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
