// Package objects stores user-facing binary objects (profile pictures) in
// S3-compatible object storage.
package objects

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/xdeploy/xdeploy/pkg/apierror"
)

// MaxAvatarBytes is the upload size limit for profile pictures.
const MaxAvatarBytes = 5 << 20

// Config configures the object storage client. Endpoint and path style
// support MinIO in local development.
type Config struct {
	Bucket       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// s3API is the slice of the S3 client the store uses. Faked in tests.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Store uploads and serves profile pictures.
type Store struct {
	client s3API
	bucket string
}

// NewStore creates the object store client. Static credentials are used
// when provided, the default AWS chain otherwise.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	var awsCfg aws.Config
	var err error

	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKey, cfg.SecretKey, "",
			)),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	}
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.UsePathStyle {
			o.UsePathStyle = true
		}
	})

	return &Store{client: client, bucket: cfg.Bucket}, nil
}

// avatarKey is the fixed object key per user; a new upload replaces the
// previous picture.
func avatarKey(userID string) string {
	return "avatars/" + userID
}

// PutAvatar validates and stores a user's profile picture.
func (s *Store) PutAvatar(ctx context.Context, userID string, r io.Reader) error {
	data, err := io.ReadAll(io.LimitReader(r, MaxAvatarBytes+1))
	if err != nil {
		return apierror.Internal(fmt.Errorf("read upload: %w", err))
	}
	if len(data) == 0 {
		return apierror.Validation("empty upload")
	}
	if len(data) > MaxAvatarBytes {
		return apierror.Validation("profile picture exceeds 5 MiB")
	}

	contentType := http.DetectContentType(data)
	if contentType != "image/png" && contentType != "image/jpeg" {
		return apierror.Validation("profile picture must be PNG or JPEG")
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(avatarKey(userID)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return apierror.Upstream("object storage unavailable", err)
	}
	return nil
}

// GetAvatar streams a user's profile picture and its content type.
func (s *Store) GetAvatar(ctx context.Context, userID string) (io.ReadCloser, string, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(avatarKey(userID)),
	})
	if err != nil {
		return nil, "", apierror.NotFound("profile picture not found")
	}
	contentType := ""
	if out.ContentType != nil {
		contentType = *out.ContentType
	}
	return out.Body, contentType, nil
}

// DeleteAvatar removes a user's profile picture.
func (s *Store) DeleteAvatar(ctx context.Context, userID string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(avatarKey(userID)),
	})
	if err != nil {
		return apierror.Upstream("object storage unavailable", err)
	}
	return nil
}
