// Package blobstore wraps the S3 client behind the capability surface the
// rest of the service consumes: time-limited upload/download URLs plus
// direct object IO for the background workers.
package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"photoflow/internal/errs"
	"photoflow/internal/models"
)

// DefaultTTL bounds capabilities whose caller did not pick a lifetime.
const DefaultTTL = time.Hour

type Client struct {
	s3            *s3.Client
	presign       *s3.PresignClient
	bucket        string
	publicBaseURL string
}

func New(ctx context.Context, cfg models.S3Config) (*Client, error) {
	const op = "blobstore.New"

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, errs.Wrap(errs.KindStorageUnavailable, op, err)
	}

	client := s3.NewFromConfig(awsCfg)
	return &Client{
		s3:            client,
		presign:       s3.NewPresignClient(client),
		bucket:        cfg.Bucket,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
	}, nil
}

// IssueUploadURL mints a time-limited write capability for the given key.
func (c *Client) IssueUploadURL(ctx context.Context, key, mimeType string, ttl time.Duration) (string, error) {
	const op = "blobstore.IssueUploadURL"
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	req, err := c.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(mimeType),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = ttl
	})
	if err != nil {
		return "", errs.Wrap(errs.KindStorageUnavailable, op, err)
	}
	return req.URL, nil
}

// IssueDownloadURL mints a time-limited read capability for the given key.
func (c *Client) IssueDownloadURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	const op = "blobstore.IssueDownloadURL"
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	req, err := c.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = ttl
	})
	if err != nil {
		return "", errs.Wrap(errs.KindStorageUnavailable, op, err)
	}
	return req.URL, nil
}

// PublicURL is the stable, non-expiring address of an object, served off
// the configured CDN/base URL. Falls back to the key itself when no base
// is configured.
func (c *Client) PublicURL(key string) string {
	if c.publicBaseURL == "" {
		return key
	}
	return fmt.Sprintf("%s/%s", c.publicBaseURL, key)
}

func (c *Client) GetObject(ctx context.Context, key string) ([]byte, error) {
	const op = "blobstore.GetObject"
	out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindStorageUnavailable, op, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, errs.Wrap(errs.KindStorageUnavailable, op, err)
	}
	return data, nil
}

func (c *Client) PutObject(ctx context.Context, key string, data []byte, contentType string) error {
	const op = "blobstore.PutObject"
	_, err := c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return errs.Wrap(errs.KindStorageUnavailable, op, err)
	}
	return nil
}
