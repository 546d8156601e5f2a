// Package s3uploader copies diagnostic artifacts to an S3 bucket.
package s3uploader

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/gosom/gmaps-extractor/diagnostics"
)

var _ diagnostics.Uploader = (*Uploader)(nil)

type Config struct {
	AccessKey string `envconfig:"ACCESS_KEY"`
	SecretKey string `envconfig:"SECRET_KEY"`
	Region    string `envconfig:"REGION" default:"us-east-1"`
	// Endpoint overrides the AWS endpoint, e.g. for MinIO.
	Endpoint string `envconfig:"ENDPOINT"`
}

type Uploader struct {
	client *s3.Client
}

// New builds an uploader. Static credentials are used when both keys are
// set, otherwise the default AWS credential chain applies.
func New(ctx context.Context, c Config) (*Uploader, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(c.Region),
	}

	if c.AccessKey != "" && c.SecretKey != "" {
		creds := credentials.NewStaticCredentialsProvider(c.AccessKey, c.SecretKey, "")
		opts = append(opts, config.WithCredentialsProvider(creds))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if c.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Uploader{
		client: client,
	}, nil
}

func (u *Uploader) Upload(ctx context.Context, bucketName, key string, body io.Reader) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(bucketName),
		Key:    aws.String(key),
		Body:   body,
	}

	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		input.ContentType = aws.String(ct)
	}

	_, err := u.client.PutObject(ctx, input)
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", bucketName, key, err)
	}

	return nil
}
