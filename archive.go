package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// Archiver uploads a completed job's building list to S3-compatible
// object storage (R2 in production) so results outlive the in-memory job
// map. It is optional: when no bucket is configured, NewArchiver returns
// a nil *Archiver and every method on it is a safe no-op, mirroring how
// the rest of the service treats the S3 client as an optional dependency.
type Archiver struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// NewArchiver builds an archiver from the given config. Returns (nil,
// nil) when no bucket is configured.
func NewArchiver(cfg ArchiveConfig) (*Archiver, error) {
	if cfg.Bucket == "" {
		return nil, nil
	}

	logger := slog.With("endpoint", cfg.Endpoint, "bucket", cfg.Bucket)
	logger.Info("initializing archive client")

	customResolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		if service == s3.ServiceID && cfg.Endpoint != "" {
			return aws.Endpoint{
				URL:           cfg.Endpoint,
				SigningRegion: cfg.Region,
			}, nil
		}
		return aws.Endpoint{}, &smithy.GenericAPIError{Code: "UnknownEndpoint"}
	})

	awsCfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		config.WithRegion(cfg.Region),
		config.WithEndpointResolverWithOptions(customResolver),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	return &Archiver{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   cfg.Bucket,
		prefix:   cfg.Prefix,
	}, nil
}

// Upload stores a completed job's building list as JSON under
// <prefix>/<jobID>.json. A nil receiver is a no-op, so callers do not
// need to guard every call site with an archiver-configured check.
func (a *Archiver) Upload(ctx context.Context, jobID string, buildings []Building) error {
	if a == nil {
		return nil
	}

	data, err := json.Marshal(buildings)
	if err != nil {
		return fmt.Errorf("marshaling job result: %w", err)
	}

	key := fmt.Sprintf("%s/%s.json", a.prefix, jobID)
	_, err = a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("uploading job result to archive: %w", err)
	}

	slog.Info("archived job result", "job_id", jobID, "key", key, "bytes", len(data), "at", time.Now().Format(time.RFC3339))
	return nil
}
