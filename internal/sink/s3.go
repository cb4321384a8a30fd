// Package sink uploads retired job results to object storage.
package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/me/jobsys/pkg/model"
)

// PutObjectAPI is the part of the S3 client used by S3Sink.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Config configures the S3 sink.
type Config struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string // Custom endpoint for S3-compatible stores
	Profile         string
	AccessKeyID     string
	SecretAccessKey string
	ForcePathStyle  bool
}

// S3Sink writes every archived job as <prefix>/<type>/<id>.json.
type S3Sink struct {
	client PutObjectAPI
	bucket string
	prefix string
	logger *slog.Logger
}

// NewS3Sink builds a sink on top of an existing client.
func NewS3Sink(client PutObjectAPI, bucket, prefix string, logger *slog.Logger) (*S3Sink, error) {
	if bucket == "" {
		return nil, errors.New("s3 sink: bucket is required")
	}
	return &S3Sink{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		logger: logger.With("component", "s3-sink", "bucket", bucket),
	}, nil
}

// New loads AWS configuration from cfg and the environment and returns a
// sink backed by a real S3 client.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*S3Sink, error) {
	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("s3 sink: load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})
	return NewS3Sink(client, cfg.Bucket, cfg.Prefix, logger)
}

func loadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error

	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	return config.LoadDefaultConfig(ctx, opts...)
}

// Key returns the object key used for rec.
func (s *S3Sink) Key(rec model.ArchivedJob) string {
	name := fmt.Sprintf("%d.json", rec.ID)
	typeDir := strings.ToLower(rec.Type)
	if typeDir == "" {
		typeDir = "untyped"
	}
	if s.prefix == "" {
		return path.Join(typeDir, name)
	}
	return path.Join(s.prefix, typeDir, name)
}

// Archive uploads rec as an indented JSON document.
func (s *S3Sink) Archive(ctx context.Context, rec model.ArchivedJob) error {
	body, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("s3 sink: marshal job %d: %w", rec.ID, err)
	}

	key := s.Key(rec)
	size := int64(len(body))
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: &size,
		ContentType:   aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("s3 sink: put %s: %w", key, err)
	}
	s.logger.Debug("archived job", "job_id", rec.ID, "key", key)
	return nil
}
