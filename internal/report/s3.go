package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/steveyegge/polyrev/internal/types"
)

// S3Config locates the bucket reports are uploaded to.
type S3Config struct {
	Bucket    string `yaml:"bucket" validate:"required"`
	Prefix    string `yaml:"prefix"` // Key prefix, e.g. "polyrev/2026-03-14"
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"` // S3-compatible endpoint (MinIO, LocalStack)
	PathStyle bool   `yaml:"path_style"`
}

// PutObjectAPI is the subset of the S3 client used for uploads.
type PutObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink uploads the same artifacts DirSink writes locally.
type S3Sink struct {
	client PutObjectAPI
	bucket string
	prefix string
}

// NewS3Sink builds a client from the default AWS credential chain.
func NewS3Sink(ctx context.Context, cfg S3Config) (*S3Sink, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})
	return NewS3SinkWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewS3SinkWithClient uses an existing client.
func NewS3SinkWithClient(client PutObjectAPI, bucket, prefix string) *S3Sink {
	return &S3Sink{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3Sink) Write(ctx context.Context, result *types.JobResult) error {
	if err := s.put(ctx, result.JobID+".md", []byte(RenderJob(result)), "text/markdown"); err != nil {
		return err
	}
	if len(result.Findings) == 0 {
		return nil
	}
	data, err := json.MarshalIndent(findingRecords(result), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode findings for %s: %w", result.JobID, err)
	}
	return s.put(ctx, result.JobID+".findings.json", data, "application/json")
}

func (s *S3Sink) WriteSummary(ctx context.Context, summary *Summary) error {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	if err := s.put(ctx, "summary.json", data, "application/json"); err != nil {
		return err
	}
	return s.put(ctx, "summary.md", []byte(RenderSummary(summary)), "text/markdown")
}

func (s *S3Sink) put(ctx context.Context, name string, body []byte, contentType string) error {
	key := path.Join(s.prefix, name)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}
