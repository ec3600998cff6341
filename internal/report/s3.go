package report

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config configures the optional report upload.
type S3Config struct {
	Bucket          string
	Prefix          string // key prefix, e.g. "reports/log_sorting/"
	Region          string // default us-east-1
	Endpoint        string // optional; custom endpoint such as MinIO
	PathStyle       bool
	AccessKeyID     string // optional; falls back to the default chain
	SecretAccessKey string
}

// s3PutAPI is the subset of *s3.Client the sink uses.
type s3PutAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink uploads finished reports.
type S3Sink struct {
	client s3PutAPI
	bucket string
	prefix string
}

// NewS3Sink builds an S3 client from cfg. optFns are applied to the client
// options after cfg, which lets callers swap the HTTP client.
func NewS3Sink(ctx context.Context, cfg S3Config, optFns ...func(*s3.Options)) (*S3Sink, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("report: s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("report: aws config: %w", err)
	}

	opts := append([]func(*s3.Options){func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}}, optFns...)
	client := s3.NewFromConfig(awsCfg, opts...)
	return &S3Sink{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Key returns the object key a local file is uploaded under.
func (s *S3Sink) Key(localPath string) string {
	base := filepath.Base(localPath)
	if s.prefix == "" {
		return base
	}
	return path.Join(strings.TrimSuffix(s.prefix, "/"), base)
}

// Upload puts the file at localPath and returns its key. sum is attached as
// object metadata.
func (s *S3Sink) Upload(ctx context.Context, localPath string, sum Summary) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("report: open for upload: %w", err)
	}
	defer f.Close()

	key := s.Key(localPath)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String("text/csv"),
		Metadata: map[string]string{
			"rows":     fmt.Sprint(sum.Rows),
			"checksum": sum.ChecksumHex(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("report: put s3://%s/%s: %w", s.bucket, key, err)
	}
	return key, nil
}
