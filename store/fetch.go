package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	aws_config "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const s3Scheme = "s3://"

// S3Config holds the connection settings for remote record stores.
type S3Config struct {
	EndpointURL     string `env:"S3_ENDPOINT_URL"`
	AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	Region          string `env:"AWS_REGION" envDefault:"us-east-1"`
}

// ParseS3Source splits an s3://bucket/key source. ok is false for anything
// that is not an S3 URL.
func ParseS3Source(source string) (bucket, key string, ok bool) {
	if !strings.HasPrefix(source, s3Scheme) {
		return "", "", false
	}
	rest := strings.TrimPrefix(source, s3Scheme)
	bucket, key, found := strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}

// Downloader fetches remote record stores.
type Downloader struct {
	downloader *manager.Downloader
}

// NewDownloader builds an S3 client from cfg. A non-empty EndpointURL
// selects path-style addressing, which S3-compatible servers such as MinIO
// require.
func NewDownloader(ctx context.Context, cfg S3Config) (*Downloader, error) {
	opts := []func(*aws_config.LoadOptions) error{
		aws_config.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, aws_config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := aws_config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			o.UsePathStyle = true
		}
	})

	return &Downloader{downloader: manager.NewDownloader(client)}, nil
}

// Resolve returns a local path for source. Local paths are returned as is.
// S3 sources are downloaded into cacheDir once; an existing cached copy is
// reused.
func (d *Downloader) Resolve(ctx context.Context, source, cacheDir string) (string, error) {
	bucket, key, ok := ParseS3Source(source)
	if !ok {
		return source, nil
	}

	dest := filepath.Join(cacheDir, bucket, filepath.FromSlash(key))
	if _, err := os.Stat(dest); err == nil {
		slog.Info("using cached record store", "source", source, "path", dest)
		return dest, nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), os.ModePerm); err != nil {
		return "", fmt.Errorf("failed to create directory for download %s: %w", filepath.Dir(dest), err)
	}

	tmp := dest + ".partial"
	file, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("failed to create file %s: %w", tmp, err)
	}

	n, err := d.downloader.Download(ctx, file, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	closeErr := file.Close()
	if err != nil {
		os.Remove(tmp) //nolint:errcheck
		return "", fmt.Errorf("failed to download record store from %s: %w", source, err)
	}
	if closeErr != nil {
		return "", fmt.Errorf("failed to close %s: %w", tmp, closeErr)
	}

	if err := os.Rename(tmp, dest); err != nil {
		return "", fmt.Errorf("failed to move %s into place: %w", tmp, err)
	}

	slog.Info("record store downloaded", "source", source, "path", dest, "bytes", n)
	return dest, nil
}
