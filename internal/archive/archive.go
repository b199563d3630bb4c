// Package archive stores processed CSV extracts for audit. Files land on
// local disk by default; when a bucket is configured they go to S3 instead,
// so the audit trail survives host rotation.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"inss-case-tracker/internal/config"
)

// Uploader persists one archived extract and returns its location.
type Uploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// Archiver keys extracts by date and batch id.
type Archiver struct {
	uploader Uploader
}

// New picks the backend from config: S3 when a bucket is set, local disk
// otherwise.
func New(ctx context.Context, cfg config.Config) (*Archiver, error) {
	if cfg.ArchiveS3Bucket != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.ArchiveS3Region))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		client := s3.NewFromConfig(awsCfg)
		return &Archiver{uploader: &s3Uploader{client: client, bucket: cfg.ArchiveS3Bucket}}, nil
	}
	dir := filepath.Join(cfg.UploadDir, "archive")
	return &Archiver{uploader: &localUploader{baseDir: dir}}, nil
}

// NewWithUploader wires a custom backend, used by tests.
func NewWithUploader(u Uploader) *Archiver {
	return &Archiver{uploader: u}
}

// Store archives one processed extract under imports/YYYY/MM/DD/<batch>_<file>.
func (a *Archiver) Store(ctx context.Context, batchID, fileName string, body []byte, at time.Time) (string, error) {
	key := fmt.Sprintf("imports/%s/%s_%s", at.UTC().Format("2006/01/02"), batchID, sanitizeKey(fileName))
	loc, err := a.uploader.Upload(ctx, key, body, "text/csv")
	if err != nil {
		return "", fmt.Errorf("archive %s: %w", fileName, err)
	}
	return loc, nil
}

func sanitizeKey(key string) string {
	key = filepath.Clean(key)
	key = strings.TrimPrefix(key, string(filepath.Separator))
	key = strings.TrimPrefix(key, "./")
	return strings.ReplaceAll(key, string(filepath.Separator), "_")
}

type localUploader struct {
	baseDir string
}

func (l *localUploader) Upload(_ context.Context, key string, body []byte, _ string) (string, error) {
	path := filepath.Join(l.baseDir, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create dirs: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}

type s3Uploader struct {
	client *s3.Client
	bucket string
}

func (s *s3Uploader) Upload(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}
