package services

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"convertd/config"
)

// S3Exporter implements the engine's external-storage collaborator on top
// of S3. A "folder" is a key prefix; the artifact id is the object key.
type S3Exporter struct {
	client   *s3.S3
	uploader *s3manager.Uploader
	bucket   string
}

func NewS3Exporter(cfg *config.Config) *S3Exporter {
	awsCfg := &aws.Config{
		Region: aws.String(cfg.S3Region),
		Credentials: credentials.NewStaticCredentials(
			cfg.S3AccessKey,
			cfg.S3SecretKey,
			"",
		),
	}

	if cfg.S3Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.S3Endpoint)
	}

	if cfg.S3UsePathStyle {
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}

	sess := session.Must(session.NewSession(awsCfg))

	return &S3Exporter{
		client:   s3.New(sess),
		uploader: s3manager.NewUploader(sess),
		bucket:   cfg.S3Bucket,
	}
}

// EnsureFolder returns the key prefix for the named folder. S3 has no
// real directories, so this never needs a remote call.
func (s *S3Exporter) EnsureFolder(_ context.Context, name string) (string, error) {
	prefix := strings.Trim(name, "/")
	if prefix == "" {
		return "", fmt.Errorf("empty export folder name")
	}
	return prefix + "/", nil
}

func (s *S3Exporter) Upload(ctx context.Context, folderID, filename string, body io.Reader, contentType string) (string, error) {
	key := folderID + filename

	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}

	return key, nil
}

func (s *S3Exporter) Delete(ctx context.Context, fileID string) error {
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(fileID),
	})
	if err != nil {
		return fmt.Errorf("failed to delete from S3: %w", err)
	}
	return nil
}
