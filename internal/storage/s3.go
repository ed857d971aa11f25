package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config holds S3/MinIO configuration
type S3Config struct {
	Endpoint        string // e.g., "http://localhost:9000" for MinIO
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	Region          string
	PublicURL       string // Public URL of the bucket (e.g., "http://localhost:9000/transcripts")
}

// TranscriptStorage archives conversation transcripts in an S3-compatible bucket
type TranscriptStorage struct {
	client    *s3.Client
	bucket    string
	publicURL string
	now       func() time.Time
}

// NewTranscriptStorage creates a new S3 transcript archive
func NewTranscriptStorage(cfg S3Config) *TranscriptStorage {
	client := s3.New(s3.Options{
		Region:       cfg.Region,
		BaseEndpoint: aws.String(cfg.Endpoint),
		Credentials: credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		),
		UsePathStyle: true, // Required for MinIO
	})

	return &TranscriptStorage{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
		now:       time.Now,
	}
}

// ArchiveOutput describes a stored transcript
type ArchiveOutput struct {
	Key        string    `json:"key"`
	URL        string    `json:"url"`
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// TranscriptKey is the object key of a deal's transcript exported at t
func TranscriptKey(dealID string, t time.Time) string {
	return fmt.Sprintf("deals/%s/transcript-%s.json", dealID, t.UTC().Format("20060102T150405Z"))
}

// Archive uploads a JSON transcript for a deal
func (s *TranscriptStorage) Archive(ctx context.Context, dealID string, body []byte) (*ArchiveOutput, error) {
	now := s.now()
	key := TranscriptKey(dealID, now)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String("application/json"),
		ContentLength: aws.Int64(int64(len(body))),
		Metadata:      map[string]string{"deal-id": dealID},
	})
	if err != nil {
		return nil, fmt.Errorf("uploading transcript to s3: %w", err)
	}

	return &ArchiveOutput{
		Key:        key,
		URL:        fmt.Sprintf("%s/%s", s.publicURL, key),
		Size:       int64(len(body)),
		UploadedAt: now,
	}, nil
}
