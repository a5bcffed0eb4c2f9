package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"inference_gateway/internal/models"
	"inference_gateway/internal/utils"
)

// PutObjectAPI is the slice of the S3 client the writer needs
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// UsageExport is one archived ledger row with its key's display name.
type UsageExport struct {
	models.UsageRecord
	APIKeyName string `json:"apiKeyName,omitempty"`
	UserID     string `json:"userId,omitempty"`
}

// S3Writer archives usage ledger batches to S3 as JSON Lines
type S3Writer struct {
	client  PutObjectAPI
	bucket  string
	prefix  string
	podName string
	now     func() time.Time
	logger  *utils.Logger
}

// NewS3Writer creates a writer using the default AWS credential chain
func NewS3Writer(ctx context.Context, bucket, region, prefix, podName string) (*S3Writer, error) {
	if bucket == "" {
		return nil, fmt.Errorf("S3 bucket is required")
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewS3WriterWithClient(s3.NewFromConfig(cfg), bucket, prefix, podName), nil
}

// NewS3WriterWithClient creates a writer over an existing client
func NewS3WriterWithClient(client PutObjectAPI, bucket, prefix, podName string) *S3Writer {
	return &S3Writer{
		client:  client,
		bucket:  bucket,
		prefix:  prefix,
		podName: podName,
		now:     time.Now,
		logger:  utils.NewLogger("s3-writer"),
	}
}

// objectKey formats prefix/YYYY/MM/DD/<pod>-<timestamp>-<nanos>.jsonl in UTC
func (w *S3Writer) objectKey() string {
	now := w.now().UTC()
	return fmt.Sprintf("%s%04d/%02d/%02d/%s-%s-%d.jsonl",
		w.prefix,
		now.Year(),
		now.Month(),
		now.Day(),
		w.podName,
		now.Format("20060102-150405"),
		now.Nanosecond(),
	)
}

// WriteBatch uploads records as one object and returns its key. An empty
// batch writes nothing.
func (w *S3Writer) WriteBatch(ctx context.Context, records []UsageExport) (string, error) {
	if len(records) == 0 {
		return "", nil
	}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	for i := range records {
		if err := encoder.Encode(&records[i]); err != nil {
			return "", fmt.Errorf("failed to encode usage record %s: %w", records[i].ID, err)
		}
	}

	key := w.objectKey()
	_, err := w.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}

	w.logger.Info("Wrote usage batch to S3", "key", key, "count", len(records), "bytes", buf.Len())
	return key, nil
}
