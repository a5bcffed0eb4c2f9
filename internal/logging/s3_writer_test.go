package logging

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inference_gateway/internal/models"
)

type fakeS3 struct {
	inputs []*s3.PutObjectInput
	bodies [][]byte
	err    error
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.inputs = append(f.inputs, in)
	f.bodies = append(f.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

func TestS3Writer_WriteBatch(t *testing.T) {
	client := &fakeS3{}
	w := NewS3WriterWithClient(client, "usage-archive", "usage/", "gateway-0")
	w.now = func() time.Time { return time.Date(2025, 11, 30, 14, 30, 22, 123456789, time.UTC) }

	keyID := uuid.New()
	records := []UsageExport{
		{UsageRecord: models.UsageRecord{ID: uuid.New(), APIKeyID: keyID, Endpoint: "/api/v1/chat/completions", Status: models.UsageSuccess, Tokens: 12}, APIKeyName: "prod"},
		{UsageRecord: models.UsageRecord{ID: uuid.New(), APIKeyID: keyID, Endpoint: "/api/v1/models", Status: models.UsageError}, APIKeyName: "prod"},
	}

	key, err := w.WriteBatch(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, "usage/2025/11/30/gateway-0-20251130-143022-123456789.jsonl", key)

	require.Len(t, client.inputs, 1)
	assert.Equal(t, "usage-archive", aws.ToString(client.inputs[0].Bucket))
	assert.Equal(t, "application/x-ndjson", aws.ToString(client.inputs[0].ContentType))

	sc := bufio.NewScanner(bytes.NewReader(client.bodies[0]))
	var lines []map[string]any
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		lines = append(lines, m)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "/api/v1/chat/completions", lines[0]["endpoint"])
	assert.Equal(t, "prod", lines[0]["apiKeyName"])
	assert.Equal(t, "error", lines[1]["status"])
}

func TestS3Writer_EmptyBatch(t *testing.T) {
	client := &fakeS3{}
	w := NewS3WriterWithClient(client, "b", "p/", "pod")

	key, err := w.WriteBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, key)
	assert.Empty(t, client.inputs)
}

func TestS3Writer_UploadFailure(t *testing.T) {
	w := NewS3WriterWithClient(&fakeS3{err: errors.New("access denied")}, "b", "p/", "pod")

	_, err := w.WriteBatch(context.Background(), []UsageExport{{UsageRecord: models.UsageRecord{ID: uuid.New()}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}
