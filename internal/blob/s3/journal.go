package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// uploader is the part of manager.Uploader the journal uses.
type uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Journal implements domain.JournalWriter. Each terminal execution record
// becomes one JSON object keyed by day, outcome and id:
//
//	{prefix}/executions/2024/01/31/one_leg_filled/{id}.json
type Journal struct {
	up     uploader
	bucket string
	prefix string
}

// NewJournal creates a Journal writing to the client's bucket.
func NewJournal(c *Client) *Journal {
	return &Journal{
		up:     manager.NewUploader(c.s3),
		bucket: c.bucket,
		prefix: c.prefix,
	}
}

// WriteRecord uploads rec and returns its object key.
func (j *Journal) WriteRecord(ctx context.Context, rec domain.ExecutionRecord) (string, error) {
	if rec.ID == "" {
		return "", fmt.Errorf("s3blob: journal record without id")
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal record %s: %w", rec.ID, err)
	}

	key := j.recordKey(rec)
	_, err = j.up.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(j.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"condition-id": rec.ConditionID,
			"final-state":  string(rec.FinalState()),
		},
	})
	if err != nil {
		return "", fmt.Errorf("s3blob: upload %s: %w", key, err)
	}
	return key, nil
}

func (j *Journal) recordKey(rec domain.ExecutionRecord) string {
	at := rec.CompletedAt
	if at.IsZero() {
		at = rec.StartedAt
	}
	if at.IsZero() {
		at = time.Now()
	}
	outcome := string(rec.Result.Outcome)
	if outcome == "" {
		outcome = "unknown"
	}
	return path.Join(j.prefix, "executions", at.UTC().Format("2006/01/02"), outcome, rec.ID+".json")
}

// Compile-time interface check.
var _ domain.JournalWriter = (*Journal)(nil)
