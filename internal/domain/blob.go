package domain

import "context"

// JournalWriter archives finished execution records to object storage.
type JournalWriter interface {
	WriteRecord(ctx context.Context, rec ExecutionRecord) (key string, err error)
}
