// Package archive copies finished executions to blob storage once their
// retention period has passed
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kode4food/timebox"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/kode4food/tollgate/pkg/api"

	_ "gocloud.dev/blob/azureblob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
)

type (
	// Record is the archived form of one execution: its final state, the
	// records of its callbacks, and the journal events behind both
	Record struct {
		ArchivedAt time.Time             `json:"archived_at"`
		Execution  *api.ExecutionState   `json:"execution"`
		Callbacks  []*api.CallbackRecord `json:"callbacks"`
		Events     []*timebox.Event      `json:"events"`
	}

	// BlobArchiver writes Records to a gocloud.dev bucket, supporting S3,
	// GCS, Azure Blob Storage, local files, and memory
	BlobArchiver struct {
		bucket *blob.Bucket
		prefix string
	}
)

var (
	ErrNotFound      = errors.New("archived execution not found")
	ErrInvalidRecord = errors.New("archive record requires an execution")
)

// NewBlobArchiver opens the bucket at bucketURL. Every key is written under
// prefix
func NewBlobArchiver(
	ctx context.Context, bucketURL, prefix string,
) (*BlobArchiver, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, err
	}
	return &BlobArchiver{bucket: bucket, prefix: prefix}, nil
}

// Archive writes the record and returns the key it was stored under.
// Archiving the same execution again overwrites the earlier copy
func (a *BlobArchiver) Archive(
	ctx context.Context, rec *Record,
) (string, error) {
	if rec == nil || !rec.Execution.Exists() {
		return "", ErrInvalidRecord
	}
	key := a.keyFor(rec.Execution.ID)
	data, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	opts := &blob.WriterOptions{ContentType: "application/json"}
	if err := a.bucket.WriteAll(ctx, key, data, opts); err != nil {
		return "", err
	}
	return key, nil
}

// Get reads back an archived execution
func (a *BlobArchiver) Get(
	ctx context.Context, id api.ExecutionID,
) (*Record, error) {
	data, err := a.bucket.ReadAll(ctx, a.keyFor(id))
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Delete removes an archived execution. Missing keys are not an error
func (a *BlobArchiver) Delete(ctx context.Context, id api.ExecutionID) error {
	err := a.bucket.Delete(ctx, a.keyFor(id))
	if err != nil && gcerrors.Code(err) == gcerrors.NotFound {
		return nil
	}
	return err
}

// Close releases the bucket
func (a *BlobArchiver) Close() error {
	return a.bucket.Close()
}

func (a *BlobArchiver) keyFor(id api.ExecutionID) string {
	return a.prefix + "executions/" + string(id) + ".json"
}
