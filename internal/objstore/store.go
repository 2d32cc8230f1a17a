// Package objstore is the object store used by the content lifecycle engine.
//
// [Store] is the narrow set of operations the engine issues: copy, list, put
// and delete. [S3] implements it against Amazon S3; every call is a single
// SDK request so each operation is atomic on its own, there is no
// multi-object transaction.
package objstore

import (
	"context"
	"time"
)

// Object is one listing entry.
type Object struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
	ETag         string    `json:"etag,omitempty"`
}

// ListResult holds a bounded listing. Truncated is set when more keys exist
// past the cap.
type ListResult struct {
	Objects   []Object
	Truncated bool
}

// CopyInput copies SrcBucket/SrcKey to Bucket/Key replacing the user metadata.
type CopyInput struct {
	SrcBucket string
	SrcKey    string
	Bucket    string
	Key       string
	Metadata  map[string]string
}

type Store interface {
	Copy(ctx context.Context, in CopyInput) error
	List(ctx context.Context, bucket, prefix string, max int32) (ListResult, error)
	PutEmpty(ctx context.Context, bucket, key string) error
	Delete(ctx context.Context, bucket, key string) error
}
