// Package testutil provides in-memory fakes for S3 version operations.
// It is internal and only meant for tests within this module.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// VersionedBucket is an in-memory, versioned S3 bucket implementing the
// ListObjectVersions and DeleteObjects calls.
//
// Entries are listed by key ascending, newest version first, which matches
// S3 ordering. ListErr/DeleteErr inject whole-call failures and FailKeys
// injects per-key errors into DeleteObjects responses.
type VersionedBucket struct {
	Name string

	// ListErr, when set, is returned by every ListObjectVersions call.
	ListErr error

	// DeleteErr, when set, is returned by every DeleteObjects call.
	DeleteErr error

	// FailKeys maps a key to an error code reported for it by DeleteObjects.
	FailKeys map[string]string

	// DeleteBatchSizes records the number of identifiers in each DeleteObjects call.
	DeleteBatchSizes []int

	// ListCalls counts ListObjectVersions calls.
	ListCalls int

	mu      sync.Mutex
	seq     int
	entries []*versionEntry
	seqByID map[string]int
}

type versionEntry struct {
	key          string
	versionID    string
	seq          int
	deleteMarker bool
	size         int64
}

// NewVersionedBucket creates an empty bucket.
func NewVersionedBucket(name string) *VersionedBucket {
	return &VersionedBucket{
		Name:     name,
		FailKeys: map[string]string{},
		seqByID:  map[string]int{},
	}
}

// PutVersion stores a new version of key and returns its version id.
func (b *VersionedBucket) PutVersion(key string, size int64) string {
	return b.add(key, size, false)
}

// PutDeleteMarker stores a delete marker for key and returns its version id.
func (b *VersionedBucket) PutDeleteMarker(key string) string {
	return b.add(key, 0, true)
}

// PutVersions stores n versions of each key.
func (b *VersionedBucket) PutVersions(keys []string, n int) {
	for _, k := range keys {
		for i := 0; i < n; i++ {
			b.PutVersion(k, int64(len(k)))
		}
	}
}

// Len returns the number of stored versions plus delete markers.
func (b *VersionedBucket) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Counts returns the number of stored versions and delete markers.
func (b *VersionedBucket) Counts() (versions, markers int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.entries {
		if e.deleteMarker {
			markers++
		} else {
			versions++
		}
	}
	return versions, markers
}

func (b *VersionedBucket) add(key string, size int64, marker bool) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	id := fmt.Sprintf("v%08d", b.seq)
	b.entries = append(b.entries, &versionEntry{
		key:          key,
		versionID:    id,
		seq:          b.seq,
		deleteMarker: marker,
		size:         size,
	})
	b.seqByID[id] = b.seq
	b.sortLocked()
	return id
}

func (b *VersionedBucket) sortLocked() {
	sort.Slice(b.entries, func(i, j int) bool {
		if b.entries[i].key != b.entries[j].key {
			return b.entries[i].key < b.entries[j].key
		}
		return b.entries[i].seq > b.entries[j].seq
	})
}

// after reports whether e sorts after the (key, version) marker.
func (b *VersionedBucket) after(e *versionEntry, keyMarker, versionMarker string) bool {
	if keyMarker == "" {
		return true
	}
	if e.key != keyMarker {
		return e.key > keyMarker
	}
	if versionMarker == "" {
		return false
	}
	markerSeq, ok := b.seqByID[versionMarker]
	if !ok {
		return false
	}
	return e.seq < markerSeq
}

// ListObjectVersions implements the S3 call over the in-memory entries.
func (b *VersionedBucket) ListObjectVersions(
	ctx context.Context,
	params *s3.ListObjectVersionsInput,
	optFns ...func(*s3.Options),
) (*s3.ListObjectVersionsOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.ListCalls++
	if b.ListErr != nil {
		return nil, b.ListErr
	}
	if aws.ToString(params.Bucket) != b.Name {
		return nil, &types.NoSuchBucket{Message: aws.String("The specified bucket does not exist")}
	}

	maxKeys := int(aws.ToInt32(params.MaxKeys))
	if maxKeys <= 0 || maxKeys > 1000 {
		maxKeys = 1000
	}
	prefix := aws.ToString(params.Prefix)
	keyMarker := aws.ToString(params.KeyMarker)
	versionMarker := aws.ToString(params.VersionIdMarker)

	out := &s3.ListObjectVersionsOutput{Name: aws.String(b.Name)}
	var last *versionEntry
	count := 0
	truncated := false

	for _, e := range b.entries {
		if !strings.HasPrefix(e.key, prefix) {
			continue
		}
		if !b.after(e, keyMarker, versionMarker) {
			continue
		}
		if count == maxKeys {
			truncated = true
			break
		}
		count++
		last = e

		if e.deleteMarker {
			out.DeleteMarkers = append(out.DeleteMarkers, types.DeleteMarkerEntry{
				Key:       aws.String(e.key),
				VersionId: aws.String(e.versionID),
			})
			continue
		}
		out.Versions = append(out.Versions, types.ObjectVersion{
			Key:       aws.String(e.key),
			VersionId: aws.String(e.versionID),
			Size:      aws.Int64(e.size),
		})
	}

	out.IsTruncated = aws.Bool(truncated)
	if truncated && last != nil {
		out.NextKeyMarker = aws.String(last.key)
		out.NextVersionIdMarker = aws.String(last.versionID)
	}
	return out, nil
}

// DeleteObjects removes the addressed versions.
// Unknown versions are reported as deleted, as S3 does.
func (b *VersionedBucket) DeleteObjects(
	ctx context.Context,
	params *s3.DeleteObjectsInput,
	optFns ...func(*s3.Options),
) (*s3.DeleteObjectsOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.DeleteErr != nil {
		return nil, b.DeleteErr
	}
	if aws.ToString(params.Bucket) != b.Name {
		return nil, &types.NoSuchBucket{Message: aws.String("The specified bucket does not exist")}
	}
	if params.Delete == nil {
		return nil, fmt.Errorf("MalformedXML: missing Delete")
	}
	if len(params.Delete.Objects) > 1000 {
		return nil, fmt.Errorf("MalformedXML: %d keys exceeds 1000", len(params.Delete.Objects))
	}
	b.DeleteBatchSizes = append(b.DeleteBatchSizes, len(params.Delete.Objects))

	out := &s3.DeleteObjectsOutput{}
	for _, id := range params.Delete.Objects {
		key := aws.ToString(id.Key)
		version := aws.ToString(id.VersionId)

		if code, ok := b.FailKeys[key]; ok {
			out.Errors = append(out.Errors, types.Error{
				Key:       aws.String(key),
				VersionId: aws.String(version),
				Code:      aws.String(code),
				Message:   aws.String("injected failure"),
			})
			continue
		}

		marker := false
		kept := b.entries[:0]
		for _, e := range b.entries {
			if e.key == key && e.versionID == version {
				marker = e.deleteMarker
				continue
			}
			kept = append(kept, e)
		}
		b.entries = kept

		out.Deleted = append(out.Deleted, types.DeletedObject{
			Key:          aws.String(key),
			VersionId:    aws.String(version),
			DeleteMarker: aws.Bool(marker),
		})
	}
	return out, nil
}
