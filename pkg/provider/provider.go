// Package provider defines abstractions for versioned object storage cleanup.
//
// Providers expose a minimal surface: paged listing of object versions and
// delete markers, and batch deletion of specific versions. Authentication uses
// SDK default credential chains - providers should not implement custom auth
// logic.
package provider

import (
	"context"
	"time"
)

// VersionLister lists object versions and delete markers one page at a time.
type VersionLister interface {
	// ListVersions returns a page of versions and delete markers.
	// Use NextKeyMarker/NextVersionIDMarker from VersionPage for subsequent pages.
	ListVersions(ctx context.Context, opts VersionListOptions) (*VersionPage, error)
}

// VersionWalker iterates every page of a version listing.
//
// The walker owns marker bookkeeping; callers only see pages. Returning an
// error from fn stops the walk and returns that error unchanged.
type VersionWalker interface {
	WalkVersions(ctx context.Context, prefix string, fn func(*VersionPage) error) error
}

// VersionDeleter deletes specific object versions in a single request.
type VersionDeleter interface {
	// DeleteVersions deletes up to MaxDeleteBatch versions.
	// Per-key failures are reported in DeleteResult.Errors, not as an error.
	DeleteVersions(ctx context.Context, versions []ObjectVersion) (*DeleteResult, error)
}

// VersionStore is the combined capability needed to empty a bucket.
type VersionStore interface {
	VersionWalker
	VersionDeleter

	// Bucket returns the bucket the store is bound to.
	Bucket() string

	// Close releases any resources held by the provider.
	Close() error
}

// MaxDeleteBatch is the largest number of keys a single batch delete may carry.
const MaxDeleteBatch = 1000

// VersionListOptions configures a ListVersions call.
type VersionListOptions struct {
	// Prefix filters results to keys starting with this value.
	// Empty string lists all versions.
	Prefix string

	// KeyMarker and VersionIDMarker resume a listing from a previous page.
	// Both empty starts from the beginning.
	KeyMarker       string
	VersionIDMarker string

	// MaxKeys limits the number of entries returned per page.
	// Zero uses provider default (typically 1000).
	MaxKeys int
}

// VersionPage contains one page of a version listing.
type VersionPage struct {
	// Versions are stored object revisions. For unversioned buckets these are
	// the current objects, with version id "null".
	Versions []ObjectVersion

	// DeleteMarkers are placeholder versions hiding deleted objects.
	DeleteMarkers []ObjectVersion

	NextKeyMarker       string
	NextVersionIDMarker string

	// IsTruncated indicates whether more pages are available.
	IsTruncated bool
}

// Len returns the number of entries (versions plus delete markers) on the page.
func (p *VersionPage) Len() int {
	return len(p.Versions) + len(p.DeleteMarkers)
}

// Entries returns versions followed by delete markers, in listing order.
func (p *VersionPage) Entries() []ObjectVersion {
	entries := make([]ObjectVersion, 0, p.Len())
	entries = append(entries, p.Versions...)
	entries = append(entries, p.DeleteMarkers...)
	return entries
}

// ObjectVersion addresses one stored version or delete marker.
type ObjectVersion struct {
	// Key is the full object key in the bucket.
	Key string

	// VersionID identifies the revision. "null" for unversioned objects.
	VersionID string

	// IsDeleteMarker is true for delete marker entries.
	IsDeleteMarker bool

	// IsLatest is true for the current version of the key.
	IsLatest bool

	// Size is the version size in bytes (zero for delete markers).
	Size int64

	// LastModified is when this version was created.
	LastModified time.Time
}

// DeleteResult reports the outcome of a batch delete.
type DeleteResult struct {
	// Deleted lists the versions S3 confirmed as removed.
	Deleted []ObjectVersion

	// Errors lists per-key failures.
	Errors []DeleteError
}

// DeleteError is a per-key failure inside a batch delete.
type DeleteError struct {
	Key       string
	VersionID string
	Code      string
	Message   string
}

// Error implements the error interface.
func (e DeleteError) Error() string {
	return e.Key + "@" + e.VersionID + ": " + e.Code + ": " + e.Message
}

// ProviderType identifies a cloud storage provider.
type ProviderType string

const (
	// ProviderS3 represents AWS S3 or S3-compatible storage.
	ProviderS3 ProviderType = "s3"
)

// String returns the string representation of the provider type.
func (p ProviderType) String() string {
	return string(p)
}
