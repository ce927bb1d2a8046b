package emptier_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/lambdaops/internal/testutil"
	"github.com/3leaps/lambdaops/pkg/emptier"
	"github.com/3leaps/lambdaops/pkg/output"
	"github.com/3leaps/lambdaops/pkg/provider"
	s3provider "github.com/3leaps/lambdaops/pkg/provider/s3"
)

func newStore(bucket *testutil.VersionedBucket, maxKeys int) *s3provider.Provider {
	return s3provider.NewWithClient(bucket, s3provider.Config{Bucket: bucket.Name, MaxKeys: maxKeys})
}

func keys(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s%05d", prefix, i)
	}
	return out
}

func TestEmpty_VersionsAndMarkers(t *testing.T) {
	tests := []struct {
		name     string
		versions int
		markers  int
		maxKeys  int
	}{
		{"single page", 10, 4, 0},
		{"many pages", 37, 11, 7},
		{"only delete markers", 0, 25, 10},
		{"only versions", 30, 0, 1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bucket := testutil.NewVersionedBucket("versions")
			bucket.PutVersions(keys("obj-", tt.versions), 1)
			for _, k := range keys("gone-", tt.markers) {
				bucket.PutDeleteMarker(k)
			}

			var out bytes.Buffer
			e := emptier.New(newStore(bucket, tt.maxKeys), emptier.DefaultConfig(), emptier.WithOutput(&out))

			summary, err := e.Empty(context.Background())
			require.NoError(t, err)

			assert.Equal(t, int64(tt.versions+tt.markers), summary.Deleted)
			assert.Equal(t, int64(tt.versions+tt.markers), summary.Listed)
			assert.Zero(t, summary.Failed)
			assert.Zero(t, bucket.Len())
			assert.NotEmpty(t, summary.RunID)
			assert.Equal(t, "versions", summary.Bucket)

			assert.Contains(t, out.String(), "Emptying bucket: versions\n")
			assert.Contains(t, out.String(), fmt.Sprintf("  Total deleted: %d objects/versions\n", tt.versions+tt.markers))
			assert.Contains(t, out.String(), "  Bucket versions is now empty\n")
		})
	}
}

func TestEmpty_EmptyBucket(t *testing.T) {
	bucket := testutil.NewVersionedBucket("empty")
	var out bytes.Buffer

	summary, err := emptier.New(newStore(bucket, 0), emptier.Config{}, emptier.WithOutput(&out)).Empty(context.Background())
	require.NoError(t, err)

	assert.Zero(t, summary.Deleted)
	assert.Equal(t, 1, summary.Pages)
	assert.Zero(t, summary.DeleteCalls)
	assert.Empty(t, bucket.DeleteBatchSizes)
	assert.Contains(t, out.String(), "  Total deleted: 0 objects/versions\n")
	assert.NotContains(t, out.String(), "Deleting")
}

func TestEmpty_MultipleVersionsPerKey(t *testing.T) {
	bucket := testutil.NewVersionedBucket("multi")
	bucket.PutVersions(keys("doc-", 5), 3)
	for _, k := range keys("doc-", 5) {
		bucket.PutDeleteMarker(k)
	}

	summary, err := emptier.New(newStore(bucket, 4), emptier.Config{}).Empty(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(20), summary.Deleted)
	versions, markers := bucket.Counts()
	assert.Zero(t, versions)
	assert.Zero(t, markers)
}

func TestEmpty_ChunksLargePages(t *testing.T) {
	bucket := testutil.NewVersionedBucket("big")
	bucket.PutVersions(keys("k-", 2500), 1)

	var out bytes.Buffer
	summary, err := emptier.New(newStore(bucket, 0), emptier.Config{BatchSize: 400}, emptier.WithOutput(&out)).Empty(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(2500), summary.Deleted)
	assert.Equal(t, 3, summary.Pages)
	for _, size := range bucket.DeleteBatchSizes {
		assert.LessOrEqual(t, size, 400)
	}
	assert.Equal(t, []int{400, 400, 200, 400, 400, 200, 400, 100}, bucket.DeleteBatchSizes)
	assert.Equal(t, len(bucket.DeleteBatchSizes), summary.DeleteCalls)
	assert.Contains(t, out.String(), "  Deleting 400 objects/versions...\n")
}

func TestEmpty_BatchSizeClampedToProviderLimit(t *testing.T) {
	bucket := testutil.NewVersionedBucket("clamp")
	bucket.PutVersions(keys("k-", 1500), 1)

	summary, err := emptier.New(newStore(bucket, 0), emptier.Config{BatchSize: 5000}).Empty(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(1500), summary.Deleted)
	assert.Equal(t, []int{1000, 500}, bucket.DeleteBatchSizes)
}

func TestEmpty_Prefix(t *testing.T) {
	bucket := testutil.NewVersionedBucket("scoped")
	bucket.PutVersions(keys("tmp/", 6), 1)
	bucket.PutVersions(keys("keep/", 4), 1)

	summary, err := emptier.New(newStore(bucket, 0), emptier.Config{Prefix: "tmp/"}).Empty(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(6), summary.Deleted)
	assert.Equal(t, 4, bucket.Len())
}

func TestEmpty_DryRun(t *testing.T) {
	bucket := testutil.NewVersionedBucket("dry")
	bucket.PutVersions(keys("a-", 12), 1)
	bucket.PutDeleteMarker("a-00000")

	var out bytes.Buffer
	summary, err := emptier.New(newStore(bucket, 5), emptier.Config{DryRun: true}, emptier.WithOutput(&out)).Empty(context.Background())
	require.NoError(t, err)

	assert.True(t, summary.DryRun)
	assert.Equal(t, int64(13), summary.Deleted)
	assert.Equal(t, 13, bucket.Len())
	assert.Empty(t, bucket.DeleteBatchSizes)
	assert.Contains(t, out.String(), "Would delete")
	assert.Contains(t, out.String(), "  Total: 13 objects/versions would be deleted\n")
	assert.NotContains(t, out.String(), "is now empty")
}

func TestEmpty_ListError(t *testing.T) {
	bucket := testutil.NewVersionedBucket("other")
	store := s3provider.NewWithClient(bucket, s3provider.Config{Bucket: "missing"})

	summary, err := emptier.New(store, emptier.Config{}).Empty(context.Background())
	require.Error(t, err)
	require.NotNil(t, summary)

	assert.True(t, provider.IsBucketNotFound(err))
	assert.True(t, provider.IsProviderError(err))
	assert.Zero(t, summary.Deleted)
	assert.Equal(t, 1, bucket.ListCalls)
}

func TestEmpty_DeleteCallErrorStopsRun(t *testing.T) {
	bucket := testutil.NewVersionedBucket("denied")
	bucket.PutVersions(keys("k-", 30), 1)
	bucket.DeleteErr = errors.New("AccessDenied: Access Denied")

	var out bytes.Buffer
	summary, err := emptier.New(newStore(bucket, 10), emptier.Config{}, emptier.WithOutput(&out)).Empty(context.Background())
	require.Error(t, err)

	assert.True(t, provider.IsAccessDenied(err))
	assert.Equal(t, 1, summary.Pages)
	assert.Zero(t, summary.Deleted)
	assert.Equal(t, 30, bucket.Len())
	assert.NotContains(t, out.String(), "Total deleted")
}

func TestEmpty_PerKeyFailures(t *testing.T) {
	bucket := testutil.NewVersionedBucket("partial")
	bucket.PutVersions([]string{"a", "b", "locked", "z"}, 1)
	bucket.FailKeys["locked"] = "AccessDenied"

	var out bytes.Buffer
	summary, err := emptier.New(newStore(bucket, 0), emptier.Config{}, emptier.WithOutput(&out)).Empty(context.Background())
	require.Error(t, err)

	assert.ErrorIs(t, err, emptier.ErrIncompleteDelete)
	assert.False(t, provider.IsProviderError(err))
	assert.Equal(t, int64(3), summary.Deleted)
	assert.Equal(t, int64(1), summary.Failed)
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, "locked", summary.Errors[0].Key)
	assert.Equal(t, 1, bucket.Len())
	assert.NotContains(t, out.String(), "is now empty")
}

func TestEmpty_ContextCancelled(t *testing.T) {
	bucket := testutil.NewVersionedBucket("cancel")
	bucket.PutVersions(keys("k-", 3), 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := emptier.New(newStore(bucket, 0), emptier.Config{}).Empty(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, bucket.Len())
}

func TestEmpty_RateLimited(t *testing.T) {
	bucket := testutil.NewVersionedBucket("paced")
	bucket.PutVersions(keys("k-", 6), 1)

	summary, err := emptier.New(newStore(bucket, 2), emptier.Config{RateLimit: 1000}).Empty(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(6), summary.Deleted)
	assert.Equal(t, 3, summary.DeleteCalls)
}

func TestEmpty_IsRepeatable(t *testing.T) {
	bucket := testutil.NewVersionedBucket("again")
	bucket.PutVersions(keys("k-", 8), 2)

	first, err := emptier.New(newStore(bucket, 0), emptier.Config{}).Empty(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(16), first.Deleted)

	second, err := emptier.New(newStore(bucket, 0), emptier.Config{}).Empty(context.Background())
	require.NoError(t, err)
	assert.Zero(t, second.Deleted)
}

func auditTypes(t *testing.T, log string) []string {
	t.Helper()
	var types []string
	for _, line := range strings.Split(strings.TrimSpace(log), "\n") {
		var rec output.Record
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		types = append(types, rec.Type)
	}
	return types
}

func TestEmpty_AuditLog(t *testing.T) {
	bucket := testutil.NewVersionedBucket("audited")
	bucket.PutVersions([]string{"a", "locked"}, 1)
	bucket.PutDeleteMarker("gone")
	bucket.FailKeys["locked"] = "AccessDenied"

	var log bytes.Buffer
	rec := output.NewJSONLWriter(&log, "run-1", "audited")
	_, err := emptier.New(newStore(bucket, 0), emptier.Config{}, emptier.WithRecorder(rec)).Empty(context.Background())
	require.ErrorIs(t, err, emptier.ErrIncompleteDelete)

	lines := strings.Split(strings.TrimSpace(log.String()), "\n")
	assert.Equal(t, []string{output.TypeError, output.TypeDelete, output.TypeDelete, output.TypeSummary}, auditTypes(t, log.String()))

	var errRec output.Record
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &errRec))
	var refused output.ErrorRecord
	require.NoError(t, json.Unmarshal(errRec.Data, &refused))
	assert.Equal(t, "locked", refused.Key)
	assert.Equal(t, "AccessDenied", refused.Code)

	var sumRec output.Record
	require.NoError(t, json.Unmarshal([]byte(lines[3]), &sumRec))
	assert.Equal(t, "run-1", sumRec.RunID)
	assert.Equal(t, "audited", sumRec.Target)
	var sum output.SummaryRecord
	require.NoError(t, json.Unmarshal(sumRec.Data, &sum))
	assert.Equal(t, int64(2), sum.Deleted)
	assert.Equal(t, int64(1), sum.Failed)
	assert.Contains(t, sum.Error, "some versions could not be deleted")
}

func TestEmpty_AuditLogDryRun(t *testing.T) {
	bucket := testutil.NewVersionedBucket("dry-audit")
	bucket.PutVersions(keys("k-", 3), 1)

	var log bytes.Buffer
	rec := output.NewJSONLWriter(&log, "run-2", "dry-audit")
	_, err := emptier.New(newStore(bucket, 0), emptier.Config{DryRun: true}, emptier.WithRecorder(rec)).Empty(context.Background())
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(log.String()), "\n")
	require.Len(t, lines, 4)
	for _, line := range lines[:3] {
		var r output.Record
		require.NoError(t, json.Unmarshal([]byte(line), &r))
		var del output.DeleteRecord
		require.NoError(t, json.Unmarshal(r.Data, &del))
		assert.True(t, del.DryRun)
	}
	assert.Equal(t, 3, bucket.Len())
}

func TestEmpty_AuditLogSummaryOnAbort(t *testing.T) {
	bucket := testutil.NewVersionedBucket("other")
	store := s3provider.NewWithClient(bucket, s3provider.Config{Bucket: "missing"})

	var log bytes.Buffer
	rec := output.NewJSONLWriter(&log, "run-3", "missing")
	_, err := emptier.New(store, emptier.Config{}, emptier.WithRecorder(rec)).Empty(context.Background())
	require.Error(t, err)

	assert.Equal(t, []string{output.TypeSummary}, auditTypes(t, log.String()))
}

func TestEmpty_AuditLogFailureDoesNotStopRun(t *testing.T) {
	bucket := testutil.NewVersionedBucket("closed-log")
	bucket.PutVersions(keys("k-", 4), 1)

	rec := output.NewJSONLWriter(&bytes.Buffer{}, "run-4", "closed-log")
	require.NoError(t, rec.Close())

	summary, err := emptier.New(newStore(bucket, 0), emptier.Config{}, emptier.WithRecorder(rec)).Empty(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), summary.Deleted)
	assert.Zero(t, bucket.Len())
}

// unconfirmedStore drops the last confirmation of every batch delete, as S3
// does when a key is neither reported deleted nor refused.
type unconfirmedStore struct {
	provider.VersionStore
}

func (s unconfirmedStore) DeleteVersions(ctx context.Context, versions []provider.ObjectVersion) (*provider.DeleteResult, error) {
	res, err := s.VersionStore.DeleteVersions(ctx, versions)
	if err != nil || len(res.Deleted) == 0 {
		return res, err
	}
	res.Deleted = res.Deleted[:len(res.Deleted)-1]
	return res, nil
}

func TestEmpty_CountsConfirmedDeletes(t *testing.T) {
	bucket := testutil.NewVersionedBucket("confirmed")
	bucket.PutVersions(keys("k-", 5), 1)
	bucket.PutDeleteMarker("marker")

	var log bytes.Buffer
	rec := output.NewJSONLWriter(&log, "run-5", "confirmed")
	store := unconfirmedStore{VersionStore: newStore(bucket, 0)}

	summary, err := emptier.New(store, emptier.Config{}, emptier.WithRecorder(rec)).Empty(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), summary.Deleted)
	assert.Zero(t, summary.Failed)
	assert.Equal(t, 1, summary.DeleteCalls)

	types := auditTypes(t, log.String())
	assert.Equal(t, 5, strings.Count(strings.Join(types, ","), output.TypeDelete))
}

func TestEmpty_AuditLogMarksDeleteMarkers(t *testing.T) {
	bucket := testutil.NewVersionedBucket("markers")
	bucket.PutDeleteMarker("gone")

	var log bytes.Buffer
	rec := output.NewJSONLWriter(&log, "run-6", "markers")
	_, err := emptier.New(newStore(bucket, 0), emptier.Config{}, emptier.WithRecorder(rec)).Empty(context.Background())
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(log.String()), "\n")
	require.Len(t, lines, 2)
	var r output.Record
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &r))
	var del output.DeleteRecord
	require.NoError(t, json.Unmarshal(r.Data, &del))
	assert.Equal(t, "gone", del.Key)
	assert.True(t, del.DeleteMarker)
}
