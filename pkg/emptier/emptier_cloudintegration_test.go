//go:build cloudintegration

package emptier_test

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/lambdaops/pkg/emptier"
	s3provider "github.com/3leaps/lambdaops/pkg/provider/s3"
	"github.com/3leaps/lambdaops/test/cloudtest"
)

func TestEmpty_CloudIntegration(t *testing.T) {
	cloudtest.SkipIfUnavailable(t)
	ctx := context.Background()

	bucket := cloudtest.CreateVersionedBucket(t, ctx)
	for i := 0; i < 12; i++ {
		key := fmt.Sprintf("obj-%02d", i)
		cloudtest.PutObject(t, ctx, bucket, key, []byte("v1"))
		cloudtest.PutObject(t, ctx, bucket, key, []byte("v2"))
		if i%3 == 0 {
			cloudtest.DeleteObject(t, ctx, bucket, key)
		}
	}

	store, err := s3provider.New(ctx, s3provider.Config{
		Bucket:          bucket,
		Endpoint:        cloudtest.Endpoint,
		Region:          cloudtest.Region,
		AccessKeyID:     cloudtest.TestAccessKeyID,
		SecretAccessKey: cloudtest.TestSecretAccessKey,
		ForcePathStyle:  true,
		MaxKeys:         7,
	})
	require.NoError(t, err)
	defer store.Close()

	var out bytes.Buffer
	summary, err := emptier.New(store, emptier.Config{BatchSize: 5}, emptier.WithOutput(&out)).Empty(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(28), summary.Deleted)
	assert.Contains(t, out.String(), "  Total deleted: 28 objects/versions\n")

	versions, markers := cloudtest.CountVersions(t, ctx, bucket)
	assert.Zero(t, versions)
	assert.Zero(t, markers)
}
