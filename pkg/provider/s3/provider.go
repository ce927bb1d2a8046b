package s3

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/3leaps/lambdaops/pkg/provider"
)

// Provider implements the provider version interfaces for AWS S3 and
// S3-compatible storage.
type Provider struct {
	client  API
	bucket  string
	maxKeys int
}

// Ensure Provider implements the interfaces.
var (
	_ provider.VersionLister = (*Provider)(nil)
	_ provider.VersionStore  = (*Provider)(nil)
)

// New creates a new S3 provider with the given configuration.
//
// The provider uses AWS SDK v2's default credential chain unless a profile or
// explicit credentials are provided in the config.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, &provider.ProviderError{
			Op:       "New",
			Provider: provider.ProviderS3,
			Bucket:   cfg.Bucket,
			Err:      err,
		}
	}

	s3Opts := []func(*s3.Options){
		func(o *s3.Options) {
			if cfg.ForcePathStyle {
				o.UsePathStyle = true
			}
		},
	}

	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	return NewWithClient(s3.NewFromConfig(awsCfg, s3Opts...), cfg), nil
}

// NewWithClient creates a provider around an existing client.
// The config is used for bucket and page size only; it is not validated.
func NewWithClient(client API, cfg Config) *Provider {
	maxKeys := cfg.MaxKeys
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	return &Provider{
		client:  client,
		bucket:  cfg.Bucket,
		maxKeys: maxKeys,
	}
}

// loadAWSConfig builds the AWS configuration with appropriate credentials.
func loadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error

	// Only apply explicit region if set; let the SDK resolve env/profile first.
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		staticCreds := credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)
		opts = append(opts, config.WithCredentialsProvider(staticCreds))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}

	awsCfg.Region = resolveRegion(cfg.Region, cfg.Endpoint, awsCfg.Region)

	return awsCfg, nil
}

// Bucket returns the bucket the provider is bound to.
func (p *Provider) Bucket() string {
	return p.bucket
}

// ListVersions returns a page of object versions and delete markers.
func (p *Provider) ListVersions(ctx context.Context, opts provider.VersionListOptions) (*provider.VersionPage, error) {
	maxKeys := clampMaxKeys(opts.MaxKeys, p.maxKeys)

	input := &s3.ListObjectVersionsInput{
		Bucket:  aws.String(p.bucket),
		MaxKeys: aws.Int32(int32(maxKeys)),
	}
	if opts.Prefix != "" {
		input.Prefix = aws.String(opts.Prefix)
	}
	if opts.KeyMarker != "" {
		input.KeyMarker = aws.String(opts.KeyMarker)
	}
	if opts.VersionIDMarker != "" {
		input.VersionIdMarker = aws.String(opts.VersionIDMarker)
	}

	output, err := p.client.ListObjectVersions(ctx, input)
	if err != nil {
		return nil, p.wrapError("ListVersions", err)
	}

	page := &provider.VersionPage{
		Versions:            make([]provider.ObjectVersion, 0, len(output.Versions)),
		DeleteMarkers:       make([]provider.ObjectVersion, 0, len(output.DeleteMarkers)),
		NextKeyMarker:       aws.ToString(output.NextKeyMarker),
		NextVersionIDMarker: aws.ToString(output.NextVersionIdMarker),
		IsTruncated:         aws.ToBool(output.IsTruncated),
	}

	for _, v := range output.Versions {
		page.Versions = append(page.Versions, provider.ObjectVersion{
			Key:          aws.ToString(v.Key),
			VersionID:    aws.ToString(v.VersionId),
			IsLatest:     aws.ToBool(v.IsLatest),
			Size:         aws.ToInt64(v.Size),
			LastModified: aws.ToTime(v.LastModified),
		})
	}

	for _, m := range output.DeleteMarkers {
		page.DeleteMarkers = append(page.DeleteMarkers, provider.ObjectVersion{
			Key:            aws.ToString(m.Key),
			VersionID:      aws.ToString(m.VersionId),
			IsDeleteMarker: true,
			IsLatest:       aws.ToBool(m.IsLatest),
			LastModified:   aws.ToTime(m.LastModified),
		})
	}

	return page, nil
}

// WalkVersions lists every page under prefix and calls fn for each one.
//
// Pages are fetched lazily, so deletions made by fn for the current page do
// not disturb the markers used to fetch the next one.
func (p *Provider) WalkVersions(ctx context.Context, prefix string, fn func(*provider.VersionPage) error) error {
	opts := provider.VersionListOptions{Prefix: prefix}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		page, err := p.ListVersions(ctx, opts)
		if err != nil {
			return err
		}

		if err := fn(page); err != nil {
			return err
		}

		if !page.IsTruncated {
			return nil
		}

		// A truncated page without markers would loop forever.
		if page.NextKeyMarker == "" && page.NextVersionIDMarker == "" {
			return p.wrapError("ListVersions", errors.New("truncated listing returned no continuation markers"))
		}
		opts.KeyMarker = page.NextKeyMarker
		opts.VersionIDMarker = page.NextVersionIDMarker
	}
}

// DeleteVersions deletes the given versions in one DeleteObjects request.
func (p *Provider) DeleteVersions(ctx context.Context, versions []provider.ObjectVersion) (*provider.DeleteResult, error) {
	if len(versions) == 0 {
		return &provider.DeleteResult{}, nil
	}
	if len(versions) > provider.MaxDeleteBatch {
		return nil, &provider.ProviderError{
			Op:       "DeleteVersions",
			Provider: provider.ProviderS3,
			Bucket:   p.bucket,
			Err:      fmt.Errorf("%w: %d entries (max %d)", provider.ErrBatchTooLarge, len(versions), provider.MaxDeleteBatch),
		}
	}

	ids := make([]types.ObjectIdentifier, 0, len(versions))
	for _, v := range versions {
		id := types.ObjectIdentifier{Key: aws.String(v.Key)}
		if v.VersionID != "" {
			id.VersionId = aws.String(v.VersionID)
		}
		ids = append(ids, id)
	}

	output, err := p.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(p.bucket),
		Delete: &types.Delete{
			Objects: ids,
			Quiet:   aws.Bool(false),
		},
	})
	if err != nil {
		return nil, p.wrapError("DeleteVersions", err)
	}

	result := &provider.DeleteResult{
		Deleted: make([]provider.ObjectVersion, 0, len(output.Deleted)),
		Errors:  make([]provider.DeleteError, 0, len(output.Errors)),
	}
	for _, d := range output.Deleted {
		result.Deleted = append(result.Deleted, provider.ObjectVersion{
			Key:            aws.ToString(d.Key),
			VersionID:      aws.ToString(d.VersionId),
			IsDeleteMarker: aws.ToBool(d.DeleteMarker),
		})
	}
	for _, e := range output.Errors {
		result.Errors = append(result.Errors, provider.DeleteError{
			Key:       aws.ToString(e.Key),
			VersionID: aws.ToString(e.VersionId),
			Code:      aws.ToString(e.Code),
			Message:   aws.ToString(e.Message),
		})
	}

	return result, nil
}

// Close releases any resources held by the provider.
// The S3 client doesn't require explicit cleanup, but this satisfies the interface.
func (p *Provider) Close() error {
	return nil
}

// wrapError converts S3 errors to provider errors with appropriate sentinel errors.
func (p *Provider) wrapError(op string, err error) error {
	wrapped := &provider.ProviderError{
		Op:       op,
		Provider: provider.ProviderS3,
		Bucket:   p.bucket,
		Err:      err,
		Cause:    err,
	}

	var noSuchBucket *types.NoSuchBucket
	if errors.As(err, &noSuchBucket) {
		wrapped.Code = "NoSuchBucket"
		wrapped.Err = provider.ErrBucketNotFound
		return wrapped
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		wrapped.Code = apiErr.ErrorCode()
		if sentinel := classifyCode(wrapped.Code); sentinel != nil {
			wrapped.Err = sentinel
		}
		return wrapped
	}

	// Fallback: check error message for common cases
	errMsg := err.Error()
	switch {
	case strings.Contains(errMsg, "NoSuchBucket"):
		wrapped.Err = provider.ErrBucketNotFound
	case strings.Contains(errMsg, "AccessDenied") || strings.Contains(errMsg, "Forbidden") || strings.Contains(errMsg, "403"):
		wrapped.Err = provider.ErrAccessDenied
	case strings.Contains(errMsg, "InvalidAccessKeyId") || strings.Contains(errMsg, "SignatureDoesNotMatch"):
		wrapped.Err = provider.ErrInvalidCredentials
	case strings.Contains(errMsg, "SlowDown") || strings.Contains(errMsg, "Throttling") || strings.Contains(errMsg, "429"):
		wrapped.Err = provider.ErrThrottled
	case strings.Contains(errMsg, "ServiceUnavailable") || strings.Contains(errMsg, "503"):
		wrapped.Err = provider.ErrProviderUnavailable
	}

	return wrapped
}

// classifyCode maps an S3 error code to a sentinel, or nil when unknown.
func classifyCode(code string) error {
	switch code {
	case "NoSuchBucket":
		return provider.ErrBucketNotFound
	case "AccessDenied", "Forbidden", "AllAccessDisabled":
		return provider.ErrAccessDenied
	case "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken", "InvalidToken":
		return provider.ErrInvalidCredentials
	case "SlowDown", "Throttling", "RequestLimitExceeded":
		return provider.ErrThrottled
	case "ServiceUnavailable", "InternalError":
		return provider.ErrProviderUnavailable
	}
	return nil
}

// clampMaxKeys applies defaults and limits to maxKeys values.
func clampMaxKeys(requested, providerDefault int) int {
	if requested <= 0 {
		requested = providerDefault
	}
	if requested > MaxAllowedKeys {
		return MaxAllowedKeys
	}
	return requested
}

// resolveRegion determines the final region to use after SDK config loading.
//
// sdkRegion already reflects an explicit cfgRegion or env/profile resolution.
// The AWS default is only applied when nothing resolved and no custom
// endpoint is configured.
func resolveRegion(cfgRegion, endpoint, sdkRegion string) string {
	if sdkRegion != "" {
		return sdkRegion
	}
	if cfgRegion != "" {
		return cfgRegion
	}
	if endpoint == "" {
		return DefaultAWSRegion
	}
	return ""
}
