package vault

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"dm-go/internal/dm"
)

// S3Options configures an S3Store.
type S3Options struct {
	Bucket string
	Prefix string
	Region string

	// Endpoint overrides the service endpoint for S3-compatible servers.
	// Path-style addressing is used whenever it is set.
	Endpoint string

	// Static credentials; the default AWS credential chain is used when empty.
	AccessKeyID     string
	SecretAccessKey string
}

// S3Store is a ContentStore backed by an S3 bucket. Objects are keyed
// <prefix><digest>. A PUT is atomic per object, so a failed upload never
// leaves a partial blob visible.
type S3Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// NewS3Store creates an S3Store using the AWS SDK default configuration
// chain, overridden by opts.
func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 store requires a bucket")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})

	return &S3Store{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   opts.Bucket,
		prefix:   opts.Prefix,
	}, nil
}

func (v *S3Store) key(digest string) (string, error) {
	if _, err := dm.ParseDigest(digest); err != nil {
		return "", err
	}
	return v.prefix + digest, nil
}

func (v *S3Store) Exists(ctx context.Context, digest string) (bool, error) {
	key, err := v.key(digest)
	if err != nil {
		return false, err
	}
	_, err = v.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("head object %s: %w", key, err)
	}
	return true, nil
}

// Put uploads the blob unless it is already present. Objects that fit in a
// single PUT carry their SHA-256 checksum, so the bucket rejects mismatching
// bytes before they become visible. Multipart uploads are verified after the
// fact and a mismatching object is removed again.
func (v *S3Store) Put(ctx context.Context, digest string, r io.Reader, size int64) error {
	exists, err := v.Exists(ctx, digest)
	if err != nil {
		return fmt.Errorf("%w: %w", dm.ErrStorageWrite, err)
	}
	if exists {
		return nil
	}

	key, _ := v.key(digest)
	d := dm.NewDigester(r)
	input := &s3.PutObjectInput{
		Bucket:        aws.String(v.bucket),
		Key:           aws.String(key),
		Body:          d,
		ContentLength: aws.Int64(size),
	}
	if size < v.uploader.PartSize {
		input.ChecksumSHA256 = aws.String(checksumSHA256(digest))
	}

	_, err = v.uploader.Upload(ctx, input)
	if err != nil {
		if errors.Is(err, dm.ErrIO) {
			return err
		}
		if isS3BadDigest(err) {
			return fmt.Errorf("%w: bucket rejected %s: content does not match digest", dm.ErrStorageWrite, key)
		}
		return fmt.Errorf("%w: uploading %s: %w", dm.ErrStorageWrite, key, err)
	}

	if d.Size() != size || d.Digest() != digest {
		_, delErr := v.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(v.bucket),
			Key:    aws.String(key),
		})
		return errors.Join(
			fmt.Errorf("%w: uploaded content does not match %s (%d bytes, want %d)", dm.ErrStorageWrite, digest, d.Size(), size),
			delErr,
		)
	}
	return nil
}

// checksumSHA256 converts a hex digest to the base64 form S3 expects in
// x-amz-checksum-sha256.
func checksumSHA256(digest string) string {
	raw, _ := hex.DecodeString(digest)
	return base64.StdEncoding.EncodeToString(raw)
}

func (v *S3Store) Open(ctx context.Context, digest string) (io.ReadCloser, error) {
	key, err := v.key(digest)
	if err != nil {
		return nil, err
	}
	out, err := v.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("%w: content %s", dm.ErrNotFound, digest)
		}
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	return out.Body, nil
}

// ValidateSetup verifies that the bucket exists and is reachable.
func (v *S3Store) ValidateSetup(ctx context.Context) error {
	_, err := v.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(v.bucket)})
	if err != nil {
		return fmt.Errorf("bucket %s not accessible: %w", v.bucket, err)
	}
	return nil
}

func isS3NotFound(err error) bool {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NotFound" || code == "NoSuchKey" || strings.HasSuffix(code, "404")
	}
	return false
}

func isS3BadDigest(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "BadDigest" || code == "XAmzContentChecksumMismatch"
	}
	return false
}

// Compile-time check that S3Store implements dm.ContentStore interface
var _ dm.ContentStore = (*S3Store)(nil)
