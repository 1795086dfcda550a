package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"dsda-uploader/internal/demo"
)

// S3API is the subset of the S3 client the cache uses.
type S3API interface {
	manager.UploadAPIClient
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Options configures an S3Cache.
type S3Options struct {
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string
	// AccessKeyID and SecretAccessKey select static credentials; empty means
	// the default AWS credential chain.
	AccessKeyID     string
	SecretAccessKey string
}

// S3Cache stores asset content in a bucket shared between machines:
//
//	<prefix>content/<checksum>
//	<prefix>metadata/<checksum>.json
//
// Entries have no local Path; callers fetch content with Get.
type S3Cache struct {
	client   S3API
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// NewS3Cache creates a cache over an existing client.
func NewS3Cache(client S3API, bucket, prefix string) *S3Cache {
	return &S3Cache{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   prefix,
	}
}

// NewS3CacheFromOptions loads AWS configuration and creates a cache.
func NewS3CacheFromOptions(ctx context.Context, opts S3Options) (*S3Cache, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 cache requires s3_bucket to be set")
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
	})
	return NewS3Cache(client, opts.Bucket, opts.Prefix), nil
}

// Stat returns the cached entry for checksum, or nil, nil when absent.
func (c *S3Cache) Stat(ctx context.Context, checksum string) (*demo.CacheEntry, error) {
	if err := validChecksum(checksum); err != nil {
		return nil, err
	}

	head, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.contentKey(checksum)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("head cached content: %w", err)
	}

	entry := &demo.CacheEntry{Checksum: checksum, Size: aws.ToInt64(head.ContentLength)}

	obj, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.metadataKey(checksum)),
	})
	if err != nil {
		if isNotFound(err) {
			return entry, nil
		}
		return nil, fmt.Errorf("fetching cache metadata: %w", err)
	}
	defer obj.Body.Close()

	if err := json.NewDecoder(obj.Body).Decode(&entry.CacheMetadata); err != nil {
		return nil, fmt.Errorf("decoding cache metadata: %w", err)
	}
	return entry, nil
}

// Get writes the cached content for checksum to w.
func (c *S3Cache) Get(ctx context.Context, checksum string, w io.Writer) error {
	if err := validChecksum(checksum); err != nil {
		return err
	}

	obj, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.contentKey(checksum)),
	})
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, checksum)
		}
		return fmt.Errorf("fetching cached content: %w", err)
	}
	defer obj.Body.Close()

	if _, err := io.Copy(w, obj.Body); err != nil {
		return fmt.Errorf("failed to read cached content: %w", err)
	}
	return nil
}

// Put uploads content under checksum unless it is already present, then
// replaces the metadata object.
func (c *S3Cache) Put(ctx context.Context, checksum string, r io.Reader, size int64, meta demo.CacheMetadata) error {
	if err := validChecksum(checksum); err != nil {
		return err
	}

	existing, err := c.Stat(ctx, checksum)
	if err != nil {
		return err
	}
	if existing != nil {
		if _, err := io.Copy(io.Discard, r); err != nil {
			return fmt.Errorf("failed to read content: %w", err)
		}
	} else {
		counted := &countingReader{r: r}
		_, err := c.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(c.contentKey(checksum)),
			Body:   counted,
		})
		if err != nil {
			return fmt.Errorf("uploading content: %w", err)
		}
		if counted.n != size {
			return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, counted.n)
		}
	}

	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encoding cache metadata: %w", err)
	}
	_, err = c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(c.metadataKey(checksum)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("writing cache metadata: %w", err)
	}
	return nil
}

func (c *S3Cache) contentKey(checksum string) string {
	return c.prefix + path.Join("content", checksum)
}

func (c *S3Cache) metadataKey(checksum string) string {
	return c.prefix + path.Join("metadata", checksum+".json")
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

var _ demo.AssetCache = (*S3Cache)(nil)
