package contacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Fetcher copies a remote contact file to a local temp file and returns its path.
// The caller removes the file.
type Fetcher interface {
	Fetch(ctx context.Context, location string) (string, error)
}

// IsRemote reports whether location names an object store rather than a local path.
func IsRemote(location string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(location)), "s3://")
}

// S3API is the subset of the S3 client used by S3Fetcher.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Fetcher downloads s3://bucket/key locations.
// The AWS client is created on first use from the default credential chain.
type S3Fetcher struct {
	region string
	dir    string

	once    sync.Once
	client  S3API
	initErr error
}

// NewS3Fetcher returns a fetcher for region. An empty region defers to AWS_REGION.
func NewS3Fetcher(region string) *S3Fetcher {
	return &S3Fetcher{region: strings.TrimSpace(region)}
}

// NewS3FetcherWithClient is used with a preconfigured or fake client.
func NewS3FetcherWithClient(client S3API, tempDir string) *S3Fetcher {
	f := &S3Fetcher{client: client, dir: tempDir}
	f.once.Do(func() {})
	return f
}

func (f *S3Fetcher) api(ctx context.Context) (S3API, error) {
	f.once.Do(func() {
		var opts []func(*awsconfig.LoadOptions) error
		if f.region != "" {
			opts = append(opts, awsconfig.WithRegion(f.region))
		}
		cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			f.initErr = fmt.Errorf("load aws config: %w", err)
			return
		}
		f.client = s3.NewFromConfig(cfg)
	})
	return f.client, f.initErr
}

func (f *S3Fetcher) Fetch(ctx context.Context, location string) (string, error) {
	bucket, key, err := parseS3Location(location)
	if err != nil {
		return "", err
	}
	client, err := f.api(ctx)
	if err != nil {
		return "", err
	}

	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("download %s: %w", location, err)
	}
	defer out.Body.Close()

	// Keep the extension so ReadTable can pick the right reader.
	tmp, err := os.CreateTemp(f.dir, "contacts-*"+path.Ext(key))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, out.Body); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("download %s: %w", location, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

func parseS3Location(location string) (bucket, key string, err error) {
	u, err := url.Parse(strings.TrimSpace(location))
	if err != nil {
		return "", "", err
	}
	if !strings.EqualFold(u.Scheme, "s3") {
		return "", "", fmt.Errorf("not an s3 location: %q", location)
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", errors.New("s3 location must be s3://bucket/key")
	}
	return bucket, key, nil
}
