package ingest

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Fetcher performs range GETs against an S3 bucket.
type S3Fetcher struct {
	client *s3.Client
	bucket string
}

// BucketFromURL strips the s3:// scheme and any trailing slash from a corpus
// base URL.
func BucketFromURL(baseURL string) string {
	bucket := strings.TrimPrefix(baseURL, "s3://")
	return strings.TrimSuffix(bucket, "/")
}

// NewS3Fetcher creates a fetcher using the ambient AWS credential chain.
func NewS3Fetcher(ctx context.Context, bucket string) (*S3Fetcher, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading AWS configuration: %w", err)
	}
	return &S3Fetcher{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
	}, nil
}

// Size implements ObjectFetcher via HeadObject.
func (f *S3Fetcher) Size(ctx context.Context, key string) (int64, error) {
	out, err := f.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, err
	}
	return aws.ToInt64(out.ContentLength), nil
}

// FetchRange implements ObjectFetcher via a range GET with inclusive bounds.
func (f *S3Fetcher) FetchRange(ctx context.Context, key string, start, end int64) ([]byte, error) {
	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", start, end)),
	})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}
