package aws

import (
	"context"
	"fmt"
	"io"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectReader opens objects stored in S3.
type ObjectReader struct {
	client *s3.Client
}

func NewObjectReader(cfg sdkaws.Config) *ObjectReader {
	return &ObjectReader{client: s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})}
}

// Open returns the body of bucket/key. The caller closes it.
func (r *ObjectReader) Open(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: sdkaws.String(bucket),
		Key:    sdkaws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 get %s/%s: %w", bucket, key, err)
	}
	return out.Body, nil
}
