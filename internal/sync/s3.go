package sync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const defaultS3Key = "kgate/export.jsonl"

// objectPutter is the part of *s3.Client an S3Destination needs.
type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Destination uploads each export as a single object, replacing the
// previous one. The header counts travel as object metadata so a bucket
// listing shows what an export holds without downloading it.
type S3Destination struct {
	client objectPutter
	bucket string
	key    string
}

// NewS3Destination creates an S3 destination using the default AWS
// credential chain. A non-empty endpoint selects an S3-compatible service
// such as MinIO and switches to path-style addressing.
func NewS3Destination(ctx context.Context, bucket, key, region, endpoint string) (*S3Destination, error) {
	if bucket == "" {
		return nil, errors.New("s3 export: bucket is required")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Destination(client, bucket, key), nil
}

func newS3Destination(client objectPutter, bucket, key string) *S3Destination {
	if key == "" {
		key = defaultS3Key
	}
	return &S3Destination{client: client, bucket: bucket, key: key}
}

func (d *S3Destination) String() string { return "s3://" + d.bucket + "/" + d.key }

// Write uploads data under the configured key.
func (d *S3Destination) Write(ctx context.Context, data []byte) error {
	in := &s3.PutObjectInput{
		Bucket:            aws.String(d.bucket),
		Key:               aws.String(d.key),
		Body:              bytes.NewReader(data),
		ContentLength:     aws.Int64(int64(len(data))),
		ContentType:       aws.String("application/x-ndjson"),
		ChecksumAlgorithm: types.ChecksumAlgorithmSha256,
	}
	if h, ok := readHeader(data); ok {
		in.Metadata = map[string]string{
			"kgate-version": h.Version,
			"kgate-issues":  strconv.Itoa(h.IssueCount),
			"kgate-gates":   strconv.Itoa(h.GateCount),
			"kgate-runs":    strconv.Itoa(h.RunCount),
		}
	}
	if _, err := d.client.PutObject(ctx, in); err != nil {
		return fmt.Errorf("put %s: %w", d, err)
	}
	return nil
}
