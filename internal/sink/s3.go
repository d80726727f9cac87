package sink

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"strconv"

	v1 "github.com/aevon-lab/sliceflow/internal/api/v1"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectPutter is the subset of *s3.Client the S3 sink uses.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config configures the S3 sink. Credentials come from the default AWS chain.
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string // optional, e.g. MinIO
	PathStyle bool
	Prefix    string
}

// S3 archives slices as <prefix>/<tenant>/<sliceType>/<entityKey>/<version>.json.
// Object keys are unique per slice version, so redelivery overwrites with identical content.
type S3 struct {
	client ObjectPutter
	bucket string
	prefix string
}

// NewS3 loads the default AWS config and creates an S3 sink.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewS3WithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewS3WithClient creates an S3 sink over an existing client.
func NewS3WithClient(client ObjectPutter, bucket, prefix string) *S3 {
	return &S3{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3) Name() string { return "s3" }

// Key returns the object key for slice.
func (s *S3) Key(slice *v1.Slice) string {
	return path.Join(s.prefix,
		url.PathEscape(slice.TenantID),
		url.PathEscape(slice.SliceType),
		url.PathEscape(slice.EntityKey),
		strconv.FormatInt(slice.Version, 10)+".json")
}

// Ship writes slice as one JSON object.
func (s *S3) Ship(ctx context.Context, slice *v1.Slice) error {
	data, err := Encode(slice)
	if err != nil {
		return err
	}
	key := s.Key(slice)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"slice-hash": slice.Hash,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to put s3://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}
