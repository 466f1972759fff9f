package storage

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3ClientAPI is the narrow slice of the S3 SDK this driver needs,
// the same narrowing-interface pattern as the teacher's own
// S3ClientAPI in internal/server/s3_store.go — it lets tests swap in a
// fake client without dragging in a real AWS session.
type S3ClientAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Driver is a Driver backed by an S3 (or S3-compatible) bucket, one
// object per key — for a mailbox whose encrypted rows (keyring,
// guest registry, downloaded file metadata) should survive the loss of
// any single machine.
type S3Driver struct {
	Client S3ClientAPI
	Bucket string
	Prefix string
}

// NewS3Driver loads the default AWS config chain and builds a driver
// against bucket, namespacing every key under prefix.
func NewS3Driver(ctx context.Context, bucket, region, prefix string) (*S3Driver, error) {
	opts := []func(*config.LoadOptions) error{}
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &S3Driver{
		Client: s3.NewFromConfig(cfg),
		Bucket: bucket,
		Prefix: prefix,
	}, nil
}

func (d *S3Driver) objectKey(key string) string {
	return d.Prefix + key
}

func (d *S3Driver) Get(ctx context.Context, key string) (string, error) {
	out, err := d.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.Bucket),
		Key:    aws.String(d.objectKey(key)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return "", ErrNotFound
		}
		return "", err
	}
	defer func() { _ = out.Body.Close() }()

	raw, err := io.ReadAll(out.Body)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (d *S3Driver) Set(ctx context.Context, key, value string) error {
	_, err := d.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(d.Bucket),
		Key:    aws.String(d.objectKey(key)),
		Body:   bytes.NewReader([]byte(value)),
	})
	return err
}

func (d *S3Driver) Remove(ctx context.Context, key string) error {
	_, err := d.Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(d.Bucket),
		Key:    aws.String(d.objectKey(key)),
	})
	return err
}

var _ Driver = (*S3Driver)(nil)
