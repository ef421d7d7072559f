package transport

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/froz-husain/kmstore/internal/errors"
)

// S3Config holds the object storage settings
type S3Config struct {
	Bucket       string
	Region       string
	Endpoint     string
	UsePathStyle bool
}

// S3Dialer maps remote paths onto object keys of one bucket. The SDK client
// is shared; a session only carries the bucket name.
type S3Dialer struct {
	client *s3.Client
	bucket string
}

// NewS3Dialer loads the default AWS credential chain and builds a client.
func NewS3Dialer(ctx context.Context, cfg S3Config) (*S3Dialer, error) {
	if cfg.Bucket == "" {
		return nil, errors.Configuration("s3 backend requires a bucket")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewS3DialerFromClient(client, cfg.Bucket), nil
}

// NewS3DialerFromClient wraps an existing client.
func NewS3DialerFromClient(client *s3.Client, bucket string) *S3Dialer {
	return &S3Dialer{client: client, bucket: bucket}
}

// Name implements Dialer
func (d *S3Dialer) Name() string {
	return "s3"
}

// Dial implements Dialer
func (d *S3Dialer) Dial(ctx context.Context) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &s3Conn{client: d.client, bucket: d.bucket}, nil
}

type s3Conn struct {
	client *s3.Client
	bucket string
}

func (c *s3Conn) Retrieve(ctx context.Context, p string, w io.Writer) error {
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(objectKey(p)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return ErrObjectNotFound
		}
		return err
	}
	defer out.Body.Close()

	_, err = io.Copy(w, out.Body)
	return err
}

func (c *s3Conn) Store(ctx context.Context, p string, r io.Reader) error {
	body, ok := r.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(r)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	_, err := c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(objectKey(p)),
		Body:        body,
		ContentType: aws.String("application/json"),
	})
	return err
}

// MakeDirAll is a no-op: prefixes exist as soon as an object does.
func (c *s3Conn) MakeDirAll(ctx context.Context, dir string) error {
	return nil
}

func (c *s3Conn) List(ctx context.Context, dir string) ([]Entry, error) {
	prefix := objectKey(dir)
	if prefix != "" {
		prefix += "/"
	}

	var entries []Entry
	paginator := s3.NewListObjectsV2Paginator(c.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(c.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/")
			if name != "" {
				entries = append(entries, Entry{Name: name, IsDir: true})
			}
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if name != "" {
				entries = append(entries, Entry{Name: name})
			}
		}
	}
	return entries, nil
}

func (c *s3Conn) Close() error {
	return nil
}

func objectKey(p string) string {
	return strings.Trim(p, "/")
}

func isS3NotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if stderrors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	if stderrors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if stderrors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
