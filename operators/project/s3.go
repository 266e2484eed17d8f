package project

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Format is the on-disk encoding of a data file.
type Format string

var (
	MimeCSV     Format = "csv"
	MimeParquet Format = "parquet"
)

var (
	ErrInvalidObjectURI = func(uri string) error {
		return fmt.Errorf("invalid object uri %q, expected s3://bucket/key", uri)
	}
	ErrObjectTooLarge = func(key string, limit int64) error {
		return fmt.Errorf("object %s exceeds the %d byte download limit", key, limit)
	}
	ErrUnknownMime = func(key string) error {
		return fmt.Errorf("cannot infer file format of %s, expected .csv or .parquet", key)
	}
)

// ObjectGetter is the slice of the S3 client ObjectSource needs.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// ObjectCredentials configures a client for S3 or any S3 compatible endpoint.
type ObjectCredentials struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	PathStyle bool
}

func NewObjectClient(creds ObjectCredentials) *s3.Client {
	opts := s3.Options{
		Region:       creds.Region,
		UsePathStyle: creds.PathStyle,
	}
	if creds.AccessKey != "" {
		opts.Credentials = aws.NewCredentialsCache(aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
			return aws.Credentials{
				AccessKeyID:     creds.AccessKey,
				SecretAccessKey: creds.SecretKey,
				Source:          "ecomdash",
			}, nil
		}))
	} else {
		opts.Credentials = aws.AnonymousCredentials{}
	}
	if creds.Endpoint != "" {
		opts.BaseEndpoint = aws.String(creds.Endpoint)
	}
	return s3.New(opts)
}

// ObjectSource is a remote file pulled fully into memory. Parquet needs random
// access and the CSV reader wants a plain stream; a bytes.Reader serves both.
type ObjectSource struct {
	bucket string
	key    string
	data   *bytes.Reader
}

func IsObjectURI(uri string) bool {
	return strings.HasPrefix(uri, "s3://")
}

func ParseObjectURI(uri string) (bucket, key string, err error) {
	if !IsObjectURI(uri) {
		return "", "", ErrInvalidObjectURI(uri)
	}
	rest := strings.TrimPrefix(uri, "s3://")
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", ErrInvalidObjectURI(uri)
	}
	return bucket, key, nil
}

// FetchObject downloads uri. maxBytes <= 0 disables the size limit.
func FetchObject(ctx context.Context, client ObjectGetter, uri string, maxBytes int64) (*ObjectSource, error) {
	bucket, key, err := ParseObjectURI(uri)
	if err != nil {
		return nil, err
	}
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", uri, err)
	}
	defer out.Body.Close()

	if maxBytes > 0 && out.ContentLength != nil && *out.ContentLength > maxBytes {
		return nil, ErrObjectTooLarge(key, maxBytes)
	}
	var body io.Reader = out.Body
	if maxBytes > 0 {
		body = io.LimitReader(out.Body, maxBytes+1)
	}
	content, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", uri, err)
	}
	if maxBytes > 0 && int64(len(content)) > maxBytes {
		return nil, ErrObjectTooLarge(key, maxBytes)
	}
	return &ObjectSource{
		bucket: bucket,
		key:    key,
		data:   bytes.NewReader(content),
	}, nil
}

// Reader is positioned at the start of the object on every call.
func (o *ObjectSource) Reader() *bytes.Reader {
	_, _ = o.data.Seek(0, io.SeekStart)
	return o.data
}

func (o *ObjectSource) Key() string { return o.key }

func (o *ObjectSource) Size() int64 { return o.data.Size() }

func (o *ObjectSource) Format() (Format, error) {
	return MimeOf(o.key)
}

// MimeOf infers the file format from a path or key extension.
func MimeOf(name string) (Format, error) {
	switch strings.ToLower(path.Ext(name)) {
	case ".csv":
		return MimeCSV, nil
	case ".parquet", ".pq":
		return MimeParquet, nil
	}
	return "", ErrUnknownMime(name)
}
