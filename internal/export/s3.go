package export

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"strings"

	"github.com/EmpoweredVote/EV-Forecast/internal/forecast"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Writer uploads one object per run. A key ending in .gz is gzip-encoded.
type S3Writer struct {
	Client *minio.Client
	Bucket string
	Key    string
	Format Format
}

func NewS3Writer(o S3Options, bucket, key string, format Format) (*S3Writer, error) {
	if o.Endpoint == "" {
		return nil, fmt.Errorf("export: S3_ENDPOINT is not set")
	}
	client, err := minio.New(trimScheme(o.Endpoint), &minio.Options{
		Creds:  credentials.NewStaticV4(o.AccessKeyID, o.SecretAccessKey, ""),
		Secure: o.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}
	return &S3Writer{Client: client, Bucket: bucket, Key: key, Format: format}, nil
}

func (s *S3Writer) String() string { return "s3://" + s.Bucket + "/" + s.Key }

func (s *S3Writer) Write(ctx context.Context, res *forecast.Result) error {
	key := expand(s.Key, res)
	body, opts, err := s.object(res, strings.HasSuffix(key, ".gz"))
	if err != nil {
		return err
	}
	_, err = s.Client.PutObject(ctx, s.Bucket, key, bytes.NewReader(body), int64(len(body)), opts)
	if err != nil {
		return fmt.Errorf("failed to upload object %s: %w", key, err)
	}
	return nil
}

func (s *S3Writer) object(res *forecast.Result, compress bool) ([]byte, minio.PutObjectOptions, error) {
	var buf bytes.Buffer
	if err := encode(&buf, s.Format, res); err != nil {
		return nil, minio.PutObjectOptions{}, err
	}
	opts := minio.PutObjectOptions{ContentType: "application/json"}
	if s.Format == FormatCSV {
		opts.ContentType = "text/csv"
	}
	opts.UserMetadata = map[string]string{
		"run-id": res.RunID.String(),
		"status": string(res.Status),
	}
	if !compress {
		return buf.Bytes(), opts, nil
	}

	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	if _, err := zw.Write(buf.Bytes()); err != nil {
		return nil, opts, err
	}
	if err := zw.Close(); err != nil {
		return nil, opts, err
	}
	opts.ContentEncoding = "gzip"
	return gz.Bytes(), opts, nil
}

func trimScheme(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "https://")
	return strings.TrimPrefix(endpoint, "http://")
}
