package objectstore

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"

	"github.com/mixbenchproject/mixbench/internal/common/mixerrors"
)

// MinioStore stores objects in an S3-compatible bucket. It performs honest
// read-then-write; concurrent writers from different machines are detected by
// the document generation check rather than prevented, which is the
// acknowledged consistency model of this system.
type MinioStore struct {
	client *minio.Client
	bucket string
}

type MinioConfig struct {
	Endpoint  string `validate:"required"`
	Bucket    string `validate:"required"`
	Region    string
	AccessKey string
	SecretKey string
	Secure    bool
}

func NewMinioStore(config MinioConfig) (*MinioStore, error) {
	creds := buildCredentials(config)
	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  creds,
		Secure: config.Secure,
		Region: config.Region,
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating object storage client")
	}
	return &MinioStore{client: client, bucket: config.Bucket}, nil
}

// NewMinioStoreFromURL builds a store from an s3:// url of the form
// s3://bucket?endpoint=host:port&region=us-east-1&insecure=true.
// Credentials come from the environment or the instance's IAM role.
func NewMinioStoreFromURL(u *url.URL) (*MinioStore, error) {
	query := u.Query()
	config := MinioConfig{
		Endpoint:  query.Get("endpoint"),
		Bucket:    u.Host,
		Region:    query.Get("region"),
		AccessKey: query.Get("accessKey"),
		SecretKey: query.Get("secretKey"),
		Secure:    query.Get("insecure") != "true",
	}
	if config.Endpoint == "" {
		config.Endpoint = "s3.amazonaws.com"
	}
	if config.Bucket == "" {
		return nil, errors.New("s3 store url must name a bucket")
	}
	return NewMinioStore(config)
}

func buildCredentials(config MinioConfig) *credentials.Credentials {
	if config.AccessKey != "" {
		return credentials.NewStaticV4(config.AccessKey, config.SecretKey, "")
	}
	return credentials.NewChainCredentials([]credentials.Provider{
		&credentials.EnvAWS{},
		&credentials.EnvMinio{},
		&credentials.FileAWSCredentials{},
		&credentials.IAM{},
	})
}

func (s *MinioStore) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, translateMinioError(err, key)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, translateMinioError(err, key)
	}
	return data, nil
}

func (s *MinioStore) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(
		ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"},
	)
	if err != nil {
		return errors.Wrapf(err, "writing object %q", key)
	}
	return nil
}

func (s *MinioStore) Stat(ctx context.Context, key string) (*ObjectInfo, error) {
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, translateMinioError(err, key)
	}
	return &ObjectInfo{Key: info.Key, Size: info.Size, LastModified: info.LastModified}, nil
}

func (s *MinioStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	infos := []ObjectInfo{}
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, errors.Wrapf(obj.Err, "listing objects under %q", prefix)
		}
		infos = append(infos, ObjectInfo{Key: obj.Key, Size: obj.Size, LastModified: obj.LastModified})
	}
	return infos, nil
}

func (s *MinioStore) Delete(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	if err != nil {
		return errors.Wrapf(err, "deleting object %q", key)
	}
	return nil
}

func translateMinioError(err error, key string) error {
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode == http.StatusNotFound || resp.Code == "NoSuchKey" {
		return &mixerrors.ErrNotFound{Type: "object", Value: key}
	}
	return errors.Wrapf(err, "accessing object %q", key)
}
