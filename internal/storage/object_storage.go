package storage

import (
	"context"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"
	"lifeboat/internal/config"
)

type objectStorage struct {
	client *minio.Client
	bucket string
	region string
}

func NewObjectStorage(cfg config.ObjectStorage) (Storage, error) {
	mn, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretKey, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create object storage client")
	}
	return &objectStorage{
		client: mn,
		bucket: cfg.Bucket,
		region: cfg.Region,
	}, nil
}

func (s objectStorage) Save(ctx context.Context, location string, file File) error {
	if err := s.makeBucket(ctx); err != nil {
		return err
	}

	_, err := s.client.PutObject(ctx, s.bucket, location, file.Content, file.Size, minio.PutObjectOptions{
		ContentType: file.ContentType(),
	})
	return err
}

func (s objectStorage) Get(ctx context.Context, location string) (*File, error) {
	r, err := s.client.GetObject(ctx, s.bucket, location, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}

	stat, err := r.Stat()
	if err != nil {
		_ = r.Close()
		return nil, err
	}

	return &File{
		Content: r,
		Name:    stat.Key,
		Size:    stat.Size,
	}, nil
}

func (s objectStorage) Delete(ctx context.Context, location string) error {
	return s.client.RemoveObject(ctx, s.bucket, location, minio.RemoveObjectOptions{})
}

func (s objectStorage) makeBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}

	if exists {
		return nil
	}

	return s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{
		Region: s.region,
	})
}

func (s objectStorage) Ping(ctx context.Context) error {
	_, err := s.client.ListBuckets(ctx)
	return err
}

func (s objectStorage) Type() Type {
	return TypeS3
}
