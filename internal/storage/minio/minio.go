package minio

import (
	"bytes"
	"context"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/orlandoq/guildpost/internal/config"
	"github.com/orlandoq/guildpost/internal/storage"
)

type MinioClient struct {
	client *minio.Client
	bucket string
}

func NewMinioClient() (storage.Storage, error) {
	cfg, err := config.GetMinioConfig()
	if err != nil {
		return nil, err
	}

	cli, err := minio.New(cfg.URL, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.ACCESS_KEY, cfg.SECRET_KEY, ""),
		Secure: cfg.USE_SSL,
	})
	if err != nil {
		return nil, err
	}

	return &MinioClient{client: cli, bucket: cfg.MATERIALS_BUCKET}, nil
}

func (m *MinioClient) Upload(ctx context.Context, objectPath string, data []byte) error {
	reader := bytes.NewReader(data)

	_, err := m.client.PutObject(ctx, m.bucket, objectPath, reader, int64(len(data)), minio.PutObjectOptions{})
	return err
}

func (m *MinioClient) Download(ctx context.Context, objectPath string) ([]byte, error) {
	object, err := m.client.GetObject(ctx, m.bucket, objectPath, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer object.Close()

	if _, err := object.Stat(); err != nil {
		return nil, err
	}

	return io.ReadAll(object)
}

func (m *MinioClient) ShutDown(ctx context.Context) {}
