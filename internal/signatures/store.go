// Package signatures stores signature images in object storage. Headers and
// workflow payloads only ever carry the object key.
package signatures

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"sopflow/api/internal/util"
)

type Store struct {
	client *minio.Client
	bucket string
}

func New(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Store, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &Store{client: client, bucket: bucket}, nil
}

func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check signature bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create signature bucket: %w", err)
	}
	return nil
}

// Put stores a signature image and returns its object key.
func (s *Store) Put(ctx context.Context, userID string, image []byte, contentType string) (string, error) {
	if len(image) == 0 {
		return "", fmt.Errorf("empty signature image")
	}
	if contentType == "" {
		contentType = "image/png"
	}
	key := fmt.Sprintf("%s/%s-%d", userID, util.NewID("sig"), time.Now().Unix())
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(image), int64(len(image)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("put signature object: %w", err)
	}
	return key, nil
}

// Get fetches a signature image by object key.
func (s *Store) Get(ctx context.Context, ref string) ([]byte, string, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, ref, minio.GetObjectOptions{})
	if err != nil {
		return nil, "", fmt.Errorf("get signature object: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, "", fmt.Errorf("read signature object: %w", err)
	}
	info, err := obj.Stat()
	if err != nil {
		return nil, "", fmt.Errorf("stat signature object: %w", err)
	}
	return data, info.ContentType, nil
}
