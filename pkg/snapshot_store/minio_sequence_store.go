package snapshot_store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/cespare/xxhash/v2"
)

const sequenceBucketName = "indextask-sequences"

// MinioSequenceStore is the object-storage-backed SequenceStore,
// sharding by task id across a pool of Minio endpoints.
type MinioSequenceStore struct {
	clients []*minio.Client
}

func NewMinioSequenceStore() (*MinioSequenceStore, error) {
	raw := os.Getenv("MINIO_ADDR")
	if raw == "" {
		return nil, fmt.Errorf("snapshot_store: MINIO_ADDR not set")
	}
	addrs := strings.Split(raw, ",")
	accessKey := os.Getenv("MINIO_ACCESS_KEY")
	secretKey := os.Getenv("MINIO_SECRET_KEY")
	clients := make([]*minio.Client, len(addrs))
	for i, addr := range addrs {
		c, err := minio.New(addr, &minio.Options{
			Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
			Secure: true,
		})
		if err != nil {
			return nil, err
		}
		clients[i] = c
	}
	return &MinioSequenceStore{clients: clients}, nil
}

func (mc *MinioSequenceStore) clientFor(taskID string) *minio.Client {
	idx := xxhash.Sum64String(taskID) % uint64(len(mc.clients))
	return mc.clients[idx]
}

// EnsureBucket creates the sequence bucket on every configured Minio
// endpoint, idempotently; callers run this once at startup.
func (mc *MinioSequenceStore) EnsureBucket(ctx context.Context) error {
	for _, c := range mc.clients {
		exists, err := c.BucketExists(ctx, sequenceBucketName)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if err := c.MakeBucket(ctx, sequenceBucketName, minio.MakeBucketOptions{}); err != nil {
			return err
		}
	}
	return nil
}

func (mc *MinioSequenceStore) StoreSequences(ctx context.Context, taskID string, data []byte) error {
	c := mc.clientFor(taskID)
	_, err := c.PutObject(ctx, sequenceBucketName, taskID, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{})
	return err
}

func (mc *MinioSequenceStore) LoadSequences(ctx context.Context, taskID string) ([]byte, error) {
	c := mc.clientFor(taskID)
	obj, err := c.GetObject(ctx, sequenceBucketName, taskID, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		if resp := minio.ToErrorResponse(err); resp.Code == "NoSuchKey" {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}
