package epoch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// bucketClient is the part of the S3 client used to prepare the bucket.
type bucketClient interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
}

// ObjectStore archives epochs to S3-compatible storage under
// "<project-id>/<epoch-id>.json".
type ObjectStore struct {
	client     *minio.Client
	buckets    bucketClient
	bucketName string
	region     string

	mu    sync.Mutex
	ready bool
}

func NewObjectStore(cfg S3Config) (*ObjectStore, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("s3 access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}
	return &ObjectStore{client: client, buckets: client, bucketName: bucket, region: region}, nil
}

// ensureBucket creates the bucket on first use. A failed attempt is not
// remembered; the next operation tries again.
func (s *ObjectStore) ensureBucket(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}
	exists, err := s.buckets.BucketExists(ctx, s.bucketName)
	if err != nil {
		return err
	}
	if !exists {
		err := s.buckets.MakeBucket(ctx, s.bucketName, minio.MakeBucketOptions{Region: s.region})
		if err != nil && minio.ToErrorResponse(err).Code != "BucketAlreadyOwnedByYou" {
			return err
		}
	}
	s.ready = true
	return nil
}

func objectKey(projectID, id string) string {
	return projectID + "/" + id + ".json"
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NoSuchBucket"
}

func (s *ObjectStore) Put(ctx context.Context, e Epoch) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("invalid epoch: %w", err)
	}
	if err := checkName("project_id", e.ProjectID); err != nil {
		return err
	}
	if err := s.ensureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}
	key := objectKey(e.ProjectID, e.ID)
	if _, err := s.client.StatObject(ctx, s.bucketName, key, minio.StatObjectOptions{}); err == nil {
		return fmt.Errorf("%w: %s", ErrExists, e.ID)
	} else if !isNotFound(err) {
		return err
	}
	data, err := Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal epoch: %w", err)
	}
	_, err = s.client.PutObject(ctx, s.bucketName, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	return err
}

func (s *ObjectStore) Get(ctx context.Context, projectID, id string) (Epoch, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return Epoch{}, fmt.Errorf("ensure bucket: %w", err)
	}
	obj, err := s.client.GetObject(ctx, s.bucketName, objectKey(projectID, id), minio.GetObjectOptions{})
	if err != nil {
		return Epoch{}, err
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNotFound(err) {
			return Epoch{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return Epoch{}, err
	}
	return Unmarshal(data)
}

func (s *ObjectStore) List(ctx context.Context, projectID string) ([]Epoch, error) {
	if err := checkName("project_id", projectID); err != nil {
		return nil, err
	}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}
	prefix := projectID + "/"
	var out []Epoch
	for obj := range s.client.ListObjects(ctx, s.bucketName, minio.ListObjectsOptions{Prefix: prefix}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		name := strings.TrimPrefix(obj.Key, prefix)
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		e, err := s.Get(ctx, projectID, strings.TrimSuffix(name, ".json"))
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	sortEpochs(out)
	return out, nil
}
