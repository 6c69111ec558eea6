package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config configures an S3Client.
type S3Config struct {
	EndpointURL     string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Region          string
}

// S3Client implements ObjectStore on top of minio-go.
type S3Client struct {
	client *minio.Client
	cfg    S3Config
}

// NewS3Client creates a MinIO/S3 client. The endpoint may be a bare host:port
// or a URL; an https scheme forces TLS.
func NewS3Client(cfg S3Config) (*S3Client, error) {
	if cfg.EndpointURL == "" {
		return nil, wrapError(CodeEndpointUnreachable, false, fmt.Errorf("endpoint is required"))
	}
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, wrapError(CodeAuthInvalid, false, fmt.Errorf("credentials are required"))
	}

	endpoint := cfg.EndpointURL
	useSSL := cfg.UseSSL
	if strings.Contains(endpoint, "://") {
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, wrapError(CodeEndpointUnreachable, false, fmt.Errorf("invalid endpoint URL: %w", err))
		}
		endpoint = u.Host
		useSSL = useSSL || u.Scheme == "https"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, wrapError(CodeEndpointUnreachable, true, fmt.Errorf("failed to create minio client: %w", err))
	}
	return &S3Client{client: client, cfg: cfg}, nil
}

func (s *S3Client) Ping(ctx context.Context) error {
	if _, err := s.client.ListBuckets(ctx); err != nil {
		return classifyMinioError(err)
	}
	return nil
}

func (s *S3Client) EnsureBucket(ctx context.Context, bucket string) error {
	if bucket == "" {
		return wrapError(CodeBucketNotFound, false, fmt.Errorf("bucket name is required"))
	}
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return classifyMinioError(err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: s.cfg.Region}); err != nil {
		return classifyMinioError(err)
	}
	return nil
}

func (s *S3Client) PutFile(ctx context.Context, bucket, key, path string) error {
	if key == "" {
		return wrapError(CodeUnknown, false, fmt.Errorf("object key is required"))
	}
	_, err := s.client.FPutObject(ctx, bucket, key, path, minio.PutObjectOptions{
		ContentType: contentType(key),
	})
	if err != nil {
		return classifyMinioError(err)
	}
	return nil
}

func (s *S3Client) GetObject(ctx context.Context, bucket, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, classifyMinioError(err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, classifyMinioError(err)
	}
	return data, nil
}

func (s *S3Client) ListPrefix(ctx context.Context, bucket, prefix string) ([]string, error) {
	var keys []string
	for obj := range s.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, classifyMinioError(obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

func contentType(key string) string {
	switch {
	case strings.HasSuffix(key, ".json"):
		return "application/json"
	case strings.HasSuffix(key, ".txt"):
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}

// classifyMinioError converts minio-go errors to Error.
func classifyMinioError(err error) *Error {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		switch resp.Code {
		case "NoSuchBucket":
			return wrapError(CodeBucketNotFound, false, err)
		case "NoSuchKey":
			return wrapError(CodeObjectNotFound, false, err)
		case "AccessDenied":
			return wrapError(CodePermissionDenied, false, err)
		case "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return wrapError(CodeAuthInvalid, false, err)
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, context.DeadlineExceeded), strings.Contains(msg, "timeout"):
		return wrapError(CodeTimeout, true, err)
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "no such host"), strings.Contains(msg, "unreachable"):
		return wrapError(CodeEndpointUnreachable, true, err)
	case strings.Contains(msg, "access denied"):
		return wrapError(CodePermissionDenied, false, err)
	}
	return wrapError(CodeUnknown, true, err)
}
