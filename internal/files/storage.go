package files

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"fieldbook/internal/config"
	"fieldbook/internal/models"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
)

// Storage keeps booking attachments in an S3-compatible bucket and hands out public URLs.
type Storage struct {
	bucket         string
	publicBaseURL  string
	maxBytes       int64
	client         *minio.Client
	logger         zerolog.Logger
	bucketInitOnce sync.Once
	bucketInitErr  error
}

func New(cfg config.FilesConfig, logger *zerolog.Logger) (*Storage, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("files: endpoint is required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, errors.New("files: bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(hostOf(endpoint), &minio.Options{
		Creds:  credentials.NewStaticV4(strings.TrimSpace(cfg.AccessKey), strings.TrimSpace(cfg.SecretKey), ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("files: create client: %w", err)
	}

	base := strings.TrimSpace(cfg.PublicURL)
	if base == "" {
		scheme := "http://"
		if cfg.UseSSL {
			scheme = "https://"
		}
		base = scheme + hostOf(endpoint)
	}

	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "files").Logger()
	}
	return &Storage{
		bucket:        bucket,
		publicBaseURL: strings.TrimRight(base, "/"),
		maxBytes:      cfg.MaxUploadMB << 20,
		client:        client,
		logger:        l,
	}, nil
}

// Upload stores the content under key and returns its public URL.
func (s *Storage) Upload(ctx context.Context, key string, reader io.Reader, contentType string) (string, error) {
	if reader == nil {
		return "", errors.New("files: reader is required")
	}
	key = strings.Trim(strings.TrimSpace(key), "/")
	if key == "" {
		return "", errors.New("files: object key is required")
	}
	if err := s.ensureBucket(ctx); err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	// A known size keeps small attachments on a single PUT.
	if s.maxBytes > 0 {
		reader = io.LimitReader(reader, s.maxBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("files: read upload: %w", err)
	}
	if s.maxBytes > 0 && int64(len(data)) > s.maxBytes {
		return "", fmt.Errorf("files: upload exceeds %d bytes", s.maxBytes)
	}

	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("files: put object: %w", err)
	}

	publicURL := s.objectURL(key)
	s.logger.Info().Str("bucket", s.bucket).Str("key", key).Int("bytes", len(data)).Msg("upload completed")
	return publicURL, nil
}

// List returns up to limit objects under prefix in key order.
func (s *Storage) List(ctx context.Context, prefix string, limit int) ([]models.FileInfo, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var out []models.FileInfo
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("files: list objects: %w", obj.Err)
		}
		out = append(out, models.FileInfo{Name: obj.Key, URL: s.objectURL(obj.Key), Size: obj.Size})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Storage) ensureBucket(ctx context.Context) error {
	s.bucketInitOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucket)
		if err != nil {
			s.bucketInitErr = fmt.Errorf("files: check bucket: %w", err)
			return
		}
		if exists {
			return
		}
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			s.bucketInitErr = fmt.Errorf("files: create bucket: %w", err)
			return
		}
		s.bucketInitErr = s.allowPublicRead(ctx)
	})
	return s.bucketInitErr
}

func (s *Storage) allowPublicRead(ctx context.Context) error {
	policy := fmt.Sprintf(`{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Principal":{"AWS":["*"]},"Action":["s3:GetObject"],"Resource":["arn:aws:s3:::%s/*"]}]}`, s.bucket)
	if err := s.client.SetBucketPolicy(ctx, s.bucket, policy); err != nil {
		return fmt.Errorf("files: set bucket policy: %w", err)
	}
	return nil
}

func (s *Storage) objectURL(key string) string {
	return fmt.Sprintf("%s/%s/%s", s.publicBaseURL, s.bucket, strings.TrimLeft(key, "/"))
}

func hostOf(endpoint string) string {
	if parsed, err := url.Parse(endpoint); err == nil && parsed.Host != "" {
		return parsed.Host
	}
	return endpoint
}

