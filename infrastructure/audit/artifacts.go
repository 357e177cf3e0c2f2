// Package audit persists pre/post action captures.
package audit

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"

	"vision_automation/domain/interfaces"
)

const adhocRun = "adhoc"

var unsafeName = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

func objectName(runID, name string) string {
	if runID == "" {
		runID = adhocRun
	}
	name = unsafeName.ReplaceAllString(name, "_")
	if !strings.HasSuffix(name, ".png") {
		name += ".png"
	}
	return runID + "/" + name
}

// LocalStore - writes PNG artifacts under <dir>/<run_id>/
type LocalStore struct {
	dir    string
	logger *logrus.Logger
}

var _ interfaces.ArtifactStore = (*LocalStore)(nil)

func NewLocalStore(dir string, logger *logrus.Logger) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit dir: %w", err)
	}
	return &LocalStore{dir: dir, logger: logger}, nil
}

// PutImage - saves img and returns its file path
func (s *LocalStore) PutImage(ctx context.Context, runID, name string, img image.Image) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if img == nil {
		return "", fmt.Errorf("no image for artifact %s", name)
	}
	path := filepath.Join(s.dir, filepath.FromSlash(objectName(runID, name)))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create run dir: %w", err)
	}
	if err := imaging.Save(img, path); err != nil {
		return "", fmt.Errorf("failed to save artifact: %w", err)
	}
	if s.logger != nil {
		s.logger.WithField("path", path).Debug("Artifact saved")
	}
	return path, nil
}

// MinIOConfig - object storage settings
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// MinIOStore - uploads PNG artifacts to a bucket as <run_id>/<name>.png
type MinIOStore struct {
	client *minio.Client
	bucket string
	logger *logrus.Logger
}

var _ interfaces.ArtifactStore = (*MinIOStore)(nil)

// NewMinIOStore - connects and creates the bucket when missing
func NewMinIOStore(ctx context.Context, cfg MinIOConfig, logger *logrus.Logger) (*MinIOStore, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("minio endpoint is required for the minio audit backend")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		bucket = "vision-audit"
	}
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}
	return &MinIOStore{client: client, bucket: bucket, logger: logger}, nil
}

// PutImage - uploads img and returns its s3 URI
func (s *MinIOStore) PutImage(ctx context.Context, runID, name string, img image.Image) (string, error) {
	if img == nil {
		return "", fmt.Errorf("no image for artifact %s", name)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return "", fmt.Errorf("failed to encode artifact: %w", err)
	}
	obj := objectName(runID, name)
	if _, err := s.client.PutObject(ctx, s.bucket, obj, &buf, int64(buf.Len()),
		minio.PutObjectOptions{ContentType: "image/png"}); err != nil {
		return "", fmt.Errorf("failed to upload artifact: %w", err)
	}
	uri := fmt.Sprintf("s3://%s/%s", s.bucket, obj)
	if s.logger != nil {
		s.logger.WithField("uri", uri).Debug("Artifact uploaded")
	}
	return uri, nil
}
