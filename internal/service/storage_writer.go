package service

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/netsurvey/netsurvey/internal/config"
	"github.com/netsurvey/netsurvey/pkg/logger"
	"github.com/netsurvey/netsurvey/pkg/transfer"
)

// ArtifactMirror 将已发布的配置文件另存一份
type ArtifactMirror interface {
	Mirror(ctx context.Context, runID string, art *transfer.Artifact) (string, error)
}

// MinioMirror 配置文件的 MinIO 副本
type MinioMirror struct {
	cfg           config.MinioConfig
	client        *minio.Client
	endpoint      string
	mu            sync.Mutex
	bucketEnsured bool
}

// NewMinioMirror 创建 MinIO 客户端；未启用时返回 nil, nil
func NewMinioMirror(cfg config.MinioConfig) (*MinioMirror, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	host := strings.TrimSpace(cfg.Host)
	if host == "" || cfg.Port <= 0 {
		return nil, fmt.Errorf("minio configuration incomplete: host/port missing")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("minio bucket not configured")
	}
	endpoint := net.JoinHostPort(host, fmt.Sprint(cfg.Port))

	tr := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConnsPerHost:   16,
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.Secure,
		Transport: tr,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client initialization failed: %w", err)
	}
	return &MinioMirror{cfg: cfg, client: client, endpoint: endpoint}, nil
}

// objectName 对象路径：prefix/日期/runID/文件名
func (w *MinioMirror) objectName(runID string, art *transfer.Artifact, now time.Time) string {
	parts := []string{}
	if p := strings.Trim(w.cfg.Prefix, "/ "); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts, now.Format("20060102"))
	if runID != "" {
		parts = append(parts, runID)
	}
	parts = append(parts, filepath.Base(art.Dest))
	return path.Join(parts...)
}

// Mirror 上传配置文件，返回 minio:// 形式的 URI
func (w *MinioMirror) Mirror(ctx context.Context, runID string, art *transfer.Artifact) (string, error) {
	if art == nil {
		return "", fmt.Errorf("nil artifact")
	}
	bucket := w.cfg.Bucket
	w.mu.Lock()
	if !w.bucketEnsured {
		if err := w.ensureBucket(ctx, bucket); err != nil {
			w.mu.Unlock()
			return "", fmt.Errorf("minio ensure bucket failed: %w", err)
		}
		w.bucketEnsured = true
	}
	w.mu.Unlock()

	object := w.objectName(runID, art, time.Now())
	attemptCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	_, err := w.client.FPutObject(attemptCtx, bucket, object, art.Dest, minio.PutObjectOptions{
		ContentType:  "text/plain; charset=utf-8",
		UserMetadata: map[string]string{"host": art.Host, "source": art.Source, "sha256": art.Checksum},
	})
	if err != nil {
		return "", fmt.Errorf("minio put object to %s failed: %w", w.endpoint, err)
	}
	uri := "minio://" + path.Join(bucket, object)
	logger.Debug("Configuration mirrored", "host", art.Host, "uri", uri)
	return uri, nil
}

// ensureBucket 校验并创建 bucket
func (w *MinioMirror) ensureBucket(parent context.Context, bucket string) error {
	ctx, cancel := context.WithTimeout(parent, 10*time.Second)
	defer cancel()
	exists, err := w.client.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return w.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{})
}
