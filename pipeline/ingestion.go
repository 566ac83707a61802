package pipeline

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// ErrDatasetNotFound 数据集文件不存在
var ErrDatasetNotFound = errors.New("dataset file not found")

const (
	DefaultKaggleBaseURL = "https://www.kaggle.com/api/v1"
	completeMarker       = ".complete"
)

// Source 数据源：获取数据集并返回其所在目录
type Source interface {
	Acquire(ctx context.Context) (string, error)
}

// DirSource 本地目录数据源
type DirSource struct {
	Dir string
}

// Acquire 校验目录存在
func (s DirSource) Acquire(ctx context.Context) (string, error) {
	info, err := os.Stat(s.Dir)
	if err != nil {
		return "", fmt.Errorf("dataset dir: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("dataset dir %s is not a directory", s.Dir)
	}
	return s.Dir, nil
}

// KaggleConfig Kaggle数据源配置
type KaggleConfig struct {
	Handle   string
	CacheDir string
	Username string
	Key      string
	BaseURL  string
	Timeout  time.Duration
}

// KaggleSource 从Kaggle下载数据集压缩包并解压到缓存目录
type KaggleSource struct {
	config KaggleConfig
	client *http.Client
	logger *zap.SugaredLogger
}

// NewKaggleSource 创建Kaggle数据源
func NewKaggleSource(config KaggleConfig, logger *zap.SugaredLogger) *KaggleSource {
	if config.BaseURL == "" {
		config.BaseURL = DefaultKaggleBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &KaggleSource{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		logger: logger,
	}
}

// Acquire 下载并解压；已完整解压的缓存直接复用
func (s *KaggleSource) Acquire(ctx context.Context) (string, error) {
	owner, name, ok := strings.Cut(s.config.Handle, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", fmt.Errorf("invalid dataset handle %q, want owner/name", s.config.Handle)
	}
	target := filepath.Join(s.config.CacheDir, owner, name)
	if _, err := os.Stat(filepath.Join(target, completeMarker)); err == nil {
		s.logger.Infow("dataset cache hit", "dir", target)
		return target, nil
	}

	url := fmt.Sprintf("%s/datasets/download/%s/%s", strings.TrimRight(s.config.BaseURL, "/"), owner, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	if s.config.Username != "" && s.config.Key != "" {
		req.SetBasicAuth(s.config.Username, s.config.Key)
	}

	start := time.Now()
	s.logger.Infow("downloading dataset", "handle", s.config.Handle)
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download dataset: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download dataset: unexpected status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(s.config.CacheDir, 0o755); err != nil {
		return "", err
	}
	archive, err := os.CreateTemp(s.config.CacheDir, "dataset-*.zip")
	if err != nil {
		return "", err
	}
	defer os.Remove(archive.Name())
	size, err := io.Copy(archive, resp.Body)
	if closeErr := archive.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", fmt.Errorf("download dataset: %w", err)
	}

	if err := os.RemoveAll(target); err != nil {
		return "", err
	}
	if err := extractZip(archive.Name(), target); err != nil {
		return "", fmt.Errorf("extract dataset: %w", err)
	}
	if err := os.WriteFile(filepath.Join(target, completeMarker), nil, 0o644); err != nil {
		return "", err
	}
	s.logger.Infow("dataset ready", "dir", target, "size", humanize.Bytes(uint64(size)), "duration", time.Since(start))
	return target, nil
}

// extractZip 解压，拒绝越出目标目录的条目
func extractZip(archivePath, target string) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return err
	}
	defer reader.Close()

	root, err := filepath.Abs(target)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	for _, file := range reader.File {
		dest := filepath.Join(root, filepath.FromSlash(file.Name))
		if dest != root && !strings.HasPrefix(dest, root+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry %q escapes target", file.Name)
		}
		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		if err := writeZipEntry(file, dest); err != nil {
			return err
		}
	}
	return nil
}

func writeZipEntry(file *zip.File, dest string) error {
	src, err := file.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// LocateFile 先按文件名精确查找，找不到时返回按字典序第一个扩展名匹配的文件
func LocateFile(dir, name, ext string) (string, error) {
	if name != "" {
		exact := filepath.Join(dir, name)
		if info, err := os.Stat(exact); err == nil && !info.IsDir() {
			return exact, nil
		}
	}
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	var found string
	errFound := errors.New("found")
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") || strings.HasPrefix(d.Name(), "~$") {
			return nil
		}
		if ext != "" && strings.ToLower(filepath.Ext(d.Name())) == ext {
			found = path
			return errFound
		}
		return nil
	})
	if err != nil && !errors.Is(err, errFound) {
		return "", err
	}
	if found == "" {
		return "", fmt.Errorf("%w: %q or any *%s in %s", ErrDatasetNotFound, name, ext, dir)
	}
	return found, nil
}
