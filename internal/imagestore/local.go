package imagestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gosimple/slug"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/catalog/internal/config"
	"github.com/smallbiznis/catalog/internal/observability/metrics"
	"github.com/smallbiznis/catalog/internal/product/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const maxSlugLen = 48

type Params struct {
	fx.In

	Cfg     config.Config
	Uploads *config.UploadConfigHolder
	Log     *zap.Logger
	Metrics *metrics.Metrics `optional:"true"`
}

// LocalStore keeps images on the local filesystem under <root>/images.
type LocalStore struct {
	root    string
	uploads *config.UploadConfigHolder
	log     *zap.Logger
	metrics *metrics.Metrics
}

func New(p Params) (Store, error) {
	return NewLocalStore(p.Cfg.StorageRoot, p.Uploads, p.Log, p.Metrics)
}

func NewLocalStore(root string, uploads *config.UploadConfigHolder, log *zap.Logger, m *metrics.Metrics) (*LocalStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("image store root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve image store root: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(abs, imagesDir), 0o755); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageWrite, err)
	}
	if uploads == nil {
		uploads = config.NewStaticUploadConfigHolder(config.DefaultUploadConfig())
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &LocalStore{
		root:    abs,
		uploads: uploads,
		log:     log.Named("imagestore"),
		metrics: m,
	}, nil
}

func (s *LocalStore) Root() string {
	return s.root
}

// Save validates the content type from the bytes, then writes the file
// atomically. Nothing touches the disk when validation fails.
func (s *LocalStore) Save(ctx context.Context, upload domain.Upload) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	limits := s.uploads.Get()
	if len(upload.Content) == 0 {
		s.metrics.RecordImage(metrics.ImageSave, metrics.ImageRejected)
		return "", ErrEmptyUpload
	}
	if limits.MaxBytes > 0 && int64(len(upload.Content)) > limits.MaxBytes {
		s.metrics.RecordImage(metrics.ImageSave, metrics.ImageRejected)
		return "", fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, len(upload.Content), limits.MaxBytes)
	}

	detected := mimetype.Detect(upload.Content)
	if !limits.Allows(detected.String()) {
		s.metrics.RecordImage(metrics.ImageSave, metrics.ImageRejected)
		return "", fmt.Errorf("%w: %s", ErrUnsupportedMediaType, detected.String())
	}

	name := imageName(upload.Filename, detected.Extension())
	dir := filepath.Join(s.root, imagesDir)
	if err := s.writeFile(dir, name, upload.Content); err != nil {
		s.metrics.RecordImage(metrics.ImageSave, metrics.ImageFailed)
		s.log.Error("image write failed", zap.String("name", name), zap.Error(err))
		return "", fmt.Errorf("%w: %w", ErrStorageWrite, err)
	}

	s.metrics.RecordImage(metrics.ImageSave, metrics.ImageSaved)
	s.metrics.RecordImageBytes(len(upload.Content))
	relative := path.Join(imagesDir, name)
	s.log.Debug("image saved",
		zap.String("path", relative),
		zap.String("content_type", detected.String()),
		zap.Int("bytes", len(upload.Content)),
	)
	return relative, nil
}

func (s *LocalStore) writeFile(dir, name string, content []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, filepath.Join(dir, name)); err != nil {
		cleanup()
		return err
	}
	return nil
}

// Delete removes a previously saved image. A missing file is reported as
// ErrImageNotFound so callers can treat it as already gone.
func (s *LocalStore) Delete(ctx context.Context, relativePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	full, err := s.resolve(relativePath)
	if err != nil {
		return err
	}

	if err := os.Remove(full); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.metrics.RecordImage(metrics.ImageDelete, metrics.ImageMissing)
			s.log.Warn("image already missing", zap.String("path", relativePath))
			return fmt.Errorf("%w: %s", ErrImageNotFound, relativePath)
		}
		s.metrics.RecordImage(metrics.ImageDelete, metrics.ImageFailed)
		return fmt.Errorf("%w: %w", ErrStorageWrite, err)
	}

	s.metrics.RecordImage(metrics.ImageDelete, metrics.ImageRemoved)
	return nil
}

func (s *LocalStore) Exists(relativePath string) bool {
	full, err := s.resolve(relativePath)
	if err != nil {
		return false
	}
	info, err := os.Stat(full)
	return err == nil && info.Mode().IsRegular()
}

// resolve maps a stored relative path to an absolute path inside the root.
func (s *LocalStore) resolve(relativePath string) (string, error) {
	relativePath = strings.TrimSpace(relativePath)
	if relativePath == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}

	cleaned := filepath.Clean(filepath.FromSlash(relativePath))
	if filepath.IsAbs(cleaned) || cleaned == "." || cleaned == ".." ||
		strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrInvalidPath, relativePath)
	}
	return filepath.Join(s.root, cleaned), nil
}

// imageName builds "<slug>-<ulid><ext>", or "<ulid><ext>" when the original
// name has nothing sluggable.
func imageName(original, ext string) string {
	id := strings.ToLower(ulid.Make().String())

	base := filepath.Base(strings.ReplaceAll(original, "\\", "/"))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	s := slug.Make(base)
	if len(s) > maxSlugLen {
		s = strings.Trim(s[:maxSlugLen], "-")
	}
	if s == "" || s == "." {
		return id + ext
	}
	return s + "-" + id + ext
}
