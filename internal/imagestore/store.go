package imagestore

import (
	"context"
	"errors"

	"github.com/smallbiznis/catalog/internal/product/domain"
)

var (
	ErrUnsupportedMediaType = errors.New("unsupported_media_type")
	ErrEmptyUpload          = errors.New("empty_upload")
	ErrTooLarge             = errors.New("upload_too_large")
	ErrStorageWrite         = errors.New("storage_write_failed")
	ErrImageNotFound        = errors.New("image_not_found")
	ErrInvalidPath          = errors.New("invalid_image_path")
)

const imagesDir = "images"

// Store persists product images and hands back paths relative to Root.
type Store interface {
	Save(ctx context.Context, upload domain.Upload) (string, error)
	Delete(ctx context.Context, relativePath string) error
	Exists(relativePath string) bool
	Root() string
}

// IsRejected reports whether err was caused by the upload itself rather
// than by the storage backend.
func IsRejected(err error) bool {
	return errors.Is(err, ErrUnsupportedMediaType) ||
		errors.Is(err, ErrEmptyUpload) ||
		errors.Is(err, ErrTooLarge)
}
