package domain

import (
	"context"
	"errors"
	"sort"
	"strings"
)

type Service interface {
	Create(ctx context.Context, req CreateInput) (*Product, error)
	Get(ctx context.Context, id string) (*Product, error)
	Update(ctx context.Context, id string, req UpdateInput) (*Product, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]Product, error)
}

// Upload is an uploaded file as received from the form.
type Upload struct {
	Filename string
	Content  []byte
}

// Present reports whether a file was actually submitted.
func (u *Upload) Present() bool {
	return u != nil && (strings.TrimSpace(u.Filename) != "" || len(u.Content) > 0)
}

// CreateInput is the raw form submission. Price stays a string until the
// service parses it.
type CreateInput struct {
	Name     string
	Details  string
	Price    string
	Size     string
	Color    string
	Category string
	Image    *Upload
}

// UpdateInput carries every editable field. A nil or empty Image keeps the
// current file.
type UpdateInput struct {
	Name     string
	Details  string
	Price    string
	Size     string
	Color    string
	Category string
	Image    *Upload
}

var (
	ErrNotFound   = errors.New("not_found")
	ErrInvalidID  = errors.New("invalid_id")
	ErrValidation = errors.New("validation_error")
	ErrConflict   = errors.New("conflict")
)

// ValidationError carries one message per offending form field.
type ValidationError struct {
	Fields map[string]string
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

func (e *ValidationError) Add(field, message string) {
	if e.Fields == nil {
		e.Fields = map[string]string{}
	}
	if _, exists := e.Fields[field]; exists {
		return
	}
	e.Fields[field] = message
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return "validation error: " + strings.Join(keys, ", ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
