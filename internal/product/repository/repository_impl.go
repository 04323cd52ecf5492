package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/smallbiznis/catalog/internal/product/domain"
	dbpkg "github.com/smallbiznis/catalog/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, product *domain.Product) error {
	if err := checkRequired(product); err != nil {
		return err
	}
	err := db.WithContext(ctx).Exec(
		`INSERT INTO products (id, name, details, price, size, color, category, image, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		product.ID,
		product.Name,
		product.Details,
		product.Price,
		product.Size,
		product.Color,
		product.Category,
		product.Image,
		product.CreatedAt,
		product.UpdatedAt,
	).Error
	if dbpkg.IsDuplicateKeyErr(err) {
		return fmt.Errorf("%w: product %d", domain.ErrConflict, product.ID)
	}
	return err
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id int64) (*domain.Product, error) {
	var items []domain.Product
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, details, price, size, color, category, image, created_at, updated_at
		 FROM products WHERE id = ?`,
		id,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, domain.ErrNotFound
	}
	return &items[0], nil
}

func (r *repo) ListAll(ctx context.Context, db *gorm.DB) ([]domain.Product, error) {
	var items []domain.Product
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, details, price, size, color, category, image, created_at, updated_at
		 FROM products ORDER BY created_at DESC, id DESC`,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, product *domain.Product) error {
	if product == nil {
		return gorm.ErrInvalidData
	}
	if err := checkRequired(product); err != nil {
		return err
	}
	res := db.WithContext(ctx).Exec(
		`UPDATE products
		 SET name = ?, details = ?, price = ?, size = ?, color = ?, category = ?, image = ?, updated_at = ?
		 WHERE id = ?`,
		product.Name,
		product.Details,
		product.Price,
		product.Size,
		product.Color,
		product.Category,
		product.Image,
		product.UpdatedAt,
		product.ID,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, id int64) error {
	res := db.WithContext(ctx).Exec(`DELETE FROM products WHERE id = ?`, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// checkRequired rejects rows with blank required columns or a negative price.
func checkRequired(product *domain.Product) error {
	if product == nil {
		return gorm.ErrInvalidData
	}
	verr := &domain.ValidationError{}
	for field, value := range map[string]string{
		"name":     product.Name,
		"size":     product.Size,
		"color":    product.Color,
		"category": product.Category,
	} {
		if strings.TrimSpace(value) == "" {
			verr.Add(field, "is required")
		}
	}
	if product.Price.IsNegative() {
		verr.Add("price", "must be zero or greater")
	}
	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}
