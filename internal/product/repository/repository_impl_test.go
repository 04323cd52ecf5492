package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/catalog/internal/migration"
	"github.com/smallbiznis/catalog/internal/product/domain"
	"github.com/smallbiznis/catalog/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupRepo(t *testing.T) (domain.Repository, *gorm.DB) {
	t.Helper()
	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, migration.Run(conn, db.TypeSQLite))
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return Provide(), conn
}

func sampleProduct(id int64, name string, createdAt time.Time) *domain.Product {
	image := "images/" + name + ".jpg"
	return &domain.Product{
		ID:        id,
		Name:      name,
		Price:     decimal.RequireFromString("19.99"),
		Size:      "M",
		Color:     "Red",
		Category:  "Shirts",
		Image:     &image,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func TestInsertAndFindByID(t *testing.T) {
	repo, conn := setupRepo(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	details := "cotton"
	p := sampleProduct(1, "tee", now)
	p.Details = &details
	require.NoError(t, repo.Insert(ctx, conn, p))

	got, err := repo.FindByID(ctx, conn, 1)
	require.NoError(t, err)
	assert.Equal(t, "tee", got.Name)
	assert.Equal(t, "cotton", got.DetailsText())
	assert.True(t, got.Price.Equal(decimal.RequireFromString("19.99")))
	assert.Equal(t, "images/tee.jpg", got.ImagePath())
	assert.True(t, got.CreatedAt.Equal(now))
}

func TestFindByIDMissing(t *testing.T) {
	repo, conn := setupRepo(t)

	_, err := repo.FindByID(context.Background(), conn, 42)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestInsertRejectsBlankRequiredFields(t *testing.T) {
	repo, conn := setupRepo(t)
	ctx := context.Background()

	p := sampleProduct(1, "tee", time.Now().UTC())
	p.Color = "  "
	err := repo.Insert(ctx, conn, p)
	require.ErrorIs(t, err, domain.ErrValidation)

	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Fields, "color")

	items, err := repo.ListAll(ctx, conn)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestInsertDuplicateIDIsConflict(t *testing.T) {
	repo, conn := setupRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, repo.Insert(ctx, conn, sampleProduct(7, "a", now)))
	err := repo.Insert(ctx, conn, sampleProduct(7, "b", now))
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestListAllNewestFirst(t *testing.T) {
	repo, conn := setupRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Insert(ctx, conn, sampleProduct(1, "oldest", base)))
	require.NoError(t, repo.Insert(ctx, conn, sampleProduct(2, "newest", base.Add(2*time.Hour))))
	require.NoError(t, repo.Insert(ctx, conn, sampleProduct(3, "middle", base.Add(time.Hour))))
	// same timestamp as "newest"; higher id wins the tie
	require.NoError(t, repo.Insert(ctx, conn, sampleProduct(4, "tie", base.Add(2*time.Hour))))

	items, err := repo.ListAll(ctx, conn)
	require.NoError(t, err)
	require.Len(t, items, 4)

	names := make([]string, 0, len(items))
	for _, item := range items {
		names = append(names, item.Name)
	}
	assert.Equal(t, []string{"tie", "newest", "middle", "oldest"}, names)
}

func TestUpdateOverwritesAllFields(t *testing.T) {
	repo, conn := setupRepo(t)
	ctx := context.Background()
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Insert(ctx, conn, sampleProduct(1, "tee", created)))

	newImage := "images/new.png"
	updated := &domain.Product{
		ID:        1,
		Name:      "tee v2",
		Price:     decimal.RequireFromString("0"),
		Size:      "L",
		Color:     "Blue",
		Category:  "Tops",
		Image:     &newImage,
		CreatedAt: created,
		UpdatedAt: created.Add(time.Minute),
	}
	require.NoError(t, repo.Update(ctx, conn, updated))

	got, err := repo.FindByID(ctx, conn, 1)
	require.NoError(t, err)
	assert.Equal(t, "tee v2", got.Name)
	assert.Nil(t, got.Details)
	assert.True(t, got.Price.IsZero())
	assert.Equal(t, "L", got.Size)
	assert.Equal(t, "Blue", got.Color)
	assert.Equal(t, "Tops", got.Category)
	assert.Equal(t, "images/new.png", got.ImagePath())
	assert.True(t, got.CreatedAt.Equal(created))
	assert.True(t, got.UpdatedAt.Equal(created.Add(time.Minute)))
}

func TestUpdateMissing(t *testing.T) {
	repo, conn := setupRepo(t)

	err := repo.Update(context.Background(), conn, sampleProduct(99, "ghost", time.Now().UTC()))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDelete(t *testing.T) {
	repo, conn := setupRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, conn, sampleProduct(1, "tee", time.Now().UTC())))
	require.NoError(t, repo.Delete(ctx, conn, 1))

	_, err := repo.FindByID(ctx, conn, 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.ErrorIs(t, repo.Delete(ctx, conn, 1), domain.ErrNotFound)
}
