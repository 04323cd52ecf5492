package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/catalog/internal/clock"
	"github.com/smallbiznis/catalog/internal/config"
	"github.com/smallbiznis/catalog/internal/imagestore"
	"github.com/smallbiznis/catalog/internal/migration"
	"github.com/smallbiznis/catalog/internal/observability/metrics"
	"github.com/smallbiznis/catalog/internal/product/domain"
	"github.com/smallbiznis/catalog/internal/product/repository"
	"github.com/smallbiznis/catalog/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	jpegBytes = append([]byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}, make([]byte, 64)...)
	pngBytes  = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), make([]byte, 64)...)
)

type recordingCache struct {
	mu          sync.Mutex
	items       []domain.Product
	cached      bool
	invalidated int
}

func (c *recordingCache) Get(context.Context) ([]domain.Product, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items, c.cached
}

func (c *recordingCache) Set(_ context.Context, items []domain.Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = items
	c.cached = true
}

func (c *recordingCache) Invalidate(context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = nil
	c.cached = false
	c.invalidated++
}

func (c *recordingCache) Invalidations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.invalidated
}

// failingRepo wraps a real repository and fails selected writes.
type failingRepo struct {
	domain.Repository
	insertErr error
	updateErr error
	afterList func()
}

func (r *failingRepo) ListAll(ctx context.Context, conn *gorm.DB) ([]domain.Product, error) {
	items, err := r.Repository.ListAll(ctx, conn)
	if r.afterList != nil {
		hook := r.afterList
		r.afterList = nil
		hook()
	}
	return items, err
}

func (r *failingRepo) Insert(ctx context.Context, conn *gorm.DB, p *domain.Product) error {
	if r.insertErr != nil {
		return r.insertErr
	}
	return r.Repository.Insert(ctx, conn, p)
}

func (r *failingRepo) Update(ctx context.Context, conn *gorm.DB, p *domain.Product) error {
	if r.updateErr != nil {
		return r.updateErr
	}
	return r.Repository.Update(ctx, conn, p)
}

// brokenStore fails every save as a backend failure.
type brokenStore struct {
	imagestore.Store
}

func (brokenStore) Save(context.Context, domain.Upload) (string, error) {
	return "", fmt.Errorf("%w: disk full", imagestore.ErrStorageWrite)
}

type testEnv struct {
	svc      domain.Service
	repo     *failingRepo
	db       *gorm.DB
	store    *imagestore.LocalStore
	cache    *recordingCache
	clock    *clock.FakeClock
	registry *prometheus.Registry
}

func newTestService(t *testing.T) *testEnv {
	t.Helper()

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, migration.Run(conn, db.TypeSQLite))
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	store, err := imagestore.NewLocalStore(t.TempDir(), nil, zap.NewNop(), nil)
	require.NoError(t, err)

	registry := prometheus.NewRegistry()
	m, err := metrics.New(metrics.Config{ServiceName: "catalog", Environment: "test"}, registry)
	require.NoError(t, err)

	env := &testEnv{
		repo:     &failingRepo{Repository: repository.Provide()},
		db:       conn,
		store:    store,
		cache:    &recordingCache{},
		clock:    clock.NewFakeClock(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)),
		registry: registry,
	}
	env.svc = New(Params{
		DB:      conn,
		Log:     zap.NewNop(),
		GenID:   node,
		Repo:    env.repo,
		Images:  store,
		Cache:   env.cache,
		Metrics: m,
		Clock:   env.clock,
	})
	return env
}

func (e *testEnv) imageCount(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(e.store.Root(), "images"))
	require.NoError(t, err)
	return len(entries)
}

func validCreate(name string) domain.CreateInput {
	return domain.CreateInput{
		Name:     name,
		Details:  "100% cotton",
		Price:    "499",
		Size:     "M",
		Color:    "Blue",
		Category: "Apparel",
		Image:    &domain.Upload{Filename: "shirt.jpg", Content: jpegBytes},
	}
}

func updateFrom(p *domain.Product) domain.UpdateInput {
	return domain.UpdateInput{
		Name:     p.Name,
		Details:  p.DetailsText(),
		Price:    p.Price.String(),
		Size:     p.Size,
		Color:    p.Color,
		Category: p.Category,
	}
}

func fieldErrors(t *testing.T, err error) map[string]string {
	t.Helper()
	require.ErrorIs(t, err, domain.ErrValidation)
	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr))
	return verr.Fields
}

func idOf(p *domain.Product) string {
	return snowflake.ID(p.ID).String()
}

func TestCreateThenList(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()

	created, err := env.svc.Create(ctx, validCreate("Shirt"))
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.Regexp(t, `^images/shirt-[0-9a-z]{26}\.jpg$`, created.ImagePath())
	assert.True(t, env.store.Exists(created.ImagePath()))
	assert.True(t, created.Price.Equal(decimal.NewFromInt(499)))
	assert.Equal(t, "100% cotton", created.DetailsText())

	items, err := env.svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, created.ID, items[0].ID)
	assert.Equal(t, "Shirt", items[0].Name)
}

func TestCreateTrimsAndDropsBlankDetails(t *testing.T) {
	env := newTestService(t)

	in := validCreate("  Hat  ")
	in.Details = "   "
	in.Price = " 12.345 "
	created, err := env.svc.Create(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, "Hat", created.Name)
	assert.Nil(t, created.Details)
	assert.Equal(t, "12.35", created.Price.StringFixed(2))
}

func TestListNewestFirst(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()

	a, err := env.svc.Create(ctx, validCreate("A"))
	require.NoError(t, err)
	env.clock.Advance(time.Second)
	b, err := env.svc.Create(ctx, validCreate("B"))
	require.NoError(t, err)

	items, err := env.svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, b.ID, items[0].ID)
	assert.Equal(t, a.ID, items[1].ID)
}

func TestListSameTimestampOrderedByID(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()

	a, err := env.svc.Create(ctx, validCreate("A"))
	require.NoError(t, err)
	b, err := env.svc.Create(ctx, validCreate("B"))
	require.NoError(t, err)
	require.Greater(t, b.ID, a.ID)

	items, err := env.svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, b.ID, items[0].ID)
}

func TestCreateValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.CreateInput)
		field  string
	}{
		{"empty name", func(in *domain.CreateInput) { in.Name = "" }, "name"},
		{"blank name", func(in *domain.CreateInput) { in.Name = "   " }, "name"},
		{"missing price", func(in *domain.CreateInput) { in.Price = "" }, "price"},
		{"non numeric price", func(in *domain.CreateInput) { in.Price = "abc" }, "price"},
		{"negative price", func(in *domain.CreateInput) { in.Price = "-1" }, "price"},
		{"huge price", func(in *domain.CreateInput) { in.Price = "99999999999" }, "price"},
		{"huge exponent price", func(in *domain.CreateInput) { in.Price = "1e99999999" }, "price"},
		{"tiny exponent price", func(in *domain.CreateInput) { in.Price = "1e-99999999" }, "price"},
		{"zero with huge exponent", func(in *domain.CreateInput) { in.Price = "0e99999999" }, "price"},
		{"missing size", func(in *domain.CreateInput) { in.Size = "" }, "size"},
		{"missing color", func(in *domain.CreateInput) { in.Color = "" }, "color"},
		{"missing category", func(in *domain.CreateInput) { in.Category = "" }, "category"},
		{"missing image", func(in *domain.CreateInput) { in.Image = nil }, "image"},
		{"empty image", func(in *domain.CreateInput) { in.Image = &domain.Upload{Filename: "x.jpg"} }, "image"},
		{"non image", func(in *domain.CreateInput) {
			in.Image = &domain.Upload{Filename: "x.jpg", Content: []byte("plain text, not a picture")}
		}, "image"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestService(t)
			in := validCreate("Shirt")
			tt.mutate(&in)

			_, err := env.svc.Create(context.Background(), in)
			fields := fieldErrors(t, err)
			assert.Contains(t, fields, tt.field)

			items, err := env.repo.ListAll(context.Background(), env.db)
			require.NoError(t, err)
			assert.Empty(t, items)
			assert.Zero(t, env.imageCount(t))
			assert.Zero(t, env.cache.Invalidations())
		})
	}
}

func TestCreateReportsEveryInvalidField(t *testing.T) {
	env := newTestService(t)

	_, err := env.svc.Create(context.Background(), domain.CreateInput{Price: "x"})
	fields := fieldErrors(t, err)
	for _, f := range []string{"name", "price", "size", "color", "category", "image"} {
		assert.Contains(t, fields, f)
	}
}

func TestCreateStorageFailureIsNotValidation(t *testing.T) {
	env := newTestService(t)
	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	svc := New(Params{
		DB:     env.db,
		Log:    zap.NewNop(),
		GenID:  node,
		Repo:   env.repo,
		Images: brokenStore{Store: env.store},
		Cache:  env.cache,
	})

	_, err = svc.Create(context.Background(), validCreate("Shirt"))
	require.Error(t, err)
	assert.ErrorIs(t, err, imagestore.ErrStorageWrite)
	assert.NotErrorIs(t, err, domain.ErrValidation)

	items, err := env.repo.ListAll(context.Background(), env.db)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestCreateInsertFailureRemovesImage(t *testing.T) {
	env := newTestService(t)
	env.repo.insertErr = errors.New("db down")

	_, err := env.svc.Create(context.Background(), validCreate("Shirt"))
	require.Error(t, err)
	assert.Zero(t, env.imageCount(t))
}

func TestGet(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()

	created, err := env.svc.Create(ctx, validCreate("Shirt"))
	require.NoError(t, err)

	got, err := env.svc.Get(ctx, idOf(created))
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	_, err = env.svc.Get(ctx, "12345")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = env.svc.Get(ctx, "not-a-number")
	assert.ErrorIs(t, err, domain.ErrInvalidID)
}

func TestUpdateWithoutImageKeepsPath(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()

	created, err := env.svc.Create(ctx, validCreate("Shirt"))
	require.NoError(t, err)
	env.clock.Advance(time.Minute)

	in := updateFrom(created)
	in.Color = "Green"
	updated, err := env.svc.Update(ctx, idOf(created), in)
	require.NoError(t, err)
	assert.Equal(t, "Green", updated.Color)
	assert.Equal(t, created.ImagePath(), updated.ImagePath())
	assert.True(t, env.store.Exists(created.ImagePath()))
	assert.True(t, updated.UpdatedAt.After(created.UpdatedAt))

	reloaded, err := env.svc.Get(ctx, idOf(created))
	require.NoError(t, err)
	assert.Equal(t, "Green", reloaded.Color)
	assert.True(t, reloaded.CreatedAt.Equal(created.CreatedAt))
}

func TestUpdateReplacesImage(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()

	created, err := env.svc.Create(ctx, validCreate("Shirt"))
	require.NoError(t, err)
	oldPath := created.ImagePath()

	in := updateFrom(created)
	in.Image = &domain.Upload{Filename: "shirt-v2.png", Content: pngBytes}
	updated, err := env.svc.Update(ctx, idOf(created), in)
	require.NoError(t, err)

	assert.NotEqual(t, oldPath, updated.ImagePath())
	assert.Regexp(t, `\.png$`, updated.ImagePath())
	assert.True(t, env.store.Exists(updated.ImagePath()))
	assert.False(t, env.store.Exists(oldPath))
	assert.Equal(t, 1, env.imageCount(t))
}

func TestUpdateRejectedImageKeepsOld(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()

	created, err := env.svc.Create(ctx, validCreate("Shirt"))
	require.NoError(t, err)

	in := updateFrom(created)
	in.Name = "Renamed"
	in.Image = &domain.Upload{Filename: "notes.txt", Content: []byte("hello")}
	_, err = env.svc.Update(ctx, idOf(created), in)
	fields := fieldErrors(t, err)
	assert.Contains(t, fields, "image")

	got, err := env.svc.Get(ctx, idOf(created))
	require.NoError(t, err)
	assert.Equal(t, "Shirt", got.Name)
	assert.Equal(t, created.ImagePath(), got.ImagePath())
	assert.True(t, env.store.Exists(created.ImagePath()))
}

func TestUpdateRowFailureRemovesNewImage(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()

	created, err := env.svc.Create(ctx, validCreate("Shirt"))
	require.NoError(t, err)
	env.repo.updateErr = errors.New("db down")

	in := updateFrom(created)
	in.Image = &domain.Upload{Filename: "new.png", Content: pngBytes}
	_, err = env.svc.Update(ctx, idOf(created), in)
	require.Error(t, err)

	assert.True(t, env.store.Exists(created.ImagePath()))
	assert.Equal(t, 1, env.imageCount(t))
}

func TestUpdateMissingProduct(t *testing.T) {
	env := newTestService(t)

	_, err := env.svc.Update(context.Background(), "999", domain.UpdateInput{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpdateValidation(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()

	created, err := env.svc.Create(ctx, validCreate("Shirt"))
	require.NoError(t, err)

	in := updateFrom(created)
	in.Name = ""
	in.Price = "cheap"
	_, err = env.svc.Update(ctx, idOf(created), in)
	fields := fieldErrors(t, err)
	assert.Contains(t, fields, "name")
	assert.Contains(t, fields, "price")
}

func TestDeleteRemovesRowAndImage(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()

	created, err := env.svc.Create(ctx, validCreate("Shirt"))
	require.NoError(t, err)

	require.NoError(t, env.svc.Delete(ctx, idOf(created)))

	_, err = env.svc.Get(ctx, idOf(created))
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.False(t, env.store.Exists(created.ImagePath()))

	items, err := env.svc.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)

	assert.ErrorIs(t, env.svc.Delete(ctx, idOf(created)), domain.ErrNotFound)
}

func TestDeleteWithMissingImageFile(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()

	created, err := env.svc.Create(ctx, validCreate("Shirt"))
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(env.store.Root(), filepath.FromSlash(created.ImagePath()))))

	require.NoError(t, env.svc.Delete(ctx, idOf(created)))
	_, err = env.svc.Get(ctx, idOf(created))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListUsesCacheAndWritesInvalidate(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()

	_, err := env.svc.List(ctx)
	require.NoError(t, err)
	_, cached := env.cache.Get(ctx)
	assert.True(t, cached)

	created, err := env.svc.Create(ctx, validCreate("Shirt"))
	require.NoError(t, err)
	assert.Equal(t, 1, env.cache.Invalidations())

	items, err := env.svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)

	_, err = env.svc.Update(ctx, idOf(created), updateFrom(created))
	require.NoError(t, err)
	require.NoError(t, env.svc.Delete(ctx, idOf(created)))
	assert.Equal(t, 3, env.cache.Invalidations())
}

func TestListDropsFillRacingAWrite(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()

	env.repo.afterList = func() {
		_, err := env.svc.Create(ctx, validCreate("Shirt"))
		require.NoError(t, err)
	}

	stale, err := env.svc.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, stale)

	_, cached := env.cache.Get(ctx)
	assert.False(t, cached)

	items, err := env.svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	_, cached = env.cache.Get(ctx)
	assert.True(t, cached)
}

func TestWritesRecordMetrics(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()

	created, err := env.svc.Create(ctx, validCreate("Shirt"))
	require.NoError(t, err)
	require.NoError(t, env.svc.Delete(ctx, idOf(created)))

	count, err := testutil.GatherAndCount(env.registry, "catalog_products_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestNewDefaultsOptionalDependencies(t *testing.T) {
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	store, err := imagestore.NewLocalStore(t.TempDir(), config.NewStaticUploadConfigHolder(config.DefaultUploadConfig()), nil, nil)
	require.NoError(t, err)

	svc := New(Params{Log: zap.NewNop(), GenID: node, Repo: repository.Provide(), Images: store})
	impl, ok := svc.(*Service)
	require.True(t, ok)
	assert.NotNil(t, impl.cache)
	assert.NotNil(t, impl.clock)
}
