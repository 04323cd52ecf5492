package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/catalog/internal/cache"
	"github.com/smallbiznis/catalog/internal/clock"
	"github.com/smallbiznis/catalog/internal/imagestore"
	obslogger "github.com/smallbiznis/catalog/internal/observability/logger"
	"github.com/smallbiznis/catalog/internal/observability/metrics"
	"github.com/smallbiznis/catalog/internal/product/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// NUMERIC(12,2) leaves ten integer digits.
var maxPrice = decimal.New(1, 10)

// Rounding rescales to the exponent, so out-of-range exponents are refused
// before any arithmetic on the parsed value.
const (
	maxPriceExponent = 10
	minPriceExponent = -20
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Repo    domain.Repository
	Images  imagestore.Store
	Cache   cache.ProductListCache `optional:"true"`
	Metrics *metrics.Metrics       `optional:"true"`
	Clock   clock.Clock            `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	repo     domain.Repository
	genID    *snowflake.Node
	images   imagestore.Store
	cache    cache.ProductListCache
	metrics  *metrics.Metrics
	clock    clock.Clock
	validate *validator.Validate

	// listMu orders cache fills against invalidations; listGen counts
	// invalidations so a fill that raced a write is dropped.
	listMu  sync.Mutex
	listGen uint64
}

func New(p Params) domain.Service {
	listCache := p.Cache
	if listCache == nil {
		listCache = cache.NewNoopProductListCache()
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("product.service"),
		repo:     p.Repo,
		genID:    p.GenID,
		images:   p.Images,
		cache:    listCache,
		metrics:  p.Metrics,
		clock:    clk,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (s *Service) List(ctx context.Context) ([]domain.Product, error) {
	if items, ok := s.cache.Get(ctx); ok {
		return items, nil
	}

	gen := s.listGeneration()
	items, err := s.repo.ListAll(ctx, s.db)
	if err != nil {
		return nil, err
	}

	s.listMu.Lock()
	if s.listGen == gen {
		s.cache.Set(ctx, items)
	}
	s.listMu.Unlock()
	return items, nil
}

func (s *Service) listGeneration() uint64 {
	s.listMu.Lock()
	defer s.listMu.Unlock()
	return s.listGen
}

func (s *Service) invalidateList(ctx context.Context) {
	s.listMu.Lock()
	defer s.listMu.Unlock()
	s.listGen++
	s.cache.Invalidate(ctx)
}

func (s *Service) Create(ctx context.Context, req domain.CreateInput) (*domain.Product, error) {
	fields, verr := s.normalize(req.Name, req.Details, req.Price, req.Size, req.Color, req.Category)
	if !req.Image.Present() {
		verr.Add("image", "is required")
	}
	if len(verr.Fields) > 0 {
		return nil, verr
	}

	imagePath, err := s.saveImage(ctx, *req.Image)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	p := &domain.Product{
		ID:        s.genID.Generate().Int64(),
		Name:      fields.name,
		Details:   fields.details,
		Price:     fields.price,
		Size:      fields.size,
		Color:     fields.color,
		Category:  fields.category,
		Image:     &imagePath,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Insert(ctx, s.db, p); err != nil {
		s.discardImage(ctx, imagePath)
		return nil, err
	}

	s.invalidateList(ctx)
	s.metrics.RecordProduct(metrics.OperationCreate)
	obslogger.WithContext(ctx, s.log).Info("product created",
		zap.Int64("product_id", p.ID),
		zap.String("image", imagePath),
	)
	return p, nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Product, error) {
	productID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	return s.repo.FindByID(ctx, s.db, productID)
}

func (s *Service) Update(ctx context.Context, id string, req domain.UpdateInput) (*domain.Product, error) {
	productID, err := parseID(id)
	if err != nil {
		return nil, err
	}

	item, err := s.repo.FindByID(ctx, s.db, productID)
	if err != nil {
		return nil, err
	}

	fields, verr := s.normalize(req.Name, req.Details, req.Price, req.Size, req.Color, req.Category)
	if len(verr.Fields) > 0 {
		return nil, verr
	}

	previousImage := item.ImagePath()
	newImage := ""
	if req.Image.Present() {
		newImage, err = s.saveImage(ctx, *req.Image)
		if err != nil {
			return nil, err
		}
		item.Image = &newImage
	}

	item.Name = fields.name
	item.Details = fields.details
	item.Price = fields.price
	item.Size = fields.size
	item.Color = fields.color
	item.Category = fields.category
	item.UpdatedAt = s.clock.Now()

	if err := s.repo.Update(ctx, s.db, item); err != nil {
		if newImage != "" {
			s.discardImage(ctx, newImage)
		}
		return nil, err
	}

	if newImage != "" && previousImage != "" && previousImage != newImage {
		s.discardImage(ctx, previousImage)
	}

	s.invalidateList(ctx)
	s.metrics.RecordProduct(metrics.OperationUpdate)
	obslogger.WithContext(ctx, s.log).Info("product updated",
		zap.Int64("product_id", item.ID),
		zap.Bool("image_replaced", newImage != ""),
	)
	return item, nil
}

// Delete removes the row, then its image. A missing image file does not
// fail the call.
func (s *Service) Delete(ctx context.Context, id string) error {
	productID, err := parseID(id)
	if err != nil {
		return err
	}

	item, err := s.repo.FindByID(ctx, s.db, productID)
	if err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, s.db, item.ID); err != nil {
		return err
	}
	if imagePath := item.ImagePath(); imagePath != "" {
		s.discardImage(ctx, imagePath)
	}

	s.invalidateList(ctx)
	s.metrics.RecordProduct(metrics.OperationDelete)
	obslogger.WithContext(ctx, s.log).Info("product deleted", zap.Int64("product_id", item.ID))
	return nil
}

type productFields struct {
	name     string
	details  *string
	price    decimal.Decimal
	size     string
	color    string
	category string
}

type formFields struct {
	Name     string `validate:"required"`
	Price    string `validate:"required"`
	Size     string `validate:"required"`
	Color    string `validate:"required"`
	Category string `validate:"required"`
}

// normalize trims the text fields, runs the struct validator and parses the
// price. The returned error is never nil; callers check its Fields.
func (s *Service) normalize(name, details, price, size, color, category string) (productFields, *domain.ValidationError) {
	verr := &domain.ValidationError{}
	form := formFields{
		Name:     strings.TrimSpace(name),
		Price:    strings.TrimSpace(price),
		Size:     strings.TrimSpace(size),
		Color:    strings.TrimSpace(color),
		Category: strings.TrimSpace(category),
	}

	if err := s.validate.Struct(form); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			verr.Add("form", err.Error())
		}
		for _, fe := range fieldErrs {
			verr.Add(strings.ToLower(fe.Field()), validationMessage(fe))
		}
	}

	out := productFields{
		name:     form.Name,
		size:     form.Size,
		color:    form.Color,
		category: form.Category,
	}
	if d := strings.TrimSpace(details); d != "" {
		out.details = &d
	}

	if form.Price != "" {
		parsed, err := decimal.NewFromString(form.Price)
		switch {
		case err != nil:
			verr.Add("price", "must be a number")
		case parsed.Exponent() > maxPriceExponent || parsed.Exponent() < minPriceExponent:
			verr.Add("price", "must be a number")
		case parsed.IsNegative():
			verr.Add("price", "must be zero or greater")
		case parsed.Round(2).GreaterThanOrEqual(maxPrice):
			verr.Add("price", "is too large")
		default:
			out.price = parsed.Round(2)
		}
	}

	return out, verr
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	default:
		return "is invalid"
	}
}

func (s *Service) saveImage(ctx context.Context, upload domain.Upload) (string, error) {
	imagePath, err := s.images.Save(ctx, upload)
	if err == nil {
		return imagePath, nil
	}
	if !imagestore.IsRejected(err) {
		return "", fmt.Errorf("save image: %w", err)
	}

	switch {
	case errors.Is(err, imagestore.ErrEmptyUpload):
		return "", domain.NewValidationError("image", "is required")
	case errors.Is(err, imagestore.ErrTooLarge):
		return "", domain.NewValidationError("image", "is too large")
	default:
		return "", domain.NewValidationError("image", "must be a JPEG or PNG image")
	}
}

// discardImage deletes a stored image and only logs failures.
func (s *Service) discardImage(ctx context.Context, imagePath string) {
	err := s.images.Delete(ctx, imagePath)
	switch {
	case err == nil:
	case errors.Is(err, imagestore.ErrImageNotFound):
		// already gone; the store logs it
	default:
		obslogger.WithContext(ctx, s.log).Warn("image cleanup failed", zap.String("image", imagePath), zap.Error(err))
	}
}

func parseID(id string) (int64, error) {
	productID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || productID.Int64() <= 0 {
		return 0, domain.ErrInvalidID
	}
	return productID.Int64(), nil
}
