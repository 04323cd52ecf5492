package server

import (
	"context"
	"errors"
	"html/template"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/sessions"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/catalog/internal/config"
	"github.com/smallbiznis/catalog/internal/imagestore"
	"github.com/smallbiznis/catalog/internal/observability"
	obsmiddleware "github.com/smallbiznis/catalog/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/catalog/internal/observability/metrics"
	obstracing "github.com/smallbiznis/catalog/internal/observability/tracing"
	productdomain "github.com/smallbiznis/catalog/internal/product/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewSessionStore),
	fx.Provide(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics, registry *prometheus.Registry) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	gatherer := prometheus.DefaultGatherer
	if registry != nil {
		gatherer = obsmetrics.Gatherer(registry)
	}
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	return r
}

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	log        *zap.Logger
	productSvc productdomain.Service
	images     imagestore.Store
	sessions   sessions.Store
	uploads    *config.UploadConfigHolder
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	Log        *zap.Logger
	ProductSvc productdomain.Service
	Images     imagestore.Store
	Sessions   sessions.Store
	Uploads    *config.UploadConfigHolder
}

func NewServer(p ServerParams) (*Server, error) {
	tmpl, err := template.New("").ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}

	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		log:        p.Log.Named("http.server"),
		productSvc: p.ProductSvc,
		images:     p.Images,
		sessions:   p.Sessions,
		uploads:    p.Uploads,
	}

	svc.engine.SetHTMLTemplate(tmpl)
	svc.registerStaticRoutes()
	svc.registerProductRoutes()

	return svc, nil
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Handler is the root handler with form method overrides applied.
func (s *Server) Handler() http.Handler {
	return MethodOverride(s.engine, s.uploadLimit)
}

func (s *Server) registerStaticRoutes() {
	s.engine.Static("/images", filepath.Join(s.images.Root(), "images"))
}

func (s *Server) registerProductRoutes() {
	s.engine.GET("/", func(c *gin.Context) {
		c.Redirect(http.StatusFound, "/products")
	})

	products := s.engine.Group("/products")
	products.GET("", s.ListProducts)
	products.GET("/new", s.NewProductForm)
	products.POST("", s.LimitUploadBody(), s.CreateProduct)
	products.GET("/:id/edit", s.EditProductForm)
	products.PUT("/:id", s.LimitUploadBody(), s.UpdateProduct)
	products.DELETE("/:id", s.DeleteProduct)
}

func run(lc fx.Lifecycle, shutdowner fx.Shutdowner, cfg config.Config, s *Server, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server stopped", zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
