package db

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/catalog/internal/config"
	"github.com/smallbiznis/catalog/internal/observability"
	obslogger "github.com/smallbiznis/catalog/internal/observability/logger"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormprometheus "gorm.io/plugin/prometheus"
)

var Module = fx.Module("db",
	fx.Provide(New),
)

type Params struct {
	fx.In

	Lc     fx.Lifecycle
	Cfg    config.Config
	ObsCfg observability.Config
	Log    *zap.Logger
}

// New opens the configured database and closes it when the app stops.
func New(p Params) (*gorm.DB, error) {
	dialector, err := Dialect(p.Cfg)
	if err != nil {
		return nil, err
	}

	gormLogCfg := obslogger.DefaultGormLoggerConfig()
	if p.ObsCfg.SlowQueryThreshold > 0 {
		gormLogCfg.SlowThreshold = p.ObsCfg.SlowQueryThreshold
	}

	conn, err := Open(dialector, poolConfigFrom(p.Cfg), obslogger.NewGormLogger(p.Log, gormLogCfg))
	if err != nil {
		return nil, err
	}

	if err := conn.Use(gormprometheus.New(gormprometheus.Config{
		DBName:          p.Cfg.DBName,
		RefreshInterval: 15,
	})); err != nil {
		return nil, fmt.Errorf("register db metrics: %w", err)
	}
	if p.ObsCfg.OtelEnabled {
		if err := conn.Use(otelgorm.NewPlugin(otelgorm.WithDBName(p.Cfg.DBName))); err != nil {
			return nil, fmt.Errorf("register db tracing: %w", err)
		}
	}

	p.Lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})

	p.Log.Info("database connected",
		zap.String("type", p.Cfg.DBType),
		zap.String("name", p.Cfg.DBName),
	)
	return conn, nil
}

// Open builds a *gorm.DB and applies pool settings.
func Open(dialector gorm.Dialector, pool PoolConfig, log *obslogger.GormLogger) (*gorm.DB, error) {
	gormCfg := &gorm.Config{}
	if log != nil {
		gormCfg.Logger = log
	}

	conn, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	if pool.MaxIdleConn > 0 {
		sqlDB.SetMaxIdleConns(pool.MaxIdleConn)
	}
	if pool.MaxOpenConn > 0 {
		sqlDB.SetMaxOpenConns(pool.MaxOpenConn)
	}
	if pool.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}
	if pool.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(pool.ConnMaxIdleTime)
	}
	return conn, nil
}

var testDBSeq atomic.Int64

// NewTest opens a private in-memory sqlite database.
func NewTest() (*gorm.DB, error) {
	dsn := fmt.Sprintf("file:catalog_test_%d?mode=memory&cache=shared", testDBSeq.Add(1))
	return Open(sqlite.Open(dsn), PoolConfig{MaxOpenConn: 1, MaxIdleConn: 1}, nil)
}
