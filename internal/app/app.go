// Package app assembles the vector service and its backends from a
// configuration. Both the command and the library facade use it.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/apptype"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/config"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/database"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/embeddings"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/redisstore"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/remote"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/vectordb"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/vectorservice"
)

// sweepInterval is how often expired libSQL cache rows are deleted.
const sweepInterval = 10 * time.Minute

// App owns every backend handle behind the service.
type App struct {
	Service  *vectorservice.Service
	DB       *database.DBManager
	Provider embeddings.Provider

	logger  *zap.Logger
	closers []func() error
	cancel  context.CancelFunc
	done    chan struct{}
}

// Build opens the database, the embeddings provider, the optional Milvus
// index and Redis cache, and constructs the service. The service is not
// started.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{logger: logger}
	defer func() {
		if err != nil {
			_ = a.closeAll()
		}
	}()

	a.DB, err = database.NewDBManager(cfg.DatabaseConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.closers = append(a.closers, a.DB.Close)

	a.Provider, err = embeddings.New(ctx, cfg.EmbeddingsConfig())
	if err != nil {
		return nil, fmt.Errorf("embeddings provider: %w", err)
	}
	if a.Provider == nil {
		logger.Warn("no embeddings provider configured; text queries rely on cached embeddings and keyword search")
	}

	local := a.DB.Index(apptype.IndexMetadata{CampaignID: cfg.Service.CampaignID})
	var indexes []remote.Index
	if cfg.MilvusEnabled() {
		mv, err := vectordb.Dial(ctx, cfg.MilvusConfig(), logger)
		if err != nil {
			return nil, fmt.Errorf("milvus: %w", err)
		}
		a.closers = append(a.closers, mv.Close)
		indexes = append(indexes, &mirroredIndex{Index: mv, mirror: local, logger: logger})
	}
	indexes = append(indexes, local)

	deps := vectorservice.Deps{
		Remote:  remote.NewClient(a.Provider, logger, indexes...),
		Keyword: a.DB,
		Warmer:  a.DB,
	}
	switch cfg.Database.CacheBackend {
	case "redis":
		opts := cfg.RedisOptions()
		rs, err := redisstore.New(ctx, opts, logger)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.closers = append(a.closers, rs.Close)
		deps.EmbeddingStore = rs.WithPrefix(opts.Prefix + "emb:")
		deps.SearchStore = rs.WithPrefix(opts.Prefix + "search:")
	case "libsql":
		deps.EmbeddingStore = a.DB.CacheStore("emb")
		deps.SearchStore = a.DB.CacheStore("search")
	}

	a.Service, err = vectorservice.New(deps, cfg.ServiceConfig(), logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Start starts the service loops and the cache sweeper.
func (a *App) Start(ctx context.Context) error {
	if err := a.Service.Start(ctx); err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.done = make(chan struct{})
	go a.sweep(runCtx)
	return nil
}

func (a *App) sweep(ctx context.Context) {
	defer close(a.done)
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.DB.SweepExpired(ctx)
			if err != nil {
				a.logger.Warn("cache sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				a.logger.Debug("swept expired cache rows", zap.Int64("rows", n))
			}
		}
	}
}

// Close stops the service and releases every backend in reverse order.
func (a *App) Close() error {
	if a.cancel != nil {
		a.cancel()
		<-a.done
	}
	var errs []error
	if a.Service != nil {
		errs = append(errs, a.Service.Close())
	}
	errs = append(errs, a.closeAll())
	return errors.Join(errs...)
}

func (a *App) closeAll() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// mirroredIndex serves searches from the wrapped index and copies writes to
// the libSQL index, which backs keyword search and local warm-up.
type mirroredIndex struct {
	remote.Index
	mirror remote.Index
	logger *zap.Logger
}

func (m *mirroredIndex) Upsert(ctx context.Context, rec apptype.EmbeddingRecord) error {
	if err := m.Index.Upsert(ctx, rec); err != nil {
		return err
	}
	if err := m.mirror.Upsert(ctx, rec); err != nil {
		m.logger.Warn("mirror upsert failed", zap.String("entity_id", rec.EntityID), zap.Error(err))
	}
	return nil
}

func (m *mirroredIndex) Delete(ctx context.Context, entityID string) error {
	if err := m.Index.Delete(ctx, entityID); err != nil {
		return err
	}
	if err := m.mirror.Delete(ctx, entityID); err != nil {
		m.logger.Warn("mirror delete failed", zap.String("entity_id", entityID), zap.Error(err))
	}
	return nil
}
