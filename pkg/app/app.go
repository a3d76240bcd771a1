// pkg/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"certchain/pkg/chain"
	"certchain/pkg/core"
	"certchain/pkg/meta"
	"certchain/pkg/storage"
	"certchain/pkg/storage/cache"
	"certchain/pkg/storage/disk"
	"certchain/pkg/storage/s3"
	"certchain/pkg/validation"

	"github.com/spf13/viper"
	"gorm.io/gorm/logger"
)

// App 是整个应用程序的依赖容器 (Dependency Container)
// 它持有所有“单例”服务
type App struct {
	DB         *meta.DB
	Repository *meta.Repository
	Store      storage.Store
	Chain      *chain.Store
	Workflow   *validation.Workflow

	closers []io.Closer
}

// NewApp 是工厂函数，负责组装这一台机器
// 它遵循 Viper 的配置，但不知道具体的 CLI 命令
func NewApp(ctx context.Context) (*App, error) {
	// 1. 初始化文件存储层
	store, err := initStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to init storage: %w", err)
	}

	// 2. 初始化数据库
	db, err := meta.NewDB(ctx, dbConfig())
	if err != nil {
		closeAll(storeClosers(store))
		return nil, fmt.Errorf("failed to init database: %w", err)
	}

	a := New(db, store)
	a.closers = append(storeClosers(store), db)

	// 3. 从数据库恢复链
	if err := a.RestoreChain(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// New 用现成的依赖组装 App (测试与嵌入场景)
func New(db *meta.DB, store storage.Store, opts ...chain.Option) *App {
	c := chain.NewStore(opts...)
	return &App{
		DB:         db,
		Repository: meta.NewRepository(db),
		Store:      store,
		Chain:      c,
		Workflow:   validation.NewWorkflow(c),
	}
}

// RestoreChain 把数据库中的块装入内存链。
// 存储的创世块 (position 0) 被跳过，保留内存中新建的创世块；其余块按链接关系恢复顺序。
// 数据库为空时把新创世块持久化。
func (a *App) RestoreChain(ctx context.Context) error {
	blocks, err := a.Repository.LoadBlocks(ctx)
	if err != nil {
		return fmt.Errorf("failed to load blocks: %w", err)
	}

	if len(blocks) == 0 {
		if err := a.Repository.SaveBlock(ctx, a.Chain.Genesis()); err != nil {
			return fmt.Errorf("failed to persist genesis: %w", err)
		}
		slog.Info("chain initialised", "genesis", a.Chain.Genesis().SelfFingerprint().Short())
		return nil
	}

	stored := make([]core.Block, 0, len(blocks))
	for _, b := range blocks {
		if b.IsGenesis() {
			continue
		}
		stored = append(stored, b)
	}
	a.Chain.Restore(stored)
	slog.Info("chain restored",
		"blocks", a.Chain.Len(),
		"valid_strict", a.Chain.ValidateStrict(),
		"valid_lenient", a.Chain.ValidateLenient(),
	)
	return nil
}

// Close 按创建的逆序释放资源
func (a *App) Close() error {
	err := closeAll(a.closers)
	a.closers = nil
	return err
}

func closeAll(closers []io.Closer) error {
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func storeClosers(store storage.Store) []io.Closer {
	if c, ok := store.(io.Closer); ok {
		return []io.Closer{c}
	}
	return nil
}

func dbConfig() meta.Config {
	return meta.Config{
		Driver:   viper.GetString("database.driver"),
		Path:     viper.GetString("database.path"),
		Host:     viper.GetString("database.host"),
		Port:     viper.GetInt("database.port"),
		User:     viper.GetString("database.user"),
		Password: viper.GetString("database.password"),
		DBName:   viper.GetString("database.name"),
		SSLMode:  viper.GetString("database.sslmode"),
		LogLevel: logger.Warn,
	}
}

// initStore 按 storage.type 选择后端，配置了 Redis 时再套一层缓存装饰器
func initStore(ctx context.Context) (storage.Store, error) {
	var (
		backend storage.Store
		err     error
	)

	switch viper.GetString("storage.type") {
	case "", "disk":
		path := viper.GetString("storage.path")
		if path == "" {
			return nil, fmt.Errorf("storage path not set")
		}
		backend, err = disk.NewAdapter(path)

	case "s3":
		cfg := s3.Config{
			Endpoint:        viper.GetString("storage.s3.endpoint"),
			Region:          viper.GetString("storage.s3.region"),
			Bucket:          viper.GetString("storage.s3.bucket"),
			AccessKeyID:     viper.GetString("storage.s3.access_key"),
			SecretAccessKey: viper.GetString("storage.s3.secret_key"),
		}
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("s3 bucket is required")
		}
		backend, err = s3.NewAdapter(ctx, cfg)

	default:
		return nil, fmt.Errorf("unsupported storage type: %s", viper.GetString("storage.type"))
	}
	if err != nil {
		return nil, err
	}

	redisURL := viper.GetString("cache.redis_url")
	if redisURL == "" {
		return backend, nil
	}
	return cache.NewCachedStore(backend, cache.Config{
		RedisURL: redisURL,
		TTL:      viper.GetDuration("cache.ttl"),
	})
}
