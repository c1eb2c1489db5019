// Package svc 持有进程级共享的依赖句柄，显式传入各层构造函数。
package svc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wyfcoding/trading-api/pkg/cache"
	"github.com/wyfcoding/trading-api/pkg/config"
	"github.com/wyfcoding/trading-api/pkg/db"
	"github.com/wyfcoding/trading-api/pkg/logger"
	"github.com/wyfcoding/trading-api/pkg/metrics"
	"github.com/wyfcoding/trading-api/pkg/mq"
)

// ServiceContext 存储、缓存、消息与指标句柄
type ServiceContext struct {
	Config  *config.Config
	DB      *db.DB
	Redis   *cache.RedisCache
	Metrics *metrics.Metrics
	// 未配置 Kafka 时为 nil
	Producer *mq.KafkaProducer
}

// NewServiceContext 建立全部连接，任一必需依赖在重试后仍不可用即返回错误
func NewServiceContext(ctx context.Context, cfg *config.Config) (*ServiceContext, error) {
	database, err := db.Init(ctx, DatabaseConfig(cfg.Database))
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}

	redisCache, err := cache.New(ctx, RedisConfig(cfg.Redis))
	if err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("init redis: %w", err)
	}

	sc := &ServiceContext{
		Config:  cfg,
		DB:      database,
		Redis:   redisCache,
		Metrics: metrics.New(),
	}
	if cfg.Kafka.Enabled() {
		sc.Producer = mq.NewProducer(mq.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			MaxRetries:   cfg.Kafka.MaxRetries,
			RetryBackoff: time.Duration(cfg.Kafka.RetryBackoff) * time.Millisecond,
		})
	}
	return sc, nil
}

// Close 依次关闭 Kafka、数据库连接池、Redis
func (s *ServiceContext) Close() error {
	var errs []error
	if s.Producer != nil {
		if err := s.Producer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close kafka producer: %w", err))
		}
	}
	if err := s.DB.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close database: %w", err))
	}
	if err := s.Redis.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close redis: %w", err))
	}
	if len(errs) == 0 {
		logger.Info(context.Background(), "Service dependencies closed")
	}
	return errors.Join(errs...)
}

// DatabaseConfig 把配置文件中的秒/毫秒字段转换为 db.Config
func DatabaseConfig(c config.DatabaseConfig) db.Config {
	return db.Config{
		Driver:             c.Driver,
		DSN:                c.DSN,
		Host:               c.Host,
		Port:               c.Port,
		Name:               c.Name,
		User:               c.User,
		Password:           c.Password,
		SSLMode:            c.SSLMode,
		MaxOpenConns:       c.MaxOpenConns,
		MaxIdleConns:       c.MaxIdleConns,
		ConnMaxIdleTime:    time.Duration(c.ConnMaxIdleTime) * time.Second,
		ConnectTimeout:     time.Duration(c.ConnectTimeout) * time.Second,
		ConnectRetries:     c.ConnectRetries,
		LogEnabled:         c.LogEnabled,
		SlowQueryThreshold: time.Duration(c.SlowQueryThreshold) * time.Millisecond,
	}
}

// RedisConfig 把配置文件中的秒字段转换为 cache.Config
func RedisConfig(c config.RedisConfig) cache.Config {
	return cache.Config{
		Addr:           c.Addr(),
		Password:       c.Password,
		DB:             c.DB,
		PoolSize:       c.PoolSize,
		DialTimeout:    time.Duration(c.DialTimeout) * time.Second,
		ReadTimeout:    time.Duration(c.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(c.WriteTimeout) * time.Second,
		ConnectRetries: c.ConnectRetries,
	}
}

// LoggerConfig 转换日志配置
func LoggerConfig(c config.LoggerConfig) logger.Config {
	return logger.Config{
		Level:      c.Level,
		Format:     c.Format,
		Output:     c.Output,
		FilePath:   c.FilePath,
		MaxSize:    c.MaxSize,
		MaxBackups: c.MaxBackups,
		MaxAge:     c.MaxAge,
		Compress:   c.Compress,
		WithCaller: c.WithCaller,
	}
}
