// Package pgtest 为集成测试提供 PostgreSQL：优先使用 TRADING_TEST_DSN，否则按需启动一个容器，
// Docker 不可用时跳过测试。同一测试二进制内共享一个容器。
package pgtest

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// DSNEnv 指向已有数据库的环境变量
const DSNEnv = "TRADING_TEST_DSN"

const image = "postgres:16-alpine"

var (
	once      sync.Once
	container *tcpostgres.PostgresContainer
	dsn       string
	startErr  error
)

// Open 返回连接到测试库的 gorm 实例
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	target := os.Getenv(DSNEnv)
	if target == "" {
		testcontainers.SkipIfProviderIsNotHealthy(t)
		once.Do(start)
		require.NoError(t, startErr, "start postgres container")
		target = dsn
	}

	db, err := gorm.Open(postgres.Open(target), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// Terminate 停止共享容器，在 TestMain 中 m.Run 之后调用
func Terminate() {
	if container != nil {
		_ = testcontainers.TerminateContainer(container)
	}
}

func start() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, startErr = tcpostgres.Run(ctx, image,
		tcpostgres.WithDatabase("trading"),
		tcpostgres.WithUsername("trading"),
		tcpostgres.WithPassword("trading"),
		tcpostgres.BasicWaitStrategies(),
	)
	if startErr != nil {
		return
	}
	dsn, startErr = container.ConnectionString(ctx, "sslmode=disable")
}
