package service

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"certchain/pkg/app"
	"certchain/pkg/meta"
	"certchain/pkg/storage/disk"
	"certchain/pkg/types"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestService 是所有 Service 测试共享的基础设施初始化逻辑
func setupTestService(t *testing.T) (*CertificateService, *app.App) {
	t.Helper()

	// 1. Store
	store, err := disk.NewAdapter(filepath.Join(t.TempDir(), "uploads"))
	require.NoError(t, err)

	// 2. DB & Meta
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// 共享缓存的内存库并发写会报 "table is locked"，单连接串行化
	sqlDB.SetMaxOpenConns(1)

	metaDB := meta.NewWithConn(db)
	require.NoError(t, metaDB.AutoMigrate(meta.Models()...))

	// 3. App
	application := app.New(metaDB, store)
	require.NoError(t, application.RestoreChain(context.Background()))

	svc := NewCertificateService(application)
	svc.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return svc, application
}

// mustIssue 颁发证书，失败则终止
func mustIssue(t *testing.T, svc *CertificateService, name, course, date string) *IssueResult {
	t.Helper()
	res, err := svc.Issue(context.Background(), IssueRequest{StudentName: name, Course: course, IssueDate: date})
	require.NoError(t, err)
	return res
}

// storedKey 返回证书关联文件在存储中的 key
func storedKey(t *testing.T, a *app.App, id types.CertificateID) string {
	t.Helper()
	model, err := a.Repository.FindCertificateByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, model.FilePath)
	return *model.FilePath
}
