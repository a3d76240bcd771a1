package commands

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"certchain/pkg/app"
	"certchain/pkg/core"
	"certchain/pkg/meta"
	"certchain/pkg/service"
	"certchain/pkg/storage/disk"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupIntegrationEnv 搭建一个使用 真实文件系统 + 内存数据库 的集成环境
func setupIntegrationEnv(t *testing.T) (*app.App, *service.CertificateService) {
	t.Helper()

	store, err := disk.NewAdapter(filepath.Join(t.TempDir(), "uploads"))
	require.NoError(t, err)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	metaDB := meta.NewWithConn(db)
	require.NoError(t, metaDB.AutoMigrate(meta.Models()...))

	application := app.New(metaDB, store)
	require.NoError(t, application.RestoreChain(context.Background()))

	// 因为 cmd 包依赖全局变量 CC，我们在测试里临时覆盖它
	CC = application
	t.Cleanup(func() { CC = nil })

	return application, service.NewCertificateService(application)
}

func mustIssue(t *testing.T, svc *service.CertificateService, name string) {
	t.Helper()
	_, err := svc.Issue(context.Background(), service.IssueRequest{
		StudentName: name, Course: "CLI", IssueDate: "2024-05-01",
	})
	require.NoError(t, err)
}

func TestIntegration_ChainShowAndVerify(t *testing.T) {
	_, svc := setupIntegrationEnv(t)
	mustIssue(t, svc, "Alice")
	mustIssue(t, svc, "Bob")

	var out bytes.Buffer
	chainShowCmd.SetOut(&out)
	require.NoError(t, chainShowCmd.RunE(chainShowCmd, nil))
	assert.Contains(t, out.String(), "Chain length: 3  strict: true  lenient: true")

	out.Reset()
	chainVerifyCmd.SetOut(&out)
	require.NoError(t, chainVerifyCmd.RunE(chainVerifyCmd, nil))
	assert.Contains(t, out.String(), "Chain is intact")
}

func TestIntegration_VerifyAfterDeletion(t *testing.T) {
	application, svc := setupIntegrationEnv(t)
	mustIssue(t, svc, "Alice")
	mustIssue(t, svc, "Bob")
	mustIssue(t, svc, "Carol")
	require.NoError(t, svc.Delete(context.Background(), 2))

	var out bytes.Buffer
	chainVerifyCmd.SetOut(&out)
	require.NoError(t, chainVerifyCmd.RunE(chainVerifyCmd, nil))
	assert.Contains(t, out.String(), "gaps from deleted certificates")
	assert.False(t, application.Chain.ValidateStrict())
}

func TestIntegration_ExportAndReset(t *testing.T) {
	application, svc := setupIntegrationEnv(t)
	mustIssue(t, svc, "Alice")

	path := filepath.Join(t.TempDir(), "chain.cbor")
	var out bytes.Buffer
	chainExportCmd.SetOut(&out)
	require.NoError(t, chainExportCmd.RunE(chainExportCmd, []string{path}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	blocks, err := core.DecodeSnapshot(data)
	require.NoError(t, err)
	assert.Equal(t, application.Chain.Blocks(), blocks)

	chainResetCmd.SetOut(&out)
	chainResetCmd.SetContext(context.Background())
	require.NoError(t, chainResetCmd.RunE(chainResetCmd, nil))
	assert.Equal(t, 1, application.Chain.Len())

	stored, err := application.Repository.LoadBlocks(context.Background())
	require.NoError(t, err)
	require.Len(t, stored, 1, "only genesis survives")
}

func TestIntegration_CertsListAndValidations(t *testing.T) {
	_, svc := setupIntegrationEnv(t)
	ctx := context.Background()

	var out bytes.Buffer
	certsListCmd.SetOut(&out)
	certsListCmd.SetContext(ctx)
	require.NoError(t, certsListCmd.RunE(certsListCmd, nil))
	assert.Contains(t, out.String(), "No certificates issued yet.")

	mustIssue(t, svc, "Alice")
	_, err := svc.Validate(ctx, service.ValidateRequest{CertificateID: "1"})
	require.NoError(t, err)

	out.Reset()
	require.NoError(t, certsListCmd.RunE(certsListCmd, nil))
	assert.Contains(t, out.String(), "Alice")

	out.Reset()
	validationsCmd.SetOut(&out)
	validationsCmd.SetContext(ctx)
	validationsLimit = 5
	require.NoError(t, validationsCmd.RunE(validationsCmd, nil))
	assert.Contains(t, out.String(), "true")
}

func TestIntegration_VerifySnapshot(t *testing.T) {
	application, svc := setupIntegrationEnv(t)
	mustIssue(t, svc, "Alice")
	mustIssue(t, svc, "Bob")
	mustIssue(t, svc, "Carol")
	require.NoError(t, svc.Delete(context.Background(), 2))

	dir := t.TempDir()
	good := filepath.Join(dir, "good.cbor")
	var out bytes.Buffer
	chainExportCmd.SetOut(&out)
	require.NoError(t, chainExportCmd.RunE(chainExportCmd, []string{good}))

	t.Cleanup(func() { snapshotFile = "" })
	chainVerifyCmd.SetOut(&out)

	// 快照带着删除留下的缺口，宽松模式通过
	snapshotFile = good
	out.Reset()
	require.NoError(t, chainVerifyCmd.RunE(chainVerifyCmd, nil))
	assert.Contains(t, out.String(), "gaps from deleted certificates")

	// 篡改载荷但保留旧指纹
	blocks := application.Chain.Blocks()
	last := blocks[len(blocks)-1]
	blocks[len(blocks)-1] = core.RestoreBlock(last.Position(), last.CreatedAt(),
		core.DigestString("forged"), last.PreviousFingerprint(), last.SelfFingerprint())
	data, err := core.EncodeSnapshot(blocks)
	require.NoError(t, err)
	bad := filepath.Join(dir, "bad.cbor")
	require.NoError(t, os.WriteFile(bad, data, 0644))

	snapshotFile = bad
	out.Reset()
	err = chainVerifyCmd.RunE(chainVerifyCmd, nil)
	assert.ErrorIs(t, err, ErrChainCompromised)
	assert.Contains(t, out.String(), "Chain is compromised")

	snapshotFile = filepath.Join(dir, "missing.cbor")
	assert.Error(t, chainVerifyCmd.RunE(chainVerifyCmd, nil))
}
