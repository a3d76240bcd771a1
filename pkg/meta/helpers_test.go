package meta

import (
	"context"
	"testing"
	"time"

	"certchain/pkg/certificate"
	"certchain/pkg/types"

	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------
// 通用辅助函数 (Helpers)
// -----------------------------------------------------------------------------

// mustNewCertificate 创建证书，如果失败直接终止测试
func mustNewCertificate(t *testing.T, name, course, date string) *certificate.Certificate {
	t.Helper()
	d, err := time.Parse(certificate.DateLayout, date)
	require.NoError(t, err)
	c, err := certificate.New(name, course, d)
	require.NoError(t, err)
	return c
}

// mustSave 强制保存证书，失败则终止
func mustSave(t *testing.T, repo *Repository, c *certificate.Certificate, msgAndArgs ...any) types.CertificateID {
	t.Helper()
	id, err := repo.SaveCertificate(context.Background(), c, "", "")
	require.NoError(t, err, msgAndArgs...)
	return id
}
