package meta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"certchain/pkg/certificate"
	"certchain/pkg/core"
	"certchain/pkg/types"

	"gorm.io/gorm"
)

var (
	ErrCertificateNotFound  = errors.New("certificate not found")
	ErrDuplicateCertificate = errors.New("certificate with this data already exists")
)

// Repository 封装所有对 SQL 数据库的操作
type Repository struct {
	db *DB

	// idMu 串行化 "查找最小空闲编号 + 插入"，防止进程内两个请求拿到同一个编号
	idMu sync.Mutex
}

func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// isDuplicate 兼容不同数据库 (PG 与 SQLite) 的唯一约束错误
func isDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// -----------------------------------------------------------------------------
// 1. 证书 (Certificates)
// -----------------------------------------------------------------------------

func (r *Repository) findCertificate(ctx context.Context, query string, arg any) (*CertificateModel, error) {
	var m CertificateModel
	err := r.db.GetConn().WithContext(ctx).Where(query, arg).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCertificateNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// FindCertificateByID 按编号查找
func (r *Repository) FindCertificateByID(ctx context.Context, id types.CertificateID) (*CertificateModel, error) {
	return r.findCertificate(ctx, "id = ?", int64(id))
}

// FindCertificateByHash 按内容指纹查找
func (r *Repository) FindCertificateByHash(ctx context.Context, hash types.Fingerprint) (*CertificateModel, error) {
	return r.findCertificate(ctx, "hash = ?", hash.String())
}

// FindCertificateByFileHash 按上传文件的指纹查找
func (r *Repository) FindCertificateByFileHash(ctx context.Context, fileHash types.Fingerprint) (*CertificateModel, error) {
	return r.findCertificate(ctx, "file_hash = ?", fileHash.String())
}

// SaveCertificate 持久化新证书，返回分配的编号。
// 编号取当前最小的空闲正整数 (删除后的编号会被复用)。
// 相同内容指纹已存在时返回 ErrDuplicateCertificate。
func (r *Repository) SaveCertificate(ctx context.Context, c *certificate.Certificate, filePath, fileHash string) (types.CertificateID, error) {
	r.idMu.Lock()
	defer r.idMu.Unlock()

	var assigned int64
	err := r.db.GetConn().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 1. 查找最小空闲编号
		var ids []int64
		if err := tx.Model(&CertificateModel{}).Order("id ASC").Pluck("id", &ids).Error; err != nil {
			return fmt.Errorf("failed to list certificate ids: %w", err)
		}
		next := int64(1)
		for _, id := range ids {
			if id != next {
				break
			}
			next++
		}

		// 2. 构造 Model
		m := CertificateModel{
			ID:          next,
			StudentName: c.StudentName,
			Course:      c.Course,
			IssueDate:   c.IssueDateString(),
			Hash:        c.Hash.String(),
		}
		if filePath != "" {
			m.FilePath = &filePath
		}
		if fileHash != "" {
			m.FileHash = &fileHash
		}

		// 3. 写入，唯一约束冲突即重复颁发
		if err := tx.Create(&m).Error; err != nil {
			if isDuplicate(err) {
				return ErrDuplicateCertificate
			}
			return fmt.Errorf("failed to save certificate: %w", err)
		}
		assigned = next
		return nil
	})
	if err != nil {
		return 0, err
	}
	return types.CertificateID(assigned), nil
}

// DeleteCertificate 删除证书，返回是否确实删除了一行
func (r *Repository) DeleteCertificate(ctx context.Context, id types.CertificateID) (bool, error) {
	result := r.db.GetConn().WithContext(ctx).Delete(&CertificateModel{}, int64(id))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ListCertificates 按编号倒序列出全部证书
func (r *Repository) ListCertificates(ctx context.Context) ([]CertificateModel, error) {
	var certs []CertificateModel
	err := r.db.GetConn().WithContext(ctx).Order("id DESC").Find(&certs).Error
	return certs, err
}

// -----------------------------------------------------------------------------
// 2. 链块投影 (Blocks)
// -----------------------------------------------------------------------------

// LoadBlocks 按位置升序读出全部已存储的块
func (r *Repository) LoadBlocks(ctx context.Context) ([]core.Block, error) {
	var models []BlockModel
	if err := r.db.GetConn().WithContext(ctx).Order("block_index ASC, id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	blocks := make([]core.Block, 0, len(models))
	for i := range models {
		blocks = append(blocks, models[i].ToBlock())
	}
	return blocks, nil
}

// SaveBlock 持久化一个块
func (r *Repository) SaveBlock(ctx context.Context, b core.Block) error {
	m := blockModelFrom(b)
	if err := r.db.GetConn().WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("failed to save block %d: %w", b.Position(), err)
	}
	return nil
}

// DeleteBlockByPayload 删除承载该指纹的非创世块
func (r *Repository) DeleteBlockByPayload(ctx context.Context, payload types.Fingerprint) (bool, error) {
	result := r.db.GetConn().WithContext(ctx).
		Where("certificate_hash = ? AND block_index > 0", payload.String()).
		Delete(&BlockModel{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ClearBlocks 删除所有非创世块
func (r *Repository) ClearBlocks(ctx context.Context) error {
	return r.db.GetConn().WithContext(ctx).
		Where("block_index > 0").
		Delete(&BlockModel{}).Error
}

// -----------------------------------------------------------------------------
// 3. 验证审计 (Validations)
// -----------------------------------------------------------------------------

// RecordValidation 记录一次验证结果
func (r *Repository) RecordValidation(ctx context.Context, id types.CertificateID, hash types.Fingerprint, authentic bool, reasons []string) error {
	if reasons == nil {
		reasons = []string{}
	}
	reasonsJSON, err := json.Marshal(reasons)
	if err != nil {
		return fmt.Errorf("failed to marshal reasons: %w", err)
	}
	rec := ValidationRecord{
		CertificateID:   int64(id),
		CertificateHash: hash.String(),
		Authentic:       authentic,
		Reasons:         reasonsJSON,
	}
	return r.db.GetConn().WithContext(ctx).Create(&rec).Error
}

// RecentValidations 按时间倒序返回最近的验证记录
func (r *Repository) RecentValidations(ctx context.Context, limit int) ([]ValidationRecord, error) {
	var recs []ValidationRecord
	err := r.db.GetConn().WithContext(ctx).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}
