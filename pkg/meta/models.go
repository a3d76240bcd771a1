package meta

import (
	"fmt"
	"time"

	"certchain/pkg/certificate"
	"certchain/pkg/core"
	"certchain/pkg/types"

	"gorm.io/datatypes"
)

// CertificateModel 是证书在关系型数据库中的记录
type CertificateModel struct {
	// ID 由仓库分配 (复用已删除的最小编号)，不使用自增
	ID int64 `gorm:"primaryKey;autoIncrement:false"`

	StudentName string `gorm:"type:text;not null"`
	Course      string `gorm:"type:text;not null"`
	IssueDate   string `gorm:"type:varchar(10);not null"` // YYYY-MM-DD

	// Hash 是内容指纹，唯一约束防止重复颁发
	Hash string `gorm:"type:char(64);uniqueIndex;not null"`

	// 上传的证书文件 (可选)
	FilePath *string `gorm:"type:text"`
	FileHash *string `gorm:"type:char(64);index"`

	CreatedAt time.Time
}

// TableName 强制指定表名
func (CertificateModel) TableName() string {
	return "certificates"
}

// ToCertificate 转换为领域对象 (不重新计算指纹，保留存储值以便检测篡改)
func (m *CertificateModel) ToCertificate() (*certificate.Certificate, error) {
	date, err := certificate.ParseIssueDate(m.IssueDate)
	if err != nil {
		return nil, fmt.Errorf("certificate %d: %w", m.ID, err)
	}
	return &certificate.Certificate{
		ID:          types.CertificateID(m.ID),
		StudentName: m.StudentName,
		Course:      m.Course,
		IssueDate:   date,
		Hash:        types.Fingerprint(m.Hash),
	}, nil
}

// BlockModel 是链上块的持久化投影
type BlockModel struct {
	ID uint `gorm:"primaryKey"`

	Position        int64  `gorm:"column:block_index;index;not null"`
	Timestamp       string `gorm:"type:varchar(40);not null"`
	CertificateHash string `gorm:"type:varchar(64);index;not null"`
	PreviousHash    string `gorm:"type:varchar(64);not null"`
	CurrentHash     string `gorm:"type:char(64);uniqueIndex;not null"`
}

func (BlockModel) TableName() string {
	return "blockchain"
}

func blockModelFrom(b core.Block) BlockModel {
	return BlockModel{
		Position:        b.Position(),
		Timestamp:       b.CreatedAt(),
		CertificateHash: b.PayloadFingerprint().String(),
		PreviousHash:    b.PreviousFingerprint().String(),
		CurrentHash:     b.SelfFingerprint().String(),
	}
}

// ToBlock 原样重建块，不重新计算哈希
func (m *BlockModel) ToBlock() core.Block {
	return core.RestoreBlock(
		m.Position,
		m.Timestamp,
		types.Fingerprint(m.CertificateHash),
		types.Fingerprint(m.PreviousHash),
		types.Fingerprint(m.CurrentHash),
	)
}

// ValidationRecord 记录每一次验证的结果 (审计日志)
type ValidationRecord struct {
	ID uint `gorm:"primaryKey"`

	CertificateID   int64  `gorm:"index"`
	CertificateHash string `gorm:"type:varchar(64)"`
	Authentic       bool

	// Reasons: 失败原因列表 ["DataTampered", "NotInChain"]
	Reasons datatypes.JSON

	CreatedAt time.Time `gorm:"index"`
}

func (ValidationRecord) TableName() string {
	return "validations"
}
