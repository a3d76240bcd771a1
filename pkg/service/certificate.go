package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"certchain/pkg/app"
	"certchain/pkg/certificate"
	"certchain/pkg/core"
	"certchain/pkg/formdata"
	"certchain/pkg/meta"
	"certchain/pkg/storage"
	"certchain/pkg/types"
	"certchain/pkg/validation"

	"github.com/google/uuid"
)

// FileField 是上传证书文件所用的表单字段名
const FileField = "certificateFile"

// CertificateService 编排证书的颁发、验证、删除与下载
type CertificateService struct {
	app *app.App
	now func() time.Time
}

func NewCertificateService(application *app.App) *CertificateService {
	return &CertificateService{app: application, now: time.Now}
}

// -----------------------------------------------------------------------------
// Issue
// -----------------------------------------------------------------------------

type IssueRequest struct {
	StudentName string
	Course      string
	IssueDate   string
	File        *formdata.File // 可选
}

type IssueResult struct {
	Certificate *certificate.Certificate
	BlockIndex  int64
	FileHash    types.Fingerprint // 未上传文件时为空
}

// Issue 颁发证书：写入数据库，保存上传文件，追加到链上并持久化新块
func (s *CertificateService) Issue(ctx context.Context, req IssueRequest) (*IssueResult, error) {
	// 1. 校验字段
	if strings.TrimSpace(req.StudentName) == "" || strings.TrimSpace(req.Course) == "" ||
		strings.TrimSpace(req.IssueDate) == "" {
		return nil, ClientData("Missing required fields")
	}
	date, err := certificate.ParseIssueDate(req.IssueDate)
	if err != nil {
		return nil, ClientData("Invalid issue date, expected YYYY-MM-DD")
	}
	cert, err := certificate.New(req.StudentName, req.Course, date)
	if err != nil {
		return nil, ClientData("Missing required fields")
	}

	// 2. 查重
	if _, err := s.app.Repository.FindCertificateByHash(ctx, cert.Hash); err == nil {
		return nil, ClientData("Certificate with this data already exists. Hash: " + cert.Hash.String())
	} else if !errors.Is(err, meta.ErrCertificateNotFound) {
		return nil, Storage("Database error", err)
	}

	// 3. 保存上传文件 (空文件视为未上传)
	var fileKey string
	var fileHash types.Fingerprint
	if req.File != nil && len(req.File.Content) > 0 {
		fileKey = uploadKey(s.now(), req.File.Filename)
		// 边写边算指纹
		hr := core.NewHashingReader(bytes.NewReader(req.File.Content))
		if err := s.app.Store.Put(ctx, fileKey, hr, int64(len(req.File.Content))); err != nil {
			return nil, Storage("Failed to store certificate file", err)
		}
		fileHash = hr.Fingerprint()
	}

	// 4. 写入数据库 (唯一约束兜底并发的重复颁发)
	id, err := s.app.Repository.SaveCertificate(ctx, cert, fileKey, fileHash.String())
	if err != nil {
		s.discardFile(ctx, fileKey)
		if errors.Is(err, meta.ErrDuplicateCertificate) {
			return nil, ClientData("Certificate with this data already exists")
		}
		return nil, Storage("Database error", err)
	}
	cert.ID = id

	// 5. 上链并持久化块；持久化失败则整体回滚
	block := s.app.Chain.Append(cert.Hash)
	if err := s.app.Repository.SaveBlock(ctx, block); err != nil {
		s.app.Chain.Remove(cert.Hash)
		if _, derr := s.app.Repository.DeleteCertificate(ctx, id); derr != nil {
			slog.Error("rollback of certificate failed", "id", id, "error", derr)
		}
		s.discardFile(ctx, fileKey)
		return nil, Storage("Database error", err)
	}

	slog.Info("certificate issued",
		"id", id,
		"hash", cert.Hash.Short(),
		"block", block.Position(),
		"file", fileKey != "",
	)
	return &IssueResult{Certificate: cert, BlockIndex: block.Position(), FileHash: fileHash}, nil
}

// uploadKey 生成 "<millis>-<uuid>_<filename>"
// 同一毫秒内同名上传不会互相覆盖；OriginalFilename 按第一个 '_' 还原文件名
func uploadKey(now time.Time, filename string) string {
	return fmt.Sprintf("%d-%s_%s", now.UnixMilli(), uuid.NewString(), sanitizeFilename(filename))
}

// sanitizeFilename 只保留文件名部分，防止路径穿越
func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, "\x00", "")
	if name == "" || name == "." || name == ".." || name == "/" {
		return "upload"
	}
	return name
}

// discardFile 删除已经上传但最终没有用上的文件
func (s *CertificateService) discardFile(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := s.app.Store.Delete(ctx, key); err != nil && !errors.Is(err, storage.ErrNotFound) {
		slog.Warn("failed to discard uploaded file", "key", key, "error", err)
	}
}

// -----------------------------------------------------------------------------
// Validate
// -----------------------------------------------------------------------------

type ValidateRequest struct {
	CertificateID string
	Hash          string
	File          *formdata.File // 可选，优先级最高
}

type ValidateResult struct {
	Certificate *certificate.Certificate
	Result      validation.Result
}

// Validate 依次按上传文件指纹、证书编号、内容指纹查找证书并执行验证流程
func (s *CertificateService) Validate(ctx context.Context, req ValidateRequest) (*ValidateResult, error) {
	model, err := s.lookup(ctx, req)
	if err != nil {
		return nil, err
	}

	cert, err := model.ToCertificate()
	if err != nil {
		return nil, Storage("Corrupted certificate record", err)
	}

	res := s.app.Workflow.Evaluate(cert)

	// 审计日志写入失败不影响验证结论
	if err := s.app.Repository.RecordValidation(ctx, cert.ID, cert.Hash, res.Authentic, res.ReasonStrings()); err != nil {
		slog.Warn("failed to record validation", "id", cert.ID, "error", err)
	}

	slog.Info("certificate validated", "id", cert.ID, "authentic", res.Authentic, "reasons", res.ReasonStrings())
	return &ValidateResult{Certificate: cert, Result: res}, nil
}

func (s *CertificateService) lookup(ctx context.Context, req ValidateRequest) (*meta.CertificateModel, error) {
	var (
		model *meta.CertificateModel
		err   error
	)

	switch {
	case req.File != nil && len(req.File.Content) > 0:
		fileHash, derr := core.DigestReader(bytes.NewReader(req.File.Content))
		if derr != nil {
			return nil, Malformed("Invalid certificate file")
		}
		model, err = s.app.Repository.FindCertificateByFileHash(ctx, fileHash)
		if errors.Is(err, meta.ErrCertificateNotFound) {
			return nil, ClientData("Certificate not found - File hash does not match any stored certificate")
		}
	case req.CertificateID != "":
		id, perr := ParseID(req.CertificateID)
		if perr != nil {
			return nil, perr
		}
		model, err = s.app.Repository.FindCertificateByID(ctx, id)
	case req.Hash != "":
		model, err = s.app.Repository.FindCertificateByHash(ctx, types.Fingerprint(strings.TrimSpace(req.Hash)))
	default:
		return nil, ClientData("Certificate not found")
	}

	if errors.Is(err, meta.ErrCertificateNotFound) {
		return nil, ClientData("Certificate not found")
	}
	if err != nil {
		return nil, Storage("Database error", err)
	}
	return model, nil
}

// ParseID 解析证书编号，非数字是客户端错误
func ParseID(s string) (types.CertificateID, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, ClientData("Invalid certificate ID")
	}
	return types.CertificateID(id), nil
}

// -----------------------------------------------------------------------------
// Delete
// -----------------------------------------------------------------------------

// Delete 删除证书记录，再从链上移除对应块；文件删除失败只记录日志
func (s *CertificateService) Delete(ctx context.Context, id types.CertificateID) error {
	model, err := s.app.Repository.FindCertificateByID(ctx, id)
	if errors.Is(err, meta.ErrCertificateNotFound) {
		return ClientData("Certificate not found")
	}
	if err != nil {
		return Storage("Database error", err)
	}

	deleted, err := s.app.Repository.DeleteCertificate(ctx, id)
	if err != nil {
		return Storage("Database error", err)
	}
	if !deleted {
		return ClientData("Failed to delete certificate")
	}

	hash := types.Fingerprint(model.Hash)
	s.app.Chain.Remove(hash)
	if _, err := s.app.Repository.DeleteBlockByPayload(ctx, hash); err != nil {
		return Storage("Database error", err)
	}

	if model.FilePath != nil && *model.FilePath != "" {
		if err := s.app.Store.Delete(ctx, *model.FilePath); err != nil && !errors.Is(err, storage.ErrNotFound) {
			slog.Warn("could not delete certificate file", "id", id, "key", *model.FilePath, "error", err)
		}
	}

	slog.Info("certificate deleted", "id", id, "hash", hash.Short())
	return nil
}

// -----------------------------------------------------------------------------
// Download
// -----------------------------------------------------------------------------

type Download struct {
	Filename string // 去掉 "<millis>_" 前缀后的原始文件名
	Content  []byte
}

// Download 读取证书关联的上传文件
func (s *CertificateService) Download(ctx context.Context, id types.CertificateID) (*Download, error) {
	model, err := s.app.Repository.FindCertificateByID(ctx, id)
	if errors.Is(err, meta.ErrCertificateNotFound) {
		return nil, ClientData("Certificate not found")
	}
	if err != nil {
		return nil, Storage("Database error", err)
	}
	if model.FilePath == nil || *model.FilePath == "" {
		return nil, ClientData("No file associated with this certificate")
	}

	// 存在性检查走缓存 (配置了 Redis 时)
	found, err := s.app.Store.Has(ctx, *model.FilePath)
	if err != nil {
		return nil, Storage("Error downloading certificate", err)
	}
	if !found {
		return nil, ClientData("Certificate file not found on disk")
	}

	rc, err := s.app.Store.Get(ctx, *model.FilePath)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ClientData("Certificate file not found on disk")
	}
	if err != nil {
		return nil, Storage("Error downloading certificate", err)
	}
	defer rc.Close()

	content, err := io.ReadAll(rc)
	if err != nil {
		return nil, Storage("Error downloading certificate", err)
	}
	return &Download{Filename: OriginalFilename(*model.FilePath), Content: content}, nil
}

// OriginalFilename 去掉存储时加上的时间戳前缀
func OriginalFilename(key string) string {
	name := filepath.Base(key)
	if _, rest, ok := strings.Cut(name, "_"); ok {
		return rest
	}
	return name
}

// -----------------------------------------------------------------------------
// List
// -----------------------------------------------------------------------------

type CertificateSummary struct {
	ID          int64   `json:"id"`
	StudentName string  `json:"studentName"`
	Course      string  `json:"course"`
	IssueDate   string  `json:"issueDate"`
	Hash        string  `json:"hash"`
	FilePath    *string `json:"filePath"`
}

// List 按编号倒序返回全部证书
func (s *CertificateService) List(ctx context.Context) ([]CertificateSummary, error) {
	models, err := s.app.Repository.ListCertificates(ctx)
	if err != nil {
		return nil, Storage("Database error", err)
	}
	out := make([]CertificateSummary, 0, len(models))
	for _, m := range models {
		out = append(out, CertificateSummary{
			ID:          m.ID,
			StudentName: m.StudentName,
			Course:      m.Course,
			IssueDate:   m.IssueDate,
			Hash:        m.Hash,
			FilePath:    m.FilePath,
		})
	}
	return out, nil
}
