package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"certchain/pkg/formdata"
	"certchain/pkg/service"
)

const (
	deletePrefix   = "/api/certificates/delete/"
	downloadPrefix = "/api/certificates/download/"
)

// handlers 把 HTTP 请求翻译为 service 调用
type handlers struct {
	svc *service.CertificateService
}

// form 统一 multipart 与 urlencoded 两种表单
type form struct {
	fields map[string]string
	files  map[string]formdata.File
}

func (f form) field(name string) string { return f.fields[name] }

func (f form) file(name string) *formdata.File {
	if fd, ok := f.files[name]; ok {
		return &fd
	}
	return nil
}

func parseForm(req *Request) (form, error) {
	ct := req.ContentType()
	if strings.Contains(strings.ToLower(ct), "multipart/form-data") {
		data, err := formdata.Decode(ct, req.Body)
		if err != nil {
			return form{}, service.Malformed("Invalid multipart request: missing boundary")
		}
		return form{fields: data.Fields, files: data.Files}, nil
	}
	return form{fields: formdata.ParseURLEncoded(string(req.Body))}, nil
}

// post 处理 POST /，按 action 字段分发
func (h *handlers) post(ctx context.Context, req *Request) (*Response, error) {
	f, err := parseForm(req)
	if err != nil {
		return nil, err
	}
	switch f.field("action") {
	case "issue":
		return h.issue(ctx, f)
	case "validate":
		return h.validate(ctx, f)
	default:
		return notFound(), nil
	}
}

type issueResponse struct {
	Success       bool   `json:"success"`
	CertificateID int64  `json:"certificateId"`
	Hash          string `json:"hash"`
	FileHash      string `json:"fileHash,omitempty"`
	BlockIndex    int64  `json:"blockIndex"`
}

func (h *handlers) issue(ctx context.Context, f form) (*Response, error) {
	res, err := h.svc.Issue(ctx, service.IssueRequest{
		StudentName: f.field("studentName"),
		Course:      f.field("course"),
		IssueDate:   f.field("issueDate"),
		File:        f.file(service.FileField),
	})
	if err != nil {
		return nil, err
	}
	return jsonResponse(http.StatusOK, issueResponse{
		Success:       true,
		CertificateID: int64(res.Certificate.ID),
		Hash:          res.Certificate.Hash.String(),
		FileHash:      res.FileHash.String(),
		BlockIndex:    res.BlockIndex,
	}), nil
}

type validateResponse struct {
	Success       bool     `json:"success"`
	Valid         bool     `json:"valid"`
	Message       string   `json:"message"`
	Reasons       []string `json:"reasons"`
	CertificateID int64    `json:"certificateId"`
	Hash          string   `json:"hash"`
}

func (h *handlers) validate(ctx context.Context, f form) (*Response, error) {
	res, err := h.svc.Validate(ctx, service.ValidateRequest{
		CertificateID: f.field("certificateId"),
		Hash:          f.field("hash"),
		File:          f.file(service.FileField),
	})
	if err != nil {
		return nil, err
	}
	return jsonResponse(http.StatusOK, validateResponse{
		Success:       true,
		Valid:         res.Result.Authentic,
		Message:       res.Result.Message(),
		Reasons:       res.Result.ReasonStrings(),
		CertificateID: int64(res.Certificate.ID),
		Hash:          res.Certificate.Hash.String(),
	}), nil
}

type deleteResponse struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	CertificateID int64  `json:"certificateId"`
}

func (h *handlers) delete(ctx context.Context, req *Request) (*Response, error) {
	id, err := service.ParseID(strings.TrimPrefix(req.Path, deletePrefix))
	if err != nil {
		return nil, err
	}
	if err := h.svc.Delete(ctx, id); err != nil {
		return nil, err
	}
	return jsonResponse(http.StatusOK, deleteResponse{
		Success:       true,
		Message:       "Certificate deleted successfully",
		CertificateID: int64(id),
	}), nil
}

func (h *handlers) download(ctx context.Context, req *Request) (*Response, error) {
	id, err := service.ParseID(strings.TrimPrefix(req.Path, downloadPrefix))
	if err != nil {
		return nil, err
	}
	dl, err := h.svc.Download(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := rawResponse(http.StatusOK, "application/octet-stream", dl.Content)
	resp.SetHeader("Content-Disposition", fmt.Sprintf("attachment; filename=%q", dl.Filename))
	return resp, nil
}

func (h *handlers) certificates(ctx context.Context, req *Request) (*Response, error) {
	list, err := h.svc.List(ctx)
	if err != nil {
		return nil, err
	}
	return jsonResponse(http.StatusOK, list), nil
}

func (h *handlers) blockchain(ctx context.Context, req *Request) (*Response, error) {
	return jsonResponse(http.StatusOK, h.svc.Chain()), nil
}

func (h *handlers) export(ctx context.Context, req *Request) (*Response, error) {
	data, err := h.svc.ExportSnapshot()
	if err != nil {
		return nil, err
	}
	resp := rawResponse(http.StatusOK, "application/cbor", data)
	resp.SetHeader("Content-Disposition", `attachment; filename="chain.cbor"`)
	return resp, nil
}

// preflight 应答 CORS 预检
func preflight(ctx context.Context, req *Request) (*Response, error) {
	resp := &Response{Status: http.StatusNoContent}
	resp.SetHeader("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	resp.SetHeader("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
	resp.SetHeader("Access-Control-Max-Age", "86400")
	return resp, nil
}
