package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"certchain/pkg/app"
	"certchain/pkg/meta"
	"certchain/pkg/service"
	"certchain/pkg/storage/disk"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// testServer 在回环地址上启动完整的分发器
type testServer struct {
	addr string
	app  *app.App
}

func startServer(t *testing.T, cfg Config, setup ...func(*Server)) *testServer {
	t.Helper()

	store, err := disk.NewAdapter(filepath.Join(t.TempDir(), "uploads"))
	require.NoError(t, err)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	metaDB := meta.NewWithConn(db)
	require.NoError(t, metaDB.AutoMigrate(meta.Models()...))

	application := app.New(metaDB, store)
	require.NoError(t, application.RestoreChain(context.Background()))

	srv := New(cfg, service.NewCertificateService(application), application.Chain.Len)
	for _, fn := range setup {
		fn(srv)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not shut down")
		}
	})

	return &testServer{addr: ln.Addr().String(), app: application}
}

// roundTrip 发送原始请求字节并用标准库解析响应
func (ts *testServer) roundTrip(t *testing.T, raw []byte) (*http.Response, []byte) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", ts.addr, 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(10*time.Second)))

	_, err = conn.Write(raw)
	require.NoError(t, err)

	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func (ts *testServer) get(t *testing.T, method, path string) (*http.Response, []byte) {
	t.Helper()
	return ts.roundTrip(t, []byte(method+" "+path+" HTTP/1.1\r\nHost: test\r\n\r\n"))
}

func (ts *testServer) postForm(t *testing.T, body string) (*http.Response, map[string]any) {
	t.Helper()
	raw := "POST / HTTP/1.1\r\nHost: test\r\n" +
		"Content-Type: application/x-www-form-urlencoded\r\n" +
		"Content-Length: " + strconv.Itoa(len(body)) + "\r\n\r\n" + body
	resp, data := ts.roundTrip(t, []byte(raw))
	return resp, decodeJSON(t, data)
}

func (ts *testServer) postMultipart(t *testing.T, fields map[string]string, fileField, filename string, content []byte) (*http.Response, map[string]any) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if fileField != "" {
		fw, err := mw.CreateFormFile(fileField, filename)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	raw := "POST / HTTP/1.1\r\nHost: test\r\n" +
		"Content-Type: " + mw.FormDataContentType() + "\r\n" +
		"Content-Length: " + strconv.Itoa(body.Len()) + "\r\n\r\n"
	resp, data := ts.roundTrip(t, append([]byte(raw), body.Bytes()...))
	return resp, decodeJSON(t, data)
}

func decodeJSON(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m), string(data))
	return m
}

// -----------------------------------------------------------------------------
// 测试用例
// -----------------------------------------------------------------------------

func TestServer_IssueAndValidateURLEncoded(t *testing.T) {
	ts := startServer(t, Config{})

	resp, body := ts.postForm(t, "action=issue&studentName=Ada+Lovelace&course=Math&issueDate=2024-02-29")
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(1), body["certificateId"])
	assert.Equal(t, float64(1), body["blockIndex"])
	assert.NotContains(t, body, "fileHash")
	hash := body["hash"].(string)

	// '+' 被解码为空格
	stored, err := ts.app.Repository.FindCertificateByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", stored.StudentName)

	resp, body = ts.postForm(t, "action=validate&certificateId=1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, "Certificate is authentic", body["message"])
	assert.Equal(t, hash, body["hash"])

	resp, body = ts.postForm(t, "action=validate&hash="+hash)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["valid"])
}

func TestServer_ClientErrors(t *testing.T) {
	ts := startServer(t, Config{})
	ts.postForm(t, "action=issue&studentName=A&course=B&issueDate=2024-01-01")

	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing fields", "action=issue&studentName=A", "Missing required fields"},
		{"duplicate", "action=issue&studentName=A&course=B&issueDate=2024-01-01", "Certificate with this data already exists"},
		{"non numeric id", "action=validate&certificateId=abc", "Invalid certificate ID"},
		{"unknown id", "action=validate&certificateId=404", "Certificate not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := ts.postForm(t, tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, false, body["success"])
			assert.Contains(t, body["error"], tt.want)
		})
	}
	assert.Equal(t, 2, ts.app.Chain.Len(), "client errors mutate nothing")
}

func TestServer_MultipartFileRoundTrip(t *testing.T) {
	ts := startServer(t, Config{})
	content := []byte("%PDF-1.7\r\n--not-a-boundary\r\nbinary\x00\xff")

	resp, body := ts.postMultipart(t, map[string]string{
		"action": "issue", "studentName": "Grace", "course": "COBOL", "issueDate": "1959-05-28",
	}, "certificateFile", "grace.pdf", content)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	require.Contains(t, body, "fileHash")
	id := int(body["certificateId"].(float64))

	// 只上传文件也能验证
	resp, body = ts.postMultipart(t, map[string]string{"action": "validate"}, "certificateFile", "any.pdf", content)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, float64(id), body["certificateId"])

	// 下载
	resp, data := ts.get(t, "GET", fmt.Sprintf("/api/certificates/download/%d", id))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/octet-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, `attachment; filename="grace.pdf"`, resp.Header.Get("Content-Disposition"))
	assert.Equal(t, content, data)
}

func TestServer_DeleteAndDownloadErrors(t *testing.T) {
	ts := startServer(t, Config{})
	ts.postForm(t, "action=issue&studentName=A&course=X&issueDate=2024-01-01")
	ts.postForm(t, "action=issue&studentName=B&course=X&issueDate=2024-01-01")
	ts.postForm(t, "action=issue&studentName=C&course=X&issueDate=2024-01-01")
	ts.postForm(t, "action=issue&studentName=D&course=X&issueDate=2024-01-01")

	resp, data := ts.get(t, "DELETE", "/api/certificates/delete/2")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeJSON(t, data)
	assert.Equal(t, "Certificate deleted successfully", body["message"])
	assert.Equal(t, float64(2), body["certificateId"])

	// GET 也可以删除
	resp, _ = ts.get(t, "GET", "/api/certificates/delete/3")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, data = ts.get(t, "GET", "/api/certificates/delete/abc")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Invalid certificate ID", decodeJSON(t, data)["error"])

	resp, data = ts.get(t, "GET", "/api/certificates/delete/2")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Certificate not found", decodeJSON(t, data)["error"])

	resp, data = ts.get(t, "GET", "/api/certificates/download/1")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "No file associated with this certificate", decodeJSON(t, data)["error"])

	// 删除后剩下的证书仍然有效
	for _, id := range []string{"1", "4"} {
		_, body = ts.postForm(t, "action=validate&certificateId="+id)
		assert.Equal(t, true, body["valid"], id)
	}

	resp, data = ts.get(t, "GET", "/api/blockchain")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	chain := decodeJSON(t, data)
	assert.Equal(t, float64(3), chain["chainLength"])
	assert.Equal(t, false, chain["valid"])
	assert.Equal(t, false, chain["validStrict"])
	assert.Equal(t, true, chain["validLenient"])
}

func TestServer_ListingAndChain(t *testing.T) {
	ts := startServer(t, Config{})
	ts.postForm(t, "action=issue&studentName=A&course=X&issueDate=2024-01-01")

	resp, data := ts.get(t, "GET", "/api/certificates")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var list []map[string]any
	require.NoError(t, json.Unmarshal(data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "2024-01-01", list[0]["issueDate"])
	assert.Nil(t, list[0]["filePath"])

	resp, data = ts.get(t, "GET", "/api/blockchain")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	chain := decodeJSON(t, data)
	assert.Equal(t, float64(2), chain["chainLength"])
	assert.Equal(t, true, chain["valid"])
	blocks := chain["blocks"].([]any)
	genesis := blocks[0].(map[string]any)
	assert.Equal(t, "genesis", genesis["certificateHash"])
	assert.Equal(t, "0", genesis["previousHash"])
	assert.Equal(t, true, genesis["valid"])

	resp, data = ts.get(t, "GET", "/api/blockchain/export")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/cbor", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, data)
}

func TestServer_StaticNotFoundAndPreflight(t *testing.T) {
	ts := startServer(t, Config{})

	for path, ct := range map[string]string{
		"/":           "text/html; charset=UTF-8",
		"/index.html": "text/html; charset=UTF-8",
		"/style.css":  "text/css",
		"/script.js":  "application/javascript",
	} {
		resp, data := ts.get(t, "GET", path)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Equal(t, ct, resp.Header.Get("Content-Type"), path)
		assert.NotEmpty(t, data, path)
	}

	resp, data := ts.get(t, "GET", "/nope")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
	assert.Equal(t, "404 Not Found", string(data))

	// 未知 action 也是 404
	resp, _ = ts.roundTrip(t, []byte("POST / HTTP/1.1\r\nContent-Length: 11\r\n\r\naction=mint"))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = ts.get(t, "OPTIONS", "/api/certificates")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "DELETE")
}

func TestServer_MalformedRequests(t *testing.T) {
	ts := startServer(t, Config{MaxBodyBytes: 1024})

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"bad content length", "POST / HTTP/1.1\r\nContent-Length: abc\r\n\r\n", "Invalid Content-Length"},
		{"body too large", "POST / HTTP/1.1\r\nContent-Length: 4096\r\n\r\n", "Request body too large"},
		{"missing boundary", "POST / HTTP/1.1\r\nContent-Type: multipart/form-data\r\nContent-Length: 4\r\n\r\nabcd", "Invalid multipart request: missing boundary"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, data := ts.roundTrip(t, []byte(tt.raw))
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, tt.want, decodeJSON(t, data)["error"])
		})
	}
}

func TestServer_AbandonsShortBody(t *testing.T) {
	ts := startServer(t, Config{ReadTimeout: 200 * time.Millisecond})

	conn, err := net.Dial("tcp", ts.addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("POST / HTTP/1.1\r\nContent-Length: 100\r\n\r\nonly ten b"))
	require.NoError(t, err)

	// 服务端在读超时后关闭连接，客户端读到 EOF 而不是一直挂起
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err = io.ReadAll(conn)
	var ne net.Error
	assert.False(t, errors.As(err, &ne) && ne.Timeout(), "connection should be closed by the server")
}

func TestServer_Metrics(t *testing.T) {
	ts := startServer(t, Config{})
	ts.get(t, "GET", "/api/blockchain")
	ts.get(t, "GET", "/api/certificates/delete/9")

	resp, data := ts.get(t, "GET", "/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	text := string(data)
	assert.Contains(t, text, `certchain_http_requests_total{method="GET",route="/api/blockchain",status="200"} 1`)
	assert.Contains(t, text, `route="/api/certificates/delete/{id}",status="400"`)
	assert.Contains(t, text, "certchain_chain_blocks 1")
}

func TestServer_RecoversFromPanic(t *testing.T) {
	ts := startServer(t, Config{}, func(s *Server) {
		s.router.Handle(http.MethodGet, "/boom", func(context.Context, *Request) (*Response, error) {
			panic("handler exploded")
		})
	})

	resp, data := ts.get(t, "GET", "/boom")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	body := decodeJSON(t, data)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Internal server error", body["error"])

	// 服务仍然可用
	resp, _ = ts.get(t, "GET", "/api/blockchain")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_ConcurrentIssues(t *testing.T) {
	ts := startServer(t, Config{Workers: 4})

	const n = 30
	var wg sync.WaitGroup
	statuses := make(chan int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body := fmt.Sprintf("action=issue&studentName=S%d&course=Parallel&issueDate=2024-03-01", i)
			resp, _ := ts.postForm(t, body)
			statuses <- resp.StatusCode
		}(i)
	}
	wg.Wait()
	close(statuses)
	for code := range statuses {
		assert.Equal(t, http.StatusOK, code)
	}

	blocks := ts.app.Chain.Blocks()
	require.Len(t, blocks, n+1)
	assert.True(t, ts.app.Chain.ValidateStrict())

	seen := make(map[string]bool)
	for _, b := range blocks[1:] {
		prev := b.PreviousFingerprint().String()
		assert.False(t, seen[prev], "two blocks share predecessor %s", prev)
		seen[prev] = true
	}

	// 所有块都已持久化
	stored, err := ts.app.Repository.LoadBlocks(context.Background())
	require.NoError(t, err)
	assert.Len(t, stored, n+1)
}
