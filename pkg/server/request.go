package server

import (
	"bufio"
	"errors"
	"io"
	"strconv"
	"strings"

	"certchain/pkg/service"
)

const (
	maxLineBytes = 8 << 10
	maxHeaders   = 100
)

// Request 是从原始字节流解析出的一个 HTTP/1.x 请求
type Request struct {
	Method  string
	Path    string // 不含查询串
	Query   string
	Proto   string
	Headers map[string]string // key 统一小写，同名头最后一个生效
	Body    []byte

	// RequestID 由日志中间件填写
	RequestID string
}

// Header 按大小写不敏感的方式取请求头
func (r *Request) Header(name string) string {
	return r.Headers[strings.ToLower(name)]
}

// ContentType 返回 Content-Type 头
func (r *Request) ContentType() string {
	return r.Header("Content-Type")
}

// readLine 读取一行并去掉 CRLF，超长视为畸形请求
func readLine(br *bufio.Reader) (string, error) {
	var sb strings.Builder
	for {
		chunk, isPrefix, err := br.ReadLine()
		if err != nil {
			return "", err
		}
		sb.Write(chunk)
		if sb.Len() > maxLineBytes {
			return "", service.Malformed("Request line or header too long")
		}
		if !isPrefix {
			return sb.String(), nil
		}
	}
}

// readRequest 解析请求行、请求头，并按 Content-Length 精确读取请求体。
// 连接上什么都没读到时返回 io.EOF。
func readRequest(br *bufio.Reader, maxBody int64) (*Request, error) {
	// 1. 请求行: METHOD SP PATH [SP PROTO]
	line, err := readLine(br)
	if err != nil {
		return nil, err
	}
	parts := strings.Fields(line)
	if len(parts) < 2 || len(parts) > 3 {
		return nil, service.Malformed("Invalid request line")
	}
	req := &Request{
		Method:  strings.ToUpper(parts[0]),
		Proto:   "HTTP/1.0",
		Headers: make(map[string]string),
	}
	if len(parts) == 3 {
		req.Proto = parts[2]
	}
	req.Path, req.Query, _ = strings.Cut(parts[1], "?")
	if !strings.HasPrefix(req.Path, "/") && req.Path != "*" {
		return nil, service.Malformed("Invalid request target")
	}

	// 2. 请求头，直到空行
	for n := 0; ; n++ {
		if n > maxHeaders {
			return nil, service.Malformed("Too many headers")
		}
		line, err := readLine(br)
		if err != nil {
			return nil, incomplete(err)
		}
		if line == "" {
			break
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, service.Malformed("Invalid header line")
		}
		req.Headers[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(value)
	}

	// 3. 请求体
	if te := req.Header("Transfer-Encoding"); te != "" && !strings.EqualFold(te, "identity") {
		return nil, service.Malformed("Chunked transfer encoding is not supported")
	}
	cl := req.Header("Content-Length")
	if cl == "" {
		return req, nil
	}
	length, err := strconv.ParseInt(cl, 10, 64)
	if err != nil || length < 0 {
		return nil, service.Malformed("Invalid Content-Length")
	}
	if length > maxBody {
		return nil, service.Malformed("Request body too large")
	}
	req.Body = make([]byte, length)
	if _, err := io.ReadFull(br, req.Body); err != nil {
		return nil, incomplete(err)
	}
	return req, nil
}

// incomplete 把请求中途断开映射为畸形请求；超时等网络错误原样返回
func incomplete(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return service.Malformed("Incomplete request")
	}
	return err
}
