package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"certchain/pkg/service"

	"github.com/valyala/bytebufferpool"
)

// Response 是一个待序列化的 HTTP 响应
type Response struct {
	Status  int
	Headers [][2]string // 保持写入顺序
	Body    []byte
}

// SetHeader 追加一个响应头
func (r *Response) SetHeader(key, value string) {
	for i := range r.Headers {
		if r.Headers[i][0] == key {
			r.Headers[i][1] = value
			return
		}
	}
	r.Headers = append(r.Headers, [2]string{key, value})
}

func rawResponse(status int, contentType string, body []byte) *Response {
	return &Response{
		Status:  status,
		Headers: [][2]string{{"Content-Type", contentType}},
		Body:    body,
	}
}

// jsonResponse 序列化 v；序列化失败退化为 500
func jsonResponse(status int, v any) *Response {
	body, err := json.Marshal(v)
	if err != nil {
		return errorResponse(service.Storage("Failed to encode response", err))
	}
	return rawResponse(status, "application/json", body)
}

type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// errorResponse 按错误分类返回 400 / 500 JSON
func errorResponse(err error) *Response {
	return jsonResponse(service.StatusCode(err), errorBody{Success: false, Error: service.Message(err)})
}

func notFound() *Response {
	return rawResponse(http.StatusNotFound, "text/plain", []byte("404 Not Found"))
}

// writeResponse 把状态行、头和体拼进池化缓冲区后一次写出
func writeResponse(w io.Writer, resp *Response) error {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	buf.WriteString("HTTP/1.1 ")
	buf.WriteString(strconv.Itoa(resp.Status))
	buf.WriteByte(' ')
	buf.WriteString(http.StatusText(resp.Status))
	buf.WriteString("\r\n")

	for _, h := range resp.Headers {
		buf.WriteString(h[0])
		buf.WriteString(": ")
		buf.WriteString(h[1])
		buf.WriteString("\r\n")
	}
	buf.WriteString("Content-Length: ")
	buf.WriteString(strconv.Itoa(len(resp.Body)))
	buf.WriteString("\r\nConnection: close\r\n\r\n")
	buf.Write(resp.Body)

	_, err := w.Write(buf.B)
	return err
}
