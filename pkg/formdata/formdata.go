// Package formdata 解析 multipart/form-data 与 application/x-www-form-urlencoded 请求体。
//
// multipart 解析是一个显式的边界扫描状态机：逐字节查找边界，
// 用字面子串提取 name/filename 属性，而不是完整的 RFC 7578 头部语法。
package formdata

import (
	"bytes"
	"errors"
	"strings"
)

var ErrMissingBoundary = errors.New("no boundary found in Content-Type")

var (
	crlf       = []byte("\r\n")
	headerTerm = []byte("\r\n\r\n")
)

// File 是一个上传的文件部件
type File struct {
	Filename string
	Content  []byte
}

// Data 是解析结果。同名字段/文件后者覆盖前者
type Data struct {
	Fields map[string]string
	Files  map[string]File
}

func newData() *Data {
	return &Data{
		Fields: make(map[string]string),
		Files:  make(map[string]File),
	}
}

// Field 返回文本字段
func (d *Data) Field(name string) (string, bool) {
	v, ok := d.Fields[name]
	return v, ok
}

// File 返回文件部件
func (d *Data) File(name string) (File, bool) {
	f, ok := d.Files[name]
	return f, ok
}

// Boundary 从 Content-Type 中提取 boundary= 之后的标记
func Boundary(contentType string) (string, error) {
	idx := strings.Index(contentType, "boundary=")
	if idx == -1 {
		return "", ErrMissingBoundary
	}
	b := contentType[idx+len("boundary="):]
	if semi := strings.IndexByte(b, ';'); semi != -1 {
		b = b[:semi]
	}
	b = strings.Trim(strings.TrimSpace(b), `"`)
	if b == "" {
		return "", ErrMissingBoundary
	}
	return b, nil
}

// Decode 按 Content-Type 中的边界解析请求体
func Decode(contentType string, body []byte) (*Data, error) {
	boundary, err := Boundary(contentType)
	if err != nil {
		return nil, err
	}
	return DecodeBoundary(boundary, body), nil
}

// DecodeBoundary 使用已知边界解析请求体
// 没有任何部件时返回空结果 (不是错误)；最后一个边界之后的字节被丢弃
func DecodeBoundary(boundary string, body []byte) *Data {
	data := newData()
	marker := []byte("--" + boundary)

	start := bytes.Index(body, marker)
	if start == -1 {
		return data
	}

	for start < len(body) {
		// 部件从边界行的 CRLF 之后开始
		partStart := start + len(marker) + len(crlf)

		end := -1
		if next := bytes.Index(body[start+len(marker):], marker); next != -1 {
			end = start + len(marker) + next
		}
		partEnd := end
		if partEnd == -1 {
			partEnd = len(body)
		}

		if partStart < partEnd {
			parsePart(body[partStart:partEnd], data)
		}

		if end == -1 {
			break
		}
		start = end
	}

	return data
}

// parsePart 解析一个部件：头部与正文以第一个 CRLF CRLF 分隔
func parsePart(part []byte, data *Data) {
	headerEnd := bytes.Index(part, headerTerm)
	if headerEnd == -1 {
		return
	}

	headers := string(part[:headerEnd])
	name, hasName := quotedAttr(headers, `name="`)
	filename, _ := quotedAttr(headers, `filename="`)

	body := part[headerEnd+len(headerTerm):]
	body = bytes.TrimSuffix(body, crlf)

	if !hasName {
		return
	}

	// 空文件名视为普通字段
	if filename != "" {
		content := make([]byte, len(body))
		copy(content, body)
		data.Files[name] = File{Filename: filename, Content: content}
		return
	}
	data.Fields[name] = string(body)
}

// quotedAttr 返回 key 之后到下一个引号之间的内容 (第一次出现的为准)
func quotedAttr(headers, key string) (string, bool) {
	idx := strings.Index(headers, key)
	if idx == -1 {
		return "", false
	}
	rest := headers[idx+len(key):]
	end := strings.IndexByte(rest, '"')
	if end == -1 {
		return "", false
	}
	return rest[:end], true
}

// ParseURLEncoded 解析 key=value&... 形式的表单
// 只做 '+' -> ' ' 替换，不做百分号解码；缺少值或包含多个 '=' 的片段被忽略
func ParseURLEncoded(body string) map[string]string {
	params := make(map[string]string)
	for _, pair := range strings.Split(body, "&") {
		kv := strings.Split(pair, "=")
		if len(kv) != 2 || kv[1] == "" {
			continue
		}
		params[kv[0]] = strings.ReplaceAll(kv[1], "+", " ")
	}
	return params
}
