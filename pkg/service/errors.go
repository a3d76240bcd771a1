package service

import (
	"errors"
	"net/http"
)

// 错误分类，决定 HTTP 状态码
var (
	// ErrMalformedRequest 请求本身无法解析 (boundary、Content-Length、请求行)
	ErrMalformedRequest = errors.New("malformed request")
	// ErrClientData 请求可以解析但数据有问题 (缺字段、非数字 id、重复、找不到)
	ErrClientData = errors.New("client data error")
	// ErrStorage 持久层或文件存储调用失败
	ErrStorage = errors.New("storage failure")
)

// Error 携带面向客户端的消息
type Error struct {
	Kind error  // 上面三个哨兵之一
	Msg  string // 返回给客户端的 error 字段
	Err  error  // 底层原因，可为 nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

// Unwrap 让 errors.Is 同时匹配分类和底层原因
func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

func Malformed(msg string) error {
	return &Error{Kind: ErrMalformedRequest, Msg: msg}
}

func ClientData(msg string) error {
	return &Error{Kind: ErrClientData, Msg: msg}
}

func Storage(msg string, err error) error {
	return &Error{Kind: ErrStorage, Msg: msg, Err: err}
}

// StatusCode 把错误映射为 HTTP 状态码
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrMalformedRequest), errors.Is(err, ErrClientData):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Message 返回可以安全展示给客户端的文本
func Message(err error) string {
	var se *Error
	if errors.As(err, &se) {
		if se.Kind == ErrStorage && se.Err != nil {
			return se.Msg + ": " + se.Err.Error()
		}
		return se.Msg
	}
	return "Internal server error"
}
