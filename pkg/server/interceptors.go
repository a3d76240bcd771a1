package server

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// 1. Logging (结构化日志)
// =============================================================================

// withLogging 为请求分配 request id，并在结束时打印一行日志
func withLogging(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, req *Request) (*Response, error) {
		start := time.Now()

		req.RequestID = req.Header("X-Request-ID")
		if req.RequestID == "" {
			req.RequestID = uuid.NewString()
		}

		resp, err := next(ctx, req)
		if err != nil {
			resp = errorResponse(err)
		}
		resp.SetHeader("X-Request-ID", req.RequestID)

		logRequest(ctx, req, resp.Status, time.Since(start), err)
		return resp, nil
	}
}

// logRequest 统一的日志打印逻辑: 5xx 记 Error，4xx 记 Warn
func logRequest(ctx context.Context, req *Request, status int, duration time.Duration, err error) {
	level := slog.LevelInfo
	switch {
	case status >= 500:
		level = slog.LevelError
	case status >= 400:
		level = slog.LevelWarn
	}

	slog.Log(ctx, level, "HTTP Request",
		slog.String("id", req.RequestID),
		slog.String("method", req.Method),
		slog.String("path", req.Path),
		slog.Int("status", status),
		slog.Duration("dur", duration),
		slog.String("err", errToString(err)),
	)
}

func errToString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// =============================================================================
// 2. Recovery (防弹衣)
// =============================================================================

var errPanic = errors.New("internal server error: panic recovered")

// withRecovery 捕获处理函数中的 panic，转换为 500
func withRecovery(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, req *Request) (resp *Response, err error) {
		defer func() {
			if r := recover(); r != nil {
				resp, err = nil, recoverFromPanic(r)
			}
		}()
		return next(ctx, req)
	}
}

func recoverFromPanic(p any) error {
	stack := string(debug.Stack())
	slog.Error("🔥 PANIC RECOVERED",
		slog.Any("panic", p),
		slog.String("stack", stack),
	)
	// 客户端只看到通用的 500 消息
	return errPanic
}
