package server

import (
	"context"
	"embed"
	"net/http"
)

//go:embed static
var staticFS embed.FS

// staticHandler 返回嵌入的静态文件
func staticHandler(name, contentType string) HandlerFunc {
	return func(ctx context.Context, req *Request) (*Response, error) {
		data, err := staticFS.ReadFile("static/" + name)
		if err != nil {
			return nil, err
		}
		return rawResponse(http.StatusOK, contentType, data), nil
	}
}
