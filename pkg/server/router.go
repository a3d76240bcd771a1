package server

import (
	"context"
	"strings"
)

// HandlerFunc 处理一个请求；返回的 error 由中间件转换成错误响应
type HandlerFunc func(ctx context.Context, req *Request) (*Response, error)

type route struct {
	method  string
	pattern string // 以 "/" 结尾且 prefix=true 时按前缀匹配
	prefix  bool
	handler HandlerFunc
}

// Router 按方法和路径分发。精确路由优先于前缀路由。
type Router struct {
	routes []route
}

func (rt *Router) Handle(method, path string, h HandlerFunc) {
	rt.routes = append(rt.routes, route{method: method, pattern: path, handler: h})
}

// HandlePrefix 注册形如 /api/certificates/delete/{id} 的路由
func (rt *Router) HandlePrefix(method, prefix string, h HandlerFunc) {
	rt.routes = append(rt.routes, route{method: method, pattern: prefix, prefix: true, handler: h})
}

// Match 返回处理函数和用于指标标签的路由模式
func (rt *Router) Match(method, path string) (HandlerFunc, string) {
	for _, r := range rt.routes {
		if !r.prefix && r.method == method && r.pattern == path {
			return r.handler, r.pattern
		}
	}
	for _, r := range rt.routes {
		if r.prefix && r.method == method && strings.HasPrefix(path, r.pattern) {
			return r.handler, r.pattern + "{id}"
		}
	}
	return nil, "unmatched"
}
