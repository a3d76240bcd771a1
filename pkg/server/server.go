package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"certchain/pkg/service"

	"golang.org/x/sync/errgroup"
)

// Config 服务端配置
type Config struct {
	Addr         string
	Workers      int           // 固定的 worker 数量
	QueueSize    int           // 等待 worker 的连接数上限
	ReadTimeout  time.Duration // 读完整个请求的期限，超时即放弃连接
	WriteTimeout time.Duration
	MaxBodyBytes int64
}

func (c *Config) setDefaults() {
	if c.Workers <= 0 {
		c.Workers = 10
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 128
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 32 << 20
	}
}

// Server 是一个手写的 HTTP/1.1 分发器：
// 一个 goroutine 负责 accept，固定数量的 worker 处理完整的 读请求-分发-写响应-关闭 周期
type Server struct {
	cfg     Config
	router  *Router
	metrics *Metrics
}

// New 创建 Server 并注册所有路由
func New(cfg Config, svc *service.CertificateService, chainLength func() int) *Server {
	cfg.setDefaults()
	s := &Server{
		cfg:     cfg,
		router:  &Router{},
		metrics: NewMetrics(chainLength),
	}

	h := &handlers{svc: svc}
	rt := s.router

	// 静态页面
	rt.Handle(http.MethodGet, "/", staticHandler("index.html", "text/html; charset=UTF-8"))
	rt.Handle(http.MethodGet, "/index.html", staticHandler("index.html", "text/html; charset=UTF-8"))
	rt.Handle(http.MethodGet, "/style.css", staticHandler("style.css", "text/css"))
	rt.Handle(http.MethodGet, "/script.js", staticHandler("script.js", "application/javascript"))

	// API
	rt.Handle(http.MethodGet, "/api/certificates", h.certificates)
	rt.Handle(http.MethodGet, "/api/blockchain", h.blockchain)
	rt.Handle(http.MethodGet, "/api/blockchain/export", h.export)
	rt.HandlePrefix(http.MethodGet, deletePrefix, h.delete)
	rt.HandlePrefix(http.MethodDelete, deletePrefix, h.delete)
	rt.HandlePrefix(http.MethodGet, downloadPrefix, h.download)
	rt.Handle(http.MethodPost, "/", h.post)

	// 运维
	rt.Handle(http.MethodGet, "/metrics", s.metrics.handle)

	return s
}

// ListenAndServe 监听 cfg.Addr 并阻塞直到 ctx 取消
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve 在 ln 上提供服务。ctx 取消后停止 accept，
// 已排队和处理中的连接会被处理完，然后返回。
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)
	conns := make(chan net.Conn, s.cfg.QueueSize)

	// 1. 关闭监听器以打断阻塞的 Accept
	g.Go(func() error {
		<-gctx.Done()
		return ln.Close()
	})

	// 2. Accept 循环：只负责把连接交给 worker
	g.Go(func() error {
		defer close(conns)
		for {
			conn, err := ln.Accept()
			if err != nil {
				if gctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return nil
				}
				var ne net.Error
				if errors.As(err, &ne) && ne.Timeout() {
					slog.Warn("accept timeout", "error", err)
					continue
				}
				return fmt.Errorf("accept failed: %w", err)
			}
			select {
			case conns <- conn:
			case <-gctx.Done():
				conn.Close()
				return nil
			}
		}
	})

	// 3. 固定数量的 worker
	// 处理中的请求不随 ctx 取消，保证优雅退出时能写完响应
	reqCtx := context.WithoutCancel(ctx)
	for i := 0; i < s.cfg.Workers; i++ {
		g.Go(func() error {
			for conn := range conns {
				s.serveConn(reqCtx, conn)
			}
			return nil
		})
	}

	slog.Info("server listening", "addr", ln.Addr().String(), "workers", s.cfg.Workers)
	err := g.Wait()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

// serveConn 处理一个连接上的一个请求，然后关闭连接
func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	br := bufio.NewReader(conn)

	req, err := readRequest(br, s.cfg.MaxBodyBytes)
	var resp *Response
	switch {
	case errors.Is(err, io.EOF):
		// 客户端连上后什么都没发
		return
	case errors.Is(err, service.ErrMalformedRequest):
		resp = errorResponse(err)
		slog.Warn("malformed request", "remote", conn.RemoteAddr().String(), "error", err)
	case err != nil:
		// 超时或网络错误：放弃这个连接
		slog.Warn("abandoning connection", "remote", conn.RemoteAddr().String(), "error", err)
		return
	default:
		resp = s.dispatch(ctx, req)
	}

	resp.SetHeader("Access-Control-Allow-Origin", "*")
	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if err := writeResponse(conn, resp); err != nil {
		slog.Warn("failed to write response", "remote", conn.RemoteAddr().String(), "error", err)
	}
}

// dispatch 路由并套上中间件: logging -> metrics -> recovery -> handler
func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	var (
		handler HandlerFunc
		route   string
	)
	if req.Method == http.MethodOptions {
		handler, route = preflight, "*"
	} else {
		handler, route = s.router.Match(req.Method, req.Path)
	}
	if handler == nil {
		handler = func(context.Context, *Request) (*Response, error) { return notFound(), nil }
	}

	chain := withLogging(s.metrics.withMetrics(route, withRecovery(handler)))
	resp, _ := chain(ctx, req)
	return resp
}
