package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	ErrNotFound   = errors.New("object not found")
	ErrInvalidKey = errors.New("invalid object key")
)

// Store defines the interface for the uploaded certificate file backend.
// Implementations can be local disk, cloud storage, or a caching decorator.
type Store interface {
	// Put 以 key 持久化一个文件，已存在的同名文件会被覆盖
	Put(ctx context.Context, key string, r io.Reader, size int64) error

	// Get 读取原始数据
	// 返回 io.ReadCloser 以支持流式读取，调用方负责关闭
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Has 检查文件是否存在
	Has(ctx context.Context, key string) (bool, error)

	// Delete 删除文件；不存在时返回 ErrNotFound
	Delete(ctx context.Context, key string) error
}

// ValidateKey 拒绝可能逃逸出存储根目录的 key
func ValidateKey(key string) error {
	if key == "" || key == "." || key == ".." ||
		strings.ContainsAny(key, `/\`) || strings.ContainsRune(key, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}
