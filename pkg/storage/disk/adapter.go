package disk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"certchain/pkg/storage"
)

// Adapter 实现了 storage.Store 接口，文件平铺在根目录下
type Adapter struct {
	rootPath string // 比如: ./uploads
}

// NewAdapter 创建一个新的磁盘存储适配器
func NewAdapter(root string) (*Adapter, error) {
	// 确保根目录存在
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root storage dir: %w", err)
	}
	return &Adapter{rootPath: root}, nil
}

// Root 返回根目录
func (s *Adapter) Root() string {
	return s.rootPath
}

// layout 返回 key 对应的物理路径
func (s *Adapter) layout(key string) (string, error) {
	if err := storage.ValidateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(s.rootPath, key), nil
}

func (s *Adapter) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	targetPath, err := s.layout(key)
	if err != nil {
		return err
	}

	// 1. 原子写入 (Atomic Write)
	// 先写到一个临时文件，然后 Rename，保证要么文件不存在，要么文件是完整的。
	tempFile, err := os.CreateTemp(s.rootPath, ".upload-*")
	if err != nil {
		return err
	}
	// 成功 Rename 后这个删除无害
	defer os.Remove(tempFile.Name())

	// 2. 写入数据
	n, err := io.Copy(tempFile, r)
	if err != nil {
		tempFile.Close()
		return err
	}
	if size >= 0 && n != size {
		tempFile.Close()
		return fmt.Errorf("short write for %s: wrote %d of %d bytes", key, n, size)
	}
	if err := tempFile.Close(); err != nil { // 必须先关闭才能 Rename
		return err
	}

	// 3. 移动到最终位置
	return os.Rename(tempFile.Name(), targetPath)
}

func (s *Adapter) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	targetPath, err := s.layout(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(targetPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (s *Adapter) Has(ctx context.Context, key string) (bool, error) {
	targetPath, err := s.layout(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(targetPath)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (s *Adapter) Delete(ctx context.Context, key string) error {
	targetPath, err := s.layout(key)
	if err != nil {
		return err
	}
	err = os.Remove(targetPath)
	if errors.Is(err, fs.ErrNotExist) {
		return storage.ErrNotFound
	}
	return err
}
