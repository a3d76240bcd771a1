package core

import (
	"crypto"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"

	"certchain/pkg/types"
)

// DigestChunkSize 是流式计算摘要时每次读取的块大小
// 大文件上传不会被一次性读进内存
const DigestChunkSize = 8 * 1024

var ErrHashUnavailable = errors.New("sha-256 hash provider unavailable")

// CheckProvider 在进程启动时确认 SHA-256 实现已链接
// 缺失时服务无法继续运行 (启动失败，而不是请求级错误)
func CheckProvider() error {
	if !crypto.SHA256.Available() {
		return ErrHashUnavailable
	}
	return nil
}

// Digest 计算任意字节序列的指纹
func Digest(data []byte) types.Fingerprint {
	sum := sha256.Sum256(data)
	return types.Fingerprint(hex.EncodeToString(sum[:]))
}

// DigestString 按 UTF-8 编码后计算指纹 (Go 字符串本身就是 UTF-8 字节)
func DigestString(s string) types.Fingerprint {
	return Digest([]byte(s))
}

// DigestReader 以固定大小的块流式读取 r 并计算指纹
func DigestReader(r io.Reader) (types.Fingerprint, error) {
	hasher := sha256.New()
	buf := make([]byte, DigestChunkSize)
	if _, err := io.CopyBuffer(hasher, r, buf); err != nil {
		return "", fmt.Errorf("failed to digest stream: %w", err)
	}
	return types.Fingerprint(hex.EncodeToString(hasher.Sum(nil))), nil
}

// HashingReader 在数据流经时计算指纹
// 读完后调用 Fingerprint 取得结果，可以边上传边计算
type HashingReader struct {
	r      io.Reader
	hasher hash.Hash
}

func NewHashingReader(r io.Reader) *HashingReader {
	h := sha256.New()
	return &HashingReader{r: io.TeeReader(r, h), hasher: h}
}

func (hr *HashingReader) Read(p []byte) (int, error) {
	return hr.r.Read(p)
}

// Fingerprint 返回目前为止读过的所有字节的指纹
func (hr *HashingReader) Fingerprint() types.Fingerprint {
	return types.Fingerprint(hex.EncodeToString(hr.hasher.Sum(nil)))
}
