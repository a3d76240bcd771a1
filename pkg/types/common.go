// pkg/types/common.go
package types

// Fingerprint 代表 SHA-256 摘要的十六进制小写字符串 (64 字符)
// 这是一个"值对象"，应当是不可变的。
type Fingerprint string

func (f Fingerprint) String() string { return string(f) }

func (f Fingerprint) IsZero() bool { return f == "" }

// IsValid 检查是否为合法的 SHA-256 Hex 编码
// 注意：创世块的 "genesis" / "0" 不是合法摘要，但它们仍是链上的合法取值
func (f Fingerprint) IsValid() bool {
	if len(f) != 64 {
		return false
	}
	for i := 0; i < len(f); i++ {
		c := f[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// Short 返回前 8 位，用于日志和 CLI 展示
func (f Fingerprint) Short() string {
	if len(f) <= 8 {
		return string(f)
	}
	return string(f[:8])
}

// CertificateID 是证书在持久层中的主键
type CertificateID int64
