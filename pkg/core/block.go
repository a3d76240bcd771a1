package core

import (
	"fmt"
	"strconv"
	"time"

	"certchain/pkg/types"
)

// TimestampLayout 是 Block.CreatedAt 的 ISO-8601 本地时间格式 (尾部多余的 0 会被省略)
const TimestampLayout = "2006-01-02T15:04:05.999999999"

// Block 是链上的一个不可变节点
// 字段全部私有，构造后只能读取，保证 selfFingerprint 与其余四个字段的对应关系
type Block struct {
	position            int64
	createdAt           string
	payloadFingerprint  types.Fingerprint
	previousFingerprint types.Fingerprint
	selfFingerprint     types.Fingerprint
}

// NewBlock 以当前时间创建一个新块，并立即计算自身指纹
func NewBlock(position int64, payload, previous types.Fingerprint) Block {
	return NewBlockAt(position, time.Now(), payload, previous)
}

// NewBlockAt 与 NewBlock 相同，但时间由调用方提供 (用于注入时钟)
func NewBlockAt(position int64, at time.Time, payload, previous types.Fingerprint) Block {
	createdAt := at.Format(TimestampLayout)
	return Block{
		position:            position,
		createdAt:           createdAt,
		payloadFingerprint:  payload,
		previousFingerprint: previous,
		selfFingerprint:     ComputeBlockFingerprint(position, createdAt, payload, previous),
	}
}

// RestoreBlock 从可信的持久化数据重建块，不重新计算指纹
func RestoreBlock(position int64, createdAt string, payload, previous, self types.Fingerprint) Block {
	return Block{
		position:            position,
		createdAt:           createdAt,
		payloadFingerprint:  payload,
		previousFingerprint: previous,
		selfFingerprint:     self,
	}
}

// ComputeBlockFingerprint = SHA256(position ∥ createdAt ∥ payload ∥ previous)
// 注意是字符串拼接，不是二进制打包
func ComputeBlockFingerprint(position int64, createdAt string, payload, previous types.Fingerprint) types.Fingerprint {
	data := strconv.FormatInt(position, 10) + createdAt + string(payload) + string(previous)
	return DigestString(data)
}

func (b Block) Position() int64                        { return b.position }
func (b Block) CreatedAt() string                      { return b.createdAt }
func (b Block) PayloadFingerprint() types.Fingerprint  { return b.payloadFingerprint }
func (b Block) PreviousFingerprint() types.Fingerprint { return b.previousFingerprint }
func (b Block) SelfFingerprint() types.Fingerprint     { return b.selfFingerprint }

// IsGenesis 按位置判断 (创世块永远在 0 号位置)
func (b Block) IsGenesis() bool { return b.position == 0 }

// IsSelfConsistent 用其余四个字段重新计算指纹并与存储值比较
func (b Block) IsSelfConsistent() bool {
	return ComputeBlockFingerprint(b.position, b.createdAt, b.payloadFingerprint, b.previousFingerprint) == b.selfFingerprint
}

func (b Block) String() string {
	return fmt.Sprintf("Block{position=%d, createdAt=%q, payload=%s, previous=%s, self=%s}",
		b.position, b.createdAt, b.payloadFingerprint, b.previousFingerprint, b.selfFingerprint)
}
