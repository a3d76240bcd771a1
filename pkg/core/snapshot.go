package core

import (
	"errors"
	"fmt"

	"certchain/pkg/types"

	"github.com/fxamacker/cbor/v2"
)

// SnapshotVersion 是导出格式的版本号，格式变化时递增
const SnapshotVersion = 1

var ErrSnapshotVersion = errors.New("unsupported snapshot version")

// 规范化编码选项：相同的链总是得到相同的字节
var encOptions = cbor.EncOptions{
	// 1. Map Key 排序 (Canonical)
	Sort: cbor.SortCanonical,

	// 2. 禁止不定长编码，数组和 Map 必须在头部声明长度
	IndefLength: cbor.IndefLengthForbidden,

	// 3. 不生成时间 Tag，时间戳本身就是字符串
	TimeTag: cbor.EncTagNone,
}

var em, _ = encOptions.EncMode()

var decOptions = cbor.DecOptions{
	// --- 安全性配置 (防 DoS 攻击) ---
	// 导入的快照可能来自不可信来源，限制容器元素数量和嵌套深度
	MaxArrayElements: 1_000_000,
	MaxMapPairs:      100,
	MaxNestedLevels:  16,

	IndefLength: cbor.IndefLengthForbidden,
	DupMapKey:   cbor.DupMapKeyEnforcedAPF,
}

var dm, _ = decOptions.DecMode()

// snapshotBlock 是 Block 的线上格式 (短 Key 节省空间)
type snapshotBlock struct {
	Position  int64  `cbor:"i"`
	CreatedAt string `cbor:"ts"`
	Payload   string `cbor:"c"`
	Previous  string `cbor:"p"`
	Self      string `cbor:"h"`
}

type snapshot struct {
	Version int             `cbor:"v"`
	Blocks  []snapshotBlock `cbor:"b"`
}

// EncodeSnapshot 把一组块序列化为规范化 CBOR
func EncodeSnapshot(blocks []Block) ([]byte, error) {
	s := snapshot{
		Version: SnapshotVersion,
		Blocks:  make([]snapshotBlock, len(blocks)),
	}
	for i, b := range blocks {
		s.Blocks[i] = snapshotBlock{
			Position:  b.position,
			CreatedAt: b.createdAt,
			Payload:   string(b.payloadFingerprint),
			Previous:  string(b.previousFingerprint),
			Self:      string(b.selfFingerprint),
		}
	}

	data, err := em.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshot 还原快照中的块 (原样还原，不重新计算指纹)
func DecodeSnapshot(data []byte) ([]Block, error) {
	var s snapshot
	if err := dm.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	if s.Version != SnapshotVersion {
		return nil, fmt.Errorf("%w: %d", ErrSnapshotVersion, s.Version)
	}

	blocks := make([]Block, len(s.Blocks))
	for i, sb := range s.Blocks {
		blocks[i] = RestoreBlock(
			sb.Position,
			sb.CreatedAt,
			types.Fingerprint(sb.Payload),
			types.Fingerprint(sb.Previous),
			types.Fingerprint(sb.Self),
		)
	}
	return blocks, nil
}
