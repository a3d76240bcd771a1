package chain

import (
	"sync"
	"time"

	"certchain/pkg/core"
	"certchain/pkg/types"
)

const (
	// GenesisPayload 是创世块固定的载荷指纹
	GenesisPayload types.Fingerprint = "genesis"
	// GenesisPrevious 是创世块固定的前驱指纹
	GenesisPrevious types.Fingerprint = "0"
)

// Store 是单节点、单写者的哈希链
// 所有读写操作都在同一把互斥锁下执行：Append 需要先读取最后一个块的指纹再写入，
// 与其他 Append/Remove 交错会产生两个声明同一前驱的块。
type Store struct {
	mu     sync.Mutex
	blocks []core.Block
	now    func() time.Time
}

// Option 配置 Store
type Option func(*Store)

// WithClock 注入时间源 (测试中用于固定时间戳)
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore 创建一条只包含创世块的链
func NewStore(opts ...Option) *Store {
	s := &Store{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.blocks = []core.Block{s.genesis()}
	return s
}

func (s *Store) genesis() core.Block {
	return core.NewBlockAt(0, s.now(), GenesisPayload, GenesisPrevious)
}

// Append 在链尾追加一个新块并返回它
func (s *Store) Append(payload types.Fingerprint) core.Block {
	s.mu.Lock()
	defer s.mu.Unlock()

	last := s.blocks[len(s.blocks)-1]
	b := core.NewBlockAt(int64(len(s.blocks)), s.now(), payload, last.SelfFingerprint())
	s.blocks = append(s.blocks, b)
	return b
}

// LoadExisting 原样追加一个块，不重新计算哈希也不检查位置连续性
// 仅用于启动时从持久层批量恢复
func (s *Store) LoadExisting(b core.Block) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blocks = append(s.blocks, b)
}

// Restore 启动时批量装入持久化的块：先按链接关系排序，再原样追加
func (s *Store) Restore(blocks []core.Block) {
	ordered := linkOrder(blocks)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.blocks = append(s.blocks, ordered...)
}

// Remove 删除 (至多一个) 载荷指纹匹配的非创世块
// 幸存的块不会被重新编号或重新计算哈希
func (s *Store) Remove(payload types.Fingerprint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, b := range s.blocks {
		if b.Position() > 0 && b.PayloadFingerprint() == payload {
			s.blocks = append(s.blocks[:i], s.blocks[i+1:]...)
			return true
		}
	}
	return false
}

// Contains 判断任意位置是否存在该载荷指纹
func (s *Store) Contains(payload types.Fingerprint) bool {
	_, ok := s.FindByPayload(payload)
	return ok
}

// FindByPayload 返回第一个匹配的块
func (s *Store) FindByPayload(payload types.Fingerprint) (core.Block, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range s.blocks {
		if b.PayloadFingerprint() == payload {
			return b, true
		}
	}
	return core.Block{}, false
}

// ValidateStrict 检查完整的哈希链接：每个块自洽，且 previous 指向前一个块
// 发生过删除后会返回 false (预期行为)
func (s *Store) ValidateStrict() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return validateStrict(s.blocks)
}

// ValidateLenient 容忍授权删除留下的缺口：
// 每个非创世块必须自洽；previous 不指向相邻前块时，它指向的块必须已不在链上 (被删除)。
// 指向另一个仍在链上的块说明顺序被篡改。
// 位置会在删除后被复用，不能用来判断缺口。
func (s *Store) ValidateLenient() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return validateLenient(s.blocks)
}

// Len 返回链长度 (含创世块)
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.blocks)
}

// Latest 返回最后一个块
func (s *Store) Latest() core.Block {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.blocks[len(s.blocks)-1]
}

// Genesis 返回 0 号块
func (s *Store) Genesis() core.Block {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.blocks[0]
}

// Blocks 返回当前链的副本，用于并发安全的读取
func (s *Store) Blocks() []core.Block {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]core.Block, len(s.blocks))
	copy(out, s.blocks)
	return out
}

// View 在一次加锁内同时取得副本和两种校验结果，避免三次读取之间状态变化
func (s *Store) View() (blocks []core.Block, strict, lenient bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	blocks = make([]core.Block, len(s.blocks))
	copy(blocks, s.blocks)
	return blocks, validateStrict(s.blocks), validateLenient(s.blocks)
}

// Reset 丢弃除创世块以外的所有块
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blocks = []core.Block{s.blocks[0]}
}

func validateStrict(blocks []core.Block) bool {
	for i := 1; i < len(blocks); i++ {
		cur, prev := blocks[i], blocks[i-1]
		if !cur.IsSelfConsistent() {
			return false
		}
		if cur.PreviousFingerprint() != prev.SelfFingerprint() {
			return false
		}
	}
	return true
}

func validateLenient(blocks []core.Block) bool {
	if len(blocks) <= 1 {
		return true
	}
	surviving := make(map[types.Fingerprint]struct{}, len(blocks))
	for _, b := range blocks {
		surviving[b.SelfFingerprint()] = struct{}{}
	}
	for i := 1; i < len(blocks); i++ {
		cur, prev := blocks[i], blocks[i-1]
		if !cur.IsSelfConsistent() {
			return false
		}
		if cur.PreviousFingerprint() == prev.SelfFingerprint() {
			continue
		}
		// 前驱已被删除 (或是上一次运行的创世块)
		if _, ok := surviving[cur.PreviousFingerprint()]; ok {
			return false
		}
	}
	return true
}

// ValidateBlocks 对任意块序列 (例如导出的快照) 执行两种校验
func ValidateBlocks(blocks []core.Block) (strict, lenient bool) {
	return validateStrict(blocks), validateLenient(blocks)
}

// linkOrder 按哈希链接重排持久化的块：
// 每个块紧跟在它的前驱之后；前驱已不存在的块各自开始一段，段之间保持输入顺序。
// 删除后位置会被复用，按位置排序可能把后继排到前驱前面。
func linkOrder(blocks []core.Block) []core.Block {
	present := make(map[types.Fingerprint]struct{}, len(blocks))
	for _, b := range blocks {
		present[b.SelfFingerprint()] = struct{}{}
	}
	// 在一把锁下追加，一个块至多有一个幸存的后继
	next := make(map[types.Fingerprint]int, len(blocks))
	for i, b := range blocks {
		if _, ok := present[b.PreviousFingerprint()]; ok {
			next[b.PreviousFingerprint()] = i
		}
	}

	out := make([]core.Block, 0, len(blocks))
	emitted := make([]bool, len(blocks))
	for i, b := range blocks {
		if _, ok := present[b.PreviousFingerprint()]; ok {
			continue
		}
		for j, ok := i, true; ok && !emitted[j]; j, ok = next[blocks[j].SelfFingerprint()] {
			emitted[j] = true
			out = append(out, blocks[j])
		}
	}
	// 环 (不应出现) 按原顺序放在最后，交给校验报告
	for i, b := range blocks {
		if !emitted[i] {
			out = append(out, b)
		}
	}
	return out
}
