package service

import (
	"context"

	"certchain/pkg/core"
)

type BlockSummary struct {
	Index           int64  `json:"index"`
	Timestamp       string `json:"timestamp"`
	CertificateHash string `json:"certificateHash"`
	PreviousHash    string `json:"previousHash"`
	CurrentHash     string `json:"currentHash"`
	Valid           bool   `json:"valid"`
}

type ChainSummary struct {
	ChainLength  int            `json:"chainLength"`
	Valid        bool           `json:"valid"`
	ValidStrict  bool           `json:"validStrict"`
	ValidLenient bool           `json:"validLenient"`
	Blocks       []BlockSummary `json:"blocks"`
}

// Chain 在同一把锁下取得块列表和两种校验结论
func (s *CertificateService) Chain() ChainSummary {
	blocks, strict, lenient := s.app.Chain.View()

	out := ChainSummary{
		ChainLength:  len(blocks),
		Valid:        strict,
		ValidStrict:  strict,
		ValidLenient: lenient,
		Blocks:       make([]BlockSummary, 0, len(blocks)),
	}
	for _, b := range blocks {
		out.Blocks = append(out.Blocks, BlockSummary{
			Index:           b.Position(),
			Timestamp:       b.CreatedAt(),
			CertificateHash: b.PayloadFingerprint().String(),
			PreviousHash:    b.PreviousFingerprint().String(),
			CurrentHash:     b.SelfFingerprint().String(),
			Valid:           b.IsSelfConsistent(),
		})
	}
	return out
}

// ExportSnapshot 返回链的规范 CBOR 快照
func (s *CertificateService) ExportSnapshot() ([]byte, error) {
	data, err := core.EncodeSnapshot(s.app.Chain.Blocks())
	if err != nil {
		return nil, Storage("Failed to encode chain snapshot", err)
	}
	return data, nil
}

// ResetChain 丢弃除创世块外的所有块 (内存与数据库)
func (s *CertificateService) ResetChain(ctx context.Context) error {
	s.app.Chain.Reset()
	if err := s.app.Repository.ClearBlocks(ctx); err != nil {
		return Storage("Database error", err)
	}
	return nil
}
