package validation

import (
	"strings"

	"certchain/pkg/certificate"
	"certchain/pkg/types"
)

// ReasonCode 说明一次验证失败的原因
type ReasonCode string

const (
	DataTampered     ReasonCode = "DataTampered"
	NotInChain       ReasonCode = "NotInChain"
	ChainCompromised ReasonCode = "ChainCompromised"
)

var reasonText = map[ReasonCode]string{
	DataTampered:     "Data tampered",
	NotInChain:       "Not in blockchain",
	ChainCompromised: "Blockchain compromised",
}

// Text 返回面向用户的描述
func (r ReasonCode) Text() string {
	if s, ok := reasonText[r]; ok {
		return s
	}
	return string(r)
}

// Chain 是验证流程需要的链只读视图
type Chain interface {
	Contains(payload types.Fingerprint) bool
	ValidateLenient() bool
}

// Result 是一次验证的结论。篡改不是错误，而是一个正常的结果。
type Result struct {
	Authentic bool
	Reasons   []ReasonCode
}

// Message 组合出 "Certificate is invalid - Data tampered - Not in blockchain" 形式的描述
func (r Result) Message() string {
	if r.Authentic {
		return "Certificate is authentic"
	}
	var sb strings.Builder
	sb.WriteString("Certificate is invalid")
	for _, reason := range r.Reasons {
		sb.WriteString(" - ")
		sb.WriteString(reason.Text())
	}
	return sb.String()
}

// ReasonStrings 便于持久化与序列化
func (r Result) ReasonStrings() []string {
	out := make([]string, 0, len(r.Reasons))
	for _, reason := range r.Reasons {
		out = append(out, string(reason))
	}
	return out
}

// Workflow 编排一次证书验证
type Workflow struct {
	chain Chain
}

func NewWorkflow(chain Chain) *Workflow {
	return &Workflow{chain: chain}
}

// Evaluate 依次检查：
//  1. 内容指纹是否与存储值一致 (DataTampered)
//  2. 存储的指纹是否在链上 (NotInChain)
//  3. 仅当 2 通过时，链在宽松模式下是否完整 (ChainCompromised)
//
// 所有失败原因都会被报告。
func (w *Workflow) Evaluate(c *certificate.Certificate) Result {
	var reasons []ReasonCode

	if !c.IsValid() {
		reasons = append(reasons, DataTampered)
	}

	if !w.chain.Contains(c.Hash) {
		reasons = append(reasons, NotInChain)
	} else if !w.chain.ValidateLenient() {
		// 从未上链的证书不能指控整条链
		reasons = append(reasons, ChainCompromised)
	}

	return Result{Authentic: len(reasons) == 0, Reasons: reasons}
}
