package validation

import (
	"testing"
	"time"

	"certchain/pkg/certificate"
	"certchain/pkg/chain"
	"certchain/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubChain 允许单独控制两项检查的结果
type stubChain struct {
	contains bool
	lenient  bool
	checked  int
}

func (s *stubChain) Contains(types.Fingerprint) bool { return s.contains }
func (s *stubChain) ValidateLenient() bool {
	s.checked++
	return s.lenient
}

func mustCertificate(t *testing.T, name string) *certificate.Certificate {
	t.Helper()
	c, err := certificate.New(name, "Distributed Systems", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	return c
}

func TestEvaluate_Authentic(t *testing.T) {
	store := chain.NewStore()
	c := mustCertificate(t, "Alice")
	store.Append(c.Hash)

	res := NewWorkflow(store).Evaluate(c)
	assert.True(t, res.Authentic)
	assert.Empty(t, res.Reasons)
	assert.Equal(t, "Certificate is authentic", res.Message())
}

func TestEvaluate_Tampered(t *testing.T) {
	store := chain.NewStore()
	c := mustCertificate(t, "Alice")
	store.Append(c.Hash)

	// 修改内容但不重新上链
	c.StudentName = "Mallory"

	res := NewWorkflow(store).Evaluate(c)
	assert.False(t, res.Authentic)
	assert.Equal(t, []ReasonCode{DataTampered}, res.Reasons)
	assert.Equal(t, "Certificate is invalid - Data tampered", res.Message())
}

func TestEvaluate_NeverChained(t *testing.T) {
	stub := &stubChain{contains: false, lenient: false}
	res := NewWorkflow(stub).Evaluate(mustCertificate(t, "Bob"))

	assert.False(t, res.Authentic)
	assert.Equal(t, []ReasonCode{NotInChain}, res.Reasons)
	assert.NotContains(t, res.Reasons, ChainCompromised)
	assert.Zero(t, stub.checked, "chain validity is not evaluated when not chained")
}

func TestEvaluate_MultipleReasons(t *testing.T) {
	tests := []struct {
		name    string
		tamper  bool
		chain   stubChain
		want    []ReasonCode
		message string
	}{
		{
			name:    "tampered and not chained",
			tamper:  true,
			chain:   stubChain{contains: false},
			want:    []ReasonCode{DataTampered, NotInChain},
			message: "Certificate is invalid - Data tampered - Not in blockchain",
		},
		{
			name:    "chained but chain broken",
			chain:   stubChain{contains: true, lenient: false},
			want:    []ReasonCode{ChainCompromised},
			message: "Certificate is invalid - Blockchain compromised",
		},
		{
			name:    "tampered and chain broken",
			tamper:  true,
			chain:   stubChain{contains: true, lenient: false},
			want:    []ReasonCode{DataTampered, ChainCompromised},
			message: "Certificate is invalid - Data tampered - Blockchain compromised",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := mustCertificate(t, "Carol")
			if tt.tamper {
				c.Course = "Forgery 101"
			}
			res := NewWorkflow(&tt.chain).Evaluate(c)
			assert.False(t, res.Authentic)
			assert.Equal(t, tt.want, res.Reasons)
			assert.Equal(t, tt.message, res.Message())
		})
	}
}

func TestEvaluate_AfterAuthorizedDeletion(t *testing.T) {
	store := chain.NewStore()
	a, b, c := mustCertificate(t, "A"), mustCertificate(t, "B"), mustCertificate(t, "C")
	store.Append(a.Hash)
	store.Append(b.Hash)
	store.Append(c.Hash)

	require.True(t, store.Remove(b.Hash))

	wf := NewWorkflow(store)
	assert.True(t, wf.Evaluate(a).Authentic)
	assert.True(t, wf.Evaluate(c).Authentic, "deletion gap is not tampering")

	res := wf.Evaluate(b)
	assert.Equal(t, []ReasonCode{NotInChain}, res.Reasons)
}

func TestResult_ReasonStrings(t *testing.T) {
	res := Result{Reasons: []ReasonCode{DataTampered, NotInChain}}
	assert.Equal(t, []string{"DataTampered", "NotInChain"}, res.ReasonStrings())
	assert.Equal(t, []string{}, Result{Authentic: true}.ReasonStrings())
}
