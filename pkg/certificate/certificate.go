package certificate

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"certchain/pkg/core"
	"certchain/pkg/types"
)

// DateLayout 是颁发日期的 ISO-8601 日期格式 (参与指纹计算)
const DateLayout = "2006-01-02"

var (
	ErrMissingField = errors.New("missing required fields")
	ErrInvalidDate  = errors.New("invalid issue date")
)

// Certificate 是被链担保的外部记录
type Certificate struct {
	ID          types.CertificateID
	StudentName string
	Course      string
	IssueDate   time.Time
	Hash        types.Fingerprint
}

// New 创建证书并计算内容指纹
func New(studentName, course string, issueDate time.Time) (*Certificate, error) {
	if strings.TrimSpace(studentName) == "" || strings.TrimSpace(course) == "" {
		return nil, ErrMissingField
	}
	c := &Certificate{
		StudentName: studentName,
		Course:      course,
		IssueDate:   issueDate,
	}
	c.Hash = c.ComputeHash()
	return c, nil
}

// ParseIssueDate 解析 YYYY-MM-DD
func ParseIssueDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return d, nil
}

// IssueDateString 返回参与指纹计算的日期字符串
func (c *Certificate) IssueDateString() string {
	return c.IssueDate.Format(DateLayout)
}

// ComputeHash = SHA256(studentName ∥ course ∥ issueDate)
func (c *Certificate) ComputeHash() types.Fingerprint {
	return core.DigestString(c.StudentName + c.Course + c.IssueDateString())
}

// IsValid 重新计算内容指纹并与存储值比较
func (c *Certificate) IsValid() bool {
	return c.ComputeHash() == c.Hash
}

func (c *Certificate) String() string {
	return fmt.Sprintf("Certificate{id=%d, studentName=%q, course=%q, issueDate=%s, hash=%s}",
		c.ID, c.StudentName, c.Course, c.IssueDateString(), c.Hash)
}
