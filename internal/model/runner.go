package model

import (
	"fmt"
	"strings"
	"time"
)

// CredentialMode 选手凭据类型
type CredentialMode string

const (
	CredentialLive    CredentialMode = "live"    // 持有真实 refresh_token
	CredentialManual  CredentialMode = "manual"  // 手工录入，无上游身份
	CredentialScraped CredentialMode = "scraped" // 手工预置的占位，等待本人授权
)

// ManualNameMarker 手工录入选手名字上的标记，按名字判重前需去掉
const ManualNameMarker = "(manual)"

// Credential 凭据：只有 live 模式携带 refresh_token
type Credential struct {
	mode         CredentialMode
	refreshToken string
}

func LiveCredential(refreshToken string) Credential {
	return Credential{mode: CredentialLive, refreshToken: refreshToken}
}

func ManualCredential() Credential { return Credential{mode: CredentialManual} }

func ScrapedCredential() Credential { return Credential{mode: CredentialScraped} }

// ParseCredential 从存储字段还原凭据
func ParseCredential(mode string, refreshToken *string) (Credential, error) {
	switch CredentialMode(mode) {
	case CredentialLive:
		if refreshToken == nil || strings.TrimSpace(*refreshToken) == "" {
			return Credential{}, fmt.Errorf("live 凭据缺少 refresh_token")
		}
		return LiveCredential(*refreshToken), nil
	case CredentialManual:
		return ManualCredential(), nil
	case CredentialScraped:
		return ScrapedCredential(), nil
	default:
		return Credential{}, fmt.Errorf("未知凭据类型: %q", mode)
	}
}

func (c Credential) Mode() CredentialMode { return c.mode }

func (c Credential) IsLive() bool { return c.mode == CredentialLive }

// RefreshToken 仅 live 模式返回 ok=true
func (c Credential) RefreshToken() (string, bool) {
	if c.mode != CredentialLive {
		return "", false
	}
	return c.refreshToken, true
}

// SegmentCounts 路段ID → 完成次数
type SegmentCounts map[int64]int

// Sum 所有路段计数之和
func (c SegmentCounts) Sum() int {
	total := 0
	for _, n := range c {
		total += n
	}
	return total
}

func (c SegmentCounts) Clone() SegmentCounts {
	out := make(SegmentCounts, len(c))
	for id, n := range c {
		out[id] = n
	}
	return out
}

// Add 累加到自身
func (c SegmentCounts) Add(delta SegmentCounts) {
	for id, n := range delta {
		c[id] += n
	}
}

// RunnerRecord 选手记录（与存储解耦的领域结构）
type RunnerRecord struct {
	AthleteID       int64
	DisplayName     string
	Credential      Credential
	LastSyncedEpoch int64
	TotalCount      int
	SegmentCounts   SegmentCounts
	Revision        int64 // 存储版本号，每次写入+1；批量写回据此判断记录是否被改动过
}

// Clone 深拷贝，避免合并时修改调用方持有的计数
func (r RunnerRecord) Clone() RunnerRecord {
	out := r
	out.SegmentCounts = r.SegmentCounts.Clone()
	return out
}

// RecomputeTotal 用路段计数重新计算总数；返回 true 表示原总数与路段之和不一致
func (r *RunnerRecord) RecomputeTotal() bool {
	sum := r.SegmentCounts.Sum()
	drift := sum != r.TotalCount
	r.TotalCount = sum
	return drift
}

// LastSynced 水位对应的时间
func (r RunnerRecord) LastSynced() time.Time {
	return time.Unix(r.LastSyncedEpoch, 0).UTC()
}

// MarkManualName 给手工录入选手的名字加标记
func MarkManualName(name string) string {
	name = strings.TrimSpace(name)
	if strings.HasSuffix(name, ManualNameMarker) {
		return name
	}
	return name + " " + ManualNameMarker
}

// StripNameMarker 去掉手工标记
func StripNameMarker(name string) string {
	return strings.TrimSpace(strings.ReplaceAll(name, ManualNameMarker, ""))
}

// RunnerKey 名字判重键：去标记、合并空白、小写
func RunnerKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(StripNameMarker(name)), " "))
}
