package model

import "time"

// StravaAthlete 令牌接口返回的选手身份
type StravaAthlete struct {
	ID        int64  `json:"id"`
	Firstname string `json:"firstname"`
	Lastname  string `json:"lastname"`
}

// FullName 展示名
func (a StravaAthlete) FullName() string {
	return a.Firstname + " " + a.Lastname
}

// TokenResponse POST /oauth/token 响应
type TokenResponse struct {
	TokenType    string         `json:"token_type"`
	AccessToken  string         `json:"access_token"`
	RefreshToken string         `json:"refresh_token"`
	ExpiresAt    int64          `json:"expires_at"`
	Athlete      *StravaAthlete `json:"athlete,omitempty"` // 仅 authorization_code 换取时返回
}

// SummaryActivity GET /athlete/activities 列表中的单条活动
type SummaryActivity struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	StartDate time.Time `json:"start_date"` // ISO-8601 UTC
}

// SegmentEffort 活动中的单次路段记录
type SegmentEffort struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Segment struct {
		ID int64 `json:"id"`
	} `json:"segment"`
}

// DetailedActivity GET /activities/{id} 详情
type DetailedActivity struct {
	ID             int64           `json:"id"`
	Name           string          `json:"name"`
	Type           string          `json:"type"`
	Description    string          `json:"description"`
	Distance       float64         `json:"distance"` // 米
	KudosCount     int             `json:"kudos_count"`
	StartDate      time.Time       `json:"start_date"`
	SegmentEfforts []SegmentEffort `json:"segment_efforts"`
}
