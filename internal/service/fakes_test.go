package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"SegmentSync/internal/interfaces"
	"SegmentSync/internal/model"

	"github.com/sirupsen/logrus"
)

const (
	segA int64 = 101
	segB int64 = 102
)

var (
	challengeStart = time.Date(2025, 12, 17, 0, 0, 0, 0, time.UTC)
	errRevoked     = errors.New("revoked")
	errUpstream    = errors.New("upstream 503")
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testChallenge(t *testing.T) *model.Challenge {
	t.Helper()
	set, err := model.NewSegmentSet([]model.Segment{{ID: segA, Name: "Hill"}, {ID: segB, Name: "Loop"}})
	if err != nil {
		t.Fatalf("NewSegmentSet: %v", err)
	}
	return model.NewChallenge(challengeStart, set, []string{"Run", "Walk", "Hike"})
}

func epochAt(offset time.Duration) int64 { return challengeStart.Add(offset).Unix() }

func liveRunner(id int64, name string, watermark int64, counts model.SegmentCounts) model.RunnerRecord {
	rec := model.RunnerRecord{
		AthleteID:       id,
		DisplayName:     name,
		Credential:      model.LiveCredential(refreshFor(id)),
		LastSyncedEpoch: watermark,
		SegmentCounts:   counts,
	}
	rec.RecomputeTotal()
	return rec
}

func refreshFor(id int64) string { return fmt.Sprintf("refresh-%d", id) }

func accessFor(id int64) string { return fmt.Sprintf("access-%d", id) }

// memRunners 内存选手仓储，写入语义与 gorm 实现一致：每次写入 revision+1，批量写回做乐观校验
type memRunners struct {
	mu         sync.Mutex
	records    map[int64]model.RunnerRecord
	unreadable []interfaces.UnreadableRunner
	saveErr    error
	saveCalls  int
	listErr    error
}

func newMemRunners(recs ...model.RunnerRecord) *memRunners {
	m := &memRunners{records: make(map[int64]model.RunnerRecord)}
	for _, r := range recs {
		m.records[r.AthleteID] = r.Clone()
	}
	return m
}

func (m *memRunners) Get(_ context.Context, id int64) (*model.RunnerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, interfaces.ErrRunnerNotFound
	}
	out := rec.Clone()
	return &out, nil
}

func (m *memRunners) ListAll(_ context.Context) ([]model.RunnerRecord, []interfaces.UnreadableRunner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, nil, m.listErr
	}
	out := make([]model.RunnerRecord, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AthleteID < out[j].AthleteID })
	return out, append([]interfaces.UnreadableRunner(nil), m.unreadable...), nil
}

func (m *memRunners) Upsert(_ context.Context, rec model.RunnerRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := rec.Clone()
	if existing, ok := m.records[rec.AthleteID]; ok {
		next.Revision = existing.Revision + 1
	}
	m.records[rec.AthleteID] = next
	return nil
}

func (m *memRunners) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return interfaces.ErrRunnerNotFound
	}
	delete(m.records, id)
	return nil
}

func (m *memRunners) SaveBatch(_ context.Context, recs []model.RunnerRecord) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveCalls++
	if m.saveErr != nil {
		return nil, m.saveErr
	}
	var stale []int64
	for _, r := range recs {
		existing, ok := m.records[r.AthleteID]
		if !ok || existing.Revision != r.Revision {
			stale = append(stale, r.AthleteID)
			continue
		}
		next := r.Clone()
		next.Revision++
		m.records[r.AthleteID] = next
	}
	return stale, nil
}

func (m *memRunners) get(id int64) model.RunnerRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[id].Clone()
}

// memFeed 内存动态流，按去重键幂等
type memFeed struct {
	mu        sync.Mutex
	entries   []model.FeedEntry
	keys      map[string]struct{}
	appendErr error
	keysErr   error
	lastLimit int
}

func newMemFeed() *memFeed { return &memFeed{keys: make(map[string]struct{})} }

func (f *memFeed) ListKeys(_ context.Context) (map[string]struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.keysErr != nil {
		return nil, f.keysErr
	}
	out := make(map[string]struct{}, len(f.keys))
	for k := range f.keys {
		out[k] = struct{}{}
	}
	return out, nil
}

func (f *memFeed) Append(_ context.Context, entries []model.FeedEntry) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return 0, f.appendErr
	}
	n := 0
	for _, e := range entries {
		if _, ok := f.keys[e.Key()]; ok {
			continue
		}
		f.keys[e.Key()] = struct{}{}
		f.entries = append(f.entries, e)
		n++
	}
	return n, nil
}

func (f *memFeed) List(_ context.Context, limit int) ([]model.FeedEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLimit = limit
	out := append([]model.FeedEntry(nil), f.entries...)
	sort.Slice(out, func(i, j int) bool { return out[i].ActivityTime.After(out[j].ActivityTime) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *memFeed) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

// memState 内存同步状态
type memState struct {
	mu       sync.Mutex
	state    *model.SyncState
	attempts int
	failures int
	success  int
}

func (s *memState) Get(_ context.Context) (*model.SyncState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, nil
}

func (s *memState) MarkAttempt(_ context.Context, at time.Time, syncErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.state == nil {
		s.state = &model.SyncState{Scope: "test"}
	}
	s.state.LastAttemptAt = &at
	if syncErr != nil {
		s.failures++
		msg := syncErr.Error()
		s.state.LastError = &msg
	}
	return nil
}

func (s *memState) MarkSuccess(_ context.Context, at time.Time, _ interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.success++
	if s.state == nil {
		s.state = &model.SyncState{Scope: "test"}
	}
	s.state.LastSuccessAt = &at
	s.state.LastError = nil
	return nil
}

// fakeStrava 内存上游：按 access token 区分选手，列表按 after 过滤并分页
type fakeStrava struct {
	mu          sync.Mutex
	tokens      map[string]string
	refreshErr  map[string]error
	activities  map[string][]model.SummaryActivity
	details     map[int64]*model.DetailedActivity
	listErr     map[string]error
	detailErr   map[int64]error
	exchange    *model.TokenResponse
	exchangeErr error

	detailCalls []int64
	listCalls   []int64 // 每次调用的 after
}

func newFakeStrava() *fakeStrava {
	return &fakeStrava{
		tokens:     make(map[string]string),
		refreshErr: make(map[string]error),
		activities: make(map[string][]model.SummaryActivity),
		details:    make(map[int64]*model.DetailedActivity),
		listErr:    make(map[string]error),
		detailErr:  make(map[int64]error),
	}
}

// addRunner 注册一个可以刷新凭据的选手
func (f *fakeStrava) addRunner(id int64) {
	f.tokens[refreshFor(id)] = accessFor(id)
}

// addActivity 给选手追加一条活动及其详情
func (f *fakeStrava) addActivity(athleteID, activityID int64, typ string, at time.Time, segments ...int64) {
	access := accessFor(athleteID)
	f.activities[access] = append(f.activities[access], model.SummaryActivity{ID: activityID, Name: "act", Type: typ, StartDate: at})
	d := &model.DetailedActivity{ID: activityID, Name: "act", Type: typ, Distance: 5234, KudosCount: 3, StartDate: at}
	for _, seg := range segments {
		e := model.SegmentEffort{}
		e.Segment.ID = seg
		d.SegmentEfforts = append(d.SegmentEfforts, e)
	}
	f.details[activityID] = d
}

func (f *fakeStrava) ExchangeCode(_ context.Context, _ string) (*model.TokenResponse, error) {
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	return f.exchange, nil
}

func (f *fakeStrava) RefreshAccessToken(_ context.Context, refreshToken string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.refreshErr[refreshToken]; err != nil {
		return "", err
	}
	access, ok := f.tokens[refreshToken]
	if !ok {
		return "", errRevoked
	}
	return access, nil
}

func (f *fakeStrava) ListActivities(_ context.Context, accessToken string, after int64, page, perPage int) ([]model.SummaryActivity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls = append(f.listCalls, after)
	if err := f.listErr[accessToken]; err != nil {
		return nil, err
	}
	var matched []model.SummaryActivity
	for _, a := range f.activities[accessToken] {
		if a.StartDate.Unix() > after {
			matched = append(matched, a)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].StartDate.Before(matched[j].StartDate) })
	from := (page - 1) * perPage
	if from >= len(matched) {
		return nil, nil
	}
	to := from + perPage
	if to > len(matched) {
		to = len(matched)
	}
	return matched[from:to], nil
}

func (f *fakeStrava) GetActivity(_ context.Context, _ string, activityID int64) (*model.DetailedActivity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detailCalls = append(f.detailCalls, activityID)
	if err := f.detailErr[activityID]; err != nil {
		return nil, err
	}
	d, ok := f.details[activityID]
	if !ok {
		return nil, errUpstream
	}
	out := *d
	return &out, nil
}

func (f *fakeStrava) detailCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.detailCalls)
}

// countingPacer 不睡眠，只计数
type countingPacer struct {
	mu    sync.Mutex
	waits int
}

func (p *countingPacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.waits++
	return ctx.Err()
}

func (p *countingPacer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waits
}

// hookPacer 在第 N 次等待时执行一次回调，模拟同步进行期间的并发写入
type hookPacer struct {
	countingPacer
	at     int
	onWait func()
}

func (p *hookPacer) Wait(ctx context.Context) error {
	if err := p.countingPacer.Wait(ctx); err != nil {
		return err
	}
	if p.count() == p.at && p.onWait != nil {
		p.onWait()
	}
	return nil
}

type syncFixture struct {
	runners     *memRunners
	feed        *memFeed
	state       *memState
	strava      *fakeStrava
	detailPacer *countingPacer
	runnerPacer *countingPacer
	challenge   *model.Challenge
	svc         *SyncService
}

func newSyncFixture(t *testing.T, recs ...model.RunnerRecord) *syncFixture {
	t.Helper()
	fx := &syncFixture{
		runners:     newMemRunners(recs...),
		feed:        newMemFeed(),
		state:       &memState{},
		strava:      newFakeStrava(),
		detailPacer: &countingPacer{},
		runnerPacer: &countingPacer{},
		challenge:   testChallenge(t),
	}
	fx.svc = NewSyncService(fx.runners, fx.feed, fx.state, fx.strava, fx.challenge, fx.detailPacer, fx.runnerPacer,
		SyncSettings{PerPage: 2, FullResyncPages: 5, WriteRetries: 2, WriteRetryInitial: time.Millisecond},
		quietLogger())
	return fx
}
