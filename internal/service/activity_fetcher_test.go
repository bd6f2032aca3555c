package service

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestFetcher(t *testing.T, strava *fakeStrava, pacer *countingPacer, perPage int) *ActivityFetcher {
	t.Helper()
	return NewActivityFetcher(strava, pacer, testChallenge(t), perPage, quietLogger())
}

func TestFetchWalksPagesUntilShortPage(t *testing.T) {
	strava := newFakeStrava()
	for i := int64(0); i < 5; i++ {
		strava.addActivity(1, 100+i, "Run", challengeStart.Add(time.Duration(i+1)*time.Hour), segA)
	}
	pacer := &countingPacer{}
	f := newTestFetcher(t, strava, pacer, 2)

	res, err := f.Fetch(context.Background(), FetchRequest{AccessToken: accessFor(1), After: challengeStart.Unix(), MaxPages: 10})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(res.Details) != 5 || res.Examined != 5 {
		t.Fatalf("details=%d examined=%d, want 5/5", len(res.Details), res.Examined)
	}
	if len(strava.listCalls) != 3 {
		t.Fatalf("list calls = %d, want 3", len(strava.listCalls))
	}
	if pacer.count() != 5 {
		t.Fatalf("pacer waits = %d, want 5", pacer.count())
	}
	if want := challengeStart.Add(5 * time.Hour).Unix(); res.Watermark != want {
		t.Fatalf("watermark = %d, want %d", res.Watermark, want)
	}
}

func TestFetchRespectsMaxPages(t *testing.T) {
	strava := newFakeStrava()
	for i := int64(0); i < 4; i++ {
		strava.addActivity(1, 100+i, "Run", challengeStart.Add(time.Duration(i+1)*time.Hour))
	}
	f := newTestFetcher(t, strava, &countingPacer{}, 2)

	res, err := f.Fetch(context.Background(), FetchRequest{AccessToken: accessFor(1), After: challengeStart.Unix(), MaxPages: 1})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if res.Examined != 2 || len(strava.listCalls) != 1 {
		t.Fatalf("examined=%d list calls=%d, want 2/1", res.Examined, len(strava.listCalls))
	}
	if !res.Truncated {
		t.Fatal("full last page at the page limit should be reported as truncated")
	}

	res, err = f.Fetch(context.Background(), FetchRequest{AccessToken: accessFor(1), After: challengeStart.Unix(), MaxPages: 3})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if res.Examined != 4 || res.Truncated {
		t.Fatalf("examined=%d truncated=%v, want 4/false", res.Examined, res.Truncated)
	}
}

func TestFetchSkipsUntrackedTypesWithoutDetailCall(t *testing.T) {
	strava := newFakeStrava()
	strava.addActivity(1, 1, "Run", challengeStart.Add(time.Hour), segA)
	strava.addActivity(1, 2, "Ride", challengeStart.Add(3*time.Hour), segA)
	pacer := &countingPacer{}
	f := newTestFetcher(t, strava, pacer, 50)

	res, err := f.Fetch(context.Background(), FetchRequest{AccessToken: accessFor(1), After: challengeStart.Unix()})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if res.TypeSkipped != 1 || len(res.Details) != 1 {
		t.Fatalf("skipped=%d details=%d", res.TypeSkipped, len(res.Details))
	}
	if len(strava.detailCalls) != 1 || strava.detailCalls[0] != 1 {
		t.Fatalf("detail calls = %v, want [1]", strava.detailCalls)
	}
	if pacer.count() != 1 {
		t.Fatalf("pacer waits = %d, want 1", pacer.count())
	}
	// 被跳过的 Ride 也推动水位
	if want := challengeStart.Add(3 * time.Hour).Unix(); res.Watermark != want {
		t.Fatalf("watermark = %d, want %d", res.Watermark, want)
	}
}

func TestFetchFailureKeepsInputWatermark(t *testing.T) {
	after := challengeStart.Unix()
	strava := newFakeStrava()
	strava.addActivity(1, 1, "Run", challengeStart.Add(time.Hour), segA)
	strava.addActivity(1, 2, "Run", challengeStart.Add(2*time.Hour), segA)
	strava.detailErr[2] = errUpstream
	f := newTestFetcher(t, strava, &countingPacer{}, 50)

	res, err := f.Fetch(context.Background(), FetchRequest{AccessToken: accessFor(1), After: after})
	if !errors.Is(err, errUpstream) {
		t.Fatalf("err = %v, want errUpstream", err)
	}
	if res.Watermark != after || len(res.Details) != 0 {
		t.Fatalf("result = %+v, want input watermark and no details", res)
	}

	strava.listErr[accessFor(1)] = errUpstream
	res, err = f.Fetch(context.Background(), FetchRequest{AccessToken: accessFor(1), After: after})
	if err == nil || res.Watermark != after {
		t.Fatalf("list failure: err=%v watermark=%d", err, res.Watermark)
	}
}

func TestFetchFillsMissingDetailFields(t *testing.T) {
	at := challengeStart.Add(time.Hour)
	strava := newFakeStrava()
	strava.addActivity(1, 1, "Run", at, segA)
	strava.details[1].StartDate = time.Time{}
	strava.details[1].Name = ""
	f := newTestFetcher(t, strava, &countingPacer{}, 50)

	res, err := f.Fetch(context.Background(), FetchRequest{AccessToken: accessFor(1), After: challengeStart.Unix()})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	d := res.Details[0]
	if !d.StartDate.Equal(at) || d.Name != "act" {
		t.Fatalf("detail = %+v", d)
	}
}

func TestFetchStopsOnPacerCancellation(t *testing.T) {
	strava := newFakeStrava()
	strava.addActivity(1, 1, "Run", challengeStart.Add(time.Hour), segA)
	f := newTestFetcher(t, strava, &countingPacer{}, 50)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := f.Fetch(ctx, FetchRequest{AccessToken: accessFor(1), After: challengeStart.Unix()})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(strava.detailCalls) != 0 || res.Watermark != challengeStart.Unix() {
		t.Fatalf("detail calls=%v watermark=%d", strava.detailCalls, res.Watermark)
	}
}
