package perf

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestTracker() (*Tracker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 12, 15, 10, 0, 0, 0, time.UTC)}
	tr := NewTracker(slog.New(slog.NewTextHandler(io.Discard, nil)))
	tr.now = clock.now
	return tr, clock
}

func TestReportKeepsExecutionOrder(t *testing.T) {
	tr, clock := newTestTracker()

	stop := tr.Stage("fetch_request_data")
	clock.advance(200 * time.Millisecond)
	stop()

	stop = tr.Stage("rasterize")
	clock.advance(3 * time.Second)
	stop()

	stop = tr.Stage("upload")
	clock.advance(time.Second)
	stop()

	report := tr.Report()
	if len(report.Stages) != 3 {
		t.Fatalf("stages=%d, want 3", len(report.Stages))
	}
	want := []string{"fetch_request_data", "rasterize", "upload"}
	for i, s := range report.Stages {
		if s.Stage != want[i] {
			t.Fatalf("stage[%d]=%q, want %q", i, s.Stage, want[i])
		}
	}
	if report.Total != 4.2 {
		t.Fatalf("total=%v, want 4.2", report.Total)
	}

	raw, err := json.Marshal(report)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	wantJSON := `{"fetch_request_data":0.200,"rasterize":3.000,"upload":1.000,"total":4.200}`
	if string(raw) != wantJSON {
		t.Fatalf("json=%s, want %s", raw, wantJSON)
	}
}

func TestSummarySortedByDurationWithPercentages(t *testing.T) {
	tr, clock := newTestTracker()

	for _, s := range []struct {
		name string
		d    time.Duration
	}{
		{"a", time.Second},
		{"b", 3 * time.Second},
	} {
		stop := tr.Stage(s.name)
		clock.advance(s.d)
		stop()
	}

	lines, total := tr.Summary()
	if total != 4*time.Second {
		t.Fatalf("total=%s", total)
	}
	if lines[0].Stage != "b" || lines[1].Stage != "a" {
		t.Fatalf("order=%q,%q, want b,a", lines[0].Stage, lines[1].Stage)
	}
	if lines[0].Percent != 75 || lines[1].Percent != 25 {
		t.Fatalf("percent=%v,%v", lines[0].Percent, lines[1].Percent)
	}
}

func TestUnfinishedStageExcludedAndTrackReturnsError(t *testing.T) {
	tr, clock := newTestTracker()

	boom := errors.New("boom")
	err := tr.Track("render", func() error {
		clock.advance(500 * time.Millisecond)
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Track() err=%v, want boom", err)
	}
	_ = tr.Stage("never_finished")
	clock.advance(time.Second)

	report := tr.Report()
	if len(report.Stages) != 1 || report.Stages[0].Stage != "render" {
		t.Fatalf("report=%+v, want only the finished stage", report)
	}
	if d, ok := tr.Duration("render"); !ok || d != 500*time.Millisecond {
		t.Fatalf("Duration(render)=%s,%v", d, ok)
	}
	if _, ok := tr.Duration("never_finished"); ok {
		t.Fatalf("Duration(never_finished) reported as finished")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	tr, clock := newTestTracker()
	stop := tr.Stage("upload")
	clock.advance(time.Second)
	stop()
	clock.advance(time.Second)
	stop()
	if d, _ := tr.Duration("upload"); d != time.Second {
		t.Fatalf("duration=%s, want 1s", d)
	}
}
