// Package perf measures the wall-clock duration of pipeline stages.
package perf

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/JuampaBiron/tcrs-document-processor/internal/models"
)

type timing struct {
	stage    string
	start    time.Time
	duration time.Duration
	done     bool
}

// Tracker accumulates stage timings for a single run. It is safe for
// concurrent use, although stages normally run one after another.
type Tracker struct {
	mu      sync.Mutex
	now     func() time.Time
	logger  *slog.Logger
	timings []*timing
}

// NewTracker returns a tracker that logs stage boundaries to logger.
func NewTracker(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{now: time.Now, logger: logger}
}

// Stage starts timing name and returns the function that stops it. It is
// meant to be deferred:
//
//	defer tr.Stage("render_signature_page")()
//
// Re-entering a stage name replaces its previous measurement but keeps its
// original position in the report.
func (t *Tracker) Stage(name string) func() {
	t.mu.Lock()
	tm := t.lookup(name)
	if tm == nil {
		tm = &timing{stage: name}
		t.timings = append(t.timings, tm)
	}
	tm.start = t.now()
	tm.done = false
	t.mu.Unlock()

	t.logger.Info("Starting stage.", "stage", name)
	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			tm.duration = t.now().Sub(tm.start)
			tm.done = true
			d := tm.duration
			t.mu.Unlock()
			t.logger.Info("Completed stage.", "stage", name, "seconds", round3(d.Seconds()))
		})
	}
}

// Track runs fn inside a stage named name and returns its error.
func (t *Tracker) Track(name string, fn func() error) error {
	stop := t.Stage(name)
	defer stop()
	return fn()
}

// Duration returns the recorded duration of a finished stage.
func (t *Tracker) Duration(name string) (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tm := t.lookup(name)
	if tm == nil || !tm.done {
		return 0, false
	}
	return tm.duration, true
}

// Total is the sum of all finished stages.
func (t *Tracker) Total() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	var total time.Duration
	for _, tm := range t.timings {
		if tm.done {
			total += tm.duration
		}
	}
	return total
}

// Report returns finished stages in execution order, in seconds.
func (t *Tracker) Report() models.PerformanceReport {
	t.mu.Lock()
	defer t.mu.Unlock()
	report := models.PerformanceReport{}
	var total time.Duration
	for _, tm := range t.timings {
		if !tm.done {
			continue
		}
		report.Stages = append(report.Stages, models.StageTiming{Stage: tm.stage, Seconds: round3(tm.duration.Seconds())})
		total += tm.duration
	}
	report.Total = round3(total.Seconds())
	return report
}

// SummaryLine is one row of the sorted summary.
type SummaryLine struct {
	Stage    string
	Duration time.Duration
	Percent  float64
}

// Summary returns finished stages sorted by descending duration, each with
// its share of the total, plus the total itself.
func (t *Tracker) Summary() ([]SummaryLine, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var total time.Duration
	lines := make([]SummaryLine, 0, len(t.timings))
	for _, tm := range t.timings {
		if !tm.done {
			continue
		}
		total += tm.duration
		lines = append(lines, SummaryLine{Stage: tm.stage, Duration: tm.duration})
	}
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].Duration > lines[j].Duration })
	for i := range lines {
		if total > 0 {
			lines[i].Percent = float64(lines[i].Duration) / float64(total) * 100
		}
	}
	return lines, total
}

// LogSummary writes the sorted summary to logger, one line per stage.
func (t *Tracker) LogSummary(logger *slog.Logger) {
	if logger == nil {
		logger = t.logger
	}
	lines, total := t.Summary()
	logger.Info("Performance summary.", "totalSeconds", round3(total.Seconds()), "stageCount", len(lines))
	for _, l := range lines {
		logger.Info("Stage timing.",
			"stage", l.Stage,
			"seconds", round3(l.Duration.Seconds()),
			"percent", float64(int(l.Percent*10+0.5))/10,
		)
	}
}

func (t *Tracker) lookup(name string) *timing {
	for _, tm := range t.timings {
		if tm.stage == name {
			return tm
		}
	}
	return nil
}

func round3(v float64) float64 {
	return float64(int64(v*1000+0.5)) / 1000
}
