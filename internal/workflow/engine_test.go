package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/sylvanops/cogate/internal/observe"
)

func echoStep(label, out string) Step {
	return Step{
		Label: label,
		Run: func(ctx context.Context, st *State, r Reporter) (string, error) {
			return out, nil
		},
	}
}

func waitDone(t *testing.T, x *Execution) Snapshot {
	t.Helper()
	select {
	case <-x.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("execution did not finish")
	}
	return x.Snapshot()
}

func TestEngine_RunsStepsInOrder(t *testing.T) {
	e := NewEngine()
	defer e.Close()

	def := Definition{Name: "demo", Steps: []Step{
		echoStep("first", "one"),
		echoStep("second", "two"),
		echoStep("third", "three"),
	}}
	x, err := e.Start(context.Background(), def, "hello", nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	snap := waitDone(t, x)
	if snap.Status != StatusCompleted {
		t.Fatalf("Status = %s (%s), want completed", snap.Status, snap.Error)
	}
	if snap.ProgressPercent != 100 {
		t.Errorf("ProgressPercent = %v, want 100", snap.ProgressPercent)
	}
	if len(snap.Steps) != 3 {
		t.Fatalf("len(Steps) = %d, want 3", len(snap.Steps))
	}
	for i, want := range []string{"first", "second", "third"} {
		if snap.Steps[i].Label != want {
			t.Errorf("Steps[%d].Label = %s, want %s", i, snap.Steps[i].Label, want)
		}
		if snap.Steps[i].Status != StepCompleted {
			t.Errorf("Steps[%d].Status = %s, want completed", i, snap.Steps[i].Status)
		}
	}
	if got := x.Result().Output("second"); got != "two" {
		t.Errorf(`Output("second") = %q, want "two"`, got)
	}
}

func TestEngine_ValidatesDefinition(t *testing.T) {
	e := NewEngine()
	defer e.Close()

	if _, err := e.Start(context.Background(), Definition{}, "", nil); !errors.Is(err, ErrNoSteps) {
		t.Errorf("empty definition err = %v, want ErrNoSteps", err)
	}

	dup := Definition{Steps: []Step{echoStep("a", "1"), echoStep("a", "2")}}
	if _, err := e.Start(context.Background(), dup, "", nil); !errors.Is(err, ErrDuplicateLabel) {
		t.Errorf("duplicate labels err = %v, want ErrDuplicateLabel", err)
	}
}

func TestEngine_SkipPredicate(t *testing.T) {
	e := NewEngine()
	defer e.Close()

	ran := false
	def := Definition{Steps: []Step{
		{
			Label:    "optional",
			SkipWhen: func(st *State) bool { return st.Input == "short" },
			Run: func(ctx context.Context, st *State, r Reporter) (string, error) {
				ran = true
				return "x", nil
			},
		},
		echoStep("always", "done"),
	}}
	x, _ := e.Start(context.Background(), def, "short", nil)
	snap := waitDone(t, x)

	if ran {
		t.Error("skipped step ran")
	}
	if snap.Steps[0].Status != StepSkipped {
		t.Errorf("Steps[0].Status = %s, want skipped", snap.Steps[0].Status)
	}
	if snap.Status != StatusCompleted {
		t.Errorf("Status = %s, want completed", snap.Status)
	}
}

func TestEngine_RetrySucceedsOnSecondAttempt(t *testing.T) {
	e := NewEngine()
	defer e.Close()

	calls := 0
	def := Definition{Steps: []Step{{
		Label:       "flaky",
		MaxAttempts: 2,
		Run: func(ctx context.Context, st *State, r Reporter) (string, error) {
			calls++
			if calls == 1 {
				return "", errors.New("transient")
			}
			return "recovered", nil
		},
	}}}
	x, _ := e.Start(context.Background(), def, "", nil)
	snap := waitDone(t, x)

	if snap.Status != StatusCompleted {
		t.Fatalf("Status = %s (%s), want completed", snap.Status, snap.Error)
	}
	if snap.Steps[0].Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", snap.Steps[0].Attempts)
	}
	if snap.Steps[0].Summary != "recovered" {
		t.Errorf("Summary = %q", snap.Steps[0].Summary)
	}
}

func TestEngine_StepFailureEndsRun(t *testing.T) {
	e := NewEngine()
	defer e.Close()

	reached := false
	def := Definition{Steps: []Step{
		{
			Label: "broken",
			Run: func(ctx context.Context, st *State, r Reporter) (string, error) {
				return "", errors.New("backend exploded")
			},
		},
		{
			Label: "after",
			Run: func(ctx context.Context, st *State, r Reporter) (string, error) {
				reached = true
				return "", nil
			},
		},
	}}
	x, _ := e.Start(context.Background(), def, "", nil)
	snap := waitDone(t, x)

	if snap.Status != StatusFailed {
		t.Fatalf("Status = %s, want failed", snap.Status)
	}
	if reached {
		t.Error("step after failure ran")
	}
	if !errors.Is(x.Err(), ErrStepFailed) {
		t.Errorf("Err() = %v, want ErrStepFailed", x.Err())
	}
	if snap.Steps[0].Error != "backend exploded" {
		t.Errorf("step error = %q", snap.Steps[0].Error)
	}
}

func TestExecution_ModificationsApplyAtStepBoundary(t *testing.T) {
	e := NewEngine()
	defer e.Close()

	entered := make(chan struct{})
	release := make(chan struct{})
	var seenTone, seenDirection string

	def := Definition{Steps: []Step{
		{
			Label: "hold",
			Run: func(ctx context.Context, st *State, r Reporter) (string, error) {
				close(entered)
				<-release
				return "held", nil
			},
		},
		{
			Label: "observe",
			Run: func(ctx context.Context, st *State, r Reporter) (string, error) {
				seenTone = st.Param("tone", "")
				seenDirection = st.Direction
				return "seen", nil
			},
		},
		echoStep("skippable", "never"),
	}}
	x, _ := e.Start(context.Background(), def, "", nil)
	<-entered

	x.Modify(Modification{Type: ModParameters, Parameters: map[string]any{"tone": "formal"}})
	x.Modify(Modification{Type: ModDirection, Direction: "focus on recent work"})
	x.Modify(Modification{Type: ModSkip, StepLabel: "skippable"})
	close(release)

	snap := waitDone(t, x)
	if snap.Status != StatusCompleted {
		t.Fatalf("Status = %s (%s)", snap.Status, snap.Error)
	}
	if seenTone != "formal" {
		t.Errorf("tone param = %q, want formal", seenTone)
	}
	if seenDirection != "focus on recent work" {
		t.Errorf("direction = %q", seenDirection)
	}
	if snap.Steps[2].Status != StepSkipped {
		t.Errorf("skippable status = %s, want skipped", snap.Steps[2].Status)
	}
}

func TestExecution_RetryModificationGrantsAttempt(t *testing.T) {
	e := NewEngine()
	defer e.Close()

	entered := make(chan struct{})
	release := make(chan struct{})
	calls := 0
	def := Definition{Steps: []Step{
		{
			Label: "hold",
			Run: func(ctx context.Context, st *State, r Reporter) (string, error) {
				close(entered)
				<-release
				return "held", nil
			},
		},
		{
			Label: "flaky",
			Run: func(ctx context.Context, st *State, r Reporter) (string, error) {
				calls++
				if calls == 1 {
					return "", errors.New("transient")
				}
				return "ok", nil
			},
		},
	}}
	x, _ := e.Start(context.Background(), def, "", nil)
	<-entered
	x.Modify(Modification{Type: ModRetry, StepLabel: "flaky"})
	close(release)

	snap := waitDone(t, x)
	if snap.Status != StatusCompleted {
		t.Fatalf("Status = %s (%s), want completed via granted retry", snap.Status, snap.Error)
	}
	if snap.Steps[1].Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", snap.Steps[1].Attempts)
	}
}

func TestExecution_PauseResume(t *testing.T) {
	e := NewEngine()
	defer e.Close()

	firstDone := make(chan struct{})
	secondRan := make(chan struct{}, 1)
	def := Definition{Steps: []Step{
		{
			Label: "first",
			Run: func(ctx context.Context, st *State, r Reporter) (string, error) {
				<-firstDone
				return "a", nil
			},
		},
		{
			Label: "second",
			Run: func(ctx context.Context, st *State, r Reporter) (string, error) {
				secondRan <- struct{}{}
				return "b", nil
			},
		},
	}}
	x, _ := e.Start(context.Background(), def, "", nil)

	x.Pause()
	close(firstDone)

	select {
	case <-secondRan:
		t.Fatal("second step ran while paused")
	case <-time.After(100 * time.Millisecond):
	}
	if got := x.Snapshot().Status; got != StatusPaused {
		t.Errorf("Status = %s, want paused", got)
	}

	x.Resume()
	select {
	case <-secondRan:
	case <-time.After(2 * time.Second):
		t.Fatal("second step did not run after resume")
	}
	if snap := waitDone(t, x); snap.Status != StatusCompleted {
		t.Errorf("Status = %s, want completed", snap.Status)
	}
}

func TestExecution_PausedRunReportsUpcomingStep(t *testing.T) {
	e := NewEngine()
	defer e.Close()

	searchStarted := make(chan struct{})
	searchGo := make(chan struct{})
	def := Definition{Name: "research", Steps: []Step{
		echoStep("clarify", "question"),
		{
			Label: "search",
			Run: func(ctx context.Context, st *State, r Reporter) (string, error) {
				close(searchStarted)
				<-searchGo
				return "results", nil
			},
		},
		echoStep("synthesize", "report"),
	}}
	x, _ := e.Start(context.Background(), def, "", nil)
	<-searchStarted

	// Pause lands after the running step; the snapshot must then name the
	// step the run will execute next, not the one that just finished.
	x.Pause()
	close(searchGo)

	deadline := time.After(2 * time.Second)
	for {
		snap := x.Snapshot()
		if snap.IsPaused && snap.CurrentStepIndex == 2 {
			if snap.CurrentStep != "synthesize" {
				t.Errorf("CurrentStep = %q, want synthesize", snap.CurrentStep)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatalf("snapshot = %+v, want paused at step index 2", snap)
		case <-time.After(10 * time.Millisecond):
		}
	}

	x.Resume()
	if snap := waitDone(t, x); snap.Status != StatusCompleted {
		t.Errorf("Status = %s, want completed", snap.Status)
	}
}

func TestEngine_RecordsStepMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	met, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	e := NewEngine(WithMetrics(met))
	defer e.Close()

	def := Definition{Name: "metered", Steps: []Step{
		echoStep("gather", "a"),
		echoStep("write", "b"),
	}}
	x, _ := e.Start(context.Background(), def, "", nil)
	waitDone(t, x)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	var stepSamples uint64
	activeFlows := int64(-1)
	for _, sm := range rm.ScopeMetrics {
		for _, metric := range sm.Metrics {
			switch metric.Name {
			case "cogate.workflow.step.duration":
				if h, ok := metric.Data.(metricdata.Histogram[float64]); ok {
					for _, dp := range h.DataPoints {
						stepSamples += dp.Count
					}
				}
			case "cogate.active_workflows":
				if s, ok := metric.Data.(metricdata.Sum[int64]); ok && len(s.DataPoints) > 0 {
					activeFlows = s.DataPoints[0].Value
				}
			}
		}
	}
	if stepSamples != 2 {
		t.Errorf("step duration samples = %d, want 2", stepSamples)
	}
	if activeFlows != 0 {
		t.Errorf("active workflows after run = %d, want 0", activeFlows)
	}
}

func TestExecution_Cancel(t *testing.T) {
	e := NewEngine()
	defer e.Close()

	entered := make(chan struct{})
	def := Definition{Steps: []Step{{
		Label: "slow",
		Run: func(ctx context.Context, st *State, r Reporter) (string, error) {
			close(entered)
			<-ctx.Done()
			return "", ctx.Err()
		},
	}}}
	x, _ := e.Start(context.Background(), def, "", nil)
	<-entered
	x.Cancel()

	snap := waitDone(t, x)
	if snap.Status != StatusCancelled {
		t.Errorf("Status = %s, want cancelled", snap.Status)
	}
}

func TestExecution_FeedbackEvents(t *testing.T) {
	e := NewEngine()
	defer e.Close()

	subscribed := make(chan struct{})
	def := Definition{Steps: []Step{{
		Label: "work",
		Run: func(ctx context.Context, st *State, r Reporter) (string, error) {
			<-subscribed
			r.Metric("documents", 7)
			r.Action("collating sources")
			return "result", nil
		},
	}}}
	x, _ := e.Start(context.Background(), def, "", nil)
	feed, cancel := x.Subscribe()
	defer cancel()
	close(subscribed)

	var events []StepFeedback
	for fb := range feed {
		events = append(events, fb)
	}
	waitDone(t, x)

	var sawRunning, sawAction, sawCompleted bool
	for _, fb := range events {
		if fb.Label != "work" {
			t.Errorf("Label = %q", fb.Label)
		}
		if fb.Status == StepRunning {
			sawRunning = true
			if fb.CurrentAction == "collating sources" {
				sawAction = true
			}
		}
		if fb.Status == StepCompleted {
			sawCompleted = true
			if fb.Metrics["documents"] != 7 {
				t.Errorf("Metrics = %v, want documents=7", fb.Metrics)
			}
			if fb.ProgressPercent != 100 {
				t.Errorf("completed progress = %v, want 100", fb.ProgressPercent)
			}
		}
		if fb.Timestamp.IsZero() {
			t.Error("Timestamp not set")
		}
	}
	if !sawRunning || !sawCompleted {
		t.Errorf("events missing statuses: running=%v completed=%v", sawRunning, sawCompleted)
	}
	if !sawAction {
		t.Error("no event carried the reported action")
	}
}

func TestSummarize_TruncatesLongOutput(t *testing.T) {
	long := strings.Repeat("word ", 100)
	got := summarize(long)
	if len([]rune(got)) > summaryLimit {
		t.Errorf("summary length = %d runes, want <= %d", len([]rune(got)), summaryLimit)
	}
	if !strings.HasSuffix(got, "…") {
		t.Error("truncated summary missing ellipsis")
	}
	if summarize("short") != "short" {
		t.Error("short output altered")
	}
}

func TestHub_DropsOldestWhenFull(t *testing.T) {
	h := newHub()
	defer h.Close()

	ch, cancel := h.Subscribe()
	defer cancel()

	for i := 0; i < feedbackBuffer+10; i++ {
		h.Publish(StepFeedback{StepID: fmt.Sprintf("s-%d", i)})
	}

	if len(ch) != feedbackBuffer {
		t.Fatalf("buffered = %d, want %d", len(ch), feedbackBuffer)
	}
	first := <-ch
	if first.StepID != "s-10" {
		t.Errorf("oldest retained = %s, want s-10", first.StepID)
	}
}

func TestEngine_Registry(t *testing.T) {
	e := NewEngine()
	defer e.Close()

	x, _ := e.Start(context.Background(), Definition{Name: "reg", Steps: []Step{echoStep("only", "1")}}, "", nil)
	waitDone(t, x)

	got, err := e.Execution(x.ID())
	if err != nil {
		t.Fatalf("Execution: %v", err)
	}
	if got.Snapshot().Workflow != "reg" {
		t.Errorf("Workflow = %q, want reg", got.Snapshot().Workflow)
	}
	if _, err := e.Execution("missing"); err == nil {
		t.Error("unknown execution did not error")
	}
	if len(e.List()) != 1 {
		t.Errorf("List() = %d entries, want 1", len(e.List()))
	}
}
