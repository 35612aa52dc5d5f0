package pipeline

import (
	"bufio"
	"bytes"
	"encoding/json"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Iron-Ham/phaseline/internal/barrier"
	"github.com/Iron-Ham/phaseline/internal/buffer"
	"github.com/Iron-Ham/phaseline/internal/config"
	"github.com/Iron-Ham/phaseline/internal/errors"
	"github.com/Iron-Ham/phaseline/internal/event"
	"github.com/Iron-Ham/phaseline/internal/logging"
	"github.com/Iron-Ham/phaseline/internal/metrics"
	"github.com/Iron-Ham/phaseline/internal/testutil"
	"github.com/Iron-Ham/phaseline/internal/worker"
	"github.com/Iron-Ham/phaseline/internal/workitem"
)

// fastConfig keeps phases short so tests cover many cycles.
func fastConfig() config.Pipeline {
	cfg := config.DefaultPipeline()
	cfg.DelayMinMs = 0
	cfg.DelayMaxMs = 1
	return cfg
}

func newTestController(t *testing.T, cfg config.Pipeline, opts ...Option) (*Controller, *testutil.Recorder) {
	t.Helper()
	rec := &testutil.Recorder{}
	c, err := New(cfg, rec.Sink, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _, _ = c.Stop() })
	return c, rec
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	testutil.WaitFor(t, timeout, what, cond)
}

func totalConsumed(c *Controller) int64 {
	var n int64
	for _, v := range c.Consumed() {
		n += v
	}
	return n
}

func queued(c *Controller) int {
	n := 0
	for _, s := range c.Snapshots() {
		n += s.Len
	}
	return n
}

// --- construction

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Pipeline)
		field  string
	}{
		{"zero raw capacity", func(p *config.Pipeline) { p.RawCapacity = 0 }, "pipeline.raw_capacity"},
		{"negative ready capacity", func(p *config.Pipeline) { p.ReadyCapacity = -1 }, "pipeline.ready_capacity"},
		{"no consumers", func(p *config.Pipeline) { p.Consumers = 0 }, "pipeline.consumers"},
		{"reversed delays", func(p *config.Pipeline) { p.DelayMinMs, p.DelayMaxMs = 10, 5 }, "pipeline.delay_max_ms"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultPipeline()
			tt.mutate(&cfg)

			_, err := New(cfg, nil)
			var verrs config.ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("New() error = %v, want ValidationErrors", err)
			}
			found := false
			for _, v := range verrs {
				if v.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("errors %v do not mention %s", verrs, tt.field)
			}
		})
	}
}

func TestController_BeforeStart(t *testing.T) {
	c, _ := newTestController(t, config.DefaultPipeline())

	if c.Running() {
		t.Error("new controller should not be running")
	}
	if c.CurrentPhase() != 0 || c.CurrentPhaseName() != "SUPPLY" {
		t.Errorf("phase = %d (%s), want 0 (SUPPLY)", c.CurrentPhase(), c.CurrentPhaseName())
	}
	if c.RunID() != "" {
		t.Errorf("RunID() = %q before Start", c.RunID())
	}

	want := map[string]int{ChannelRaw: 5, ChannelMid: 3, ChannelReady: 4}
	snaps := c.Snapshots()
	if len(snaps) != 3 {
		t.Fatalf("Snapshots() returned %d channels", len(snaps))
	}
	for i, s := range snaps {
		if s.Name != ChannelNames()[i] {
			t.Errorf("snapshot %d is %s, want %s", i, s.Name, ChannelNames()[i])
		}
		if s.Cap != want[s.Name] || s.Len != 0 {
			t.Errorf("%s = %d/%d, want 0/%d", s.Name, s.Len, s.Cap, want[s.Name])
		}
	}

	if out, err := c.Stop(); out != OutcomeNoop || err != nil {
		t.Errorf("Stop() before Start = (%v, %v), want (noop, nil)", out, err)
	}
}

func TestController_ChannelSnapshotUnknown(t *testing.T) {
	c, _ := newTestController(t, config.DefaultPipeline())

	_, err := c.ChannelSnapshot("OVERFLOW")
	if !errors.Is(err, errors.ErrUnknownChannel) {
		t.Errorf("ChannelSnapshot(OVERFLOW) = %v, want ErrUnknownChannel", err)
	}
	var nf *errors.NotFoundError
	if !errors.As(err, &nf) || nf.ResourceID != "OVERFLOW" {
		t.Errorf("error %v is not a NotFoundError for OVERFLOW", err)
	}

	s, err := c.ChannelSnapshot(ChannelMid)
	if err != nil || s.Name != ChannelMid || s.Cap != 3 {
		t.Errorf("ChannelSnapshot(MID) = (%+v, %v)", s, err)
	}
}

// --- lifecycle

func TestController_StartStopIdempotent(t *testing.T) {
	c, rec := newTestController(t, fastConfig())

	out, err := c.Start()
	if out != OutcomeStarted || err != nil {
		t.Fatalf("Start() = (%v, %v), want (started, nil)", out, err)
	}
	if !c.Running() {
		t.Error("Running() = false after Start")
	}

	out, err = c.Start()
	if out != OutcomeNoop || err != nil {
		t.Errorf("second Start() = (%v, %v), want (noop, nil)", out, err)
	}
	if !rec.Contains("already running") {
		t.Error("second Start() did not report 'already running'")
	}

	out, err = c.Stop()
	if out != OutcomeStopped || err != nil {
		t.Fatalf("Stop() = (%v, %v), want (stopped, nil)", out, err)
	}
	if c.Running() {
		t.Error("Running() = true after Stop")
	}

	out, err = c.Stop()
	if out != OutcomeNoop || err != nil {
		t.Errorf("second Stop() = (%v, %v), want (noop, nil)", out, err)
	}
}

func TestController_Roster(t *testing.T) {
	cfg := fastConfig()
	cfg.Consumers = 3
	c, _ := newTestController(t, cfg)

	if _, err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	want := []struct {
		name string
		role worker.Role
	}{
		{"supplier", worker.RoleSupplier},
		{"processor", worker.RoleProcessor},
		{"packer", worker.RolePacker},
		{"consumer-1", worker.RoleConsumer},
		{"consumer-2", worker.RoleConsumer},
		{"consumer-3", worker.RoleConsumer},
	}
	got := c.Workers()
	if len(got) != len(want) {
		t.Fatalf("Workers() returned %d, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].Name != w.name || got[i].Role != w.role {
			t.Errorf("worker %d = %s/%s, want %s/%s", i, got[i].Name, got[i].Role, w.name, w.role)
		}
	}
	if n := c.ActiveWorkers(); n != 6 {
		t.Errorf("ActiveWorkers() = %d, want 6", n)
	}
	if len(c.Consumed()) != 3 {
		t.Errorf("Consumed() has %d entries, want 3", len(c.Consumed()))
	}

	if _, err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if n := c.ActiveWorkers(); n != 0 {
		t.Errorf("ActiveWorkers() = %d after Stop", n)
	}
	for _, ws := range c.Workers() {
		if ws.State != worker.StateStopped {
			t.Errorf("%s state = %s after Stop", ws.Name, ws.State)
		}
	}
}

// --- end to end

func TestController_EndToEnd(t *testing.T) {
	c, rec := newTestController(t, fastConfig())

	if _, err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	wantStage := map[string]workitem.Stage{
		ChannelRaw:   workitem.Created,
		ChannelMid:   workitem.Processed,
		ChannelReady: workitem.Packed,
	}
	sample := func() {
		for _, s := range c.Snapshots() {
			if s.Len < 0 || s.Len > s.Cap {
				t.Fatalf("%s length %d outside [0, %d]", s.Name, s.Len, s.Cap)
			}
			if len(s.Items) != s.Len {
				t.Fatalf("%s snapshot has %d items for length %d", s.Name, len(s.Items), s.Len)
			}
			for _, it := range s.Items {
				if it.Stage != wantStage[s.Name] {
					t.Fatalf("%s holds item #%d tagged %s", s.Name, it.ID, it.Stage)
				}
			}
		}
	}

	deadline := time.Now().Add(10 * time.Second)
	for totalConsumed(c) < 10 {
		if time.Now().After(deadline) {
			t.Fatalf("only %d items consumed", totalConsumed(c))
		}
		sample()
		time.Sleep(time.Millisecond)
	}

	if c.CurrentPhase() < 4 {
		t.Errorf("CurrentPhase() = %d after consumption, want at least one full cycle", c.CurrentPhase())
	}
	if !rec.Contains("---- phase 0 (SUPPLY) complete ----") {
		t.Error("sink never saw the phase 0 completion")
	}
	if !rec.Contains("[CONSUMER] consumed") {
		t.Error("sink never saw a consumption")
	}

	if _, err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	sample()

	got := uint64(queued(c)) + uint64(totalConsumed(c)) + uint64(len(c.Stranded()))
	if got != c.Issued() {
		t.Errorf("queued+consumed+stranded = %d, issued = %d", got, c.Issued())
	}
}

func TestController_StrandedOnStop(t *testing.T) {
	cfg := config.DefaultPipeline()
	cfg.DelayMinMs = 150
	cfg.DelayMaxMs = 150
	bus := event.NewBus()
	c, _ := newTestController(t, cfg, WithBus(bus))

	taken := make(chan uint64, 1)
	bus.Subscribe(event.TypeItemHandoff, func(e event.Event) {
		h := e.(event.ItemHandoffEvent)
		if h.Worker == "processor" && h.Op == event.OpTake {
			select {
			case taken <- h.ItemID:
			default:
			}
		}
	})

	if _, err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var id uint64
	select {
	case id = <-taken:
	case <-time.After(5 * time.Second):
		t.Fatal("processor never took an item")
	}

	if _, err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	found := false
	for _, v := range c.Stranded() {
		if v.ID == id {
			found = true
			if v.Stage != workitem.Created {
				t.Errorf("stranded item #%d stage = %s, want CREATED", id, v.Stage)
			}
		}
	}
	if !found {
		t.Errorf("item #%d not reported stranded: %+v", id, c.Stranded())
	}

	got := uint64(queued(c)) + uint64(totalConsumed(c)) + uint64(len(c.Stranded()))
	if got != c.Issued() {
		t.Errorf("queued+consumed+stranded = %d, issued = %d", got, c.Issued())
	}
}

func TestController_RestartResets(t *testing.T) {
	cfg := config.DefaultPipeline()
	cfg.DelayMinMs = 100
	cfg.DelayMaxMs = 120
	logs := &lockedBuffer{}
	c, _ := newTestController(t, cfg, WithLogger(logging.NewWriterLogger(logs, "info")))

	if _, err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	first := c.RunID()
	waitFor(t, 5*time.Second, "two items issued", func() bool { return c.Issued() >= 2 })
	if _, err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if c.CurrentPhase() == 0 {
		t.Fatal("first run never advanced")
	}
	leftover := queued(c)

	if _, err := c.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	// The supplier is still in its first delay, so nothing has moved yet.
	if c.RunID() == first || c.RunID() == "" {
		t.Errorf("RunID() = %q after restart, first run was %q", c.RunID(), first)
	}
	if c.CurrentPhase() != 0 {
		t.Errorf("CurrentPhase() = %d after restart, want 0", c.CurrentPhase())
	}
	if n := queued(c); n != 0 {
		t.Errorf("%d items queued after restart, want 0", n)
	}
	if c.Issued() != 0 {
		t.Errorf("Issued() = %d for the new run, want 0", c.Issued())
	}
	if len(c.Stranded()) != 0 {
		t.Errorf("Stranded() kept %d items from the previous run", len(c.Stranded()))
	}

	var cleared map[string]any
	for _, e := range logs.entries(t) {
		if e["msg"] == "previous run cleared" {
			cleared = e
		}
	}
	if cleared == nil {
		t.Fatal("restart did not log the cleared run")
	}
	if cleared["run_id"] != first || cleared["discarded"] != float64(leftover) {
		t.Errorf("cleared entry = %v, want run %s with %d discarded", cleared, first, leftover)
	}
}

func TestController_NoLeakedGoroutines(t *testing.T) {
	before := runtime.NumGoroutine()

	c, _ := newTestController(t, fastConfig())
	for i := 0; i < 3; i++ {
		if _, err := c.Start(); err != nil {
			t.Fatalf("Start %d: %v", i, err)
		}
		waitFor(t, 5*time.Second, "a phase advance", func() bool { return c.CurrentPhase() > 0 })
		if _, err := c.Stop(); err != nil {
			t.Fatalf("Stop %d: %v", i, err)
		}
	}

	waitFor(t, 2*time.Second, "goroutines to exit", func() bool {
		return runtime.NumGoroutine() <= before
	})
}

// --- events and metrics

func TestController_PublishesLifecycleEvents(t *testing.T) {
	bus := event.NewBus()
	c, _ := newTestController(t, fastConfig(), WithBus(bus))

	var started, stopped, advanced, workerStarted, workerStopped atomic.Int32
	bus.Subscribe(event.TypePipelineStarted, func(e event.Event) {
		if ev := e.(event.PipelineStartedEvent); ev.Workers == 6 && len(ev.Channels) == 3 {
			started.Add(1)
		}
	})
	bus.Subscribe(event.TypePipelineStopped, func(event.Event) { stopped.Add(1) })
	bus.Subscribe(event.TypePhaseAdvanced, func(event.Event) { advanced.Add(1) })
	bus.Subscribe(event.TypeWorkerStarted, func(event.Event) { workerStarted.Add(1) })
	bus.Subscribe(event.TypeWorkerStopped, func(event.Event) { workerStopped.Add(1) })

	if _, err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, 5*time.Second, "phase advances", func() bool { return advanced.Load() >= 8 })
	if _, err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if started.Load() != 1 || stopped.Load() != 1 {
		t.Errorf("started=%d stopped=%d, want 1 each", started.Load(), stopped.Load())
	}
	if workerStarted.Load() != 6 || workerStopped.Load() != 6 {
		t.Errorf("worker started=%d stopped=%d, want 6 each", workerStarted.Load(), workerStopped.Load())
	}
}

func TestController_WithMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := metrics.NewCollector(reg, "pl")
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	c, _ := newTestController(t, fastConfig(), WithMetrics(collector))

	if _, err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, 5*time.Second, "a full cycle", func() bool { return c.CurrentPhase() >= 4 })
	if _, err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	seen := make(map[string]bool)
	for _, mf := range families {
		seen[mf.GetName()] = true
		switch mf.GetName() {
		case "pl_phase_advances_total":
			if v := mf.GetMetric()[0].GetCounter().GetValue(); v < 4 {
				t.Errorf("phase_advances_total = %v, want >= 4", v)
			}
		case "pl_workers_running":
			if v := mf.GetMetric()[0].GetGauge().GetValue(); v != 0 {
				t.Errorf("workers_running = %v after Stop, want 0", v)
			}
		}
	}
	for _, name := range []string{"pl_channel_capacity", "pl_phase_advances_total", "pl_handoffs_total"} {
		if !seen[name] {
			t.Errorf("metric %s not exported", name)
		}
	}
}

// --- stop under a stalled sink

// lockedBuffer lets worker goroutines log while the test reads.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) entries(t *testing.T) []map[string]any {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(b.buf.Bytes()))
	for sc.Scan() {
		var e map[string]any
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("bad log line %q: %v", sc.Text(), err)
		}
		out = append(out, e)
	}
	return out
}

func TestController_StopWithBlockedSink(t *testing.T) {
	cfg := fastConfig()
	cfg.ShutdownTimeoutMs = 200

	gate := make(chan struct{})
	entered := make(chan struct{})
	var enterOnce, gateOnce sync.Once
	release := func() { gateOnce.Do(func() { close(gate) }) }
	defer release()

	rec := &testutil.Recorder{}
	sink := func(msg string) {
		if strings.Contains(msg, "phase 0 (SUPPLY) complete") {
			enterOnce.Do(func() { close(entered) })
			<-gate
		}
		rec.Sink(msg)
	}

	logs := &lockedBuffer{}
	c, err := New(cfg, sink, WithLogger(logging.NewWriterLogger(logs, "info")))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("phase 0 never completed")
	}

	type stopResult struct {
		outcome Outcome
		err     error
	}
	done := make(chan stopResult, 1)
	go func() {
		o, err := c.Stop()
		done <- stopResult{o, err}
	}()

	var res stopResult
	select {
	case res = <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return while the sink was blocked")
	}

	if res.outcome != OutcomeStopped {
		t.Errorf("outcome = %v, want stopped", res.outcome)
	}
	var se *errors.ShutdownError
	if !errors.As(res.err, &se) {
		t.Fatalf("Stop() = %v, want *ShutdownError", res.err)
	}
	if len(se.Stuck) == 0 {
		t.Error("ShutdownError names no stuck workers")
	}
	if c.Running() {
		t.Error("Running() = true after Stop")
	}
	if !rec.Contains("shutdown error:") {
		t.Errorf("sink was not told about the timeout: %v", rec.Lines())
	}

	// Once the sink returns, the stuck workers wind down on their own.
	release()
	waitFor(t, 5*time.Second, "stuck workers to exit", func() bool { return c.ActiveWorkers() == 0 })

	var stopped map[string]any
	for _, e := range logs.entries(t) {
		if e["msg"] == "pipeline stopped with errors" {
			stopped = e
		}
	}
	if stopped == nil {
		t.Fatal("stop with errors was not logged")
	}
	if stopped["level"] != "ERROR" {
		t.Errorf("level = %v, want ERROR for a critical shutdown error", stopped["level"])
	}
}

func TestStopSeverity(t *testing.T) {
	tests := []struct {
		name string
		errs []error
		want errors.Severity
	}{
		{"none", nil, errors.SeverityDebug},
		{"plain", []error{errors.New("x")}, errors.SeverityError},
		{"warning", []error{errors.NewNotFoundError("channel", "X")}, errors.SeverityWarning},
		{"highest wins", []error{
			errors.NewNotFoundError("channel", "X"),
			errors.NewShutdownError(time.Second, []string{"packer"}),
		}, errors.SeverityCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stopSeverity(tt.errs); got != tt.want {
				t.Errorf("stopSeverity() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLogAt(t *testing.T) {
	tests := map[errors.Severity]string{
		errors.SeverityCritical: "ERROR",
		errors.SeverityError:    "ERROR",
		errors.SeverityWarning:  "WARN",
		errors.SeverityInfo:     "INFO",
	}
	for sev, want := range tests {
		logs := &lockedBuffer{}
		logAt(logging.NewWriterLogger(logs, "debug"), sev, "stopped")
		entries := logs.entries(t)
		if len(entries) != 1 || entries[0]["level"] != want {
			t.Errorf("logAt(%v) wrote %v, want one %s entry", sev, entries, want)
		}
	}
}

// --- join

func stuckWorker(t *testing.T, name string) *worker.Worker {
	t.Helper()
	ch, err := buffer.New("X", 1)
	if err != nil {
		t.Fatal(err)
	}
	w, err := worker.New(name, &worker.Consumer{In: ch}, barrier.New())
	if err != nil {
		t.Fatal(err)
	}
	return w
}

func TestRunJoin_Timeout(t *testing.T) {
	r := &run{workers: []*worker.Worker{stuckWorker(t, "fast"), stuckWorker(t, "stuck")}}
	r.exited = make([]atomic.Bool, 2)

	block := make(chan struct{})
	defer close(block)
	r.wg.Go(func() { r.exited[0].Store(true) })
	r.wg.Go(func() {
		<-block
		r.exited[1].Store(true)
	})

	err := r.join(20 * time.Millisecond)
	if !errors.Is(err, errors.ErrShutdownTimeout) {
		t.Fatalf("join() = %v, want ErrShutdownTimeout", err)
	}
	var se *errors.ShutdownError
	if !errors.As(err, &se) {
		t.Fatalf("join() = %T, want *ShutdownError", err)
	}
	if len(se.Stuck) != 1 || se.Stuck[0] != "stuck" {
		t.Errorf("Stuck = %v, want [stuck]", se.Stuck)
	}
	if errors.GetSeverity(err) != errors.SeverityCritical {
		t.Errorf("severity = %v, want critical", errors.GetSeverity(err))
	}
}

func TestRunJoin_Panic(t *testing.T) {
	r := &run{}
	r.wg.Go(func() { panic("boom") })

	err := r.join(time.Second)
	if !errors.Is(err, errors.ErrWorkerPanic) {
		t.Fatalf("join() = %v, want ErrWorkerPanic", err)
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("join() = %q, want the panic value", err)
	}
}

func TestOutcome_String(t *testing.T) {
	tests := map[Outcome]string{
		OutcomeNoop:    "noop",
		OutcomeStarted: "started",
		OutcomeStopped: "stopped",
		Outcome(42):    "unknown",
	}
	for o, want := range tests {
		if got := o.String(); got != want {
			t.Errorf("Outcome(%d).String() = %q, want %q", int(o), got, want)
		}
	}
}
