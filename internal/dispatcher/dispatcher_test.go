package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/azscribe/domain/entities"
)

type fakeHandler struct {
	name    string
	mu      sync.Mutex
	records []*entities.JobRecord
	handled []string
	fail    map[string]error
	panicOn string
	block   chan struct{}
	calls   chan string
}

func (h *fakeHandler) Name() string { return h.name }

func (h *fakeHandler) Select(ctx context.Context) ([]*entities.JobRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*entities.JobRecord(nil), h.records...), nil
}

func (h *fakeHandler) Handle(ctx context.Context, record *entities.JobRecord) error {
	if h.calls != nil {
		h.calls <- record.TranscriptionJobID
	}
	if h.block != nil {
		select {
		case <-h.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if record.TranscriptionJobID == h.panicOn {
		panic("boom")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handled = append(h.handled, record.TranscriptionJobID)
	return h.fail[record.TranscriptionJobID]
}

func record(id string, status entities.JobStatus) *entities.JobRecord {
	return &entities.JobRecord{TranscriptionJobID: id, MediaPackageID: "mp-" + id, Provider: "azure", Status: status}
}

func TestRunOnceContinuesAfterFailures(t *testing.T) {
	h := &fakeHandler{
		name:    "poll",
		records: []*entities.JobRecord{record("a", entities.JobStatusInProgress), record("b", entities.JobStatusInProgress), record("c", entities.JobStatusInProgress)},
		fail:    map[string]error{"a": errors.New("remote unavailable")},
		panicOn: "b",
	}
	d := New(Config{}, clock.NewMock(), zaptest.NewLogger(t), h)

	stats, err := d.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("Failed to run pass: %v", err)
	}
	if stats.Selected != 3 || stats.Handled != 1 || stats.Failed != 2 {
		t.Errorf("Unexpected stats %+v", stats)
	}
	if len(h.handled) != 2 || h.handled[1] != "c" {
		t.Errorf("Expected record c to be handled after failures, got %v", h.handled)
	}
}

// moving handler simulates a store: handling a record moves it to the next handler
type stage struct {
	fakeHandler
	next *stage
}

func (s *stage) Handle(ctx context.Context, r *entities.JobRecord) error {
	s.mu.Lock()
	s.records = nil
	s.mu.Unlock()
	if s.next != nil {
		s.next.mu.Lock()
		s.next.records = append(s.next.records, r)
		s.next.mu.Unlock()
	}
	return s.fakeHandler.Handle(ctx, r)
}

func TestRunOnceSelectsBeforeHandling(t *testing.T) {
	attach := &stage{fakeHandler: fakeHandler{name: "attach"}}
	poll := &stage{fakeHandler: fakeHandler{name: "poll", records: []*entities.JobRecord{record("a", entities.JobStatusInProgress)}}, next: attach}
	d := New(Config{}, clock.NewMock(), zaptest.NewLogger(t), poll, attach)

	if _, err := d.RunOnce(context.Background()); err != nil {
		t.Fatalf("Failed to run pass: %v", err)
	}
	if len(attach.handled) != 0 {
		t.Fatalf("Expected record to advance one step per pass, attach handled %v", attach.handled)
	}

	if _, err := d.RunOnce(context.Background()); err != nil {
		t.Fatalf("Failed to run pass: %v", err)
	}
	if len(attach.handled) != 1 {
		t.Errorf("Expected attach to handle the record on the second pass, got %v", attach.handled)
	}
}

func TestRunOnceDoesNotOverlap(t *testing.T) {
	h := &fakeHandler{
		name:    "poll",
		records: []*entities.JobRecord{record("a", entities.JobStatusInProgress)},
		block:   make(chan struct{}),
		calls:   make(chan string, 1),
	}
	d := New(Config{}, clock.NewMock(), zaptest.NewLogger(t), h)

	done := make(chan error, 1)
	go func() {
		_, err := d.RunOnce(context.Background())
		done <- err
	}()
	<-h.calls

	if _, err := d.RunOnce(context.Background()); !errors.Is(err, ErrPassRunning) {
		t.Errorf("Expected ErrPassRunning, got %v", err)
	}

	close(h.block)
	if err := <-done; err != nil {
		t.Fatalf("Failed to run pass: %v", err)
	}
}

func TestRecordTimeout(t *testing.T) {
	h := &fakeHandler{
		name:    "poll",
		records: []*entities.JobRecord{record("a", entities.JobStatusInProgress), record("b", entities.JobStatusInProgress)},
		block:   make(chan struct{}),
	}
	d := New(Config{RecordTimeout: 20 * time.Millisecond}, clock.NewMock(), zaptest.NewLogger(t), h)

	stats, err := d.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("Failed to run pass: %v", err)
	}
	if stats.Failed != 2 {
		t.Errorf("Expected both stuck records to time out, got %+v", stats)
	}
}

func TestStartRunsAfterInterval(t *testing.T) {
	mock := clock.NewMock()
	h := &fakeHandler{
		name:    "poll",
		records: []*entities.JobRecord{record("a", entities.JobStatusInProgress)},
		calls:   make(chan string, 4),
	}
	d := New(Config{Interval: time.Minute}, mock, zaptest.NewLogger(t), h)
	d.Start(context.Background())

	mock.Add(59 * time.Second)
	select {
	case <-h.calls:
		t.Fatal("Expected no pass before the interval elapsed")
	default:
	}

	mock.Add(time.Second)
	select {
	case <-h.calls:
	case <-time.After(time.Second):
		t.Fatal("Expected a pass after the interval elapsed")
	}

	if err := d.Stop(context.Background()); err != nil {
		t.Fatalf("Failed to stop dispatcher: %v", err)
	}
	// stopping twice is a no-op
	if err := d.Stop(context.Background()); err != nil {
		t.Fatalf("Failed to stop dispatcher twice: %v", err)
	}
}

func TestStopTimesOutOnStuckPass(t *testing.T) {
	mock := clock.NewMock()
	h := &fakeHandler{
		name:    "poll",
		records: []*entities.JobRecord{record("a", entities.JobStatusInProgress)},
		block:   make(chan struct{}),
		calls:   make(chan string, 1),
	}
	d := New(Config{Interval: time.Minute, ShutdownWait: 10 * time.Second, RecordTimeout: time.Hour}, mock, zaptest.NewLogger(t), h)
	d.Start(context.Background())

	mock.Add(time.Minute)
	<-h.calls

	result := make(chan error, 1)
	go func() { result <- d.Stop(context.Background()) }()

	// let Stop register its wait timer before moving the clock
	time.Sleep(10 * time.Millisecond)
	mock.Add(10 * time.Second)

	select {
	case err := <-result:
		if !errors.Is(err, ErrShutdownTimeout) {
			t.Errorf("Expected ErrShutdownTimeout, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestStopHonorsContextDeadline(t *testing.T) {
	mock := clock.NewMock()
	h := &fakeHandler{
		name:    "poll",
		records: []*entities.JobRecord{record("a", entities.JobStatusInProgress)},
		block:   make(chan struct{}),
		calls:   make(chan string, 1),
	}
	d := New(Config{Interval: time.Minute, ShutdownWait: time.Hour, RecordTimeout: time.Hour}, mock, zaptest.NewLogger(t), h)
	d.Start(context.Background())

	mock.Add(time.Minute)
	<-h.calls

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := d.Stop(ctx)
	if !errors.Is(err, ErrShutdownTimeout) {
		t.Errorf("Expected ErrShutdownTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Stop ignored the context deadline, took %v", elapsed)
	}
}
