package dongle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/devicectl-core/internal/commanager"
)

type timeoutErr struct{}

func (timeoutErr) Error() string { return "timeout" }
func (timeoutErr) Timeout() bool { return true }

// fakeConnector is a scripted, in-memory Connector test double: reads
// are served from a queue of canned reports (timing out when empty),
// writes are recorded for assertion.
type fakeConnector struct {
	mu      sync.Mutex
	inbox   [][]byte
	written [][]byte
	closed  bool
}

func (f *fakeConnector) push(report []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbox = append(f.inbox, report)
}

func (f *fakeConnector) ReadReport(timeout time.Duration) ([]byte, error) {
	f.mu.Lock()
	if len(f.inbox) == 0 {
		f.mu.Unlock()
		time.Sleep(timeout)
		return nil, timeoutErr{}
	}
	r := f.inbox[0]
	f.inbox = f.inbox[1:]
	f.mu.Unlock()
	return r, nil
}

func (f *fakeConnector) WriteReport(report []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(report))
	copy(cp, report)
	f.written = append(f.written, cp)
	return nil
}

func (f *fakeConnector) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// deviceListReports frames one device-list line as inbound reports,
// splitting it across as many reports as its length needs.
func deviceListReports(name, address string) [][]byte {
	payload := []byte(`{"type":"device_list_entry","name":"` + name + `","address":"` + address + `"}` + "\r\n")
	var reports [][]byte
	for len(payload) > 0 {
		report := make([]byte, reportSize)
		n := copy(report[1:], payload)
		payload = payload[n:]
		reports = append(reports, report)
	}
	return reports
}

func scanFinishedReport() []byte {
	payload := []byte(`{"type":"status","status":"scanning_finished"}` + "\r\n")
	report := make([]byte, reportSize)
	copy(report[1:], payload)
	return report
}

func TestDriver_DongleAbsentEmitsOneShotEvent(t *testing.T) {
	d := New("test-dongle", nil, 16, nil)
	events := make(chan commanager.Event, 16)

	err := d.Run(context.Background(), events)
	if err != ErrDongleAbsent {
		t.Fatalf("expected ErrDongleAbsent, got %v", err)
	}

	select {
	case ev := <-events:
		if ev.Kind != commanager.EventDongleAbsent {
			t.Fatalf("expected EventDongleAbsent, got %v", ev.Kind)
		}
	default:
		t.Fatal("expected a DongleAbsent event")
	}
}

func TestDriver_StartScanningEmitsScanningStartedAndWritesCommand(t *testing.T) {
	fc := &fakeConnector{}
	d := New("test-dongle", fc, 16, nil)
	events := make(chan commanager.Event, 16)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, events) }()

	// drain the DeviceManagerAdded event emitted at startup
	<-events

	if err := d.StartScanning(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case ev := <-events:
		if ev.Kind != commanager.EventScanningStarted {
			t.Fatalf("expected EventScanningStarted, got %v", ev.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("expected ScanningStarted event")
	}

	if !d.ScanningStatus().Load() {
		t.Fatal("expected scanning status true after StartScanning")
	}

	cancel()
	<-done
}

func TestDriver_DeviceFoundDuringScanning(t *testing.T) {
	fc := &fakeConnector{}
	d := New("test-dongle", fc, 16, nil)
	events := make(chan commanager.Event, 16)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, events) }()
	<-events // startup event

	if err := d.StartScanning(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev := <-events; ev.Kind != commanager.EventScanningStarted {
		t.Fatalf("expected ScanningStarted, got %v", ev.Kind)
	}

	for _, r := range deviceListReports("Test Vibrator", "AA:BB:CC") {
		fc.push(r)
	}

	select {
	case ev := <-events:
		if ev.Kind != commanager.EventDeviceFound {
			t.Fatalf("expected EventDeviceFound, got %v", ev.Kind)
		}
		if ev.Address != "AA:BB:CC" || ev.Name != "Test Vibrator" {
			t.Fatalf("unexpected device found payload: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("expected DeviceFound event")
	}

	fc.push(scanFinishedReport())

	select {
	case ev := <-events:
		if ev.Kind != commanager.EventScanningFinished {
			t.Fatalf("expected ScanningFinished, got %v", ev.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("expected ScanningFinished event")
	}

	if d.ScanningStatus().Load() {
		t.Fatal("expected scanning status false after ScanningFinished")
	}

	cancel()
	<-done
}

type fatalErr struct{}

func (fatalErr) Error() string { return "read failed" }
func (fatalErr) Timeout() bool { return false }

// failConnector times out once (letting Run reach its steady state) then
// fails every subsequent read with a non-timeout error.
type failConnector struct {
	fakeConnector
	reads int
}

func (f *failConnector) ReadReport(timeout time.Duration) ([]byte, error) {
	f.reads++
	if f.reads == 1 {
		time.Sleep(timeout)
		return nil, timeoutErr{}
	}
	return nil, fatalErr{}
}

// TestDriver_FatalReadErrorDoesNotPanicConcurrentSend guards against a
// regression where a fatal reader error closed the shared inbound
// channel while StartScanning/StopScanning could still be sending on it
// concurrently, which panics unconditionally regardless of select.
func TestDriver_FatalReadErrorDoesNotPanicConcurrentSend(t *testing.T) {
	fc := &failConnector{}
	d := New("test-dongle", fc, 16, nil)
	events := make(chan commanager.Event, 16)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, events) }()
	<-events // startup event

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = d.StartScanning(ctx)
		}()
	}
	wg.Wait()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected Run to return nil after a fatal read error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected Run to terminate after a fatal read error")
	}
}

func TestInboundDecoder_SplitsAcrossReports(t *testing.T) {
	dec := &InboundDecoder{}

	full := []byte(`{"type":"status","status":"scanning_finished"}` + "\r\n")
	first := make([]byte, reportSize)
	copy(first[1:], full[:30])
	second := make([]byte, reportSize)
	copy(second[1:], full[30:])

	if msgs := dec.Feed(first); len(msgs) != 0 {
		t.Fatalf("expected no complete message yet, got %v", msgs)
	}
	msgs := dec.Feed(second)
	if len(msgs) != 1 {
		t.Fatalf("expected exactly 1 complete message, got %d", len(msgs))
	}
}

func TestFrameOutbound_ChunksAndPrependsReportID(t *testing.T) {
	reports := FrameOutbound(scanCommand)
	if len(reports) != 1 {
		t.Fatalf("expected 1 report for a short command, got %d", len(reports))
	}
	if reports[0][0] != reportID {
		t.Fatalf("expected report id byte 0, got %v", reports[0][0])
	}
	if len(reports[0]) != reportSize {
		t.Fatalf("expected report size %d, got %d", reportSize, len(reports[0]))
	}
}
