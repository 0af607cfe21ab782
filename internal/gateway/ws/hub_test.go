package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"github.com/nerrad567/devicectl-core/internal/commanager"
	"github.com/nerrad567/devicectl-core/internal/device"
	"github.com/nerrad567/devicectl-core/internal/devicemanager"
	"github.com/nerrad567/devicectl-core/internal/gcm"
	"github.com/nerrad567/devicectl-core/internal/infrastructure/config"
	"github.com/nerrad567/devicectl-core/internal/messages"
)

type fakeTransport struct{ address string }

func (f *fakeTransport) Address() string                             { return f.address }
func (f *fakeTransport) Write(ctx context.Context, data []byte) error { return nil }

func newTestDevice(address string) *device.Device {
	tr := &fakeTransport{address: address}
	caps := gcm.CapabilityMap{gcm.KindVibrate: {FeatureCount: 2, StepCount: []int{20, 20}}}
	p := device.NewDualMotorVibrator(caps, tr)
	return device.New("Test Vibrator", caps, p, tr, nil)
}

type fakeCreator struct{ device *device.Device }

func (f fakeCreator) CreateDevice(ctx context.Context) (*device.Device, error) { return f.device, nil }

func dialHub(t *testing.T) (*gorillaws.Conn, *devicemanager.EventLoop, func()) {
	t.Helper()
	commEvents := make(chan commanager.Event, 16)
	el := devicemanager.New(devicemanager.Config{}, commEvents, nil, nil)

	hub := NewHub(config.GatewayConfig{}, el, nil, nil)
	server := httptest.NewServer(hub)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = el.Run(ctx) }()
	go hub.Run(ctx)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := gorillaws.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}

	cleanup := func() {
		conn.Close()
		cancel()
		server.Close()
	}
	return conn, el, cleanup
}

func TestHub_RequestServerInfoRepliesOk(t *testing.T) {
	conn, _, cleanup := dialHub(t)
	defer cleanup()

	req := messages.Envelope{Id: 1, Kind: messages.KindRequestServerInfo}
	if err := conn.WriteJSON(req); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	var resp messages.Envelope
	conn.SetReadDeadline(time.Now().Add(time.Second))
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if resp.Kind != messages.KindOk || resp.Id != 1 {
		t.Fatalf("expected Ok(1), got %+v", resp)
	}
}

func TestHub_VibrateCmdForUnknownDeviceReturnsDeviceNotFound(t *testing.T) {
	conn, _, cleanup := dialHub(t)
	defer cleanup()

	req := messages.Envelope{
		Id:   2,
		Kind: messages.KindVibrateCmd,
		Payload: messages.VibrateCmd{
			Id: 2, DeviceIndex: 99,
			Speeds: []messages.SpeedCmd{{Index: 0, Speed: 0.5}},
		},
	}
	if err := conn.WriteJSON(req); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	var resp messages.Envelope
	conn.SetReadDeadline(time.Now().Add(time.Second))
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if resp.Kind != messages.KindError {
		t.Fatalf("expected Error, got %+v", resp)
	}
}

func TestHub_DeviceAddedBroadcastReachesClient(t *testing.T) {
	commEvents := make(chan commanager.Event, 16)
	hub := NewHub(config.GatewayConfig{}, nil, nil, nil)
	el := devicemanager.New(devicemanager.Config{}, commEvents, hub, nil)
	hub.SetEventLoop(el)

	server := httptest.NewServer(hub)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = el.Run(ctx) }()
	go hub.Run(ctx)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := gorillaws.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	time.Sleep(50 * time.Millisecond) // allow registration to land

	commEvents <- commanager.Event{Kind: commanager.EventDeviceFound, Address: "A", Name: "dev",
		Creator: fakeCreator{device: newTestDevice("A")}}

	var resp messages.Envelope
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if resp.Kind != messages.KindDeviceAdded {
		t.Fatalf("expected DeviceAdded broadcast, got %+v", resp)
	}
}
