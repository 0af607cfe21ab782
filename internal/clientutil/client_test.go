package clientutil_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/devicectl-core/internal/clientutil"
	"github.com/nerrad567/devicectl-core/internal/commanager"
	"github.com/nerrad567/devicectl-core/internal/device"
	"github.com/nerrad567/devicectl-core/internal/devicemanager"
	"github.com/nerrad567/devicectl-core/internal/gateway/ws"
	"github.com/nerrad567/devicectl-core/internal/gcm"
	"github.com/nerrad567/devicectl-core/internal/infrastructure/config"
)

type fakeTransport struct{ address string }

func (f *fakeTransport) Address() string                             { return f.address }
func (f *fakeTransport) Write(ctx context.Context, data []byte) error { return nil }

type fakeCreator struct{ device *device.Device }

func (f fakeCreator) CreateDevice(ctx context.Context) (*device.Device, error) { return f.device, nil }

func newTestDevice(address string) *device.Device {
	tr := &fakeTransport{address: address}
	caps := gcm.CapabilityMap{gcm.KindVibrate: {FeatureCount: 2, StepCount: []int{20, 20}}}
	p := device.NewDualMotorVibrator(caps, tr)
	return device.New("Test Vibrator", caps, p, tr, nil)
}

func TestClient_HandshakeListAndVibrate(t *testing.T) {
	commEvents := make(chan commanager.Event, 16)
	hub := ws.NewHub(config.GatewayConfig{}, nil, nil, nil)
	el := devicemanager.New(devicemanager.Config{}, commEvents, hub, nil)
	hub.SetEventLoop(el)

	server := httptest.NewServer(hub)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = el.Run(ctx) }()
	go hub.Run(ctx)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	c, err := clientutil.Dial(wsURL)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer c.Close()

	reqCtx, reqCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer reqCancel()

	if err := c.RequestServerInfo(reqCtx); err != nil {
		t.Fatalf("RequestServerInfo failed: %v", err)
	}

	commEvents <- commanager.Event{Kind: commanager.EventDeviceFound, Address: "A", Name: "dev",
		Creator: fakeCreator{device: newTestDevice("A")}}

	select {
	case ev := <-c.Events():
		if ev.Kind != "DeviceAdded" {
			t.Fatalf("expected DeviceAdded event, got %v", ev.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for DeviceAdded event")
	}

	list, err := c.ListDevices(reqCtx)
	if err != nil {
		t.Fatalf("ListDevices failed: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 device, got %d", len(list))
	}

	dev := c.DeviceHandle(list[0].DeviceIndex, list[0].DeviceName)
	if err := dev.SendVibrateCmd(reqCtx, 0, 0.5); err != nil {
		t.Fatalf("SendVibrateCmd failed: %v", err)
	}
	if err := dev.Stop(reqCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func TestClient_VibrateUnknownDeviceReturnsServerError(t *testing.T) {
	commEvents := make(chan commanager.Event, 16)
	hub := ws.NewHub(config.GatewayConfig{}, nil, nil, nil)
	el := devicemanager.New(devicemanager.Config{}, commEvents, hub, nil)
	hub.SetEventLoop(el)

	server := httptest.NewServer(hub)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = el.Run(ctx) }()
	go hub.Run(ctx)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	c, err := clientutil.Dial(wsURL)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer c.Close()

	reqCtx, reqCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer reqCancel()

	dev := c.DeviceHandle(99, "ghost")
	if err := dev.Stop(reqCtx); err == nil {
		t.Fatal("expected an error for an unknown device index")
	}
}
