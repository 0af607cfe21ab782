package commanager

import "testing"

func TestScanningStatus_DefaultsFalse(t *testing.T) {
	s := NewScanningStatus("test-transport")
	if s.Load() {
		t.Fatal("expected new ScanningStatus to default to false")
	}
	if s.Name() != "test-transport" {
		t.Fatalf("expected name test-transport, got %v", s.Name())
	}
}

func TestScanningStatus_SetAndLoad(t *testing.T) {
	s := NewScanningStatus("test-transport")
	s.Set(true)
	if !s.Load() {
		t.Fatal("expected Load to reflect Set(true)")
	}
	s.Set(false)
	if s.Load() {
		t.Fatal("expected Load to reflect Set(false)")
	}
}
