// Package influx writes command-issue and cache-hit/miss counters to
// InfluxDB for long-running fleet observability — optional, disableable,
// and nil-safe so the core never needs a nil check before calling it.
package influx

import (
	"context"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/devicectl-core/internal/gcm"
	"github.com/nerrad567/devicectl-core/internal/infrastructure/config"
	"github.com/nerrad567/devicectl-core/internal/infrastructure/logging"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPingTimeout    = 5 * time.Second
	millisecondsPerSecond = 1000

	defaultBatchSize     = 100
	defaultFlushInterval = 10
	maxBatchSize         = 100000
	maxFlushIntervalSecs = 3600
)

// Writer records command-issue and cache-hit/miss counters against an
// InfluxDB v2 bucket. A nil *Writer is valid and every method on it is a
// no-op — callers never need to check cfg.Enabled themselves.
//
// Thread Safety: all methods are safe for concurrent use; writes are
// non-blocking and batched by the underlying client.
type Writer struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI

	mu        sync.RWMutex
	connected bool

	log  *logging.Logger
	done chan struct{}
}

// Connect establishes a connection to the InfluxDB server described by
// cfg. Returns (nil, nil) when cfg.Enabled is false — the zero value
// *Writer is a safe no-op.
func Connect(ctx context.Context, cfg config.InfluxDBConfig, log *logging.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if log == nil {
		log = logging.Noop()
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	} else if batchSize > maxBatchSize {
		return nil, fmt.Errorf("influx: batch_size %d exceeds maximum %d", batchSize, maxBatchSize)
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	} else if flushInterval > maxFlushIntervalSecs {
		return nil, fmt.Errorf("influx: flush_interval %d exceeds maximum %d seconds", flushInterval, maxFlushIntervalSecs)
	}

	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batchSize)).
			SetFlushInterval(uint(flushInterval)*millisecondsPerSecond),
	)

	pingCtx := ctx
	if pingCtx == nil {
		pingCtx = context.Background()
	}
	pingCtx, cancel := context.WithTimeout(pingCtx, defaultConnectTimeout)
	defer cancel()

	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("influx: ping failed: %w", err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("influx: server not healthy")
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)

	w := &Writer{
		client:    client,
		writeAPI:  writeAPI,
		connected: true,
		log:       log,
		done:      make(chan struct{}),
	}

	errorsCh := writeAPI.Errors()
	go w.handleWriteErrors(errorsCh)

	return w, nil
}

func (w *Writer) handleWriteErrors(errorsCh <-chan error) {
	for {
		select {
		case <-w.done:
			return
		case err, ok := <-errorsCh:
			if !ok {
				return
			}
			w.log.Error("influx write failed", "error", err)
		}
	}
}

// RecordCommand writes one counter point for a command issued against a
// device, tagged by command kind.
func (w *Writer) RecordCommand(deviceIndex uint32, kind gcm.CommandKind) {
	if !w.isConnected() {
		return
	}
	point := write.NewPoint(
		"commands_issued",
		map[string]string{
			"device_index": fmt.Sprintf("%d", deviceIndex),
			"kind":         string(kind),
		},
		map[string]any{"count": 1},
		time.Now(),
	)
	w.writeAPI.WritePoint(point)
}

// RecordCacheResult writes one counter point reflecting whether the
// generic command manager's cache deduplicated a command (hit, no write
// reached the transport) or forwarded it (miss).
func (w *Writer) RecordCacheResult(deviceIndex uint32, kind gcm.CommandKind, hit bool) {
	if !w.isConnected() {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	point := write.NewPoint(
		"gcm_cache",
		map[string]string{
			"device_index": fmt.Sprintf("%d", deviceIndex),
			"kind":         string(kind),
			"result":       result,
		},
		map[string]any{"count": 1},
		time.Now(),
	)
	w.writeAPI.WritePoint(point)
}

func (w *Writer) isConnected() bool {
	if w == nil || w.writeAPI == nil {
		return false
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}

// HealthCheck verifies the InfluxDB connection is alive. Safe to call on
// a nil *Writer, which is always reported unhealthy.
func (w *Writer) HealthCheck(ctx context.Context) error {
	if w == nil || !w.isConnected() {
		return ErrNotConnected
	}
	checkCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	healthy, err := w.client.Ping(checkCtx)
	if err != nil {
		return fmt.Errorf("influx: health check failed: %w", err)
	}
	if !healthy {
		return fmt.Errorf("influx: health check failed: server not healthy")
	}
	return nil
}

// Close flushes pending writes and shuts down the connection. Safe to
// call on a nil *Writer.
func (w *Writer) Close() {
	if w == nil || w.client == nil {
		return
	}
	w.mu.Lock()
	w.connected = false
	w.mu.Unlock()

	w.writeAPI.Flush()
	close(w.done)
	w.client.Close()
}
