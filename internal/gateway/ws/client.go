package ws

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/devicectl-core/internal/device"
	"github.com/nerrad567/devicectl-core/internal/devicemanager"
	"github.com/nerrad567/devicectl-core/internal/gcm"
	"github.com/nerrad567/devicectl-core/internal/infrastructure/config"
	"github.com/nerrad567/devicectl-core/internal/messages"
)

// Client represents one connected gateway session.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

func (c *Client) readPump(cfg config.GatewayConfig) {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	if cfg.MaxMessageSize > 0 {
		c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	}
	pingInterval, pongWait := durations(cfg)
	_ = c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Warn("gateway read error", "client_id", c.id, "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleEnvelope(data)
	}
}

func (c *Client) writePump(cfg config.GatewayConfig) {
	pingInterval, pongWait := durations(cfg)
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// trySend attempts a non-blocking send, absorbing a send on a channel
// the hub closed concurrently during shutdown.
func (c *Client) trySend(data []byte) {
	defer func() { _ = recover() }()
	select {
	case c.send <- data:
	default:
		// Slow client; drop rather than stall the broadcaster.
	}
}

func (c *Client) handleEnvelope(data []byte) {
	var env messages.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.replyError(0, messages.ErrorCodeMessageError, "invalid JSON envelope")
		return
	}

	ctx := context.Background()

	switch env.Kind {
	case messages.KindRequestServerInfo:
		c.replyOk(env.Id)

	case messages.KindPing:
		c.hub.el.Pinged()
		c.replyOk(env.Id)

	case messages.KindStartScanning:
		for _, m := range c.hub.managers {
			if err := m.StartScanning(ctx); err != nil {
				c.hub.log.Error("start scanning failed", "manager", m.Name(), "error", err)
			}
		}
		c.replyOk(env.Id)

	case messages.KindStopScanning:
		for _, m := range c.hub.managers {
			if err := m.StopScanning(ctx); err != nil {
				c.hub.log.Error("stop scanning failed", "manager", m.Name(), "error", err)
			}
		}
		c.replyOk(env.Id)

	case messages.KindDeviceList:
		c.replyPayload(env.Id, messages.KindDeviceList, messages.DeviceList{Id: env.Id, Devices: c.hub.el.ListDevices()})

	case messages.KindStopDeviceCmd:
		var cmd messages.StopDeviceCmd
		if !c.decodePayload(env, &cmd) {
			return
		}
		c.dispatchDevice(env.Id, cmd.DeviceIndex, func(d *device.Device) error {
			return d.ParseStopDeviceCmd(ctx)
		})

	case messages.KindStopAllDevices:
		for _, info := range c.hub.el.ListDevices() {
			if d, err := c.hub.el.GetDevice(info.DeviceIndex); err == nil {
				if err := d.ParseStopDeviceCmd(ctx); err != nil {
					c.hub.log.Error("stop-all device failed", "device_index", info.DeviceIndex, "error", err)
				}
			}
		}
		c.replyOk(env.Id)

	case messages.KindVibrateCmd:
		var cmd messages.VibrateCmd
		if !c.decodePayload(env, &cmd) {
			return
		}
		c.recordCommand(cmd.DeviceIndex, gcm.KindVibrate)
		c.dispatchDevice(env.Id, cmd.DeviceIndex, func(d *device.Device) error {
			return d.ParseVibrateCmd(ctx, cmd)
		})

	case messages.KindLinearCmd:
		var cmd messages.LinearCmd
		if !c.decodePayload(env, &cmd) {
			return
		}
		c.recordCommand(cmd.DeviceIndex, gcm.KindLinear)
		c.dispatchDevice(env.Id, cmd.DeviceIndex, func(d *device.Device) error {
			return d.ParseLinearCmd(ctx, cmd)
		})

	case messages.KindRotateCmd:
		var cmd messages.RotateCmd
		if !c.decodePayload(env, &cmd) {
			return
		}
		c.recordCommand(cmd.DeviceIndex, gcm.KindRotate)
		c.dispatchDevice(env.Id, cmd.DeviceIndex, func(d *device.Device) error {
			return d.ParseRotateCmd(ctx, cmd)
		})

	case messages.KindRawWriteCmd:
		var cmd messages.RawWriteCmd
		if !c.decodePayload(env, &cmd) {
			return
		}
		c.dispatchDevice(env.Id, cmd.DeviceIndex, func(d *device.Device) error {
			return d.ParseRawWriteCmd(ctx, cmd)
		})

	case messages.KindRawReadCmd:
		var cmd messages.RawReadCmd
		if !c.decodePayload(env, &cmd) {
			return
		}
		c.dispatchDevice(env.Id, cmd.DeviceIndex, func(d *device.Device) error {
			_, err := d.ParseRawReadCmd(ctx, cmd)
			return err
		})

	case messages.KindRawSubscribeCmd:
		var cmd messages.RawSubscribeCmd
		if !c.decodePayload(env, &cmd) {
			return
		}
		c.dispatchDevice(env.Id, cmd.DeviceIndex, func(d *device.Device) error {
			return d.ParseRawSubscribeCmd(ctx, cmd)
		})

	default:
		c.replyError(env.Id, messages.ErrorCodeUnexpectedMessage, "unknown message kind: "+string(env.Kind))
	}
}

func (c *Client) decodePayload(env messages.Envelope, out any) bool {
	raw, err := json.Marshal(env.Payload)
	if err != nil {
		c.replyError(env.Id, messages.ErrorCodeMessageError, "invalid payload")
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		c.replyError(env.Id, messages.ErrorCodeMessageError, "invalid payload")
		return false
	}
	return true
}

// recordCommand forwards to the hub's optional CommandRecorder. A no-op
// when none is configured.
func (c *Client) recordCommand(deviceIndex uint32, kind gcm.CommandKind) {
	if c.hub.recorder != nil {
		c.hub.recorder.RecordCommand(deviceIndex, kind)
	}
}

// dispatchDevice looks up the addressed device and runs fn against it,
// translating a lookup or protocol-handler failure into the matching
// Error response.
func (c *Client) dispatchDevice(id uint32, index uint32, fn func(*device.Device) error) {
	d, err := c.hub.el.GetDevice(index)
	if err != nil {
		c.replyError(id, messages.ErrorCodeDeviceNotFound, err.Error())
		return
	}
	if err := fn(d); err != nil {
		c.replyError(id, errorCodeFor(err), err.Error())
		return
	}
	c.replyOk(id)
}

func errorCodeFor(err error) messages.ErrorCode {
	switch {
	case errors.Is(err, devicemanager.ErrDeviceNotFound):
		return messages.ErrorCodeDeviceNotFound
	case errors.Is(err, device.ErrUnsupportedCommand):
		return messages.ErrorCodeUnsupportedCommand
	case errors.Is(err, gcm.ErrInvalidActuatorIndex):
		return messages.ErrorCodeInvalidActuatorIndex
	case errors.Is(err, gcm.ErrFeatureNotSupported):
		return messages.ErrorCodeFeatureNotSupported
	case errors.Is(err, device.ErrDeviceCommunicationError):
		return messages.ErrorCodeDeviceCommunicationErr
	default:
		return messages.ErrorCodeMessageError
	}
}

func (c *Client) replyOk(id uint32) {
	c.replyPayload(id, messages.KindOk, messages.Ok{Id: id})
}

func (c *Client) replyError(id uint32, code messages.ErrorCode, msg string) {
	c.replyPayload(id, messages.KindError, messages.NewError(id, code, msg))
}

func (c *Client) replyPayload(id uint32, kind messages.Kind, payload any) {
	env := messages.Envelope{Id: id, Kind: kind, Payload: payload}
	data, err := json.Marshal(env)
	if err != nil {
		c.hub.log.Error("gateway: failed to marshal reply", "error", err)
		return
	}
	c.trySend(data)
}
