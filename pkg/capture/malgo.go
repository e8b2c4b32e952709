package capture

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"
)

// MalgoBackend opens devices through miniaudio. The native context is
// created on first use and shared by every device the backend opens.
type MalgoBackend struct {
	mu  sync.Mutex
	ctx *malgo.AllocatedContext
}

var _ Backend = (*MalgoBackend)(nil)

// NewMalgoBackend returns a backend whose native context has not been
// initialised yet.
func NewMalgoBackend() *MalgoBackend {
	return &MalgoBackend{}
}

func (b *MalgoBackend) context() (*malgo.AllocatedContext, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ctx != nil {
		return b.ctx, nil
	}
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		slog.Debug("capture: miniaudio", "msg", strings.TrimSpace(message))
	})
	if err != nil {
		return nil, fmt.Errorf("capture: init audio context: %w", err)
	}
	b.ctx = ctx
	return ctx, nil
}

// Microphone opens the capture device named by c.DeviceName, or the default
// capture device when the name is empty.
func (b *MalgoBackend) Microphone(c MicConstraints) (Device, error) {
	ctx, err := b.context()
	if err != nil {
		return nil, err
	}
	cfg := deviceConfig(malgo.Capture, c)
	if c.DeviceName != "" {
		id, err := findCaptureDevice(&ctx.Context, c.DeviceName)
		if err != nil {
			return nil, err
		}
		cfg.Capture.DeviceID = id.Pointer()
	}
	return &malgoDevice{ctx: ctx.Context, cfg: cfg}, nil
}

// Loopback opens the default playback device in loopback mode. miniaudio
// only supports this on WASAPI.
func (b *MalgoBackend) Loopback(c MicConstraints) (Device, error) {
	ctx, err := b.context()
	if err != nil {
		return nil, err
	}
	return &malgoDevice{ctx: ctx.Context, cfg: deviceConfig(malgo.Loopback, c)}, nil
}

// Close releases the native context. Devices opened from it must be closed
// first.
func (b *MalgoBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ctx == nil {
		return nil
	}
	err := b.ctx.Uninit()
	b.ctx.Free()
	b.ctx = nil
	return err
}

func deviceConfig(kind malgo.DeviceType, c MicConstraints) malgo.DeviceConfig {
	cfg := malgo.DefaultDeviceConfig(kind)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(c.Channels)
	cfg.SampleRate = uint32(c.SampleRate)
	cfg.PeriodSizeInFrames = uint32(c.BlockSize)
	return cfg
}

func findCaptureDevice(mctx *malgo.Context, name string) (malgo.DeviceID, error) {
	devices, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return malgo.DeviceID{}, fmt.Errorf("capture: list devices: %w", err)
	}
	for _, d := range devices {
		if strings.TrimSpace(d.Name()) == name {
			return malgo.DeviceID(d.ID), nil
		}
	}
	return malgo.DeviceID{}, fmt.Errorf("%w: capture device %q not found", ErrNotSupported, name)
}

type malgoDevice struct {
	ctx malgo.Context
	cfg malgo.DeviceConfig

	mu     sync.Mutex
	device *malgo.Device
}

func (d *malgoDevice) Start(onData func(pcm []byte)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.device != nil {
		return fmt.Errorf("capture: device already started")
	}
	device, err := malgo.InitDevice(d.ctx, d.cfg, malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			if len(input) > 0 {
				onData(input)
			}
		},
	})
	if err != nil {
		return fmt.Errorf("capture: init device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("capture: start device: %w", err)
	}
	d.device = device
	return nil
}

// Close stops and uninitialises the device. miniaudio blocks until the data
// callback has returned.
func (d *malgoDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.device == nil {
		return nil
	}
	err := d.device.Stop()
	d.device.Uninit()
	d.device = nil
	if err != nil {
		return fmt.Errorf("capture: stop device: %w", err)
	}
	return nil
}
