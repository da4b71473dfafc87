package gpu

import (
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu"

	// Registers every compiled-in backend, including the software fallback.
	_ "github.com/gogpu/wgpu/hal/allbackends"

	"mrivolume/internal/logging"
)

// Context owns a GPU instance, adapter and device. A Context handed to a
// volume is adopted by it and released when the volume is closed.
type Context struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	info     wgpu.AdapterInfo

	closeOnce sync.Once
}

// ContextOption adjusts adapter selection.
type ContextOption func(*wgpu.RequestAdapterOptions)

// WithHighPerformance prefers a discrete adapter.
func WithHighPerformance() ContextOption {
	return func(o *wgpu.RequestAdapterOptions) {
		o.PowerPreference = wgpu.PowerPreferenceHighPerformance
	}
}

// WithFallbackAdapter forces the software adapter.
func WithFallbackAdapter() ContextOption {
	return func(o *wgpu.RequestAdapterOptions) {
		o.ForceFallbackAdapter = true
	}
}

// NewContext acquires an adapter and device. Any failure is reported as
// ErrDeviceUnavailable.
func NewContext(opts ...ContextOption) (*Context, error) {
	var adapterOpts wgpu.RequestAdapterOptions
	for _, opt := range opts {
		opt(&adapterOpts)
	}

	instance, err := wgpu.CreateInstance(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create instance: %w", ErrDeviceUnavailable, err)
	}

	adapter, err := instance.RequestAdapter(&adapterOpts)
	if err != nil {
		instance.Release()
		return nil, fmt.Errorf("%w: request adapter: %w", ErrDeviceUnavailable, err)
	}

	device, err := adapter.RequestDevice(nil)
	if err != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("%w: request device: %w", ErrDeviceUnavailable, err)
	}

	info := adapter.Info()
	logging.Logger().Info("gpu: adapter selected",
		"name", info.Name,
		"vendor", info.Vendor,
		"type", info.DeviceType.String(),
	)

	return &Context{
		instance: instance,
		adapter:  adapter,
		device:   device,
		info:     info,
	}, nil
}

// Device returns the logical device.
func (c *Context) Device() *wgpu.Device {
	return c.device
}

// Info describes the selected adapter.
func (c *Context) Info() wgpu.AdapterInfo {
	return c.info
}

// IsSoftware reports whether the adapter renders on the CPU.
func (c *Context) IsSoftware() bool {
	return c.info.DeviceType == gputypes.DeviceTypeCPU
}

// Limits returns the device limits.
func (c *Context) Limits() wgpu.Limits {
	return c.device.Limits()
}

// Close releases the device, adapter and instance. Further calls are no-ops.
func (c *Context) Close() error {
	c.closeOnce.Do(func() {
		c.device.Release()
		c.adapter.Release()
		c.instance.Release()
		logging.Logger().Debug("gpu: context released", "name", c.info.Name)
	})
	return nil
}
