package device

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"github.com/danielpaulus/go-ios/ios"
	"github.com/rs/zerolog/log"
)

// EnvSocketAddress is where go-ios looks for the usbmuxd socket
// ("unix:/path" or "host:port").
const EnvSocketAddress = "USBMUXD_SOCKET_ADDRESS"

var (
	ErrNoDevice       = errors.New("device: no device attached")
	ErrNotAttached    = errors.New("device: requested udid not attached")
	ErrHandleClosed   = errors.New("device: handle closed")
	ErrMuxUnavailable = errors.New("device: usbmuxd unavailable")
)

// Config selects the usbmuxd endpoint and device.
type Config struct {
	MuxAddress string
	UDID       string
	Label      string
}

// Device is the Handle returned by MuxProvider.
type Device struct {
	entry  ios.DeviceEntry
	info   Info
	closed atomic.Bool
}

func newDevice(entry ios.DeviceEntry) *Device {
	return &Device{entry: entry, info: infoOf(entry)}
}

func infoOf(e ios.DeviceEntry) Info {
	return Info{
		UDID:           e.Properties.SerialNumber,
		DeviceID:       e.DeviceID,
		ConnectionType: e.Properties.ConnectionType,
		ProductID:      e.Properties.ProductID,
	}
}

func (d *Device) UDID() string           { return d.info.UDID }
func (d *Device) DeviceID() int          { return d.info.DeviceID }
func (d *Device) ConnectionType() string { return d.info.ConnectionType }
func (d *Device) Closed() bool           { return d.closed.Load() }

func (d *Device) Close() error {
	d.closed.Store(true)
	return nil
}

// MuxProvider resolves devices through usbmuxd. It keeps no connection
// between calls.
type MuxProvider struct {
	cfg  Config
	list func() (ios.DeviceList, error)
}

// NewMuxProvider exports cfg.MuxAddress to the environment when set, since
// go-ios resolves the usbmuxd socket from there.
func NewMuxProvider(cfg Config) *MuxProvider {
	if addr := strings.TrimSpace(cfg.MuxAddress); addr != "" {
		if err := os.Setenv(EnvSocketAddress, addr); err != nil {
			log.Warn().Err(err).Str("address", addr).Msg("usbmuxd address not applied")
		}
	}
	return &MuxProvider{cfg: cfg, list: ios.ListDevices}
}

func (p *MuxProvider) entries(ctx context.Context) ([]ios.DeviceEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	list, err := p.list()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMuxUnavailable, err)
	}
	return list.DeviceList, nil
}

// List returns every attached device.
func (p *MuxProvider) List(ctx context.Context) ([]Info, error) {
	entries, err := p.entries(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Info, 0, len(entries))
	for _, e := range entries {
		out = append(out, infoOf(e))
	}
	return out, nil
}

// Acquire selects the configured device, or the first attached one.
func (p *MuxProvider) Acquire(ctx context.Context) (Handle, error) {
	entries, err := p.entries(ctx)
	if err != nil {
		return nil, err
	}
	infos := make([]Info, 0, len(entries))
	for _, e := range entries {
		infos = append(infos, infoOf(e))
	}
	idx, err := selectIndex(infos, p.cfg.UDID)
	if err != nil {
		return nil, err
	}
	d := newDevice(entries[idx])
	log.Debug().
		Str("udid", d.UDID()).
		Int("device_id", d.DeviceID()).
		Str("connection", d.ConnectionType()).
		Msg("device acquired")
	return d, nil
}

// SelectDevice picks udid from devices, or the first device when udid is
// empty. When a device is listed over both USB and network, USB wins.
func SelectDevice(devices []Info, udid string) (Info, error) {
	idx, err := selectIndex(devices, udid)
	if err != nil {
		return Info{}, err
	}
	return devices[idx], nil
}

func selectIndex(devices []Info, udid string) (int, error) {
	udid = strings.TrimSpace(udid)
	if len(devices) == 0 {
		return -1, ErrNoDevice
	}
	if udid == "" {
		udid = devices[0].UDID
	}
	pick := -1
	for i, d := range devices {
		if !strings.EqualFold(d.UDID, udid) {
			continue
		}
		if pick < 0 || (devices[pick].ConnectionType != ConnectionUSB && d.ConnectionType == ConnectionUSB) {
			pick = i
		}
	}
	if pick < 0 {
		return -1, fmt.Errorf("%w: udid=%s", ErrNotAttached, udid)
	}
	return pick, nil
}
