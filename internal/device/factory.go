package device

import (
	"context"
	"errors"
	"fmt"

	"github.com/danielpaulus/go-ios/ios"
	"github.com/danmuck/muxctl/internal/protocol"
	"github.com/danmuck/muxctl/internal/protocol/debugserver"
	"github.com/danmuck/muxctl/internal/protocol/instproxy"
	"github.com/rs/zerolog/log"
)

var (
	ErrServiceStart  = errors.New("device: service start failed")
	ErrForeignHandle = errors.New("device: handle not acquired through usbmuxd")
)

type connectFunc func(entry ios.DeviceEntry, service string) (protocol.Conn, error)

type stagingFunc func(entry ios.DeviceEntry) (StagingSession, error)

// ServiceFactory starts device services through go-ios, which reads the pair
// record, runs the lockdown session and wraps TLS where the service asks for
// it. It holds no session references.
type ServiceFactory struct {
	cfg     Config
	connect connectFunc
	staging stagingFunc
}

func NewServiceFactory(cfg Config) *ServiceFactory {
	return &ServiceFactory{cfg: cfg, connect: connectService, staging: openAFC}
}

func (f *ServiceFactory) OpenLookup(ctx context.Context, h Handle, label string) (LookupSession, error) {
	conn, err := f.startService(ctx, h, label, instproxy.ServiceName)
	if err != nil {
		return nil, err
	}
	client := instproxy.NewClient(conn)
	udid := h.UDID()
	client.Progress = func(p instproxy.Progress) {
		log.Debug().
			Str("udid", udid).
			Str("install_status", p.Status).
			Uint64("percent", p.PercentComplete).
			Msg("install progress")
	}
	return client, nil
}

func (f *ServiceFactory) OpenStaging(ctx context.Context, h Handle, label string) (StagingSession, error) {
	entry, err := f.entry(ctx, h)
	if err != nil {
		return nil, err
	}
	s, err := f.staging(entry)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrServiceStart, StagingServiceName, err)
	}
	log.Debug().Str("udid", h.UDID()).Str("label", f.label(label)).Str("service", StagingServiceName).Msg("service started")
	return s, nil
}

func (f *ServiceFactory) OpenControl(ctx context.Context, h Handle, label string) (ControlSession, error) {
	conn, err := f.startService(ctx, h, label, debugserver.SecureServiceName, debugserver.ServiceName)
	if err != nil {
		return nil, err
	}
	return debugserver.NewClient(conn), nil
}

func (f *ServiceFactory) label(label string) string {
	if label == "" {
		return f.cfg.Label
	}
	return label
}

func (f *ServiceFactory) entry(ctx context.Context, h Handle) (ios.DeviceEntry, error) {
	if h == nil || h.Closed() {
		return ios.DeviceEntry{}, ErrHandleClosed
	}
	if err := ctx.Err(); err != nil {
		return ios.DeviceEntry{}, err
	}
	d, ok := h.(*Device)
	if !ok {
		return ios.DeviceEntry{}, fmt.Errorf("%w: %T", ErrForeignHandle, h)
	}
	return d.entry, nil
}

// startService connects to the first of names the device starts. Later
// names are only tried when an earlier one fails.
func (f *ServiceFactory) startService(ctx context.Context, h Handle, label string, names ...string) (protocol.Conn, error) {
	entry, err := f.entry(ctx, h)
	if err != nil {
		return nil, err
	}
	var errs []error
	for _, name := range names {
		conn, err := f.connect(entry, name)
		if err == nil {
			log.Debug().Str("udid", h.UDID()).Str("label", f.label(label)).Str("service", name).Msg("service started")
			return conn, nil
		}
		log.Debug().Err(err).Str("udid", h.UDID()).Str("service", name).Msg("service did not start")
		errs = append(errs, fmt.Errorf("%s: %w", name, err))
	}
	return nil, fmt.Errorf("%w: %w", ErrServiceStart, errors.Join(errs...))
}
