package ops

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/danmuck/muxctl/internal/device"
	"github.com/danmuck/muxctl/internal/protocol/debugserver"
	"github.com/danmuck/muxctl/internal/protocol/instproxy"
	"github.com/rs/zerolog/log"
)

// Op names a host operation in logs and metrics.
type Op string

const (
	OpEnableJIT      Op = "enable_jit"
	OpStagePackage   Op = "stage_package"
	OpInstallPackage Op = "install_package"
	OpVerifyPackage  Op = "verify_package"
)

// Recorder receives operation telemetry.
type Recorder interface {
	ObserveOperation(op string, status string, elapsed time.Duration)
	ObserveControlCommand(stage string, err error)
	AddStagedBytes(n int)
}

type nopRecorder struct{}

func (nopRecorder) ObserveOperation(string, string, time.Duration) {}
func (nopRecorder) ObserveControlCommand(string, error)            {}
func (nopRecorder) AddStagedBytes(int)                             {}

type Config struct {
	Label         string
	StagingRoot   string
	MaxPacketSize int
	Recorder      Recorder
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Label) == "" {
		c.Label = "muxctl"
	}
	if strings.TrimSpace(c.StagingRoot) == "" {
		c.StagingRoot = DefaultStagingRoot
	}
	if c.MaxPacketSize <= 0 {
		c.MaxPacketSize = DefaultMaxPacketSize
	}
	if c.Recorder == nil {
		c.Recorder = nopRecorder{}
	}
	return c
}

// Outcome is the aggregated result of one operation.
type Outcome struct {
	Op       Op
	BundleID string
	Status   Status
	Err      error
	Duration time.Duration
}

// Runner executes host operations. It holds no device state between calls
// and is safe for concurrent use.
type Runner struct {
	provider  device.Provider
	factory   device.SessionFactory
	cfg       Config
	locator   Locator
	uploader  Uploader
	installer Installer
	enabler   Enabler
}

func NewRunner(provider device.Provider, factory device.SessionFactory, cfg Config) *Runner {
	cfg = cfg.withDefaults()
	rec := cfg.Recorder
	return &Runner{
		provider:  provider,
		factory:   factory,
		cfg:       cfg,
		installer: Installer{Root: cfg.StagingRoot},
		enabler: Enabler{
			MaxPacketSize: cfg.MaxPacketSize,
			Observe: func(stage Stage, err error) {
				rec.ObserveControlCommand(string(stage), err)
			},
		},
	}
}

func (r *Runner) StagingPath(bundleID string) StagingPath {
	return StagingPath{Root: r.cfg.StagingRoot, BundleID: bundleID}
}

func (r *Runner) EnableJIT(ctx context.Context, appID string) Status {
	return r.EnableJITOutcome(ctx, appID).Status
}

func (r *Runner) StagePackage(ctx context.Context, bundleID string, data []byte) Status {
	return r.StagePackageOutcome(ctx, bundleID, data).Status
}

func (r *Runner) InstallPackage(ctx context.Context, bundleID string) Status {
	return r.InstallPackageOutcome(ctx, bundleID).Status
}

// EnableJITOutcome resolves appID, then launches it under debugserver and
// detaches. An unresolvable app never opens a control session.
func (r *Runner) EnableJITOutcome(ctx context.Context, appID string) Outcome {
	start := time.Now()
	return r.finish(OpEnableJIT, appID, start, r.enableJIT(ctx, appID))
}

// StagePackageOutcome writes data to <root>/<bundleID>/app.ipa, creating
// both directory levels as needed.
func (r *Runner) StagePackageOutcome(ctx context.Context, bundleID string, data []byte) Outcome {
	start := time.Now()
	return r.finish(OpStagePackage, bundleID, start, r.stagePackage(ctx, bundleID, data))
}

// InstallPackageOutcome installs the package previously staged for bundleID.
func (r *Runner) InstallPackageOutcome(ctx context.Context, bundleID string) Outcome {
	start := time.Now()
	return r.finish(OpInstallPackage, bundleID, start, r.installPackage(ctx, bundleID))
}

// VerifyPackageOutcome reads the staged package back and compares it to want.
func (r *Runner) VerifyPackageOutcome(ctx context.Context, bundleID string, want []byte) Outcome {
	start := time.Now()
	return r.finish(OpVerifyPackage, bundleID, start, r.verifyPackage(ctx, bundleID, want))
}

func (r *Runner) enableJIT(ctx context.Context, appID string) error {
	if err := ValidateBundleID(appID); err != nil {
		return err
	}
	h, err := r.acquire(ctx)
	if err != nil {
		return err
	}
	defer closeQuietly("device", h)

	record, err := r.resolve(ctx, h, appID)
	if err != nil {
		return err
	}

	control, err := r.factory.OpenControl(ctx, h, r.cfg.Label)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrServiceUnavailable, debugserver.ServiceName, err)
	}
	defer closeQuietly(debugserver.ServiceName, control)

	state, err := r.enabler.Run(control, record)
	if err != nil {
		log.Debug().Str("bundle_id", appID).Stringer("state", state).Msg("control sequence aborted")
		return err
	}
	return nil
}

func (r *Runner) resolve(ctx context.Context, h device.Handle, appID string) (ApplicationRecord, error) {
	lookup, err := r.openLookup(ctx, h)
	if err != nil {
		return ApplicationRecord{}, err
	}
	defer closeQuietly(instproxy.ServiceName, lookup)
	return r.locator.Resolve(lookup, appID)
}

func (r *Runner) stagePackage(ctx context.Context, bundleID string, data []byte) error {
	if err := ValidateBundleID(bundleID); err != nil {
		return err
	}
	h, err := r.acquire(ctx)
	if err != nil {
		return err
	}
	defer closeQuietly("device", h)

	staging, err := r.openStaging(ctx, h)
	if err != nil {
		return err
	}
	defer closeQuietly(device.StagingServiceName, staging)

	path := r.StagingPath(bundleID)
	if err := r.uploader.EnsureTree(staging, path); err != nil {
		return err
	}
	if err := r.uploader.WritePackage(staging, path.Package(), data); err != nil {
		return err
	}
	r.cfg.Recorder.AddStagedBytes(len(data))
	log.Debug().Str("bundle_id", bundleID).Str("path", path.Package()).Int("bytes", len(data)).Msg("package staged")
	return nil
}

func (r *Runner) installPackage(ctx context.Context, bundleID string) error {
	if err := ValidateBundleID(bundleID); err != nil {
		return err
	}
	h, err := r.acquire(ctx)
	if err != nil {
		return err
	}
	defer closeQuietly("device", h)

	lookup, err := r.openLookup(ctx, h)
	if err != nil {
		return err
	}
	defer closeQuietly(instproxy.ServiceName, lookup)
	return r.installer.Install(lookup, bundleID)
}

func (r *Runner) verifyPackage(ctx context.Context, bundleID string, want []byte) error {
	if err := ValidateBundleID(bundleID); err != nil {
		return err
	}
	h, err := r.acquire(ctx)
	if err != nil {
		return err
	}
	defer closeQuietly("device", h)

	staging, err := r.openStaging(ctx, h)
	if err != nil {
		return err
	}
	defer closeQuietly(device.StagingServiceName, staging)

	path := r.StagingPath(bundleID).Package()
	got, err := r.uploader.ReadPackage(staging, path)
	if err != nil {
		return err
	}
	if !bytes.Equal(got, want) {
		return fmt.Errorf("%w: %s: %d bytes on device, %d expected", ErrPackageMismatch, path, len(got), len(want))
	}
	return nil
}

func (r *Runner) acquire(ctx context.Context) (device.Handle, error) {
	h, err := r.provider.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceNotFound, err)
	}
	return h, nil
}

func (r *Runner) openLookup(ctx context.Context, h device.Handle) (device.LookupSession, error) {
	s, err := r.factory.OpenLookup(ctx, h, r.cfg.Label)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrServiceUnavailable, instproxy.ServiceName, err)
	}
	return s, nil
}

func (r *Runner) openStaging(ctx context.Context, h device.Handle) (device.StagingSession, error) {
	s, err := r.factory.OpenStaging(ctx, h, r.cfg.Label)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrServiceUnavailable, device.StagingServiceName, err)
	}
	return s, nil
}

// finish is the single place an operation's error is logged and mapped to
// a Status.
func (r *Runner) finish(op Op, bundleID string, start time.Time, err error) Outcome {
	out := Outcome{
		Op:       op,
		BundleID: bundleID,
		Status:   StatusOf(err),
		Err:      err,
		Duration: time.Since(start),
	}
	r.cfg.Recorder.ObserveOperation(string(op), out.Status.String(), out.Duration)
	if err != nil {
		log.Error().
			Err(err).
			Str("op", string(op)).
			Str("bundle_id", bundleID).
			Stringer("status", out.Status).
			Int("code", int(out.Status)).
			Dur("elapsed", out.Duration).
			Msg("operation failed")
		return out
	}
	log.Info().
		Str("op", string(op)).
		Str("bundle_id", bundleID).
		Dur("elapsed", out.Duration).
		Msg("operation complete")
	return out
}

// ValidateBundleID rejects identifiers that cannot name a bundle or would
// escape the staging directory.
func ValidateBundleID(id string) error {
	switch {
	case strings.TrimSpace(id) == "":
		return fmt.Errorf("%w: empty", ErrInvalidBundleID)
	case id != strings.TrimSpace(id):
		return fmt.Errorf("%w: surrounding whitespace in %q", ErrInvalidBundleID, id)
	case strings.ContainsAny(id, "/\\\x00"):
		return fmt.Errorf("%w: path separator in %q", ErrInvalidBundleID, id)
	case id == "." || id == "..":
		return fmt.Errorf("%w: %q", ErrInvalidBundleID, id)
	}
	return nil
}

func closeQuietly(name string, c io.Closer) {
	if err := c.Close(); err != nil {
		log.Debug().Err(err).Str("resource", name).Msg("close failed")
	}
}
