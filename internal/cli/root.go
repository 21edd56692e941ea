// Package cli wires the muxctl cobra commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danmuck/muxctl/internal/config"
	"github.com/danmuck/muxctl/internal/device"
	"github.com/danmuck/muxctl/internal/observability"
	"github.com/danmuck/muxctl/internal/ops"
	"github.com/danmuck/muxctl/internal/server"
	"github.com/spf13/cobra"
)

// EnvConfigPath names the config file when --config is not given.
const EnvConfigPath = "MUXCTL_CONFIG"

type operations interface {
	server.Operations
	VerifyPackageOutcome(ctx context.Context, bundleID string, want []byte) ops.Outcome
}

type backend struct {
	ops     operations
	devices server.DeviceLister
}

type wireFunc func(cfg config.Config) backend

func wireDevice(cfg config.Config) backend {
	devCfg := cfg.Device()
	provider := device.NewMuxProvider(devCfg)
	runner := ops.NewRunner(provider, device.NewServiceFactory(devCfg), cfg.Runner(observability.Recorder{}))
	return backend{ops: runner, devices: provider}
}

// ExitError carries a failed operation's Status as the process exit code.
// The operation has already logged the error.
type ExitError struct {
	Status ops.Status
	Err    error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s: %v", e.Status, e.Err)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExitCode maps an Execute error to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exit *ExitError
	if errors.As(err, &exit) {
		return int(exit.Status)
	}
	return int(ops.StatusFailed)
}

type app struct {
	wire    wireFunc
	cfgPath string
	udid    string
	cfg     config.Config
	backend backend
}

// NewRootCommand builds the muxctl command tree against attached devices.
func NewRootCommand() *cobra.Command {
	return newRootCommand(wireDevice)
}

func newRootCommand(wire wireFunc) *cobra.Command {
	a := &app{wire: wire}
	root := &cobra.Command{
		Use:   "muxctl",
		Short: "Stage, install and JIT-launch apps on a tethered iOS device",
		Long: `muxctl drives usbmuxd, lockdownd and the on-device installation proxy,
AFC and debugserver services to stage and install packages and to launch
installed apps with JIT enabled.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&a.cfgPath, "config", "c", "", "config file (default $"+EnvConfigPath+", else built-in defaults)")
	root.PersistentFlags().StringVar(&a.udid, "udid", "", "target device udid (default: first attached device)")

	root.AddCommand(
		a.jitCommand(),
		a.stageCommand(),
		a.installCommand(),
		a.sideloadCommand(),
		a.devicesCommand(),
		a.serveCommand(),
		configCommand(),
	)
	return root
}

// Execute runs the root command with ctx.
func Execute(ctx context.Context, args []string) error {
	root := NewRootCommand()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// setup loads configuration and builds the backend. Called by every command
// that touches the device.
func (a *app) setup(cmd *cobra.Command) error {
	cfg := config.Default()
	path := strings.TrimSpace(a.cfgPath)
	if path == "" {
		path = strings.TrimSpace(os.Getenv(EnvConfigPath))
	}
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if udid := strings.TrimSpace(a.udid); udid != "" {
		cfg.UDID = udid
	}
	a.cfg = cfg
	a.backend = a.wire(cfg)
	return nil
}

func (a *app) report(cmd *cobra.Command, out ops.Outcome) error {
	if out.Err != nil {
		return &ExitError{Status: out.Status, Err: out.Err}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "ok %s %s (%s)\n", out.Op, out.BundleID, out.Duration.Round(time.Millisecond))
	return nil
}
