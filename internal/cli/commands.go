package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/danmuck/muxctl/internal/server"
	"github.com/spf13/cobra"
)

func (a *app) jitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "jit <bundle-id>",
		Short: "Launch an installed app under debugserver and detach, leaving JIT enabled",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(cmd); err != nil {
				return err
			}
			return a.report(cmd, a.backend.ops.EnableJITOutcome(cmd.Context(), args[0]))
		},
	}
}

func (a *app) stageCommand() *cobra.Command {
	var verify bool
	cmd := &cobra.Command{
		Use:   "stage <bundle-id> <package.ipa>",
		Short: "Copy a package into the device staging area",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("read package: %w", err)
			}
			if err := a.setup(cmd); err != nil {
				return err
			}
			if err := a.report(cmd, a.backend.ops.StagePackageOutcome(cmd.Context(), args[0], data)); err != nil {
				return err
			}
			if !verify {
				return nil
			}
			return a.report(cmd, a.backend.ops.VerifyPackageOutcome(cmd.Context(), args[0], data))
		},
	}
	cmd.Flags().BoolVar(&verify, "verify", false, "read the staged package back and compare")
	return cmd
}

func (a *app) installCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "install <bundle-id>",
		Short: "Install the package previously staged for bundle-id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(cmd); err != nil {
				return err
			}
			return a.report(cmd, a.backend.ops.InstallPackageOutcome(cmd.Context(), args[0]))
		},
	}
}

func (a *app) sideloadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sideload <bundle-id> <package.ipa>",
		Short: "Stage a package and install it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("read package: %w", err)
			}
			if err := a.setup(cmd); err != nil {
				return err
			}
			if err := a.report(cmd, a.backend.ops.StagePackageOutcome(cmd.Context(), args[0], data)); err != nil {
				return err
			}
			return a.report(cmd, a.backend.ops.InstallPackageOutcome(cmd.Context(), args[0]))
		},
	}
}

func (a *app) devicesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List devices attached to usbmuxd",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(cmd); err != nil {
				return err
			}
			devices, err := a.backend.devices.List(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "UDID\tCONNECTION\tDEVICE ID")
			for _, d := range devices {
				fmt.Fprintf(w, "%s\t%s\t%d\n", d.UDID, d.ConnectionType, d.DeviceID)
			}
			return w.Flush()
		},
	}
}

func (a *app) serveCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Expose the operations over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(cmd); err != nil {
				return err
			}
			srvCfg := a.cfg.Server
			if addr != "" {
				srvCfg.Addr = addr
			}
			return server.New(srvCfg, a.backend.ops, a.backend.devices).Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}
