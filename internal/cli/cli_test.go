package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/muxctl/internal/config"
	"github.com/danmuck/muxctl/internal/device"
	"github.com/danmuck/muxctl/internal/ops"
	"github.com/danmuck/muxctl/internal/testutil/testlog"
	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"
)

type fakeOps struct {
	calls  []string
	fail   map[ops.Op]ops.Status
	staged []byte
}

func (f *fakeOps) outcome(op ops.Op, bundleID string) ops.Outcome {
	f.calls = append(f.calls, string(op)+":"+bundleID)
	if status, ok := f.fail[op]; ok {
		return ops.Outcome{Op: op, BundleID: bundleID, Status: status, Err: errors.New("device said no")}
	}
	return ops.Outcome{Op: op, BundleID: bundleID, Status: ops.StatusOK}
}

func (f *fakeOps) EnableJITOutcome(_ context.Context, appID string) ops.Outcome {
	return f.outcome(ops.OpEnableJIT, appID)
}

func (f *fakeOps) StagePackageOutcome(_ context.Context, bundleID string, data []byte) ops.Outcome {
	f.staged = append([]byte(nil), data...)
	return f.outcome(ops.OpStagePackage, bundleID)
}

func (f *fakeOps) InstallPackageOutcome(_ context.Context, bundleID string) ops.Outcome {
	return f.outcome(ops.OpInstallPackage, bundleID)
}

func (f *fakeOps) VerifyPackageOutcome(_ context.Context, bundleID string, _ []byte) ops.Outcome {
	return f.outcome(ops.OpVerifyPackage, bundleID)
}

type fakeLister struct {
	devices []device.Info
}

func (f fakeLister) List(context.Context) ([]device.Info, error) {
	return f.devices, nil
}

type harness struct {
	ops     *fakeOps
	lister  fakeLister
	configs []config.Config
}

func (h *harness) wire(cfg config.Config) backend {
	h.configs = append(h.configs, cfg)
	return backend{ops: h.ops, devices: h.lister}
}

func newHarness() *harness {
	return &harness{ops: &fakeOps{fail: map[ops.Op]ops.Status{}}}
}

func executeCommand(root *cobra.Command, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

func writePackage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.ipa")
	if err := os.WriteFile(path, []byte("PK\x03\x04payload"), 0o644); err != nil {
		t.Fatalf("write package: %v", err)
	}
	return path
}

func TestJITCommandReportsSuccess(t *testing.T) {
	testlog.Start(t)
	t.Setenv(EnvConfigPath, "")
	h := newHarness()
	out, err := executeCommand(newRootCommand(h.wire), "jit", "com.example.app")
	if err != nil {
		t.Fatalf("jit: %v", err)
	}
	if !strings.Contains(out, "ok enable_jit com.example.app") {
		t.Fatalf("unexpected output: %q", out)
	}
	if diff := cmp.Diff([]string{"enable_jit:com.example.app"}, h.ops.calls); diff != "" {
		t.Fatalf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestFailedOperationExitCodeIsStatus(t *testing.T) {
	testlog.Start(t)
	t.Setenv(EnvConfigPath, "")
	h := newHarness()
	h.ops.fail[ops.OpInstallPackage] = ops.StatusNotInstalled
	_, err := executeCommand(newRootCommand(h.wire), "install", "com.example.app")
	var exit *ExitError
	if !errors.As(err, &exit) {
		t.Fatalf("expected ExitError, got %v", err)
	}
	if got := ExitCode(err); got != int(ops.StatusNotInstalled) {
		t.Fatalf("exit code=%d want %d", got, ops.StatusNotInstalled)
	}
}

func TestExitCodeForPlainErrors(t *testing.T) {
	testlog.Start(t)
	if ExitCode(nil) != 0 {
		t.Fatalf("nil error should exit 0")
	}
	if ExitCode(errors.New("boom")) != int(ops.StatusFailed) {
		t.Fatalf("plain error should exit with StatusFailed")
	}
}

func TestStageReadsPackageAndVerifies(t *testing.T) {
	testlog.Start(t)
	t.Setenv(EnvConfigPath, "")
	h := newHarness()
	path := writePackage(t)
	if _, err := executeCommand(newRootCommand(h.wire), "stage", "com.example.app", path, "--verify"); err != nil {
		t.Fatalf("stage: %v", err)
	}
	if string(h.ops.staged) != "PK\x03\x04payload" {
		t.Fatalf("staged bytes=%q", h.ops.staged)
	}
	want := []string{"stage_package:com.example.app", "verify_package:com.example.app"}
	if diff := cmp.Diff(want, h.ops.calls); diff != "" {
		t.Fatalf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestStageMissingPackageFile(t *testing.T) {
	testlog.Start(t)
	t.Setenv(EnvConfigPath, "")
	h := newHarness()
	_, err := executeCommand(newRootCommand(h.wire), "stage", "com.example.app", filepath.Join(t.TempDir(), "missing.ipa"))
	if err == nil || !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
	if len(h.ops.calls) != 0 {
		t.Fatalf("no operation should run: %v", h.ops.calls)
	}
}

func TestSideloadStopsWhenStagingFails(t *testing.T) {
	testlog.Start(t)
	t.Setenv(EnvConfigPath, "")
	h := newHarness()
	h.ops.fail[ops.OpStagePackage] = ops.StatusFileWriteFailed
	_, err := executeCommand(newRootCommand(h.wire), "sideload", "com.example.app", writePackage(t))
	if ExitCode(err) != int(ops.StatusFileWriteFailed) {
		t.Fatalf("exit code=%d err=%v", ExitCode(err), err)
	}
	if diff := cmp.Diff([]string{"stage_package:com.example.app"}, h.ops.calls); diff != "" {
		t.Fatalf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestSideloadStagesThenInstalls(t *testing.T) {
	testlog.Start(t)
	t.Setenv(EnvConfigPath, "")
	h := newHarness()
	if _, err := executeCommand(newRootCommand(h.wire), "sideload", "com.example.app", writePackage(t)); err != nil {
		t.Fatalf("sideload: %v", err)
	}
	want := []string{"stage_package:com.example.app", "install_package:com.example.app"}
	if diff := cmp.Diff(want, h.ops.calls); diff != "" {
		t.Fatalf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestDevicesListsAttached(t *testing.T) {
	testlog.Start(t)
	t.Setenv(EnvConfigPath, "")
	h := newHarness()
	h.lister.devices = []device.Info{{DeviceID: 3, UDID: "00008030-000A1C2E3C02802E", ConnectionType: device.ConnectionUSB}}
	out, err := executeCommand(newRootCommand(h.wire), "devices")
	if err != nil {
		t.Fatalf("devices: %v", err)
	}
	if !strings.Contains(out, "00008030-000A1C2E3C02802E") || !strings.Contains(out, "USB") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestUDIDFlagOverridesConfigFile(t *testing.T) {
	testlog.Start(t)
	t.Setenv(EnvConfigPath, "")
	path := filepath.Join(t.TempDir(), "muxctl.toml")
	if err := config.WriteTemplate(path, false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	h := newHarness()
	if _, err := executeCommand(newRootCommand(h.wire), "--config", path, "--udid", "udid-flag", "jit", "com.example.app"); err != nil {
		t.Fatalf("jit: %v", err)
	}
	if len(h.configs) != 1 || h.configs[0].UDID != "udid-flag" {
		t.Fatalf("unexpected configs: %+v", h.configs)
	}
}

func TestConfigFromEnvironment(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "muxctl.toml")
	if err := os.WriteFile(path, []byte("label = \"from-env\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(EnvConfigPath, path)
	h := newHarness()
	if _, err := executeCommand(newRootCommand(h.wire), "install", "com.example.app"); err != nil {
		t.Fatalf("install: %v", err)
	}
	if h.configs[0].Label != "from-env" {
		t.Fatalf("label=%q", h.configs[0].Label)
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "muxctl.toml")
	root := newRootCommand(newHarness().wire)
	out, err := executeCommand(root, "config", "init", "--output", path)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(out, path) {
		t.Fatalf("unexpected init output: %q", out)
	}
	if _, err := executeCommand(newRootCommand(newHarness().wire), "config", "init", "--output", path); err == nil {
		t.Fatalf("expected init to refuse overwriting without --force")
	}
	out, err = executeCommand(newRootCommand(newHarness().wire), "config", "validate", "--input", path)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	if !strings.Contains(out, "validated") {
		t.Fatalf("unexpected validate output: %q", out)
	}
}

func TestArgsAreChecked(t *testing.T) {
	testlog.Start(t)
	h := newHarness()
	if _, err := executeCommand(newRootCommand(h.wire), "jit"); err == nil {
		t.Fatalf("expected missing-argument error")
	}
	if len(h.configs) != 0 {
		t.Fatalf("setup should not run on bad args")
	}
}
