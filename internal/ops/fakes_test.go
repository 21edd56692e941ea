package ops

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/muxctl/internal/device"
	"github.com/danmuck/muxctl/internal/protocol/debugserver"
	"github.com/danmuck/muxctl/internal/protocol/instproxy"
)

type fakeHandle struct {
	mu     sync.Mutex
	closed bool
}

func (h *fakeHandle) UDID() string           { return "udid-test" }
func (h *fakeHandle) DeviceID() int          { return 1 }
func (h *fakeHandle) ConnectionType() string { return device.ConnectionUSB }

func (h *fakeHandle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

type fakeProvider struct {
	mu      sync.Mutex
	err     error
	handles []*fakeHandle
}

func (p *fakeProvider) Acquire(context.Context) (device.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	h := &fakeHandle{}
	p.handles = append(p.handles, h)
	return h, nil
}

var (
	errObjectNotFound = errors.New("afc: object not found")
	errPermDenied     = errors.New("afc: permission denied")
	errNoSpace        = errors.New("afc: no space left")
)

// fakeFS is the device media area shared by staging and install sessions.
type fakeFS struct {
	mu    sync.Mutex
	dirs  map[string]bool
	files map[string][]byte
}

func newFakeFS() *fakeFS {
	return &fakeFS{dirs: map[string]bool{}, files: map[string][]byte{}}
}

func (fs *fakeFS) file(p string) ([]byte, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	data, ok := fs.files[p]
	return append([]byte(nil), data...), ok
}

type fakeLookup struct {
	mu        sync.Mutex
	fs        *fakeFS
	apps      map[string]instproxy.AppInfo
	paths     map[string]string
	lookupErr error
	pathErr   error
	installs  []string
	options   []map[string]any
	closed    bool
}

func (l *fakeLookup) Lookup(ids []string, opts instproxy.LookupOptions) (map[string]instproxy.AppInfo, error) {
	if l.lookupErr != nil {
		return nil, l.lookupErr
	}
	out := map[string]instproxy.AppInfo{}
	for _, id := range ids {
		if app, ok := l.apps[id]; ok {
			out[id] = app
		}
	}
	return out, nil
}

func (l *fakeLookup) PathForBundleIdentifier(id string) (string, error) {
	if l.pathErr != nil {
		return "", l.pathErr
	}
	p, ok := l.paths[id]
	if !ok {
		return "", instproxy.ErrAppNotFound
	}
	return p, nil
}

func (l *fakeLookup) Install(packagePath string, options map[string]any) error {
	l.mu.Lock()
	l.installs = append(l.installs, packagePath)
	l.options = append(l.options, options)
	l.mu.Unlock()
	if _, ok := l.fs.file(packagePath); !ok {
		return &instproxy.CommandError{
			Command:     "Install",
			Code:        "PackageInspectionFailed",
			Description: "Failed to open " + packagePath + ": No such file or directory",
		}
	}
	return nil
}

func (l *fakeLookup) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

type fakeStaging struct {
	fs          *fakeFS
	mu          sync.Mutex
	mkdirs      []string
	writes      int
	open        int
	failMkdir   bool
	dropCreated bool
	failOpen    bool
	failWrite   bool
	closed      bool
}

func newFakeStaging(fs *fakeFS) *fakeStaging {
	return &fakeStaging{fs: fs}
}

func (s *fakeStaging) Stat(p string) (device.PathInfo, error) {
	s.fs.mu.Lock()
	defer s.fs.mu.Unlock()
	switch {
	case s.fs.dirs[p]:
		return device.PathInfo{Dir: true}, nil
	case s.fs.files[p] != nil:
		return device.PathInfo{}, nil
	}
	return device.PathInfo{}, errObjectNotFound
}

func (s *fakeStaging) MakeDirectory(p string) error {
	s.mu.Lock()
	s.mkdirs = append(s.mkdirs, p)
	s.mu.Unlock()
	if s.failMkdir {
		return errPermDenied
	}
	if !s.dropCreated {
		s.fs.mu.Lock()
		s.fs.dirs[p] = true
		s.fs.mu.Unlock()
	}
	return nil
}

func (s *fakeStaging) OpenFile(p string, mode device.OpenMode) (io.ReadWriteCloser, error) {
	s.fs.mu.Lock()
	defer s.fs.mu.Unlock()
	if s.failOpen || !s.fs.dirs[path.Dir(p)] {
		return nil, errObjectNotFound
	}
	f := &fakeFile{s: s, path: p}
	switch mode {
	case device.OpenWriteTruncate:
		s.fs.files[p] = []byte{}
	case device.OpenRead:
		data, ok := s.fs.files[p]
		if !ok {
			return nil, errObjectNotFound
		}
		f.r = bytes.NewReader(append([]byte(nil), data...))
	}
	s.mu.Lock()
	s.open++
	s.mu.Unlock()
	return f, nil
}

func (s *fakeStaging) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type fakeFile struct {
	s    *fakeStaging
	path string
	r    *bytes.Reader
}

func (f *fakeFile) Read(p []byte) (int, error) {
	if f.r == nil {
		return 0, errPermDenied
	}
	return f.r.Read(p)
}

func (f *fakeFile) Write(p []byte) (int, error) {
	if f.s.failWrite {
		return 0, errNoSpace
	}
	f.s.mu.Lock()
	f.s.writes++
	f.s.mu.Unlock()
	f.s.fs.mu.Lock()
	defer f.s.fs.mu.Unlock()
	f.s.fs.files[f.path] = append(f.s.fs.files[f.path], p...)
	return len(p), nil
}

func (f *fakeFile) Close() error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	f.s.open--
	return nil
}

// fakeControl records every command and fails the command at failAt
// (1-based) with an error reply.
type fakeControl struct {
	mu       sync.Mutex
	commands []string
	failAt   int
	closed   bool
}

func (c *fakeControl) issue(cmd string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commands = append(c.commands, cmd)
	if len(c.commands) == c.failAt {
		return "E45", &debugserver.ReplyError{Command: cmd, Reply: "E45"}
	}
	return "OK", nil
}

func (c *fakeControl) SendCommand(cmd string) (string, error) {
	return c.issue(cmd)
}

func (c *fakeControl) SetArgv(args []string) (string, error) {
	return c.issue("argv:" + strings.Join(args, "|"))
}

func (c *fakeControl) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type fakeFactory struct {
	mu          sync.Mutex
	lookup      *fakeLookup
	staging     *fakeStaging
	control     *fakeControl
	unavailable map[string]error
	opened      []string
}

func (f *fakeFactory) open(name string, h device.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if h.Closed() {
		return device.ErrHandleClosed
	}
	f.opened = append(f.opened, name)
	if err := f.unavailable[name]; err != nil {
		return err
	}
	return nil
}

func (f *fakeFactory) OpenLookup(_ context.Context, h device.Handle, _ string) (device.LookupSession, error) {
	if err := f.open("lookup", h); err != nil {
		return nil, err
	}
	return f.lookup, nil
}

func (f *fakeFactory) OpenStaging(_ context.Context, h device.Handle, _ string) (device.StagingSession, error) {
	if err := f.open("staging", h); err != nil {
		return nil, err
	}
	return f.staging, nil
}

func (f *fakeFactory) OpenControl(_ context.Context, h device.Handle, _ string) (device.ControlSession, error) {
	if err := f.open("control", h); err != nil {
		return nil, err
	}
	return f.control, nil
}

// fakeRecorder captures telemetry.
type fakeRecorder struct {
	mu       sync.Mutex
	ops      []string
	commands []string
	staged   int
}

func (r *fakeRecorder) ObserveOperation(op string, status string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, op+"="+status)
}

func (r *fakeRecorder) ObserveControlCommand(stage string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, stage+"="+result)
}

func (r *fakeRecorder) AddStagedBytes(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.staged += n
}

var errMuxDown = errors.New("usbmuxd: connection refused")

const (
	testBundle    = "com.example.app"
	testContainer = "/private/var/mobile/Containers/Data/Application/1111"
	testExec      = "/private/var/containers/Bundle/Application/2222/Example.app/Example"
)

type fixture struct {
	fs       *fakeFS
	provider *fakeProvider
	factory  *fakeFactory
	recorder *fakeRecorder
	runner   *Runner
}

func newFixture() *fixture {
	fs := newFakeFS()
	lookup := &fakeLookup{
		fs: fs,
		apps: map[string]instproxy.AppInfo{
			testBundle: {
				instproxy.AttrBundleIdentifier: testBundle,
				instproxy.AttrContainer:        testContainer,
			},
		},
		paths: map[string]string{testBundle: testExec},
	}
	factory := &fakeFactory{
		lookup:      lookup,
		staging:     newFakeStaging(fs),
		control:     &fakeControl{},
		unavailable: map[string]error{},
	}
	provider := &fakeProvider{}
	recorder := &fakeRecorder{}
	return &fixture{
		fs:       fs,
		provider: provider,
		factory:  factory,
		recorder: recorder,
		runner:   NewRunner(provider, factory, Config{Label: "muxctl-test", Recorder: recorder}),
	}
}

func (f *fixture) allHandlesClosed() bool {
	f.provider.mu.Lock()
	defer f.provider.mu.Unlock()
	for _, h := range f.provider.handles {
		if !h.Closed() {
			return false
		}
	}
	return true
}
