// Package device acquires the tethered device through go-ios and opens typed
// service sessions against it.
package device

import (
	"context"
	"io"

	"github.com/danmuck/muxctl/internal/protocol/debugserver"
	"github.com/danmuck/muxctl/internal/protocol/instproxy"
)

// Connection types reported by usbmuxd.
const (
	ConnectionUSB     = "USB"
	ConnectionNetwork = "Network"
)

// Info describes one attached device.
type Info struct {
	UDID           string
	DeviceID       int
	ConnectionType string
	ProductID      int
}

// Handle identifies the device for the duration of one operation.
type Handle interface {
	UDID() string
	DeviceID() int
	ConnectionType() string
	Closed() bool
	Close() error
}

type Provider interface {
	Acquire(ctx context.Context) (Handle, error)
}

// LookupSession is an installation proxy connection.
type LookupSession interface {
	Lookup(bundleIDs []string, opts instproxy.LookupOptions) (map[string]instproxy.AppInfo, error)
	PathForBundleIdentifier(bundleID string) (string, error)
	Install(packagePath string, options map[string]any) error
	Close() error
}

// PathInfo describes an existing path on the staging service.
type PathInfo struct {
	Dir bool
}

// OpenMode selects how StagingSession.OpenFile opens a remote file.
type OpenMode int

const (
	OpenRead OpenMode = iota + 1
	OpenWriteTruncate
)

// StagingSession is an AFC connection. Stat fails for paths that do not
// exist.
type StagingSession interface {
	Stat(path string) (PathInfo, error)
	MakeDirectory(path string) error
	OpenFile(path string, mode OpenMode) (io.ReadWriteCloser, error)
	Close() error
}

// ControlSession is a debugserver connection.
type ControlSession interface {
	SendCommand(command string) (string, error)
	SetArgv(args []string) (string, error)
	Close() error
}

// SessionFactory opens service sessions. The label is carried in logs.
// Callers own and close every returned session.
type SessionFactory interface {
	OpenLookup(ctx context.Context, h Handle, label string) (LookupSession, error)
	OpenStaging(ctx context.Context, h Handle, label string) (StagingSession, error)
	OpenControl(ctx context.Context, h Handle, label string) (ControlSession, error)
}

var (
	_ LookupSession  = (*instproxy.Client)(nil)
	_ StagingSession = (*afcSession)(nil)
	_ ControlSession = (*debugserver.Client)(nil)
	_ SessionFactory = (*ServiceFactory)(nil)
	_ Provider       = (*MuxProvider)(nil)
)
