// Package instproxy is a client for the installation proxy: application
// lookup and package installation.
package instproxy

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/danielpaulus/go-ios/ios"
	"github.com/danmuck/muxctl/internal/protocol"
	"howett.net/plist"
)

const ServiceName = "com.apple.mobile.installation_proxy"

// Application types accepted by Lookup.
const (
	ApplicationTypeAny    = "Any"
	ApplicationTypeUser   = "User"
	ApplicationTypeSystem = "System"
)

// Attribute keys used by this package.
const (
	AttrBundleIdentifier = "CFBundleIdentifier"
	AttrBundleExecutable = "CFBundleExecutable"
	AttrBundlePath       = "CFBundlePath"
	AttrPath             = "Path"
	AttrContainer        = "Container"
	AttrBundleContainer  = "BundlePath"
)

const statusComplete = "Complete"

var (
	ErrCommandFailed = errors.New("instproxy: command failed")
	ErrAppNotFound   = errors.New("instproxy: application not found")
	ErrClosed        = errors.New("instproxy: client closed")
)

// CommandError is an Error reply from the proxy.
type CommandError struct {
	Command     string
	Code        string
	Description string
}

func (e *CommandError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("instproxy: %s failed: %s", e.Command, e.Code)
	}
	return fmt.Sprintf("instproxy: %s failed: %s (%s)", e.Command, e.Code, e.Description)
}

func (e *CommandError) Unwrap() error {
	return ErrCommandFailed
}

// AppInfo is the attribute dictionary of one installed application.
type AppInfo map[string]any

// String returns attribute key when it is a string.
func (a AppInfo) String(key string) (string, bool) {
	v, ok := a[key].(string)
	return v, ok
}

type LookupOptions struct {
	ApplicationType  string
	ReturnAttributes []string
}

// Progress is one status update during Install.
type Progress struct {
	Status          string
	PercentComplete uint64
}

type lookupClientOptions struct {
	ApplicationType  string   `plist:"ApplicationType,omitempty"`
	ReturnAttributes []string `plist:"ReturnAttributes,omitempty"`
	BundleIDs        []string `plist:"BundleIDs,omitempty"`
}

type lookupRequest struct {
	Command       string              `plist:"Command"`
	ClientOptions lookupClientOptions `plist:"ClientOptions"`
}

type installRequest struct {
	Command       string         `plist:"Command"`
	PackagePath   string         `plist:"PackagePath"`
	ClientOptions map[string]any `plist:"ClientOptions,omitempty"`
}

type reply struct {
	Status           string                    `plist:"Status"`
	PercentComplete  uint64                    `plist:"PercentComplete"`
	Error            string                    `plist:"Error"`
	ErrorDescription string                    `plist:"ErrorDescription"`
	LookupResult     map[string]map[string]any `plist:"LookupResult"`
}

// Client is one installation proxy connection. Progress, when set, receives
// every intermediate Install status.
type Client struct {
	mu       sync.Mutex
	conn     protocol.Conn
	codec    ios.PlistCodec
	closed   bool
	Progress func(Progress)
}

func NewClient(conn protocol.Conn) *Client {
	return &Client{conn: conn, codec: ios.NewPlistCodec()}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// Lookup returns installed applications keyed by bundle identifier. An
// empty bundleIDs list asks for every application of opts.ApplicationType.
func (c *Client) Lookup(bundleIDs []string, opts LookupOptions) (map[string]AppInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}

	req := lookupRequest{
		Command: "Lookup",
		ClientOptions: lookupClientOptions{
			ApplicationType:  opts.ApplicationType,
			ReturnAttributes: opts.ReturnAttributes,
			BundleIDs:        bundleIDs,
		},
	}
	if err := c.send(req); err != nil {
		return nil, fmt.Errorf("instproxy: write lookup: %w", err)
	}
	out := make(map[string]AppInfo)
	for {
		resp, err := c.receive()
		if err != nil {
			return nil, fmt.Errorf("instproxy: read lookup: %w", err)
		}
		if resp.Error != "" {
			return nil, &CommandError{Command: "Lookup", Code: resp.Error, Description: resp.ErrorDescription}
		}
		for id, attrs := range resp.LookupResult {
			out[id] = AppInfo(attrs)
		}
		if resp.Status == "" || resp.Status == statusComplete {
			return out, nil
		}
	}
}

// PathForBundleIdentifier returns the on-device path of the application's
// main executable.
func (c *Client) PathForBundleIdentifier(bundleID string) (string, error) {
	apps, err := c.Lookup([]string{bundleID}, LookupOptions{
		ApplicationType:  ApplicationTypeAny,
		ReturnAttributes: []string{AttrBundleIdentifier, AttrBundleExecutable, AttrPath},
	})
	if err != nil {
		return "", err
	}
	app, ok := apps[bundleID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrAppNotFound, bundleID)
	}
	dir, ok := app.String(AttrPath)
	if !ok || dir == "" {
		return "", fmt.Errorf("%w: %s has no %s", ErrAppNotFound, bundleID, AttrPath)
	}
	exe, ok := app.String(AttrBundleExecutable)
	if !ok || exe == "" {
		return "", fmt.Errorf("%w: %s has no %s", ErrAppNotFound, bundleID, AttrBundleExecutable)
	}
	return strings.TrimSuffix(dir, "/") + "/" + exe, nil
}

// Install installs the package at packagePath (relative to the media root)
// and blocks until the proxy reports completion or an error.
func (c *Client) Install(packagePath string, options map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	req := installRequest{Command: "Install", PackagePath: packagePath, ClientOptions: options}
	if err := c.send(req); err != nil {
		return fmt.Errorf("instproxy: write install: %w", err)
	}
	for {
		resp, err := c.receive()
		if err != nil {
			return fmt.Errorf("instproxy: read install status: %w", err)
		}
		if resp.Error != "" {
			return &CommandError{Command: "Install", Code: resp.Error, Description: resp.ErrorDescription}
		}
		if c.Progress != nil {
			c.Progress(Progress{Status: resp.Status, PercentComplete: resp.PercentComplete})
		}
		if resp.Status == statusComplete {
			return nil
		}
	}
}

func (c *Client) send(req any) error {
	msg, err := c.codec.Encode(req)
	if err != nil {
		return err
	}
	return c.conn.Send(msg)
}

func (c *Client) receive() (reply, error) {
	body, err := c.codec.Decode(c.conn.Reader())
	if err != nil {
		return reply{}, err
	}
	var resp reply
	if _, err := plist.Unmarshal(body, &resp); err != nil {
		return reply{}, fmt.Errorf("instproxy: decode reply: %w", err)
	}
	return resp, nil
}
