package ops

import (
	"fmt"

	"github.com/danmuck/muxctl/internal/device"
	"github.com/danmuck/muxctl/internal/protocol/instproxy"
)

// ApplicationRecord is what EnableJIT needs to launch an installed app.
type ApplicationRecord struct {
	BundleIdentifier string
	ContainerPath    string
	BundlePath       string
}

var lookupAttributes = []string{
	instproxy.AttrBundleIdentifier,
	instproxy.AttrBundleExecutable,
	instproxy.AttrBundlePath,
	instproxy.AttrBundleContainer,
	instproxy.AttrContainer,
}

// Locator resolves bundle identifiers through the installation proxy.
type Locator struct{}

// Resolve returns the container and executable path of bundleID. Both must
// resolve; a partial record is never returned.
func (Locator) Resolve(s device.LookupSession, bundleID string) (ApplicationRecord, error) {
	apps, err := s.Lookup([]string{bundleID}, instproxy.LookupOptions{
		ApplicationType:  instproxy.ApplicationTypeAny,
		ReturnAttributes: lookupAttributes,
	})
	if err != nil {
		return ApplicationRecord{}, fmt.Errorf("%w: %s: %w", ErrLookupFailed, bundleID, err)
	}
	app, ok := apps[bundleID]
	if !ok {
		return ApplicationRecord{}, fmt.Errorf("%w: %s", ErrNotInstalled, bundleID)
	}
	container, ok := app.String(instproxy.AttrContainer)
	if !ok || container == "" {
		return ApplicationRecord{}, fmt.Errorf("%w: %s has no container", ErrNotInstalled, bundleID)
	}
	bundlePath, err := s.PathForBundleIdentifier(bundleID)
	if err != nil {
		return ApplicationRecord{}, fmt.Errorf("%w: %s executable path: %w", ErrLookupFailed, bundleID, err)
	}
	return ApplicationRecord{
		BundleIdentifier: bundleID,
		ContainerPath:    container,
		BundlePath:       bundlePath,
	}, nil
}
