package ops

import (
	"fmt"

	"github.com/danmuck/muxctl/internal/device"
	"github.com/danmuck/muxctl/internal/protocol/instproxy"
)

// Installer installs a package previously staged under Root.
type Installer struct {
	Root string
}

func (i Installer) Install(s device.LookupSession, bundleID string) error {
	path := StagingPath{Root: i.Root, BundleID: bundleID}.Package()
	options := map[string]any{instproxy.AttrBundleIdentifier: bundleID}
	if err := s.Install(path, options); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInstallFailed, path, err)
	}
	return nil
}
