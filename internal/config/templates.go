package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

const templateHeader = `# muxctl configuration.
# udid selects a device when more than one is attached; empty picks the first.
# usbmuxd_address is exported as USBMUXD_SOCKET_ADDRESS ("host:port" or a
# socket path); empty keeps the environment or the platform default socket.

`

// Template renders Default() as TOML.
func Template() (string, error) {
	cfg := Default()
	raw := fileConfig{
		Label:          cfg.Label,
		UDID:           cfg.UDID,
		UsbmuxdAddress: cfg.UsbmuxdAddress,
		StagingRoot:    cfg.StagingRoot,
		MaxPacketSize:  cfg.MaxPacketSize,
		Server: fileServerConfig{
			Addr:            cfg.Server.Addr,
			CorsOrigins:     cfg.Server.CorsOrigins,
			Token:           cfg.Server.Token,
			MaxPackageBytes: cfg.Server.MaxPackageBytes,
		},
	}
	body, err := toml.Marshal(raw)
	if err != nil {
		return "", fmt.Errorf("render config template: %w", err)
	}
	return templateHeader + string(body), nil
}

func WriteTemplate(path string, overwrite bool) error {
	template, err := Template()
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}
