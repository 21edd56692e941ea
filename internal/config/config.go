package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

var ErrInvalid = errors.New("config: invalid")

// Config is the muxctl runtime configuration.
type Config struct {
	Label          string
	UDID           string
	UsbmuxdAddress string
	StagingRoot    string
	MaxPacketSize  int
	Server         ServerConfig
}

type ServerConfig struct {
	Addr            string
	CorsOrigins     []string
	Token           string
	MaxPackageBytes int64
}

func Default() Config {
	return Config{
		Label:         "muxctl",
		StagingRoot:   "PublicStaging",
		MaxPacketSize: 1024,
		Server: ServerConfig{
			Addr:            "127.0.0.1:9380",
			CorsOrigins:     []string{"http://localhost:3000"},
			MaxPackageBytes: 512 << 20,
		},
	}
}

// fileConfig is the on-disk shape.
type fileConfig struct {
	Label          string           `toml:"label"`
	UDID           string           `toml:"udid"`
	UsbmuxdAddress string           `toml:"usbmuxd_address"`
	StagingRoot    string           `toml:"staging_root"`
	MaxPacketSize  int              `toml:"max_packet_size"`
	Server         fileServerConfig `toml:"server"`
}

type fileServerConfig struct {
	Addr            string   `toml:"addr"`
	CorsOrigins     []string `toml:"cors_origins"`
	Token           string   `toml:"token"`
	MaxPackageBytes int64    `toml:"max_package_bytes"`
}

// Load reads path over Default(); keys absent from the file keep their
// defaults. The result is validated.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%w: unknown key %q in %s", ErrInvalid, undecoded[0].String(), path)
	}

	if meta.IsDefined("label") {
		cfg.Label = strings.TrimSpace(raw.Label)
	}
	if meta.IsDefined("udid") {
		cfg.UDID = strings.TrimSpace(raw.UDID)
	}
	if meta.IsDefined("usbmuxd_address") {
		cfg.UsbmuxdAddress = strings.TrimSpace(raw.UsbmuxdAddress)
	}
	if meta.IsDefined("staging_root") {
		cfg.StagingRoot = strings.TrimSpace(raw.StagingRoot)
	}
	if meta.IsDefined("max_packet_size") {
		cfg.MaxPacketSize = raw.MaxPacketSize
	}

	if meta.IsDefined("server", "addr") {
		cfg.Server.Addr = strings.TrimSpace(raw.Server.Addr)
	}
	if meta.IsDefined("server", "cors_origins") {
		cfg.Server.CorsOrigins = normalizeList(raw.Server.CorsOrigins)
	}
	if meta.IsDefined("server", "token") {
		cfg.Server.Token = strings.TrimSpace(raw.Server.Token)
	}
	if meta.IsDefined("server", "max_package_bytes") {
		cfg.Server.MaxPackageBytes = raw.Server.MaxPackageBytes
	}

	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Label) == "" {
		return fmt.Errorf("%w: label is required", ErrInvalid)
	}
	root := strings.TrimSpace(cfg.StagingRoot)
	if root == "" {
		return fmt.Errorf("%w: staging_root is required", ErrInvalid)
	}
	if strings.ContainsAny(root, "/\\") || root == "." || root == ".." {
		return fmt.Errorf("%w: staging_root must be a single directory name: %q", ErrInvalid, root)
	}
	if cfg.MaxPacketSize <= 0 {
		return fmt.Errorf("%w: max_packet_size must be positive", ErrInvalid)
	}
	if strings.TrimSpace(cfg.Server.Addr) == "" {
		return fmt.Errorf("%w: server.addr is required", ErrInvalid)
	}
	if cfg.Server.MaxPackageBytes <= 0 {
		return fmt.Errorf("%w: server.max_package_bytes must be positive", ErrInvalid)
	}
	return nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
