package config

import (
	"github.com/danmuck/muxctl/internal/device"
	"github.com/danmuck/muxctl/internal/ops"
)

func (c Config) Device() device.Config {
	return device.Config{
		MuxAddress: c.UsbmuxdAddress,
		UDID:       c.UDID,
		Label:      c.Label,
	}
}

func (c Config) Runner(rec ops.Recorder) ops.Config {
	return ops.Config{
		Label:         c.Label,
		StagingRoot:   c.StagingRoot,
		MaxPacketSize: c.MaxPacketSize,
		Recorder:      rec,
	}
}
