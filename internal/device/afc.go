package device

import (
	"errors"
	"fmt"
	"io"

	"github.com/danielpaulus/go-ios/ios"
	"github.com/danielpaulus/go-ios/ios/afc"
)

const StagingServiceName = "com.apple.afc"

var errOpenMode = errors.New("device: unknown open mode")

// afcSession adapts the go-ios AFC client to StagingSession.
type afcSession struct {
	client *afc.Client
}

func openAFC(entry ios.DeviceEntry) (StagingSession, error) {
	client, err := afc.New(entry)
	if err != nil {
		return nil, err
	}
	return &afcSession{client: client}, nil
}

func (s *afcSession) Stat(path string) (PathInfo, error) {
	info, err := s.client.Stat(path)
	if err != nil {
		return PathInfo{}, err
	}
	return PathInfo{Dir: info.IsDir()}, nil
}

func (s *afcSession) MakeDirectory(path string) error {
	return s.client.MkDir(path)
}

func (s *afcSession) OpenFile(path string, mode OpenMode) (io.ReadWriteCloser, error) {
	var m afc.Mode
	switch mode {
	case OpenRead:
		m = afc.READ_ONLY
	case OpenWriteTruncate:
		m = afc.WRITE_ONLY_CREATE_TRUNC
	default:
		return nil, fmt.Errorf("%w: %d", errOpenMode, mode)
	}
	f, err := s.client.Open(path, m)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (s *afcSession) Close() error {
	return s.client.Close()
}
