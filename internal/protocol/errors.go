package protocol

import "errors"

var ErrInvalidLength = errors.New("protocol: invalid length")
