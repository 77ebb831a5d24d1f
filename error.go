package canmon

import (
	"errors"

	"github.com/roffe/canmon/pkg/serialport"
)

var (
	// ErrLinkLost ends a session when the byte source fails unexpectedly
	ErrLinkLost = serialport.ErrLinkLost
	// ErrDeviceUnavailable is returned when the device cannot be opened
	ErrDeviceUnavailable = serialport.ErrDeviceUnavailable

	ErrAlreadyStarted = errors.New("stream already started")
)

type linkLostError struct {
	error
}

func (e linkLostError) Error() string {
	if e.error == nil {
		return ErrLinkLost.Error()
	}
	return e.error.Error()
}

func (e linkLostError) Unwrap() error {
	return e.error
}

func (e linkLostError) Is(target error) bool {
	return target == ErrLinkLost
}

// LinkLost marks err as fatal for the current session
func LinkLost(err error) error {
	if err == nil || errors.Is(err, ErrLinkLost) {
		return err
	}
	return linkLostError{err}
}
