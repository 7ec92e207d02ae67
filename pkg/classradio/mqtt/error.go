package mqtt

import "errors"

var (
	// ErrNotConnected is returned when the transport is used before Connect or after Disconnect.
	ErrNotConnected = errors.New("transport is not connected to broker")
	// ErrPacketTooLong is returned by Send for packets above the radio packet length.
	ErrPacketTooLong = errors.New("packet exceeds radio packet length")
)
