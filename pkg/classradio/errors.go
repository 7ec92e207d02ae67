package classradio

import (
	"errors"
)

var (
	// ErrInvalidPacketFormat indicates a problem in structure of received packet.
	ErrInvalidPacketFormat = errors.New("invalid packet data format")
	// ErrNotEncodable is returned when a CSV message is encoded without group or role set.
	ErrNotEncodable = errors.New("message context is incomplete")
	// ErrEmptyQueue is returned by a non-blocking receive when no packet is waiting.
	ErrEmptyQueue = errors.New("no data in queue")
	// ErrTimeout is returned when a bounded wait ends without a packet.
	ErrTimeout = errors.New("operation timed out")
	// ErrRoleClone reports two devices of the same group configured with the same role.
	ErrRoleClone = errors.New("another device claims this group and role")
	// ErrUnknownRole is returned when a role outside the configured role list is requested.
	ErrUnknownRole = errors.New("unknown role")
	// ErrBusy is returned when the hub is already running discovery or polling.
	ErrBusy = errors.New("hub is busy")
	// ErrUnknownCommand is returned for host command lines outside the command vocabulary.
	ErrUnknownCommand = errors.New("unknown host command")
)
