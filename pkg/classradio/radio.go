package classradio

// RadioSettings describes the parameters every device tunes its radio with.
type RadioSettings struct {
	// Channel is the frequency channel used for public traffic.
	Channel uint8
	// Power is the transmit power level (0-7).
	Power uint8
	// Length is the maximum packet length in bytes.
	Length int
	// Queue is the number of received packets buffered before the oldest is dropped.
	Queue int
}

// MaxChannel is the highest channel number a radio can be tuned to.
const MaxChannel = 83

var DefaultRadioSettings = RadioSettings{
	Channel: 7,
	Power:   6,
	Length:  64,
	Queue:   10,
}
