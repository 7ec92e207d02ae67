package udp

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/exepirit/classradio/internal/log"
	"github.com/exepirit/classradio/pkg/classradio"
)

// Logger is used by transports created without their own logger.
var Logger log.Logger = slog.Default()

var (
	// Group is the multicast address shared by every radio on the LAN.
	Group = net.IPv4(224, 0, 0, 69)
	// BasePort is the port of channel 0; channel n listens on BasePort+n.
	BasePort = 4403
)

var magic = []byte{0x94, 0xc3}

const (
	tagLength    = 4
	headerLength = len("\x94\xc3") + tagLength
)

var _ classradio.Radio = &Transport{}

// Transport is a Radio over LAN multicast. Frames carry a magic header and a
// random sender tag so that a transport can skip its own looped-back packets.
type Transport struct {
	Interface *net.Interface
	Settings  classradio.RadioSettings
	Logger    log.Logger

	tag  []byte
	mu   sync.Mutex
	conn *net.UDPConn
	rx   chan []byte
	stop chan struct{}
	done chan struct{}
	port int
}

// NewTransport joins the multicast group on intf (nil for the system default)
// and tunes the default channel.
func NewTransport(intf *net.Interface) (*Transport, error) {
	t := &Transport{
		Interface: intf,
		Settings:  classradio.DefaultRadioSettings,
		Logger:    Logger,
		tag:       make([]byte, tagLength),
	}
	_, _ = rand.Read(t.tag)
	t.rx = make(chan []byte, max(t.Settings.Queue, 1))
	if err := t.Tune(t.Settings.Channel); err != nil {
		return nil, err
	}
	return t, nil
}

// Tune rejoins the group on the port of channel and drops queued packets.
func (t *Transport) Tune(channel uint8) error {
	if channel > classradio.MaxChannel {
		return fmt.Errorf("channel %d above %d", channel, classradio.MaxChannel)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.closeConn()

	port := BasePort + int(channel)
	conn, err := net.ListenMulticastUDP("udp4", t.Interface, &net.UDPAddr{IP: Group, Port: port})
	if err != nil {
		return fmt.Errorf("failed to join multicast group: %w", err)
	}
	t.conn = conn
	t.port = port
	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	for len(t.rx) > 0 {
		<-t.rx
	}

	go t.listen(conn, t.stop, t.done)
	t.Logger.Debug("Joined multicast group", "group", Group, "port", port)
	return nil
}

func (t *Transport) closeConn() {
	if t.conn == nil {
		return
	}
	close(t.stop)
	_ = t.conn.Close()
	<-t.done
	t.conn = nil
}

func (t *Transport) listen(conn *net.UDPConn, stop, done chan struct{}) {
	defer close(done)
	buf := make([]byte, 1500)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, addr, err := conn.ReadFromUDP(buf)
		select {
		case <-stop:
			return
		default:
		}
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			t.Logger.Warn("UDP read failed", "error", err)
			continue
		}

		payload, tag, err := decodeFrame(buf[:n])
		if err != nil {
			t.Logger.Debug("Dropping UDP datagram", "from", addr, "error", err)
			continue
		}
		if bytes.Equal(tag, t.tag) {
			continue
		}
		t.push(payload)
	}
}

func (t *Transport) push(packet []byte) {
	for {
		select {
		case t.rx <- packet:
			return
		default:
		}
		select {
		case <-t.rx:
		default:
		}
	}
}

// Send multicasts packet on the current channel.
func (t *Transport) Send(ctx context.Context, packet []byte) error {
	if len(packet) > t.Settings.Length {
		return fmt.Errorf("packet of %d bytes exceeds %d", len(packet), t.Settings.Length)
	}

	t.mu.Lock()
	port := t.port
	t.mu.Unlock()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp4", (&net.UDPAddr{IP: Group, Port: port}).String())
	if err != nil {
		return err
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}
	_, err = conn.Write(encodeFrame(t.tag, packet))
	return err
}

// Receive returns a queued packet or classradio.ErrEmptyQueue.
func (t *Transport) Receive(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case packet := <-t.rx:
		return packet, nil
	default:
		return nil, classradio.ErrEmptyQueue
	}
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeConn()
	return nil
}

func encodeFrame(tag, payload []byte) []byte {
	frame := make([]byte, 0, headerLength+len(payload))
	frame = append(frame, magic...)
	frame = append(frame, tag...)
	return append(frame, payload...)
}

func decodeFrame(frame []byte) (payload, tag []byte, err error) {
	if len(frame) < headerLength || !bytes.Equal(frame[:len(magic)], magic) {
		return nil, nil, classradio.ErrInvalidPacketFormat
	}
	tag = append([]byte(nil), frame[len(magic):headerLength]...)
	payload = append([]byte(nil), frame[headerLength:]...)
	return payload, tag, nil
}
