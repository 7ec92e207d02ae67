package serial

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/exepirit/classradio/internal/log"
	"github.com/exepirit/classradio/pkg/classradio"
	"go.bug.st/serial"
)

// MaxLineLength bounds a line; longer input is discarded up to the next newline.
const MaxLineLength = 4096

// readTimeout lets a blocked serial read notice a cancelled context.
const readTimeout = 100 * time.Millisecond

// NewTransport opens the serial port at the given baud rate (115200 when 0).
func NewTransport(port string, baudRate int) (*StreamTransport, error) {
	if baudRate == 0 {
		baudRate = 115200
	}
	mode := &serial.Mode{
		BaudRate: baudRate,
	}
	p, err := serial.Open(port, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port: %w", err)
	}
	if err := p.SetReadTimeout(readTimeout); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	return &StreamTransport{Stream: p}, nil
}

// NewStdio links over a reader and writer pair, such as the process standard streams.
func NewStdio(r io.Reader, w io.Writer) *StreamTransport {
	return &StreamTransport{Stream: stdio{Reader: r, Writer: w}}
}

type stdio struct {
	io.Reader
	io.Writer
}

func (stdio) Close() error { return nil }

var _ classradio.LineConn = &StreamTransport{}

// StreamTransport carries newline-delimited lines over a stream (e.g. a serial port or stdio).
type StreamTransport struct {
	Stream io.ReadWriteCloser
	Logger log.Logger

	readLock  sync.Mutex
	writeLock sync.Mutex
	pending   []byte
	skipping  bool
}

// ReadLine returns the next line without its terminator. A reader that reports
// no data (a serial read timeout) is polled again until ctx is done.
func (st *StreamTransport) ReadLine(ctx context.Context) ([]byte, error) {
	st.readLock.Lock()
	defer st.readLock.Unlock()

	chunk := make([]byte, 256)
	for {
		if line, ok := st.nextLine(); ok {
			return line, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, err := st.Stream.Read(chunk)
		if n > 0 {
			st.pending = append(st.pending, chunk[:n]...)
			if !bytes.Contains(st.pending, []byte{'\n'}) && len(st.pending) > MaxLineLength {
				log.OrDefault(st.Logger).Warn("Discarding oversized line", "length", len(st.pending))
				st.pending = st.pending[:0]
				st.skipping = true
			}
		}
		if err != nil {
			if line, ok := st.nextLine(); ok {
				return line, nil
			}
			return nil, err
		}
	}
}

func (st *StreamTransport) nextLine() ([]byte, bool) {
	for {
		i := bytes.IndexByte(st.pending, '\n')
		if i < 0 {
			return nil, false
		}
		line := bytes.TrimRight(st.pending[:i], "\r")
		out := append([]byte(nil), line...)
		st.pending = append(st.pending[:0], st.pending[i+1:]...)
		if st.skipping {
			st.skipping = false
			continue
		}
		if len(out) > MaxLineLength {
			log.OrDefault(st.Logger).Warn("Discarding oversized line", "length", len(out))
			continue
		}
		return out, true
	}
}

// WriteLine writes line followed by a newline.
func (st *StreamTransport) WriteLine(ctx context.Context, line []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if bytes.ContainsRune(line, '\n') {
		return classradio.ErrInvalidPacketFormat
	}

	st.writeLock.Lock()
	defer st.writeLock.Unlock()
	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')
	_, err := st.Stream.Write(buf)
	return err
}

func (st *StreamTransport) Close() error {
	return st.Stream.Close()
}
