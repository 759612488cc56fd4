package radio

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.bug.st/serial"

	"github.com/itohio/gasnode/pkg/telemetry"
)

// DefaultBaudRate is the factory rate of HM-10 style UART radio modules.
const DefaultBaudRate = 9600

// Port represents a serial port.
type Port struct {
	Name        string
	Description string
}

// Ports returns a list of available serial ports.
func Ports() ([]Port, error) {
	names, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	result := make([]Port, 0, len(names))
	for _, name := range names {
		result = append(result, Port{Name: name, Description: name})
	}
	return result, nil
}

// Serial drives a UART BLE module with AT commands. In transparent mode every
// byte written to the UART is notified to the connected central. The module
// reports link changes as status lines:
//
//	OK+CONN[:peer]
//	OK+LOST
type Serial struct {
	port     string
	baudRate int
	open     func(name string, mode *serial.Mode) (serial.Port, error)

	mu        sync.RWMutex
	conn      serial.Port
	cancel    context.CancelFunc
	done      chan struct{}
	handler   func(Event)
	connected bool
	peer      uint16
}

var _ Transport = (*Serial)(nil)

// NewSerial creates a transport for the module on port. The port is opened by Active.
func NewSerial(port string, baudRate int) *Serial {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	return &Serial{
		port:     port,
		baudRate: baudRate,
		open:     serial.Open,
	}
}

func (d *Serial) Active(on bool) error {
	if on {
		return d.connect()
	}
	return d.close()
}

func (d *Serial) connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn != nil {
		return nil
	}

	port, err := d.open(d.port, &serial.Mode{BaudRate: d.baudRate})
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", d.port, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.conn = port
	d.cancel = cancel
	d.done = make(chan struct{})

	go d.readEvents(ctx, port, d.done)

	return d.command("AT")
}

func (d *Serial) close() error {
	d.mu.Lock()
	if d.conn == nil {
		d.mu.Unlock()
		return nil
	}

	if err := d.command("AT+SLEEP"); err != nil {
		log.Debug().Err(err).Str("port", d.port).Msg("radio sleep command failed")
	}
	d.cancel()
	err := d.conn.Close()
	d.conn = nil
	done := d.done
	d.mu.Unlock()

	<-done
	d.lost()

	if err != nil {
		return fmt.Errorf("failed to close serial port %s: %w", d.port, err)
	}
	return nil
}

func (d *Serial) SetEventHandler(fn func(Event)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handler = fn
}

// RegisterService configures the module's service and characteristic. The
// module exposes a single characteristic, so the handle is always 1.
func (d *Serial) RegisterService(svc Service) (Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.command("AT+UUID" + svc.UUID); err != nil {
		return 0, err
	}
	if err := d.command("AT+CHAR" + svc.Characteristic); err != nil {
		return 0, err
	}
	return 1, nil
}

func (d *Serial) Advertise(interval time.Duration, payload []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	cmds := []string{
		"AT+ADVI" + strconv.FormatInt(interval.Milliseconds(), 10),
		"AT+ADVD" + strings.ToUpper(hex.EncodeToString(payload)),
		"AT+START",
	}
	for _, cmd := range cmds {
		if err := d.command(cmd); err != nil {
			return err
		}
	}
	return nil
}

// Write is a no-op beyond checking the port: the module keeps no readable value
// apart from what it notifies.
func (d *Serial) Write(h Handle, data []byte) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.conn == nil {
		return errors.New("not connected")
	}
	return nil
}

func (d *Serial) Notify(peer uint16, h Handle, data []byte) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.conn == nil {
		return errors.New("not connected")
	}
	if !d.connected {
		return fmt.Errorf("peer %d: %w", peer, telemetry.ErrLinkUnavailable)
	}
	if _, err := d.conn.Write(data); err != nil {
		return fmt.Errorf("failed to send frame: %w", err)
	}
	return nil
}

// IsConnected returns whether a central is attached.
func (d *Serial) IsConnected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connected
}

// command writes an AT command. Callers hold mu.
func (d *Serial) command(cmd string) error {
	if d.conn == nil {
		return errors.New("not connected")
	}
	if _, err := d.conn.Write([]byte(cmd + "\r\n")); err != nil {
		return fmt.Errorf("failed to send %s: %w", cmd, err)
	}
	return nil
}

// readEvents reads status lines from the module and turns them into link events.
func (d *Serial) readEvents(ctx context.Context, r io.Reader, done chan struct{}) {
	defer close(done)
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Msg("panic in radio reader")
		}
	}()

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		ev, ok, err := parseStatus(line)
		if err != nil {
			log.Warn().Err(err).Str("line", line).Msg("failed to parse radio status")
			continue
		}
		if !ok {
			log.Debug().Str("line", line).Msg("radio response")
			continue
		}

		switch ev.Kind {
		case EventConnected:
			d.attach(ev.Peer)
		case EventDisconnected:
			d.lost()
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Str("port", d.port).Msg("error reading from radio")
	}
}

func (d *Serial) attach(peer uint16) {
	d.mu.Lock()
	d.connected = true
	d.peer = peer
	fn := d.handler
	d.mu.Unlock()

	if fn != nil {
		fn(Event{Kind: EventConnected, Peer: peer})
	}
}

func (d *Serial) lost() {
	d.mu.Lock()
	if !d.connected {
		d.mu.Unlock()
		return
	}
	d.connected = false
	peer := d.peer
	fn := d.handler
	d.mu.Unlock()

	if fn != nil {
		fn(Event{Kind: EventDisconnected, Peer: peer})
	}
}

// parseStatus parses a module status line. ok is false for command responses
// that carry no link event.
// Format: OK+CONN, OK+CONN:<peer>, OK+LOST
func parseStatus(line string) (ev Event, ok bool, err error) {
	switch {
	case line == "OK+LOST":
		return Event{Kind: EventDisconnected}, true, nil
	case line == "OK+CONN":
		return Event{Kind: EventConnected}, true, nil
	case strings.HasPrefix(line, "OK+CONN:"):
		peer, err := strconv.ParseUint(strings.TrimPrefix(line, "OK+CONN:"), 10, 16)
		if err != nil {
			return Event{}, false, fmt.Errorf("invalid peer handle: %w", err)
		}
		return Event{Kind: EventConnected, Peer: uint16(peer)}, true, nil
	}
	return Event{}, false, nil
}
