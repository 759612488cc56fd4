package radio

import (
	"fmt"
	"time"

	"github.com/itohio/gasnode/pkg/telemetry"
)

// GATT identity of the telemetry service (Nordic UART layout). The host
// receiver subscribes to CharacteristicUUID.
const (
	ServiceUUID        = "6E400001-B5A3-F393-E0A9-E50E24DCCA9E"
	CharacteristicUUID = "6E400003-B5A3-F393-E0A9-E50E24DCCA9E"
)

const (
	// FrameReadings is the maximum number of readings per notification.
	FrameReadings = 2
	// DefaultFrameDelay spaces notifications to respect radio throughput.
	DefaultFrameDelay = 20 * time.Millisecond
	// DefaultAdvertiseInterval is the advertising interval.
	DefaultAdvertiseInterval = 100 * time.Millisecond

	maxAdvertisingPayload = 31
)

// CharFlags are GATT characteristic properties.
type CharFlags uint8

const (
	FlagRead   CharFlags = 0x02
	FlagNotify CharFlags = 0x10
)

// Service describes the single service/characteristic pair the sink registers.
type Service struct {
	UUID           string
	Characteristic string
	Flags          CharFlags
}

// TelemetryService is the service registered by Enable.
var TelemetryService = Service{
	UUID:           ServiceUUID,
	Characteristic: CharacteristicUUID,
	Flags:          FlagRead | FlagNotify,
}

// Handle identifies a registered characteristic.
type Handle uint16

// EventKind is a link-layer event type.
type EventKind int

const (
	EventConnected EventKind = iota + 1
	EventDisconnected
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event is a link-layer interrupt: a central attached or went away.
type Event struct {
	Kind EventKind
	Peer uint16
}

// ConnectionState is either Disconnected or Connected to Peer.
type ConnectionState struct {
	Connected bool
	Peer      uint16
}

func (s ConnectionState) String() string {
	if !s.Connected {
		return "disconnected"
	}
	return fmt.Sprintf("connected(%d)", s.Peer)
}

// Transport is the radio capability: power, one GATT service, advertising and
// notifications to at most one peer. Link events are delivered to the handler,
// possibly from another goroutine.
type Transport interface {
	// Active powers the radio. Deactivating drops any connected peer.
	Active(on bool) error
	// SetEventHandler installs the link event callback.
	SetEventHandler(fn func(Event))
	// RegisterService registers svc and returns its characteristic handle.
	RegisterService(svc Service) (Handle, error)
	// Advertise starts advertising payload at the given interval.
	Advertise(interval time.Duration, payload []byte) error
	// Write sets the characteristic value readable by the peer.
	Write(h Handle, data []byte) error
	// Notify pushes data to peer. It fails when the peer is gone.
	Notify(peer uint16, h Handle, data []byte) error
}

// AdvertisingPayload builds the advertisement: LE General Discoverable /
// BR/EDR not supported flags followed by the complete local name.
func AdvertisingPayload(name string) ([]byte, error) {
	payload := make([]byte, 0, maxAdvertisingPayload)
	payload = append(payload, 0x02, 0x01, 0x06)
	payload = append(payload, byte(len(name)+1), 0x09)
	payload = append(payload, name...)

	if len(payload) > maxAdvertisingPayload {
		return nil, fmt.Errorf("advertising payload for %q is %d bytes, max %d: %w", name, len(payload), maxAdvertisingPayload, telemetry.ErrDomain)
	}
	return payload, nil
}
