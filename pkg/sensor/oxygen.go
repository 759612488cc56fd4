package sensor

import (
	"fmt"
	"time"

	"github.com/chewxy/math32"
	"github.com/rs/zerolog/log"
	"periph.io/x/conn/v3/i2c"

	"github.com/itohio/gasnode/pkg/config"
	"github.com/itohio/gasnode/pkg/telemetry"
)

// DFRobot Gravity oxygen sensor addresses, selected with the on-board DIP switch.
const (
	OxygenAddress0 = 0x70
	OxygenAddress1 = 0x71
	OxygenAddress2 = 0x72
	OxygenAddress3 = 0x73
)

const (
	regOxygenData   = 0x03
	regUserSet      = 0x08
	regAutoSet      = 0x09
	regKey          = 0x0A
	oxygenFrameSize = 3

	// OxygenHistorySize is the capacity of the averaging window.
	OxygenHistorySize = config.MaxCollectNum
	// DefaultCollectNum is the averaging window used by Read.
	DefaultCollectNum = 10
	// DefaultOxygenKey is the calibration ratio assumed when the sensor stores none.
	DefaultOxygenKey = 20.9 / 120.0

	calibrationEpsilon = 1e-6
)

// Oxygen drives a DFRobot Gravity I2C oxygen sensor. It keeps a moving average
// of calibrated readings across calls.
type Oxygen struct {
	dev        *i2c.Dev
	collectNum int
	keyDelay   time.Duration
	sleep      func(time.Duration)

	key     float64
	count   int
	history [OxygenHistorySize]float64
	ok      bool
}

// NewOxygen probes the sensor once. If the probe fails the driver is returned
// in a non-functional state: Read reports ErrDeviceNotResponding without
// touching the bus.
func NewOxygen(bus i2c.Bus, cfg config.OxygenConfig, sleep func(time.Duration)) *Oxygen {
	addr := cfg.Address
	if addr == 0 {
		addr = OxygenAddress3
	}
	n := cfg.CollectNum
	if n == 0 {
		n = DefaultCollectNum
	}

	o := &Oxygen{
		dev:        &i2c.Dev{Bus: bus, Addr: addr},
		collectNum: n,
		keyDelay:   cfg.KeyDelay,
		sleep:      sleeper(sleep),
		key:        DefaultOxygenKey,
	}

	if err := o.probe(); err != nil {
		log.Warn().Err(err).Uint16("addr", addr).Msg("oxygen sensor init failed")
		return o
	}
	o.ok = true
	return o
}

func (o *Oxygen) probe() error {
	if _, err := o.readReg(regOxygenData, 1); err != nil {
		return err
	}
	return o.refreshKey()
}

// Label implements Sensor.
func (o *Oxygen) Label() telemetry.Label {
	return telemetry.LabelO2
}

// Healthy implements Sensor.
func (o *Oxygen) Healthy() bool {
	return o.ok
}

// Key returns the calibration ratio in use.
func (o *Oxygen) Key() float64 {
	return o.key
}

// Count returns the number of samples currently averaged.
func (o *Oxygen) Count() int {
	return o.count
}

// Read returns the moving average over the configured window, rounded to 2 decimals.
func (o *Oxygen) Read() (telemetry.Value, error) {
	if !o.ok {
		return nil, fmt.Errorf("oxygen 0x%02X: %w", o.dev.Addr, telemetry.ErrDeviceNotResponding)
	}

	v, err := o.OxygenData(o.collectNum)
	if err != nil {
		return nil, err
	}
	return telemetry.O2Value(telemetry.Round2(v)), nil
}

// OxygenData takes one calibrated sample and returns the mean of the most recent
// min(count, n) samples. n outside (0, OxygenHistorySize] fails before any bus
// transaction. A failed bus transaction leaves the history untouched.
func (o *Oxygen) OxygenData(n int) (float64, error) {
	if n <= 0 || n > OxygenHistorySize {
		return 0, fmt.Errorf("oxygen: collect number %d not in (0,%d]: %w", n, OxygenHistorySize, telemetry.ErrDomain)
	}

	if err := o.refreshKey(); err != nil {
		return 0, err
	}

	raw, err := o.readReg(regOxygenData, oxygenFrameSize)
	if err != nil {
		return 0, err
	}

	copy(o.history[1:n], o.history[:n-1])
	o.history[0] = o.key * (float64(raw[0]) + float64(raw[1])/10 + float64(raw[2])/100)
	o.count = min(o.count+1, n)

	var sum float64
	for _, v := range o.history[:o.count] {
		sum += v
	}
	return sum / float64(o.count), nil
}

// refreshKey reloads the calibration ratio stored in the sensor's flash.
func (o *Oxygen) refreshKey() error {
	b, err := o.readReg(regKey, 1)
	if err != nil {
		return err
	}
	if b[0] == 0 {
		o.key = DefaultOxygenKey
	} else {
		o.key = float64(b[0]) / 1000
	}
	o.sleep(o.keyDelay)
	return nil
}

// Calibrate stores a calibration in the sensor. With mv at zero it writes a
// single-point concentration (vol in %); otherwise it writes the vol/mv ratio.
// Values that do not fit the one-byte register fail with ErrDomain.
func (o *Oxygen) Calibrate(vol, mv float32) error {
	reg := byte(regAutoSet)
	var value float32
	if math32.Abs(mv) < calibrationEpsilon {
		reg = regUserSet
		value = vol * 10
	} else {
		value = (vol / mv) * 1000
	}

	v := int(value)
	if math32.IsNaN(value) || v < 0 || v > 0xFF {
		return fmt.Errorf("oxygen: calibration value %v does not fit register 0x%02X: %w", value, reg, telemetry.ErrDomain)
	}

	if err := o.dev.Tx([]byte{reg, byte(v)}, nil); err != nil {
		return fmt.Errorf("oxygen: write register 0x%02X: %w: %w", reg, telemetry.ErrDeviceNotResponding, err)
	}
	return nil
}

// readReg selects a register and reads n bytes in a separate transaction.
func (o *Oxygen) readReg(reg byte, n int) ([]byte, error) {
	if err := o.dev.Tx([]byte{reg}, nil); err != nil {
		return nil, fmt.Errorf("oxygen: select register 0x%02X: %w: %w", reg, telemetry.ErrDeviceNotResponding, err)
	}
	buf := make([]byte, n)
	if err := o.dev.Tx(nil, buf); err != nil {
		return nil, fmt.Errorf("oxygen: read register 0x%02X: %w: %w", reg, telemetry.ErrDeviceNotResponding, err)
	}
	return buf, nil
}
