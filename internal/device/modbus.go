package device

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/grid-x/modbus"

	"github.com/MostafaZare/Water-Treatment-Monitoring/internal/infrastructure/config"
)

// Register kinds for modbus_register devices.
const (
	RegisterHolding = "holding"
	RegisterInput   = "input"
)

// Serial line defaults, 9600 8N1 with a 3 s response timeout.
const (
	defaultBaudRate      = 9600
	defaultParity        = "N"
	defaultModbusTimeout = 3 * time.Second
	maxSlaveID           = 247
)

// registerClient is the part of a Modbus client the driver needs.
// modbus.Client satisfies it.
type registerClient interface {
	ReadHoldingRegisters(ctx context.Context, address, quantity uint16) ([]byte, error)
	ReadInputRegisters(ctx context.Context, address, quantity uint16) ([]byte, error)
	WriteSingleRegister(ctx context.Context, address, value uint16) ([]byte, error)
}

// modbusBus is one RTU serial line. Slaves on the same line share it and
// take turns; the slave address is set per request.
type modbusBus struct {
	port     string
	baudRate int
	parity   string

	mu       sync.Mutex
	client   registerClient
	setSlave func(id byte)
}

var (
	busesMu sync.Mutex
	buses   = make(map[string]*modbusBus)
)

// sharedBus returns the bus for cfg.Path, opening it on first use. Every
// device on a port must agree on its line settings.
func sharedBus(cfg config.DeviceConfig) (*modbusBus, error) {
	baud := cfg.BaudRate
	if baud == 0 {
		baud = defaultBaudRate
	}
	parity := cfg.Parity
	if parity == "" {
		parity = defaultParity
	}
	switch parity {
	case "N", "E", "O":
	default:
		return nil, fmt.Errorf("%w: %s: parity must be N, E or O", ErrInvalidDevice, cfg.ID)
	}

	busesMu.Lock()
	defer busesMu.Unlock()

	if b, ok := buses[cfg.Path]; ok {
		if b.baudRate != baud || b.parity != parity {
			return nil, fmt.Errorf("%w: %s: %s already open at %d %s", ErrInvalidDevice, cfg.ID, cfg.Path, b.baudRate, b.parity)
		}
		return b, nil
	}

	handler := modbus.NewRTUClientHandler(cfg.Path)
	handler.BaudRate = baud
	handler.DataBits = 8
	handler.Parity = parity
	handler.StopBits = 1
	handler.Timeout = defaultModbusTimeout
	if cfg.TimeoutMS > 0 {
		handler.Timeout = time.Duration(cfg.TimeoutMS) * time.Millisecond
	}

	b := &modbusBus{
		port:     cfg.Path,
		baudRate: baud,
		parity:   parity,
		client:   modbus.NewClient(handler),
		setSlave: func(id byte) { handler.SlaveID = id },
	}
	buses[cfg.Path] = b
	return b, nil
}

func (b *modbusBus) read(ctx context.Context, slave byte, kind string, address uint16) (uint16, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.setSlave(slave)
	var (
		data []byte
		err  error
	)
	if kind == RegisterInput {
		data, err = b.client.ReadInputRegisters(ctx, address, 1)
	} else {
		data, err = b.client.ReadHoldingRegisters(ctx, address, 1)
	}
	if err != nil {
		return 0, err
	}
	if len(data) < 2 {
		return 0, fmt.Errorf("short response: %d bytes", len(data))
	}
	return binary.BigEndian.Uint16(data), nil
}

func (b *modbusBus) write(ctx context.Context, slave byte, address, value uint16) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.setSlave(slave)
	_, err := b.client.WriteSingleRegister(ctx, address, value)
	return err
}

// modbusRegister is one 16-bit register on a Modbus RTU slave, such as a
// pH, turbidity or radar level transmitter. The reported value is
// raw*scale + offset. Holding registers accept writes of the same unit.
type modbusRegister struct {
	id      string
	bus     *modbusBus
	slave   byte
	address uint16
	kind    string
	signed  bool

	mu     sync.RWMutex
	metric string
	scale  float64
	offset float64

	health
}

func newModbusRegister(cfg config.DeviceConfig) (Device, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("%w: %s: path (serial port) is required", ErrInvalidDevice, cfg.ID)
	}
	bus, err := sharedBus(cfg)
	if err != nil {
		return nil, err
	}
	return buildModbusRegister(cfg, bus)
}

func buildModbusRegister(cfg config.DeviceConfig, bus *modbusBus) (*modbusRegister, error) {
	if cfg.SlaveID < 1 || cfg.SlaveID > maxSlaveID {
		return nil, fmt.Errorf("%w: %s: slave_id must be between 1 and %d", ErrInvalidDevice, cfg.ID, maxSlaveID)
	}
	kind := cfg.RegisterType
	switch kind {
	case "":
		kind = RegisterHolding
	case RegisterHolding, RegisterInput:
	default:
		return nil, fmt.Errorf("%w: %s: register_type must be %s or %s", ErrInvalidDevice, cfg.ID, RegisterHolding, RegisterInput)
	}

	d := &modbusRegister{
		id:      cfg.ID,
		bus:     bus,
		slave:   cfg.SlaveID,
		address: cfg.Register,
		kind:    kind,
		signed:  cfg.Signed,
		metric:  cfg.Metric,
		scale:   cfg.Scale,
		offset:  cfg.Offset,
	}
	if d.metric == "" {
		d.metric = defaultSensorMetric
	}
	if d.scale == 0 {
		d.scale = 1
	}
	return d, nil
}

func (d *modbusRegister) ID() string   { return d.id }
func (d *modbusRegister) Type() string { return TypeModbusRegister }

func (d *modbusRegister) Read(ctx context.Context) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := d.bus.read(ctx, d.slave, d.kind, d.address)
	if err != nil {
		err = fmt.Errorf("%w: %s: slave %d register %d: %w", ErrReadFailed, d.id, d.slave, d.address, err)
		d.observe(err)
		return nil, err
	}

	d.mu.RLock()
	metric, value := d.metric, d.decode(raw)*d.scale+d.offset
	d.mu.RUnlock()
	d.observe(nil)
	return map[string]any{metric: value}, nil
}

func (d *modbusRegister) decode(raw uint16) float64 {
	if d.signed {
		return float64(int16(raw)) // #nosec G115 -- two's complement register
	}
	return float64(raw)
}

// Write sets a holding register from {"value": v} in scaled units.
func (d *modbusRegister) Write(ctx context.Context, values map[string]any) error {
	if d.kind == RegisterInput {
		return fmt.Errorf("%w: %s is an input register", ErrReadOnly, d.id)
	}
	v, ok := values["value"]
	if !ok || len(values) != 1 {
		return fmt.Errorf("%w: %s expects exactly {\"value\": number}", ErrInvalidValue, d.id)
	}
	f, err := toFloat(v)
	if err != nil {
		return err
	}

	d.mu.RLock()
	raw := math.Round((f - d.offset) / d.scale)
	d.mu.RUnlock()

	lo, hi := 0.0, float64(math.MaxUint16)
	if d.signed {
		lo, hi = math.MinInt16, math.MaxInt16
	}
	if math.IsNaN(raw) || raw < lo || raw > hi {
		return fmt.Errorf("%w: %v is outside the register range of %s", ErrInvalidValue, v, d.id)
	}
	word := uint16(int32(raw)) // #nosec G115 -- range checked above

	if err := d.bus.write(ctx, d.slave, d.address, word); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrWriteFailed, d.id, err)
	}
	return nil
}

func (d *modbusRegister) Status(context.Context) Status {
	return d.status(d.id, TypeModbusRegister, d.settings())
}

// Configure accepts metric, scale and offset.
func (d *modbusRegister) Configure(settings map[string]any) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	metric, scale, offset, err := applyScaling(TypeModbusRegister, d.metric, d.scale, d.offset, settings)
	if err != nil {
		return err
	}
	d.metric, d.scale, d.offset = metric, scale, offset
	return nil
}

func (d *modbusRegister) settings() map[string]any {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return map[string]any{
		"port":          d.bus.port,
		"slave_id":      d.slave,
		"register":      d.address,
		"register_type": d.kind,
		"signed":        d.signed,
		"metric":        d.metric,
		"scale":         d.scale,
		"offset":        d.offset,
	}
}
