package sunspec

import (
	"context"
	"errors"
	"fmt"
)

const (
	markerHi = 0x5375 // "Su"
	markerLo = 0x6E53 // "nS"

	endModelID = 0xFFFF

	// Largest holding register read allowed by Modbus
	maxReadRegisters = 125

	maxModels = 256
)

// BaseAddrs are probed in order for the SunSpec marker
var BaseAddrs = []uint16{40000, 0, 50000}

var (
	ErrNotSunSpec  = errors.New("sunspec marker not found")
	ErrModelChain  = errors.New("malformed model chain")
	ErrShortRead   = errors.New("short register read")
	ErrGroupLength = errors.New("repeating group exceeds model length")
)

// RegisterReader reads holding registers and returns them as big-endian bytes.
// goburrow/modbus.Client satisfies it.
type RegisterReader interface {
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
}

// Fields maps point names to decoded values
type Fields map[string]any

// Model is a single decoded SunSpec block
type Model struct {
	ID      uint16
	Name    string // empty for models without a built-in definition
	Length  uint16
	Address uint16 // register address of the model ID
	Fields  Fields
}

// Device is the result of a full scan
type Device struct {
	BaseAddr uint16
	Models   []Model
}

// ByID returns the decoded fields keyed by model ID. A later block with
// the same ID replaces an earlier one.
func (d *Device) ByID() map[uint16]Fields {
	out := make(map[uint16]Fields, len(d.Models))
	for _, m := range d.Models {
		out[m.ID] = m.Fields
	}
	return out
}

// Dict returns the scan as a nested map suitable for JSON encoding
func (d *Device) Dict() map[string]any {
	models := make([]Fields, 0, len(d.Models))
	for _, m := range d.Models {
		models = append(models, m.Fields)
	}
	return map[string]any{
		"base_addr": d.BaseAddr,
		"models":    models,
	}
}

// Identity describes the device as reported by the common model
type Identity struct {
	Manufacturer string
	Model        string
	Version      string
	Serial       string
}

// Identity returns the common model's identification strings, if present
func (d *Device) Identity() (Identity, bool) {
	for _, m := range d.Models {
		if m.ID != ModelCommon {
			continue
		}
		get := func(name string) string {
			s, _ := m.Fields[name].(string)
			return s
		}
		return Identity{
			Manufacturer: get("Mn"),
			Model:        get("Md"),
			Version:      get("Vr"),
			Serial:       get("SN"),
		}, true
	}
	return Identity{}, false
}

// readRegisters reads quantity registers starting at address, splitting into
// Modbus-sized requests as needed
func readRegisters(r RegisterReader, address uint16, quantity int) ([]uint16, error) {
	regs := make([]uint16, 0, quantity)
	for quantity > 0 {
		n := min(quantity, maxReadRegisters)
		b, err := r.ReadHoldingRegisters(address, uint16(n))
		if err != nil {
			return nil, fmt.Errorf("read %d registers at %d: %w", n, address, err)
		}
		if len(b) != n*2 {
			return nil, fmt.Errorf("read %d registers at %d, got %d bytes: %w", n, address, len(b), ErrShortRead)
		}
		for i := 0; i < len(b); i += 2 {
			regs = append(regs, uint16(b[i])<<8|uint16(b[i+1]))
		}
		address += uint16(n)
		quantity -= n
	}
	return regs, nil
}

// findBase returns the first base address holding the SunSpec marker
func findBase(r RegisterReader) (uint16, error) {
	var lastErr error
	for _, base := range BaseAddrs {
		regs, err := readRegisters(r, base, 2)
		if err != nil {
			lastErr = err
			continue
		}
		if regs[0] == markerHi && regs[1] == markerLo {
			return base, nil
		}
	}
	if lastErr != nil {
		return 0, fmt.Errorf("%w (last error: %v)", ErrNotSunSpec, lastErr)
	}
	return 0, ErrNotSunSpec
}

// Scan locates the SunSpec marker and reads every model in the chain.
// ctx is checked between models.
func Scan(ctx context.Context, r RegisterReader) (*Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	base, err := findBase(r)
	if err != nil {
		return nil, err
	}

	dev := &Device{BaseAddr: base}
	addr := uint32(base) + 2

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(dev.Models) >= maxModels {
			return nil, fmt.Errorf("more than %d models: %w", maxModels, ErrModelChain)
		}
		if addr+2 > 0x10000 {
			return nil, fmt.Errorf("model header at %d past end of register space: %w", addr, ErrModelChain)
		}

		hdr, err := readRegisters(r, uint16(addr), 2)
		if err != nil {
			return nil, err
		}
		id, length := hdr[0], hdr[1]
		if id == endModelID {
			break
		}
		if addr+2+uint32(length) > 0x10000 {
			return nil, fmt.Errorf("model %d at %d overruns register space: %w", id, addr, ErrModelChain)
		}

		body, err := readRegisters(r, uint16(addr+2), int(length))
		if err != nil {
			return nil, fmt.Errorf("model %d: %w", id, err)
		}

		m, err := decodeModel(id, uint16(addr), body)
		if err != nil {
			return nil, err
		}
		dev.Models = append(dev.Models, m)

		addr += 2 + uint32(length)
	}

	return dev, nil
}

// decodeModel converts a model body into named fields
func decodeModel(id, addr uint16, body []uint16) (Model, error) {
	m := Model{
		ID:      id,
		Length:  uint16(len(body)),
		Address: addr,
		Fields: Fields{
			"ID": int64(id),
			"L":  int64(len(body)),
		},
	}

	def, ok := Lookup(id)
	if !ok {
		m.Fields["Raw"] = body
		return m, nil
	}
	m.Name = def.Name

	offset := decodePoints(def.Points, body, 0, m.Fields)
	if def.Group == nil {
		return m, nil
	}

	groupLen := pointsSize(def.Group.Points)
	count := (len(body) - offset) / groupLen
	if def.Group.Count != "" {
		if n, ok := m.Fields[def.Group.Count].(int64); ok {
			count = int(n)
		}
	}
	if offset+count*groupLen > len(body) {
		return Model{}, fmt.Errorf("model %d: %d x %s: %w", id, count, def.Group.Name, ErrGroupLength)
	}

	groups := make([]Fields, 0, count)
	for range count {
		g := Fields{}
		offset = decodePoints(def.Group.Points, body, offset, g)
		groups = append(groups, g)
	}
	m.Fields[def.Group.Name] = groups

	return m, nil
}
