package sunspec

import (
	"strings"
)

// PointType is the register encoding of a single SunSpec point
type PointType int

const (
	Uint16 PointType = iota
	Int16
	Uint32
	Int32
	Uint64
	Acc16
	Acc32
	Acc64
	Enum16
	Enum32
	Bitfield16
	Bitfield32
	Sunssf
	String
	Pad
)

// Point describes one named field inside a model or group
type Point struct {
	Name string
	Type PointType
	Len  int // register count, only used by String
}

// Size returns the number of 16-bit registers the point occupies
func (p Point) Size() int {
	switch p.Type {
	case Uint32, Int32, Acc32, Enum32, Bitfield32:
		return 2
	case Uint64, Acc64:
		return 4
	case String:
		return p.Len
	default:
		return 1
	}
}

// decode converts the point's registers into a value.
// Integers up to 32 bits decode to int64, 64-bit points to uint64, strings to string.
// Unimplemented sentinel values decode to nil.
func (p Point) decode(regs []uint16) any {
	switch p.Type {
	case Int16, Sunssf:
		if regs[0] == 0x8000 {
			return nil
		}
		return int64(int16(regs[0]))
	case Uint16, Enum16, Bitfield16:
		if regs[0] == 0xFFFF {
			return nil
		}
		return int64(regs[0])
	case Acc16:
		if regs[0] == 0 {
			return nil
		}
		return int64(regs[0])
	case Uint32, Enum32, Bitfield32:
		v := uint32(regs[0])<<16 | uint32(regs[1])
		if v == 0xFFFFFFFF {
			return nil
		}
		return int64(v)
	case Int32:
		v := uint32(regs[0])<<16 | uint32(regs[1])
		if v == 0x80000000 {
			return nil
		}
		return int64(int32(v))
	case Acc32:
		v := uint32(regs[0])<<16 | uint32(regs[1])
		if v == 0 {
			return nil
		}
		return int64(v)
	case Uint64, Acc64:
		var v uint64
		for _, r := range regs[:4] {
			v = v<<16 | uint64(r)
		}
		if p.Type == Uint64 && v == 0xFFFFFFFFFFFFFFFF {
			return nil
		}
		if p.Type == Acc64 && v == 0 {
			return nil
		}
		return v
	case String:
		b := make([]byte, 0, len(regs)*2)
		for _, r := range regs {
			b = append(b, byte(r>>8), byte(r))
		}
		s := strings.TrimRight(string(b), "\x00 ")
		if s == "" {
			return nil
		}
		return s
	}
	return nil
}

// decodePoints decodes points starting at offset into fields and returns the new offset.
// Decoding stops at the first point that does not fit in body.
func decodePoints(points []Point, body []uint16, offset int, fields Fields) int {
	for _, p := range points {
		size := p.Size()
		if offset+size > len(body) {
			break
		}
		if p.Type != Pad {
			fields[p.Name] = p.decode(body[offset : offset+size])
		}
		offset += size
	}
	return offset
}

// pointsSize sums the register sizes of the given points
func pointsSize(points []Point) int {
	total := 0
	for _, p := range points {
		total += p.Size()
	}
	return total
}
