package comm

import (
	"encoding/binary"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Payload scheme bytes. A receiver decodes only the scheme it expects
const (
	schemeRaw     byte = 'd' // 8 bytes per value
	schemeFloat32 byte = 'f' // 4 bytes per value
)

func scheme(compressed bool) byte {
	if compressed {
		return schemeFloat32
	}
	return schemeRaw
}

// EncodeFloats packs values for transport. The compressed form stores float32
// values and halves the payload at the cost of precision
func EncodeFloats(values []float64, compressed bool) []byte {
	s := scheme(compressed)
	width := 8
	if compressed {
		width = 4
	}
	buf := make([]byte, 1+width*len(values))
	buf[0] = s
	for i, v := range values {
		off := 1 + width*i
		if compressed {
			binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(float32(v)))
		} else {
			binary.LittleEndian.PutUint64(buf[off:], math.Float64bits(v))
		}
	}
	return buf
}

// DecodeFloats unpacks a payload written by EncodeFloats with the same
// compression setting
func DecodeFloats(data []byte, compressed bool) ([]float64, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty payload: %w", ErrProtocolMismatch)
	}
	if want := scheme(compressed); data[0] != want {
		return nil, fmt.Errorf("payload scheme %q, expected %q: %w", data[0], want, ErrProtocolMismatch)
	}
	width := 8
	if compressed {
		width = 4
	}
	body := data[1:]
	if len(body)%width != 0 {
		return nil, fmt.Errorf("payload length %d not a multiple of %d: %w", len(body), width, ErrProtocolMismatch)
	}
	values := make([]float64, len(body)/width)
	for i := range values {
		off := width * i
		if compressed {
			values[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(body[off:])))
		} else {
			values[i] = math.Float64frombits(binary.LittleEndian.Uint64(body[off:]))
		}
	}
	return values, nil
}

// FlattenVecs lays vectors out as consecutive x,y,z components
func FlattenVecs(vs []r3.Vec) []float64 {
	out := make([]float64, 0, 3*len(vs))
	for _, v := range vs {
		out = append(out, v.X, v.Y, v.Z)
	}
	return out
}

// UnflattenVecs reverses FlattenVecs
func UnflattenVecs(values []float64) ([]r3.Vec, error) {
	if len(values)%3 != 0 {
		return nil, fmt.Errorf("%d components is not a vector field: %w", len(values), ErrProtocolMismatch)
	}
	out := make([]r3.Vec, len(values)/3)
	for i := range out {
		out[i] = r3.Vec{X: values[3*i], Y: values[3*i+1], Z: values[3*i+2]}
	}
	return out, nil
}
