package sample

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/klauspost/compress/snappy"

	"gorgonia.org/tensor"
)

// EncodeRow packs one float64 row into a snappy block.
func EncodeRow(row []float64) []byte {
	buf := make([]byte, 8*len(row))
	for i, x := range row {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(x))
	}
	return snappy.Encode(nil, buf)
}

// DecodeRow unpacks one snappy block back into floats.
func DecodeRow(block []byte) ([]float64, error) {
	buf, err := snappy.Decode(nil, block)
	if err != nil {
		return nil, fmt.Errorf("sample: decode row: %w", err)
	}
	if len(buf)%8 != 0 {
		return nil, fmt.Errorf("sample: row block of %d bytes", len(buf))
	}
	out := make([]float64, len(buf)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return out, nil
}

// decodeColumn expands packed rows into a dense [rows, width] column. All
// rows must decode to the same width.
func decodeColumn(key string, rows [][]byte) (*tensor.Dense, error) {
	first, err := DecodeRow(rows[0])
	if err != nil {
		return nil, fmt.Errorf("column %q row 0: %w", key, err)
	}
	width := len(first)
	if width == 0 {
		return nil, fmt.Errorf("sample: column %q row 0 is empty", key)
	}
	data := make([]float64, 0, len(rows)*width)
	data = append(data, first...)
	for i, block := range rows[1:] {
		row, err := DecodeRow(block)
		if err != nil {
			return nil, fmt.Errorf("column %q row %d: %w", key, i+1, err)
		}
		if len(row) != width {
			return nil, fmt.Errorf("sample: column %q row %d has width %d, row 0 has %d",
				key, i+1, len(row), width)
		}
		data = append(data, row...)
	}
	return tensor.New(tensor.WithShape(len(rows), width), tensor.WithBacking(data)), nil
}
