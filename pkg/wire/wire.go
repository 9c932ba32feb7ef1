package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Width is the size in bytes of one encoded value.
const Width = 4

var (
	ErrShortRead  = errors.New("short read")
	ErrShortWrite = errors.New("short write")
)

// Encoder writes fixed-width int32 values to a byte stream.
type Encoder struct {
	w   io.Writer
	buf [Width]byte
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes v as Width little-endian bytes.
func (e *Encoder) Encode(v int32) error {
	binary.LittleEndian.PutUint32(e.buf[:], uint32(v))

	n, err := e.w.Write(e.buf[:])
	if err != nil {
		return err
	}
	if n != Width {
		return fmt.Errorf("%w: %d of %d bytes", ErrShortWrite, n, Width)
	}
	return nil
}

// Decoder reads fixed-width int32 values from a byte stream.
type Decoder struct {
	r   io.Reader
	buf [Width]byte
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// Decode reads the next value. It returns io.EOF when the stream ends on a
// value boundary and ErrShortRead when it ends inside a value.
func (d *Decoder) Decode() (int32, error) {
	n, err := io.ReadFull(d.r, d.buf[:])
	switch {
	case err == nil:
		return int32(binary.LittleEndian.Uint32(d.buf[:])), nil
	case errors.Is(err, io.EOF):
		return 0, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		return 0, fmt.Errorf("%w: %d of %d bytes", ErrShortRead, n, Width)
	default:
		return 0, err
	}
}
