// Package npy writes and reads float32 arrays in the NumPy .npy v1.0 format.
package npy

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Magic is the prefix of every .npy file.
const Magic = "\x93NUMPY"

const (
	versionMajor = 1
	versionMinor = 0
	// The preamble plus header is padded to a multiple of this.
	headerAlign = 64
)

func header(shape []int) string {
	dims := make([]string, len(shape))
	for i, d := range shape {
		dims[i] = strconv.Itoa(d)
	}
	tuple := strings.Join(dims, ", ")
	if len(shape) == 1 {
		tuple += ","
	}
	h := fmt.Sprintf("{'descr': '<f4', 'fortran_order': False, 'shape': (%s), }", tuple)
	// magic(6) + version(2) + length(2) + header + newline
	total := len(Magic) + 4 + len(h) + 1
	if pad := (headerAlign - total%headerAlign) % headerAlign; pad > 0 {
		h += strings.Repeat(" ", pad)
	}
	return h + "\n"
}

// Writer streams one float32 array of a fixed shape.
type Writer struct {
	w       *bufio.Writer
	remain  int
	scratch [4]byte
}

// NewWriter writes the header for shape to w. Exactly the product of shape
// values must follow.
func NewWriter(w io.Writer, shape ...int) (*Writer, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return nil, errors.Errorf("npy: negative dimension in shape %v", shape)
		}
		n *= d
	}
	bw := bufio.NewWriter(w)
	h := header(shape)
	if _, err := bw.WriteString(Magic); err != nil {
		return nil, err
	}
	if err := bw.WriteByte(versionMajor); err != nil {
		return nil, err
	}
	if err := bw.WriteByte(versionMinor); err != nil {
		return nil, err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint16(len(h))); err != nil {
		return nil, err
	}
	if _, err := bw.WriteString(h); err != nil {
		return nil, err
	}
	return &Writer{w: bw, remain: n}, nil
}

// Write appends values, converted to float32.
func (w *Writer) Write(values []float64) error {
	if len(values) > w.remain {
		return errors.Errorf("npy: %d values exceed the remaining %d", len(values), w.remain)
	}
	for _, v := range values {
		binary.LittleEndian.PutUint32(w.scratch[:], math.Float32bits(float32(v)))
		if _, err := w.w.Write(w.scratch[:]); err != nil {
			return err
		}
	}
	w.remain -= len(values)
	return nil
}

// Close flushes the output and checks the array is complete.
func (w *Writer) Close() error {
	if err := w.w.Flush(); err != nil {
		return err
	}
	if w.remain != 0 {
		return errors.Errorf("npy: array is missing %d values", w.remain)
	}
	return nil
}

// WriteFile stores data with the given shape at path.
func WriteFile(path string, data []float64, shape ...int) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "failed to create file")
	}
	w, err := NewWriter(f, shape...)
	if err == nil {
		err = w.Write(data)
	}
	if err == nil {
		err = w.Close()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return errors.Wrapf(err, "writing %s", path)
}

var shapeField = regexp.MustCompile(`'shape':\s*\(([^)]*)\)`)

// Read parses a little-endian float32 C-order array.
func Read(r io.Reader) (data []float32, shape []int, err error) {
	var pre [10]byte
	if _, err := io.ReadFull(r, pre[:]); err != nil {
		return nil, nil, errors.Wrap(err, "npy: short preamble")
	}
	if string(pre[:6]) != Magic {
		return nil, nil, errors.New("npy: bad magic")
	}
	if pre[6] != versionMajor {
		return nil, nil, errors.Errorf("npy: unsupported version %d.%d", pre[6], pre[7])
	}
	h := make([]byte, binary.LittleEndian.Uint16(pre[8:]))
	if _, err := io.ReadFull(r, h); err != nil {
		return nil, nil, errors.Wrap(err, "npy: short header")
	}
	hs := string(h)
	if !strings.Contains(hs, "'<f4'") || !strings.Contains(hs, "'fortran_order': False") {
		return nil, nil, errors.Errorf("npy: unsupported header %q", strings.TrimSpace(hs))
	}
	m := shapeField.FindStringSubmatch(hs)
	if m == nil {
		return nil, nil, errors.Errorf("npy: no shape in header %q", strings.TrimSpace(hs))
	}
	n := 1
	for _, f := range strings.Split(m[1], ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		d, err := strconv.Atoi(f)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "npy: bad dimension %q", f)
		}
		shape = append(shape, d)
		n *= d
	}
	data = make([]float32, n)
	if err := binary.Read(r, binary.LittleEndian, data); err != nil {
		return nil, nil, errors.Wrap(err, "npy: short data")
	}
	return data, shape, nil
}
