package npy

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestHeaderLayout(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, 2, 3, 4)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Write(make([]float64, 24)); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	b := buf.Bytes()

	if string(b[:6]) != Magic || b[6] != 1 || b[7] != 0 {
		t.Fatalf("preamble = %q", b[:8])
	}
	hlen := int(b[8]) | int(b[9])<<8
	if (10+hlen)%64 != 0 {
		t.Errorf("data offset %d is not 64-byte aligned", 10+hlen)
	}
	h := string(b[10 : 10+hlen])
	want := "{'descr': '<f4', 'fortran_order': False, 'shape': (2, 3, 4), }"
	if h[:len(want)] != want || h[len(h)-1] != '\n' {
		t.Errorf("header = %q", h)
	}
	if len(b) != 10+hlen+24*4 {
		t.Errorf("file size %d, expected %d", len(b), 10+hlen+96)
	}
}

func TestOneDimensionalShape(t *testing.T) {
	if h := header([]int{5}); !bytes.Contains([]byte(h), []byte("'shape': (5,)")) {
		t.Errorf("header = %q", h)
	}
}

func TestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disparities.npy")
	data := []float64{0, -1.5, 0.25, math.Pi, 1e-3, 42}
	if err := WriteFile(path, data, 3, 1, 2); err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	got, shape, err := Read(f)
	if err != nil {
		t.Fatal(err)
	}
	if len(shape) != 3 || shape[0] != 3 || shape[1] != 1 || shape[2] != 2 {
		t.Errorf("shape = %v", shape)
	}
	for i, want := range data {
		if math.Abs(float64(got[i])-want) > 1e-6 {
			t.Errorf("Output[%d] = %f, expected %f", i, got[i], want)
		}
	}
}

func TestWriterCountsValues(t *testing.T) {
	w, err := NewWriter(&bytes.Buffer{}, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Write(make([]float64, 5)); err == nil {
		t.Error("expected error for too many values")
	}
	w.Write(make([]float64, 3))
	if err := w.Close(); err == nil {
		t.Error("expected error for an incomplete array")
	}
}
