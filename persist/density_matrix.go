package persist

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
)

// quMagic tags a .qu file so a misnamed or truncated file is rejected
// up front rather than producing a garbled matrix.
var quMagic = [4]byte{'Q', 'U', 'M', '1'}

// WriteDensityMatrix writes a square density matrix (row-major) to
// filename as a minimal binary format: 4-byte magic, big-endian
// uint32 dimension, then dim*dim complex128 values as consecutive
// big-endian (real, imag) float64 pairs.
func WriteDensityMatrix(filename string, dim int, rows []complex128) error {
	if len(rows) != dim*dim {
		return fmt.Errorf("persist: density matrix has %d entries, want %d for dim %d", len(rows), dim*dim, dim)
	}
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if _, err := w.Write(quMagic[:]); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint32(dim)); err != nil {
		return err
	}
	for _, c := range rows {
		if err := binary.Write(w, binary.BigEndian, real(c)); err != nil {
			return err
		}
		if err := binary.Write(w, binary.BigEndian, imag(c)); err != nil {
			return err
		}
	}
	return w.Flush()
}

// ReadDensityMatrix reads a file written by WriteDensityMatrix.
func ReadDensityMatrix(filename string) (dim int, rows []complex128, err error) {
	f, err := os.Open(filename)
	if err != nil {
		return 0, nil, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var magic [4]byte
	if _, err := readFull(r, magic[:]); err != nil {
		return 0, nil, err
	}
	if magic != quMagic {
		return 0, nil, fmt.Errorf("persist: %s is not a .qu file", filename)
	}
	var d uint32
	if err := binary.Read(r, binary.BigEndian, &d); err != nil {
		return 0, nil, err
	}
	dim = int(d)
	rows = make([]complex128, dim*dim)
	for i := range rows {
		var re, im float64
		if err := binary.Read(r, binary.BigEndian, &re); err != nil {
			return 0, nil, err
		}
		if err := binary.Read(r, binary.BigEndian, &im); err != nil {
			return 0, nil, err
		}
		rows[i] = complex(re, im)
	}
	return dim, rows, nil
}

func readFull(r interface{ Read([]byte) (int, error) }, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
