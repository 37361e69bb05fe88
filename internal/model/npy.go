package model

import (
	"archive/zip"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"
)

const npyMagic = "\x93NUMPY"

// maxNpyElements bounds the allocation a header can request. The largest
// array in the weights artifact holds 1,230,080 values.
const maxNpyElements = 1 << 26

var (
	descrRe   = regexp.MustCompile(`'descr':\s*'([^']*)'`)
	fortranRe = regexp.MustCompile(`'fortran_order':\s*(False|True)`)
	shapeRe   = regexp.MustCompile(`'shape':\s*\(([^\(]*)\)`)
)

// Array is a float32 array read from a numpy .npy stream.
type Array struct {
	Shape []int
	Data  []float32
}

// readNpy decodes a little or big endian float32/float64 C-order array.
func readNpy(r io.Reader) (*Array, error) {
	magic := make([]byte, len(npyMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if string(magic) != npyMagic {
		return nil, fmt.Errorf("not npy format data (wrong magic number)")
	}

	var version [2]uint8
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, err
	}

	var headerLength int
	switch version[0] {
	case 1:
		var hl uint16
		if err := binary.Read(r, binary.LittleEndian, &hl); err != nil {
			return nil, err
		}
		headerLength = int(hl)
	case 2, 3:
		var hl uint32
		if err := binary.Read(r, binary.LittleEndian, &hl); err != nil {
			return nil, err
		}
		headerLength = int(hl)
	default:
		return nil, fmt.Errorf("invalid npy version %d.%d", version[0], version[1])
	}

	header := make([]byte, headerLength)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	ma := descrRe.FindSubmatch(header)
	if ma == nil {
		return nil, fmt.Errorf("dtype description not found in header")
	}
	dtype := string(ma[1])

	ma = fortranRe.FindSubmatch(header)
	if ma == nil {
		return nil, fmt.Errorf("fortran_order not found in header")
	}
	if string(ma[1]) == "True" {
		return nil, fmt.Errorf("fortran-ordered arrays are not supported")
	}

	shape, n, err := parseShape(header)
	if err != nil {
		return nil, err
	}

	var endian binary.ByteOrder = binary.LittleEndian
	if strings.HasPrefix(dtype, ">") {
		endian = binary.BigEndian
	}

	arr := &Array{Shape: shape, Data: make([]float32, n)}
	switch strings.TrimLeft(dtype, "<>=|") {
	case "f4":
		if err := binary.Read(r, endian, arr.Data); err != nil {
			return nil, fmt.Errorf("read data: %w", err)
		}
	case "f8":
		buf := make([]float64, n)
		if err := binary.Read(r, endian, buf); err != nil {
			return nil, fmt.Errorf("read data: %w", err)
		}
		for i, v := range buf {
			arr.Data[i] = float32(v)
		}
	default:
		return nil, fmt.Errorf("unsupported dtype %q", dtype)
	}
	return arr, nil
}

func parseShape(header []byte) ([]int, int, error) {
	ma := shapeRe.FindSubmatch(header)
	if ma == nil {
		return nil, 0, fmt.Errorf("shape not found in header")
	}

	shape := make([]int, 0, 4)
	n := 1
	for _, s := range strings.Split(string(ma[1]), ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		x, err := strconv.Atoi(s)
		if err != nil {
			return nil, 0, fmt.Errorf("bad shape dimension %q: %w", s, err)
		}
		if x < 0 {
			return nil, 0, fmt.Errorf("negative shape dimension %d", x)
		}
		if x > 0 && n > maxNpyElements/x {
			return nil, 0, fmt.Errorf("array shape exceeds %d elements", maxNpyElements)
		}
		n *= x
		shape = append(shape, x)
	}
	return shape, n, nil
}

// writeNpy encodes a little endian float32 array in npy format version 1.0.
func writeNpy(w io.Writer, shape []int, data []float32) error {
	dims := make([]string, len(shape))
	for i, d := range shape {
		dims[i] = strconv.Itoa(d)
	}
	shapeStr := strings.Join(dims, ", ")
	if len(shape) == 1 {
		shapeStr += ","
	}
	header := fmt.Sprintf("{'descr': '<f4', 'fortran_order': False, 'shape': (%s), }", shapeStr)

	// Pad so magic + version + length + header is a multiple of 64.
	pre := len(npyMagic) + 2 + 2
	pad := 64 - (pre+len(header)+1)%64
	if pad == 64 {
		pad = 0
	}
	header += strings.Repeat(" ", pad) + "\n"
	if len(header) > math.MaxUint16 {
		return fmt.Errorf("npy header too long")
	}

	if _, err := io.WriteString(w, npyMagic); err != nil {
		return err
	}
	if _, err := w.Write([]byte{1, 0}); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(len(header))); err != nil {
		return err
	}
	if _, err := io.WriteString(w, header); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, data)
}

// readNpz reads every array of a numpy .npz archive keyed by name, without
// the .npy suffix.
func readNpz(path string) (map[string]*Array, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	arrays := make(map[string]*Array, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", f.Name, err)
		}
		arr, err := readNpy(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", f.Name, err)
		}
		arrays[strings.TrimSuffix(f.Name, ".npy")] = arr
	}
	return arrays, nil
}

type npzEntry struct {
	name  string
	shape []int
	data  []float32
}

func writeNpz(path string, entries []npzEntry) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	zw := zip.NewWriter(f)
	for _, e := range entries {
		w, err := zw.Create(e.name + ".npy")
		if err != nil {
			f.Close()
			return err
		}
		if err := writeNpy(w, e.shape, e.data); err != nil {
			f.Close()
			return fmt.Errorf("encode %s: %w", e.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
