// Package safetensors reads and checks the header of .safetensors shards.
// Tensor data is never loaded.
package safetensors

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/goccy/go-json"
)

// maxHeaderLen bounds the JSON header so a corrupt length prefix cannot
// trigger a huge allocation.
const maxHeaderLen = 100 << 20

var dtypeSize = map[string]int64{
	"BOOL": 1, "U8": 1, "I8": 1, "F8_E4M3": 1, "F8_E5M2": 1,
	"U16": 2, "I16": 2, "F16": 2, "BF16": 2,
	"U32": 4, "I32": 4, "F32": 4,
	"U64": 8, "I64": 8, "F64": 8,
}

type TensorInfo struct {
	DType string
	Shape []int
	Start int64
	End   int64
}

// Elements is the product of the shape; a scalar has one element.
func (t TensorInfo) Elements() int64 {
	n := int64(1)
	for _, d := range t.Shape {
		n *= int64(d)
	}
	return n
}

type File struct {
	Path      string
	DataStart int64
	DataLen   int64
	Tensors   map[string]TensorInfo
	Metadata  map[string]string
}

type tensorHeader struct {
	DType       string  `json:"dtype"`
	Shape       []int   `json:"shape"`
	DataOffsets []int64 `json:"data_offsets"`
}

// Open parses the header of path and checks every tensor against the file
// size and its dtype.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return parse(f, st.Size(), path)
}

func parse(r io.Reader, size int64, path string) (*File, error) {
	var lenBuf [8]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("%s: read header length: %w", path, err)
	}
	headerLen := binary.LittleEndian.Uint64(lenBuf[:])
	if headerLen == 0 || headerLen > maxHeaderLen || int64(headerLen) > size-8 {
		return nil, fmt.Errorf("%s: invalid header length %d", path, headerLen)
	}
	headerBytes := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, fmt.Errorf("%s: read header: %w", path, err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(headerBytes, &raw); err != nil {
		return nil, fmt.Errorf("%s: parse header: %w", path, err)
	}

	out := &File{
		Path:      path,
		DataStart: int64(8 + headerLen),
		Tensors:   make(map[string]TensorInfo, len(raw)),
	}
	out.DataLen = size - out.DataStart

	if meta, ok := raw["__metadata__"]; ok {
		if err := json.Unmarshal(meta, &out.Metadata); err != nil {
			return nil, fmt.Errorf("%s: parse metadata: %w", path, err)
		}
		delete(raw, "__metadata__")
	}

	for name, msg := range raw {
		var th tensorHeader
		if err := json.Unmarshal(msg, &th); err != nil {
			return nil, fmt.Errorf("%s: parse tensor %s: %w", path, name, err)
		}
		if len(th.DataOffsets) != 2 {
			return nil, fmt.Errorf("%s: tensor %s: invalid data_offsets", path, name)
		}
		t := TensorInfo{DType: th.DType, Shape: th.Shape, Start: th.DataOffsets[0], End: th.DataOffsets[1]}
		if err := t.check(out.DataLen); err != nil {
			return nil, fmt.Errorf("%s: tensor %s: %w", path, name, err)
		}
		out.Tensors[name] = t
	}
	return out, nil
}

func (t TensorInfo) check(dataLen int64) error {
	if t.Start < 0 || t.End < t.Start {
		return fmt.Errorf("invalid offsets [%d, %d)", t.Start, t.End)
	}
	if t.End > dataLen {
		return fmt.Errorf("offsets [%d, %d) exceed data length %d", t.Start, t.End, dataLen)
	}
	for _, d := range t.Shape {
		if d < 0 {
			return fmt.Errorf("invalid dim %d", d)
		}
	}
	size, ok := dtypeSize[t.DType]
	if !ok {
		return fmt.Errorf("unsupported dtype %s", t.DType)
	}
	if want := t.Elements() * size; want != t.End-t.Start {
		return fmt.Errorf("%s %v needs %d bytes, offsets cover %d", t.DType, t.Shape, want, t.End-t.Start)
	}
	return nil
}

func (f *File) Tensor(name string) (TensorInfo, bool) {
	t, ok := f.Tensors[name]
	return t, ok
}

// Names returns the tensor names in file order.
func (f *File) Names() []string {
	names := make([]string, 0, len(f.Tensors))
	for n := range f.Tensors {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := f.Tensors[names[i]], f.Tensors[names[j]]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		return names[i] < names[j]
	})
	return names
}

// Params is the total element count over all tensors.
func (f *File) Params() int64 {
	var n int64
	for _, t := range f.Tensors {
		n += t.Elements()
	}
	return n
}
