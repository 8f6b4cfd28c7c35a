package semantic

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// On-disk index artifact, little endian:
//
//	magic "VIDX" | version u16 | metric u8 | reserved u8 |
//	dims u32 | count u32 | count × (chunkID u32, dims × f32)
//
// Vectors are stored post-normalization, so a loaded cosine index searches
// without touching the data again.

var artifactMagic = [4]byte{'V', 'I', 'D', 'X'}

const artifactVersion uint16 = 1

type artifactHeader struct {
	Magic    [4]byte
	Version  uint16
	Metric   uint8
	Reserved uint8
	Dims     uint32
	Count    uint32
}

// WriteTo serializes the index. Implements io.WriterTo.
func (x *Index) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	bw := bufio.NewWriter(cw)

	hdr := artifactHeader{
		Magic:   artifactMagic,
		Version: artifactVersion,
		Metric:  uint8(x.metric),
		Dims:    uint32(x.dims),
		Count:   uint32(len(x.ids)),
	}
	if err := binary.Write(bw, binary.LittleEndian, hdr); err != nil {
		return cw.n, fmt.Errorf("semantic: write header: %w", err)
	}
	for i, id := range x.ids {
		if err := binary.Write(bw, binary.LittleEndian, id); err != nil {
			return cw.n, fmt.Errorf("semantic: write record %d: %w", i, err)
		}
		if err := binary.Write(bw, binary.LittleEndian, x.flat[i*x.dims:(i+1)*x.dims]); err != nil {
			return cw.n, fmt.Errorf("semantic: write record %d: %w", i, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return cw.n, fmt.Errorf("semantic: flush: %w", err)
	}
	return cw.n, nil
}

// ReadIndex deserializes an index artifact. Any structural problem is an
// error; callers treat that as a cache miss and rebuild.
func ReadIndex(r io.Reader) (*Index, error) {
	br := bufio.NewReader(r)

	var hdr artifactHeader
	if err := binary.Read(br, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("semantic: read header: %w", err)
	}
	if hdr.Magic != artifactMagic {
		return nil, fmt.Errorf("semantic: bad magic %q", hdr.Magic[:])
	}
	if hdr.Version != artifactVersion {
		return nil, fmt.Errorf("semantic: unsupported artifact version %d", hdr.Version)
	}
	metric := Metric(hdr.Metric)
	if metric != MetricCosine && metric != MetricDot {
		return nil, fmt.Errorf("semantic: bad metric %d", hdr.Metric)
	}
	if hdr.Dims == 0 || hdr.Count == 0 {
		return nil, fmt.Errorf("semantic: empty artifact (dims=%d count=%d)", hdr.Dims, hdr.Count)
	}

	dims := int(hdr.Dims)
	count := int(hdr.Count)
	idx := &Index{
		metric: metric,
		dims:   dims,
		ids:    make([]uint32, count),
		flat:   make([]float32, count*dims),
	}
	for i := 0; i < count; i++ {
		if err := binary.Read(br, binary.LittleEndian, &idx.ids[i]); err != nil {
			return nil, fmt.Errorf("semantic: read record %d: %w", i, err)
		}
		row := idx.flat[i*dims : (i+1)*dims]
		if err := binary.Read(br, binary.LittleEndian, row); err != nil {
			return nil, fmt.Errorf("semantic: read record %d: %w", i, err)
		}
	}
	return idx, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
