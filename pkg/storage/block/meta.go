/*
Copyright 2026 The Perkeep Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package block

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

var (
	ErrMetaUnknownColumn   = errors.New("block: unknown metadata column")
	ErrMetaValueOutOfRange = errors.New("block: metadata value out of range")
)

// MetaType is the storage type of a metadata column.
type MetaType int

const (
	MetaInt8 MetaType = iota
	MetaUInt8
	MetaInt16
	MetaUInt16
	MetaInt32
	MetaUInt32
	MetaFloat16
	MetaFloat32
)

var metaTypeNames = map[MetaType]string{
	MetaInt8:    "Int8",
	MetaUInt8:   "UInt8",
	MetaInt16:   "Int16",
	MetaUInt16:  "UInt16",
	MetaInt32:   "Int32",
	MetaUInt32:  "UInt32",
	MetaFloat16: "Float16",
	MetaFloat32: "Float32",
}

func (t MetaType) String() string { return metaTypeNames[t] }

// Size returns the field width in bytes.
func (t MetaType) Size() int {
	switch t {
	case MetaInt8, MetaUInt8:
		return 1
	case MetaInt16, MetaUInt16, MetaFloat16:
		return 2
	default:
		return 4
	}
}

// ParseMetaType parses a column type name, case-insensitively.
func ParseMetaType(s string) (MetaType, error) {
	for t, name := range metaTypeNames {
		if strings.EqualFold(name, s) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown metadata type %q", s)
}

// MetaElement is one column of a metadata record.
type MetaElement struct {
	Name   string
	Type   MetaType
	Offset int
}

// MetaDescription is the named, ordered list of columns of the
// metadata table. Field offsets lay wider columns before narrower
// ones, so each field is naturally aligned inside the record.
type MetaDescription struct {
	elems []MetaElement
}

// ParseMetaDescription parses the comma-separated "name type" list
// the schema is serialized as.
func ParseMetaDescription(s string) (*MetaDescription, error) {
	d := &MetaDescription{}
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		fields := strings.Fields(item)
		if len(fields) != 2 {
			return nil, fmt.Errorf("invalid metadata column definition %q", item)
		}
		typ, err := ParseMetaType(fields[1])
		if err != nil {
			return nil, err
		}
		if err := d.Add(typ, fields[0]); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Add appends a column and recomputes the record layout.
func (d *MetaDescription) Add(typ MetaType, name string) error {
	if d.Handle(name) >= 0 {
		return fmt.Errorf("duplicate metadata column %q", name)
	}
	d.elems = append(d.elems, MetaElement{Name: name, Type: typ})
	d.layout()
	return nil
}

// layout assigns offsets with wider fields first, stable within equal
// widths in column order.
func (d *MetaDescription) layout() {
	order := make([]int, len(d.elems))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return d.elems[order[a]].Type.Size() > d.elems[order[b]].Type.Size()
	})
	ofs := 0
	for _, i := range order {
		d.elems[i].Offset = ofs
		ofs += d.elems[i].Type.Size()
	}
}

// ByteSize returns the record width: the summed field widths rounded
// up to 4 bytes, minimum 1.
func (d *MetaDescription) ByteSize() int {
	n := 0
	for _, e := range d.elems {
		n += e.Type.Size()
	}
	if n == 0 {
		return 1
	}
	return (n + 3) &^ 3
}

// NofElements returns the number of columns.
func (d *MetaDescription) NofElements() int { return len(d.elems) }

// Get returns the column with the given handle.
func (d *MetaDescription) Get(handle int) *MetaElement { return &d.elems[handle] }

// Handle returns the index of the named column, or -1.
func (d *MetaDescription) Handle(name string) int {
	for i := range d.elems {
		if d.elems[i].Name == name {
			return i
		}
	}
	return -1
}

// Columns returns the column names in definition order.
func (d *MetaDescription) Columns() []string {
	rt := make([]string, len(d.elems))
	for i, e := range d.elems {
		rt[i] = e.Name
	}
	return rt
}

// Rename renames a column in place.
func (d *MetaDescription) Rename(oldname, newname string) error {
	h := d.Handle(oldname)
	if h < 0 {
		return fmt.Errorf("%w: %q", ErrMetaUnknownColumn, oldname)
	}
	if oldname != newname && d.Handle(newname) >= 0 {
		return fmt.Errorf("duplicate metadata column %q", newname)
	}
	d.elems[h].Name = newname
	return nil
}

// Remove deletes a column and recomputes the layout.
func (d *MetaDescription) Remove(name string) error {
	h := d.Handle(name)
	if h < 0 {
		return fmt.Errorf("%w: %q", ErrMetaUnknownColumn, name)
	}
	d.elems = append(d.elems[:h], d.elems[h+1:]...)
	d.layout()
	return nil
}

// String serializes the schema as the comma-separated "name type"
// list stored under the metadata table key.
func (d *MetaDescription) String() string {
	var sb strings.Builder
	for i, e := range d.elems {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(e.Name)
		sb.WriteByte(' ')
		sb.WriteString(e.Type.String())
	}
	return sb.String()
}

// Equal reports structural equality: the same ordered list of
// (name, type) pairs.
func (d *MetaDescription) Equal(o *MetaDescription) bool {
	if len(d.elems) != len(o.elems) {
		return false
	}
	for i := range d.elems {
		if d.elems[i].Name != o.elems[i].Name || d.elems[i].Type != o.elems[i].Type {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the description.
func (d *MetaDescription) Clone() *MetaDescription {
	rt := &MetaDescription{elems: make([]MetaElement, len(d.elems))}
	copy(rt.elems, d.elems)
	return rt
}

// TranslationElem maps a destination column to its source column in
// an alter-table rewrite; Src is nil for new or reset columns.
type TranslationElem struct {
	Dst *MetaElement
	Src *MetaElement
}

// TranslationMap builds the per-column mapping used to rewrite blocks
// from description src to d. Renamed columns are matched by the
// renames map (new name -> old name); names listed in resets are left
// unmapped so the rewrite zeroes them.
func (d *MetaDescription) TranslationMap(src *MetaDescription, renames map[string]string, resets []string) []TranslationElem {
	reset := make(map[string]bool, len(resets))
	for _, name := range resets {
		reset[name] = true
	}
	rt := make([]TranslationElem, 0, len(d.elems))
	for i := range d.elems {
		dst := &d.elems[i]
		te := TranslationElem{Dst: dst}
		if !reset[dst.Name] {
			srcName := dst.Name
			if old, ok := renames[dst.Name]; ok {
				srcName = old
			}
			if h := src.Handle(srcName); h >= 0 {
				te.Src = src.Get(h)
			}
		}
		rt = append(rt, te)
	}
	return rt
}

// MetaRecord is a view on one metadata record inside a block payload.
type MetaRecord struct {
	desc *MetaDescription
	data []byte
}

// NewMetaRecord returns a record view over data, which must be at
// least desc.ByteSize() long.
func NewMetaRecord(desc *MetaDescription, data []byte) MetaRecord {
	return MetaRecord{desc: desc, data: data}
}

// Get returns the value of the column.
func (r MetaRecord) Get(e *MetaElement) Numeric {
	b := r.data[e.Offset:]
	switch e.Type {
	case MetaInt8:
		return Int(int64(int8(b[0])))
	case MetaUInt8:
		return UInt(uint64(b[0]))
	case MetaInt16:
		return Int(int64(int16(binary.LittleEndian.Uint16(b))))
	case MetaUInt16:
		return UInt(uint64(binary.LittleEndian.Uint16(b)))
	case MetaInt32:
		return Int(int64(int32(binary.LittleEndian.Uint32(b))))
	case MetaUInt32:
		return UInt(uint64(binary.LittleEndian.Uint32(b)))
	case MetaFloat16:
		return Float(float64(Float16To32(binary.LittleEndian.Uint16(b))))
	case MetaFloat32:
		return Float(float64(math.Float32frombits(binary.LittleEndian.Uint32(b))))
	}
	return Numeric{}
}

// Set assigns the column, casting through Numeric. An integral value
// outside the column's domain fails with ErrMetaValueOutOfRange.
func (r MetaRecord) Set(e *MetaElement, v Numeric) error {
	b := r.data[e.Offset:]
	switch e.Type {
	case MetaInt8:
		iv := v.AsInt()
		if iv < -128 || iv > 127 {
			return fmt.Errorf("%w: %s into Int8", ErrMetaValueOutOfRange, v)
		}
		b[0] = byte(int8(iv))
	case MetaUInt8:
		uv := v.AsUInt()
		if v.Kind == NumericInt && v.AsInt() < 0 || uv > 255 {
			return fmt.Errorf("%w: %s into UInt8", ErrMetaValueOutOfRange, v)
		}
		b[0] = byte(uv)
	case MetaInt16:
		iv := v.AsInt()
		if iv < -32768 || iv > 32767 {
			return fmt.Errorf("%w: %s into Int16", ErrMetaValueOutOfRange, v)
		}
		binary.LittleEndian.PutUint16(b, uint16(int16(iv)))
	case MetaUInt16:
		uv := v.AsUInt()
		if v.Kind == NumericInt && v.AsInt() < 0 || uv > 0xFFFF {
			return fmt.Errorf("%w: %s into UInt16", ErrMetaValueOutOfRange, v)
		}
		binary.LittleEndian.PutUint16(b, uint16(uv))
	case MetaInt32:
		iv := v.AsInt()
		if iv < -(1<<31) || iv > 1<<31-1 {
			return fmt.Errorf("%w: %s into Int32", ErrMetaValueOutOfRange, v)
		}
		binary.LittleEndian.PutUint32(b, uint32(int32(iv)))
	case MetaUInt32:
		uv := v.AsUInt()
		if v.Kind == NumericInt && v.AsInt() < 0 || uv > 0xFFFFFFFF {
			return fmt.Errorf("%w: %s into UInt32", ErrMetaValueOutOfRange, v)
		}
		binary.LittleEndian.PutUint32(b, uint32(uv))
	case MetaFloat16:
		binary.LittleEndian.PutUint16(b, Float32To16(float32(v.AsFloat())))
	case MetaFloat32:
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v.AsFloat())))
	}
	return nil
}

// Clear zeroes the whole record.
func (r MetaRecord) Clear() {
	n := r.desc.ByteSize()
	for i := 0; i < n; i++ {
		r.data[i] = 0
	}
}

// MetaBlockNo returns the metadata block number holding docno.
func MetaBlockNo(docno uint32) uint32 {
	return (docno-1)/MetaBlockSize + 1
}

// MetaBlockIndex returns the record index of docno inside its block.
func MetaBlockIndex(docno uint32) int {
	return int((docno - 1) % MetaBlockSize)
}

// MetaBlockFirstDocno returns the first docno covered by block blockno.
func MetaBlockFirstDocno(blockno uint32) uint32 {
	return (blockno-1)*MetaBlockSize + 1
}

// NewMetaBlockData returns a zeroed payload for one metadata block.
func NewMetaBlockData(desc *MetaDescription) []byte {
	return make([]byte, desc.ByteSize()*MetaBlockSize)
}

// MetaBlockRecord returns the record view for the record at idx of a
// metadata block payload. Short payloads (from an older, narrower
// description) are grown first.
func MetaBlockRecord(desc *MetaDescription, data []byte, idx int) (MetaRecord, []byte, error) {
	w := desc.ByteSize()
	if len(data) < w*MetaBlockSize {
		if len(data)%MetaBlockSize != 0 {
			return MetaRecord{}, data, corruptf("metadata block size %d not a record multiple", len(data))
		}
		grown := make([]byte, w*MetaBlockSize)
		old := len(data) / MetaBlockSize
		for i := 0; i < MetaBlockSize; i++ {
			copy(grown[i*w:], data[i*old:(i+1)*old])
		}
		data = grown
	}
	return NewMetaRecord(desc, data[idx*w:(idx+1)*w]), data, nil
}

// TranslateMetaBlock rewrites a block payload from one description to
// another: same-typed columns are copied bit for bit, differently
// typed ones are cast through Numeric, unmapped ones stay zero.
func TranslateMetaBlock(tm []TranslationElem, dst *MetaDescription, dstData []byte, src *MetaDescription, srcData []byte) error {
	sw, dw := src.ByteSize(), dst.ByteSize()
	for i := 0; i < MetaBlockSize; i++ {
		if (i+1)*sw > len(srcData) {
			break
		}
		srec := NewMetaRecord(src, srcData[i*sw:(i+1)*sw])
		drec := NewMetaRecord(dst, dstData[i*dw:(i+1)*dw])
		for _, te := range tm {
			if te.Src == nil {
				continue
			}
			if te.Src.Type == te.Dst.Type {
				copy(drec.data[te.Dst.Offset:te.Dst.Offset+te.Dst.Type.Size()],
					srec.data[te.Src.Offset:te.Src.Offset+te.Src.Type.Size()])
				continue
			}
			if err := drec.Set(te.Dst, srec.Get(te.Src)); err != nil {
				return err
			}
		}
	}
	return nil
}
