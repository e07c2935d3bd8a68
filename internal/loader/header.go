package loader

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Image header, little-endian, 64 bytes:
//
//	0x00 magic      "EMBR"
//	0x04 version
//	0x06 flags
//	0x08 header length (always 64)
//	0x0c total image length, header included
//	0x10 entry point offset from image start
//	0x14 text offset
//	0x18 text length
//	0x1c data offset
//	0x20 data length
//	0x24 minimum RAM
//	0x28 minimum stack
//	0x2c checksum: xor of the sixteen header words, checksum word zeroed
//	0x30 name, sixteen bytes, NUL padded
const (
	HeaderMagic   = 0x52424d45
	HeaderVersion = 1
	HeaderSize    = 64
)

// ErrBadHeader covers every way an image header can be malformed.
var ErrBadHeader = errors.New("bad image header")

// Header is a parsed, validated image header.
type Header struct {
	Version  uint16
	Flags    uint16
	TotalLen uint32
	Entry    uint32
	TextOff  uint32
	TextLen  uint32
	DataOff  uint32
	DataLen  uint32
	MinRAM   uint32
	MinStack uint32
	Name     string
}

// ParseHeader reads and validates the header at the front of b. It
// checks internal consistency only; whether the image fits its flash
// region is the process table's call.
func ParseHeader(b []byte) (*Header, error) {
	if len(b) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes, need %d", ErrBadHeader, len(b), HeaderSize)
	}
	if magic := binary.LittleEndian.Uint32(b[0x00:]); magic != HeaderMagic {
		return nil, fmt.Errorf("%w: magic 0x%08x", ErrBadHeader, magic)
	}
	h := &Header{
		Version:  binary.LittleEndian.Uint16(b[0x04:]),
		Flags:    binary.LittleEndian.Uint16(b[0x06:]),
		TotalLen: binary.LittleEndian.Uint32(b[0x0c:]),
		Entry:    binary.LittleEndian.Uint32(b[0x10:]),
		TextOff:  binary.LittleEndian.Uint32(b[0x14:]),
		TextLen:  binary.LittleEndian.Uint32(b[0x18:]),
		DataOff:  binary.LittleEndian.Uint32(b[0x1c:]),
		DataLen:  binary.LittleEndian.Uint32(b[0x20:]),
		MinRAM:   binary.LittleEndian.Uint32(b[0x24:]),
		MinStack: binary.LittleEndian.Uint32(b[0x28:]),
		Name:     string(bytes.TrimRight(b[0x30:0x40], "\x00")),
	}
	if h.Version != HeaderVersion {
		return nil, fmt.Errorf("%w: version %d", ErrBadHeader, h.Version)
	}
	if hdrLen := binary.LittleEndian.Uint32(b[0x08:]); hdrLen != HeaderSize {
		return nil, fmt.Errorf("%w: header length %d", ErrBadHeader, hdrLen)
	}
	if sum := headerChecksum(b); sum != binary.LittleEndian.Uint32(b[0x2c:]) {
		return nil, fmt.Errorf("%w: checksum 0x%08x, computed 0x%08x",
			ErrBadHeader, binary.LittleEndian.Uint32(b[0x2c:]), sum)
	}
	if err := h.validate(); err != nil {
		return nil, err
	}
	return h, nil
}

// ParseImage validates the header and that the declared image fits the
// supplied bytes.
func ParseImage(b []byte) (*Header, error) {
	h, err := ParseHeader(b)
	if err != nil {
		return nil, err
	}
	if uint64(h.TotalLen) > uint64(len(b)) {
		return nil, fmt.Errorf("%w: declares %d bytes, image has %d", ErrBadHeader, h.TotalLen, len(b))
	}
	return h, nil
}

func (h *Header) validate() error {
	if h.TotalLen < HeaderSize {
		return fmt.Errorf("%w: total length %d", ErrBadHeader, h.TotalLen)
	}
	if err := h.sectionInBounds("text", h.TextOff, h.TextLen); err != nil {
		return err
	}
	if err := h.sectionInBounds("data", h.DataOff, h.DataLen); err != nil {
		return err
	}
	if h.TextLen == 0 {
		return fmt.Errorf("%w: empty text", ErrBadHeader)
	}
	if h.Entry < h.TextOff || uint64(h.Entry) >= uint64(h.TextOff)+uint64(h.TextLen) {
		return fmt.Errorf("%w: entry 0x%x outside text", ErrBadHeader, h.Entry)
	}
	if uint64(h.DataLen)+uint64(h.MinStack) > uint64(h.MinRAM) {
		return fmt.Errorf("%w: min ram %d cannot hold data %d and stack %d",
			ErrBadHeader, h.MinRAM, h.DataLen, h.MinStack)
	}
	return nil
}

func (h *Header) sectionInBounds(name string, off, length uint32) error {
	if length == 0 {
		return nil
	}
	if off < HeaderSize || uint64(off)+uint64(length) > uint64(h.TotalLen) {
		return fmt.Errorf("%w: %s section 0x%x+%d outside image", ErrBadHeader, name, off, length)
	}
	return nil
}

// Encode writes the header's wire form.
func (h *Header) Encode() []byte {
	b := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(b[0x00:], HeaderMagic)
	binary.LittleEndian.PutUint16(b[0x04:], h.Version)
	binary.LittleEndian.PutUint16(b[0x06:], h.Flags)
	binary.LittleEndian.PutUint32(b[0x08:], HeaderSize)
	binary.LittleEndian.PutUint32(b[0x0c:], h.TotalLen)
	binary.LittleEndian.PutUint32(b[0x10:], h.Entry)
	binary.LittleEndian.PutUint32(b[0x14:], h.TextOff)
	binary.LittleEndian.PutUint32(b[0x18:], h.TextLen)
	binary.LittleEndian.PutUint32(b[0x1c:], h.DataOff)
	binary.LittleEndian.PutUint32(b[0x20:], h.DataLen)
	binary.LittleEndian.PutUint32(b[0x24:], h.MinRAM)
	binary.LittleEndian.PutUint32(b[0x28:], h.MinStack)
	name := make([]byte, 16)
	copy(name, h.Name)
	copy(b[0x30:], name)
	binary.LittleEndian.PutUint32(b[0x2c:], headerChecksum(b))
	return b
}

func headerChecksum(b []byte) uint32 {
	var sum uint32
	for off := 0; off < HeaderSize; off += 4 {
		if off == 0x2c {
			continue
		}
		sum ^= binary.LittleEndian.Uint32(b[off:])
	}
	return sum
}

// ImageSpec describes an image for BuildImage.
type ImageSpec struct {
	Name string
	// EntryOffset is relative to the start of text.
	EntryOffset uint32
	Text        []byte
	Data        []byte
	MinStack    uint32
	// MinRAM defaults to data plus stack when zero.
	MinRAM uint32
}

// DefaultMinStack is used when an image spec leaves the stack size out.
const DefaultMinStack = 256

// BuildImage assembles a loadable image: header, text, then data.
func BuildImage(spec ImageSpec) ([]byte, error) {
	if len(spec.Text) == 0 {
		return nil, fmt.Errorf("%w: empty text", ErrBadHeader)
	}
	if len(spec.Name) > 16 {
		return nil, fmt.Errorf("%w: name %q longer than 16 bytes", ErrBadHeader, spec.Name)
	}
	minStack := spec.MinStack
	if minStack == 0 {
		minStack = DefaultMinStack
	}
	minRAM := spec.MinRAM
	if minRAM == 0 {
		minRAM = uint32(len(spec.Data)) + minStack
	}
	h := &Header{
		Version:  HeaderVersion,
		TotalLen: uint32(HeaderSize + len(spec.Text) + len(spec.Data)),
		Entry:    HeaderSize + spec.EntryOffset,
		TextOff:  HeaderSize,
		TextLen:  uint32(len(spec.Text)),
		DataOff:  uint32(HeaderSize + len(spec.Text)),
		DataLen:  uint32(len(spec.Data)),
		MinRAM:   minRAM,
		MinStack: minStack,
		Name:     spec.Name,
	}
	if err := h.validate(); err != nil {
		return nil, err
	}
	img := make([]byte, 0, h.TotalLen)
	img = append(img, h.Encode()...)
	img = append(img, spec.Text...)
	img = append(img, spec.Data...)
	return img, nil
}
