package memory

import (
	"encoding/binary"
	"fmt"
)

// Bank is one contiguous physical memory bank backed by a byte slice.
type Bank struct {
	Name string
	Base Addr
	data []byte
}

// NewBank allocates a zeroed bank of the given size at base.
func NewBank(name string, base Addr, size uint32) (*Bank, error) {
	if size == 0 {
		return nil, fmt.Errorf("bank %s: size must be positive", name)
	}
	if uint32(base)+size < uint32(base) {
		return nil, fmt.Errorf("bank %s: %s+%d wraps the address space", name, base, size)
	}
	return &Bank{Name: name, Base: base, data: make([]byte, size)}, nil
}

// Span returns the bank's full extent with no permissions attached;
// permissions come from the per-process layout, not the bank.
func (b *Bank) Span() Region {
	return Region{Start: b.Base, Size: uint32(len(b.data))}
}

func (b *Bank) offset(addr Addr, size uint32) (uint32, error) {
	if !b.Span().Contains(addr, size) {
		return 0, fmt.Errorf("bank %s: %s+%d out of range", b.Name, addr, size)
	}
	return uint32(addr - b.Base), nil
}

// Physical is the board's address space: a fixed set of non-overlapping
// banks assembled at board-integration time.
type Physical struct {
	banks []*Bank
}

// NewPhysical assembles the address space, rejecting overlapping banks.
func NewPhysical(banks ...*Bank) (*Physical, error) {
	for i, b := range banks {
		for _, prev := range banks[:i] {
			if b.Span().Overlaps(prev.Span()) {
				return nil, fmt.Errorf("bank %s overlaps bank %s", b.Name, prev.Name)
			}
		}
	}
	return &Physical{banks: banks}, nil
}

// Bank returns the named bank.
func (p *Physical) Bank(name string) (*Bank, bool) {
	for _, b := range p.banks {
		if b.Name == name {
			return b, true
		}
	}
	return nil, false
}

func (p *Physical) bankFor(addr Addr, size uint32) (*Bank, uint32, error) {
	for _, b := range p.banks {
		if off, err := b.offset(addr, size); err == nil {
			return b, off, nil
		}
	}
	return nil, 0, fmt.Errorf("no bank maps %s+%d", addr, size)
}

// ReadWord reads a little-endian 32-bit word.
func (p *Physical) ReadWord(addr Addr) (uint32, error) {
	b, off, err := p.bankFor(addr, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b.data[off:]), nil
}

// WriteWord writes a little-endian 32-bit word.
func (p *Physical) WriteWord(addr Addr, v uint32) error {
	b, off, err := p.bankFor(addr, 4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b.data[off:], v)
	return nil
}

// ReadBytes copies size bytes starting at addr.
func (p *Physical) ReadBytes(addr Addr, size uint32) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	b, off, err := p.bankFor(addr, size)
	if err != nil {
		return nil, err
	}
	out := make([]byte, size)
	copy(out, b.data[off:off+size])
	return out, nil
}

// WriteBytes copies buf into memory starting at addr.
func (p *Physical) WriteBytes(addr Addr, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	b, off, err := p.bankFor(addr, uint32(len(buf)))
	if err != nil {
		return err
	}
	copy(b.data[off:], buf)
	return nil
}

// Slice returns a view aliasing physical memory for the given range.
// Writes through the view are visible to the owning process; callers
// hold it only as long as the validation that produced it stands.
func (p *Physical) Slice(addr Addr, size uint32) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	b, off, err := p.bankFor(addr, size)
	if err != nil {
		return nil, err
	}
	return b.data[off : off+size : off+size], nil
}

// Zero clears every byte of the region.
func (p *Physical) Zero(r Region) error {
	if r.Empty() {
		return nil
	}
	b, off, err := p.bankFor(r.Start, r.Size)
	if err != nil {
		return err
	}
	clear(b.data[off : off+r.Size])
	return nil
}
