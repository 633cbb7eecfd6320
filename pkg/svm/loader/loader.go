// Package loader validates sBPF ELF images and extracts what the program
// cache needs from them: the instruction stream, read-only data, the entry
// point, the function registry and the syscalls the program imports.
//
// It also holds the account layouts of the loaders that own deployed
// programs (see state.go).
package loader

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/spaolacci/murmur3"
)

var elfMagic = []byte{0x7f, 'E', 'L', 'F'}

const (
	elfClass64     = 2
	elfDataLSB     = 1
	elfMachineBPF  = 247
	elfMachineSBPF = 263
	elfTypeExec    = 2
	elfTypeDyn     = 3

	shtNobits = 8

	sttFunc = 2

	rBPF64_64    = 1
	rBPFRelative = 8
	rBPF64_32    = 10

	headerSize = 64
	shdrSize   = 64
	symSize    = 24
)

// ELF errors.
var (
	ErrInvalidELF           = errors.New("invalid ELF file")
	ErrUnsupportedClass     = errors.New("unsupported ELF class (expected 64-bit)")
	ErrUnsupportedEndian    = errors.New("unsupported endianness (expected little-endian)")
	ErrUnsupportedMachine   = errors.New("unsupported machine type (expected BPF/sBPF)")
	ErrNoTextSection        = errors.New("no .text section found")
	ErrInvalidSection       = errors.New("invalid section")
	ErrEntrypointOutOfRange = errors.New("entrypoint out of bounds")
	ErrUnresolvedSymbol     = errors.New("unresolved symbol")
	ErrTooLarge             = errors.New("ELF file too large")
)

// Limits enforced while parsing.
const (
	MaxELFSize      = 10 * 1024 * 1024
	MaxSections     = 256
	MaxSymbols      = 100000
	MaxRelocations  = 100000
	MaxInstructions = 1000000
)

// SymbolHash returns the murmur3 hash used to identify functions and
// syscalls by name.
func SymbolHash(name string) uint32 {
	return murmur3.Sum32([]byte(name))
}

// Config controls how strictly images are validated.
type Config struct {
	// Syscalls is the set of syscall hashes an image may import. When nil,
	// any import is accepted.
	Syscalls map[uint32]string

	// MaxSize caps the image size. Zero means MaxELFSize.
	MaxSize int
}

// Executable is a validated program image.
type Executable struct {
	Text      []uint64
	RO        []byte
	Entry     uint64
	Functions map[uint32]uint64
	Syscalls  []uint32
}

type elfHeader struct {
	class, data  uint8
	typ, machine uint16
	entry, shoff uint64
	shentsize    uint16
	shnum        uint16
	shstrndx     uint16
}

type section struct {
	name    string
	typ     uint32
	addr    uint64
	offset  uint64
	size    uint64
	entsize uint64
}

type symbol struct {
	name  uint32
	info  uint8
	shndx uint16
	value uint64
}

// Load parses and validates an ELF image.
func Load(data []byte, cfg Config) (*Executable, error) {
	maxSize := cfg.MaxSize
	if maxSize == 0 {
		maxSize = MaxELFSize
	}
	if len(data) > maxSize {
		return nil, ErrTooLarge
	}

	hdr, err := parseHeader(data)
	if err != nil {
		return nil, err
	}
	if err := hdr.validate(); err != nil {
		return nil, err
	}
	sections, err := parseSections(data, hdr)
	if err != nil {
		return nil, err
	}

	text := findSection(sections, ".text")
	if text == nil {
		return nil, ErrNoTextSection
	}
	words, err := readText(data, text)
	if err != nil {
		return nil, err
	}

	exe := &Executable{Text: words, Functions: make(map[uint32]uint64)}
	if ro := findSection(sections, ".rodata"); ro != nil {
		if exe.RO, err = sectionBytes(data, ro); err != nil {
			return nil, err
		}
	}

	symtab, strtab := findSection(sections, ".symtab"), findSection(sections, ".strtab")
	if symtab == nil || strtab == nil {
		symtab, strtab = findSection(sections, ".dynsym"), findSection(sections, ".dynstr")
	}
	var syms []symbol
	var names []byte
	if symtab != nil && strtab != nil {
		if syms, err = parseSymbols(data, symtab); err != nil {
			return nil, err
		}
		if names, err = sectionBytes(data, strtab); err != nil {
			return nil, err
		}
	}
	for _, sym := range syms {
		if sym.info&0xf != sttFunc || sym.shndx == 0 || sym.value < text.addr {
			continue
		}
		if name := cString(names, sym.name); name != "" {
			exe.Functions[SymbolHash(name)] = (sym.value - text.addr) / 8
		}
	}

	for _, relName := range []string{".rel.text", ".rel.dyn"} {
		rel := findSection(sections, relName)
		if rel == nil {
			continue
		}
		if err := relocate(data, rel, text.addr, exe, syms, names, cfg.Syscalls); err != nil {
			return nil, err
		}
	}

	exe.Entry = hdr.entry / 8
	if text.addr > 0 {
		exe.Entry = (hdr.entry - text.addr) / 8
	}
	if hdr.entry < text.addr || exe.Entry >= uint64(len(words)) {
		return nil, ErrEntrypointOutOfRange
	}
	return exe, nil
}

func parseHeader(data []byte) (*elfHeader, error) {
	if len(data) < headerSize || !bytes.Equal(data[0:4], elfMagic) {
		return nil, ErrInvalidELF
	}
	le := binary.LittleEndian
	return &elfHeader{
		class:     data[4],
		data:      data[5],
		typ:       le.Uint16(data[16:]),
		machine:   le.Uint16(data[18:]),
		entry:     le.Uint64(data[24:]),
		shoff:     le.Uint64(data[40:]),
		shentsize: le.Uint16(data[58:]),
		shnum:     le.Uint16(data[60:]),
		shstrndx:  le.Uint16(data[62:]),
	}, nil
}

func (h *elfHeader) validate() error {
	switch {
	case h.class != elfClass64:
		return ErrUnsupportedClass
	case h.data != elfDataLSB:
		return ErrUnsupportedEndian
	case h.machine != elfMachineBPF && h.machine != elfMachineSBPF:
		return ErrUnsupportedMachine
	case h.typ != elfTypeExec && h.typ != elfTypeDyn:
		return fmt.Errorf("%w: unsupported ELF type %d", ErrInvalidELF, h.typ)
	}
	return nil
}

func parseSections(data []byte, h *elfHeader) ([]section, error) {
	if h.shnum == 0 || h.shnum > MaxSections || h.shentsize < shdrSize {
		return nil, fmt.Errorf("%w: bad section table", ErrInvalidELF)
	}
	end := h.shoff + uint64(h.shentsize)*uint64(h.shnum)
	if end < h.shoff || end > uint64(len(data)) {
		return nil, ErrInvalidELF
	}

	le := binary.LittleEndian
	nameOffs := make([]uint32, h.shnum)
	out := make([]section, h.shnum)
	for i := range out {
		b := data[h.shoff+uint64(i)*uint64(h.shentsize):]
		nameOffs[i] = le.Uint32(b[0:])
		out[i] = section{
			typ:     le.Uint32(b[4:]),
			addr:    le.Uint64(b[16:]),
			offset:  le.Uint64(b[24:]),
			size:    le.Uint64(b[32:]),
			entsize: le.Uint64(b[56:]),
		}
	}

	if int(h.shstrndx) >= len(out) {
		return nil, ErrInvalidSection
	}
	shstr, err := sectionBytes(data, &out[h.shstrndx])
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].name = cString(shstr, nameOffs[i])
	}
	return out, nil
}

func findSection(sections []section, name string) *section {
	for i := range sections {
		if sections[i].name == name {
			return &sections[i]
		}
	}
	return nil
}

func sectionBytes(data []byte, s *section) ([]byte, error) {
	if s.typ == shtNobits {
		return make([]byte, s.size), nil
	}
	end := s.offset + s.size
	if end < s.offset || end > uint64(len(data)) {
		return nil, ErrInvalidSection
	}
	out := make([]byte, s.size)
	copy(out, data[s.offset:end])
	return out, nil
}

func readText(data []byte, s *section) ([]uint64, error) {
	raw, err := sectionBytes(data, s)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || len(raw)%8 != 0 {
		return nil, fmt.Errorf("%w: text section not aligned", ErrInvalidSection)
	}
	if len(raw)/8 > MaxInstructions {
		return nil, fmt.Errorf("%w: too many instructions", ErrTooLarge)
	}
	words := make([]uint64, len(raw)/8)
	for i := range words {
		words[i] = binary.LittleEndian.Uint64(raw[i*8:])
	}
	return words, nil
}

func parseSymbols(data []byte, s *section) ([]symbol, error) {
	entsize := s.entsize
	if entsize == 0 {
		entsize = symSize
	}
	if entsize < symSize {
		return nil, ErrInvalidSection
	}
	n := s.size / entsize
	if n > MaxSymbols {
		return nil, fmt.Errorf("%w: too many symbols", ErrInvalidELF)
	}
	if end := s.offset + s.size; end < s.offset || end > uint64(len(data)) {
		return nil, ErrInvalidSection
	}
	le := binary.LittleEndian
	out := make([]symbol, n)
	for i := range out {
		b := data[s.offset+uint64(i)*entsize:]
		out[i] = symbol{
			name:  le.Uint32(b[0:]),
			info:  b[4],
			shndx: le.Uint16(b[6:]),
			value: le.Uint64(b[8:]),
		}
	}
	return out, nil
}

func cString(tab []byte, off uint32) string {
	if off >= uint32(len(tab)) {
		return ""
	}
	end := bytes.IndexByte(tab[off:], 0)
	if end < 0 {
		return string(tab[off:])
	}
	return string(tab[off : off+uint32(end)])
}

// relocate patches call and address immediates and records imported
// syscalls. An import missing from allowed fails the load.
func relocate(data []byte, s *section, textAddr uint64, exe *Executable, syms []symbol, names []byte, allowed map[uint32]string) error {
	entsize := s.entsize
	if entsize == 0 {
		entsize = 16
	}
	if entsize < 16 {
		return ErrInvalidSection
	}
	n := s.size / entsize
	if n > MaxRelocations {
		return fmt.Errorf("%w: too many relocations", ErrInvalidELF)
	}
	if end := s.offset + s.size; end < s.offset || end > uint64(len(data)) {
		return ErrInvalidSection
	}

	le := binary.LittleEndian
	text := exe.Text
	for i := uint64(0); i < n; i++ {
		b := data[s.offset+i*entsize:]
		offset, info := le.Uint64(b[0:]), le.Uint64(b[8:])
		var addend int64
		if entsize >= 24 {
			addend = int64(le.Uint64(b[16:]))
		}

		symIdx, relType := info>>32, uint32(info)
		if offset < textAddr {
			return fmt.Errorf("%w: relocation offset %d", ErrInvalidELF, offset)
		}
		ins := (offset - textAddr) / 8
		if ins >= uint64(len(text)) {
			return fmt.Errorf("%w: relocation offset %d", ErrInvalidELF, offset)
		}

		switch relType {
		case rBPF64_32:
			if symIdx >= uint64(len(syms)) {
				return fmt.Errorf("%w: symbol index %d", ErrUnresolvedSymbol, symIdx)
			}
			sym := syms[symIdx]
			name := cString(names, sym.name)
			hash := SymbolHash(name)
			if sym.shndx == 0 {
				if allowed != nil {
					if _, ok := allowed[hash]; !ok {
						return fmt.Errorf("%w: %s", ErrUnresolvedSymbol, name)
					}
				}
				exe.Syscalls = append(exe.Syscalls, hash)
			}
			text[ins] = text[ins]&0xffffffff | uint64(hash)<<32

		case rBPF64_64:
			if ins+1 >= uint64(len(text)) || symIdx >= uint64(len(syms)) {
				return fmt.Errorf("%w: lddw relocation at %d", ErrInvalidELF, offset)
			}
			target := syms[symIdx].value + uint64(addend)
			text[ins] = text[ins]&0xffffffff | uint64(uint32(target))<<32
			text[ins+1] = text[ins+1]&0xffffffff | uint64(uint32(target>>32))<<32

		case rBPFRelative:
			rel := int64(ins*8) + addend
			text[ins] = text[ins]&0xffffffff | uint64(uint32(int32(rel)))<<32
		}
	}
	return nil
}
