package testutil

import (
	"encoding/binary"
)

// sBPF opcodes used by test programs.
const (
	OpMov64Imm = 0xb7
	OpCall     = 0x85
	OpExit     = 0x95
)

// Insn encodes a single sBPF instruction word.
func Insn(op uint8, dst, src uint8, off int16, imm int32) uint64 {
	return uint64(op) | uint64(dst&0xf)<<8 | uint64(src&0xf)<<12 |
		uint64(uint16(off))<<16 | uint64(uint32(imm))<<32
}

// ReturnProgram is the text of a program that sets r0 to code and exits.
func ReturnProgram(code int32) []uint64 {
	return []uint64{Insn(OpMov64Imm, 0, 0, 0, code), Insn(OpExit, 0, 0, 0, 0)}
}

// BuildELF assembles a minimal shared-object sBPF image whose .text holds
// text, with the entry point at its first instruction. For every syscall a
// call instruction is appended after text and relocated against an
// undefined dynamic symbol of that name.
func BuildELF(text []uint64, syscalls ...string) []byte {
	const (
		ehdrSize = 64
		shdrSize = 64
		symSize  = 24
		relSize  = 16
	)
	le := binary.LittleEndian

	code := append([]uint64{}, text...)
	for range syscalls {
		code = append(code, Insn(OpCall, 0, 0, 0, -1))
	}

	dynstr := []byte{0}
	nameOffs := make([]uint32, len(syscalls))
	for i, name := range syscalls {
		nameOffs[i] = uint32(len(dynstr))
		dynstr = append(append(dynstr, name...), 0)
	}
	shstr := []byte("\x00.text\x00.dynstr\x00.dynsym\x00.rel.dyn\x00.shstrtab\x00")
	shName := map[string]uint32{".text": 1, ".dynstr": 7, ".dynsym": 15, ".rel.dyn": 23, ".shstrtab": 32}

	align := func(n int) int { return (n + 7) &^ 7 }
	textOff := ehdrSize
	dynstrOff := textOff + len(code)*8
	dynsymOff := align(dynstrOff + len(dynstr))
	dynsymSize := (len(syscalls) + 1) * symSize
	relOff := dynsymOff + dynsymSize
	relSizeTotal := len(syscalls) * relSize
	shstrOff := relOff + relSizeTotal
	shOff := align(shstrOff + len(shstr))
	const shnum = 6

	out := make([]byte, shOff+shnum*shdrSize)

	copy(out, []byte{0x7f, 'E', 'L', 'F', 2, 1, 1})
	le.PutUint16(out[16:], 3)   // ET_DYN
	le.PutUint16(out[18:], 247) // EM_BPF
	le.PutUint32(out[20:], 1)
	le.PutUint64(out[24:], uint64(textOff))
	le.PutUint64(out[40:], uint64(shOff))
	le.PutUint16(out[52:], ehdrSize)
	le.PutUint16(out[58:], shdrSize)
	le.PutUint16(out[60:], shnum)
	le.PutUint16(out[62:], shnum-1)

	for i, w := range code {
		le.PutUint64(out[textOff+i*8:], w)
	}
	copy(out[dynstrOff:], dynstr)
	for i := range syscalls {
		sym := out[dynsymOff+(i+1)*symSize:]
		le.PutUint32(sym[0:], nameOffs[i])
		sym[4] = 0x10 // STB_GLOBAL, STT_NOTYPE
	}
	for i := range syscalls {
		rel := out[relOff+i*relSize:]
		le.PutUint64(rel[0:], uint64(textOff+(len(text)+i)*8))
		le.PutUint64(rel[8:], uint64(i+1)<<32|10)
	}
	copy(out[shstrOff:], shstr)

	header := func(idx int, name string, typ uint32, addr, off, size, entsize uint64) {
		sh := out[shOff+idx*shdrSize:]
		le.PutUint32(sh[0:], shName[name])
		le.PutUint32(sh[4:], typ)
		le.PutUint64(sh[16:], addr)
		le.PutUint64(sh[24:], off)
		le.PutUint64(sh[32:], size)
		le.PutUint64(sh[56:], entsize)
	}
	header(1, ".text", 1, uint64(textOff), uint64(textOff), uint64(len(code)*8), 0)
	header(2, ".dynstr", 3, 0, uint64(dynstrOff), uint64(len(dynstr)), 0)
	header(3, ".dynsym", 11, 0, uint64(dynsymOff), uint64(dynsymSize), symSize)
	header(4, ".rel.dyn", 9, 0, uint64(relOff), uint64(relSizeTotal), relSize)
	header(5, ".shstrtab", 3, 0, uint64(shstrOff), uint64(len(shstr)), 0)
	return out
}
