package asm

import (
	"testing"

	"github.com/edilbert/bsa650x/internal/cpu"
)

func newTestAssembler() *Assembler {
	a := New(DefaultOptions())
	a.pc = 0x1000
	return a
}

func TestEncodeImmediate(t *testing.T) {
	a := newTestAssembler()
	code, err := a.Encode("LDA", "#$42", 1)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0xA9, 0x42}
	assertBytes(t, code, want)
}

func TestEncodeBasePageShortening(t *testing.T) {
	a := newTestAssembler()
	a.bp = 0

	code, err := a.Encode("LDA", "$40", 1)
	if err != nil {
		t.Fatal(err)
	}
	assertBytes(t, code, []byte{0xA5, 0x40})

	code, err = a.Encode("LDA", "$0040", 1)
	if err != nil {
		t.Fatal(err)
	}
	assertBytes(t, code, []byte{0xA5, 0x40})
}

func TestEncodeForced16BitOperandSkipsShortening(t *testing.T) {
	a := newTestAssembler()
	a.bp = 0

	code, err := a.Encode("LDA", "`$0040", 1)
	if err != nil {
		t.Fatal(err)
	}
	assertBytes(t, code, []byte{0xAD, 0x40, 0x00})
}

func TestEncodeShortBranchNegativeDisplacement(t *testing.T) {
	a := newTestAssembler()
	a.pc = 0x1000
	a.lastPass = 2
	a.pass = 1
	// The branch targets its own address (LOOP: BNE LOOP).
	code, err := a.Encode("BNE", "$1000", 1)
	if err != nil {
		t.Fatal(err)
	}
	assertBytes(t, code, []byte{0xD0, 0xFE})
}

func TestEncodeWordAndBigWordDirectives(t *testing.T) {
	a := newTestAssembler()
	code, _, err := a.DispatchDirective("WORD", "$1234, $5678", 1)
	if err != nil {
		t.Fatal(err)
	}
	assertBytes(t, code, []byte{0x34, 0x12, 0x78, 0x56})

	code, _, err = a.DispatchDirective("BIGW", "$1234", 1)
	if err != nil {
		t.Fatal(err)
	}
	assertBytes(t, code, []byte{0x12, 0x34})
}

func TestEncodeByteDirectiveWithStringAndNumbers(t *testing.T) {
	a := newTestAssembler()
	code, _, err := a.DispatchDirective("BYTE", `"AB",0,$FF`, 1)
	if err != nil {
		t.Fatal(err)
	}
	assertBytes(t, code, []byte{0x41, 0x42, 0x00, 0xFF})
}

func TestFillDirective(t *testing.T) {
	a := newTestAssembler()
	code, _, err := a.DispatchDirective("FILL", "3,($EA)", 1)
	if err != nil {
		t.Fatal(err)
	}
	assertBytes(t, code, []byte{0xEA, 0xEA, 0xEA})
}

func TestQRegisterPrefixing(t *testing.T) {
	a := newTestAssembler()
	a.Variant = cpu.GS45_02
	code, err := a.Encode("LDQ", "$40", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(code) < 2 || code[0] != 0x42 || code[1] != 0x42 {
		t.Fatalf("LDQ did not emit the NEG NEG prefix: % X", code)
	}
}

func TestBSROpcodeOn45GS02(t *testing.T) {
	a := newTestAssembler()
	a.Variant = cpu.GS45_02
	a.pc = 0x1000
	code, err := a.Encode("BSR", "$1010", 1)
	if err != nil {
		t.Fatal(err)
	}
	if code[0] != cpu.BSROpcode {
		t.Fatalf("BSR opcode = %#x, want %#x", code[0], cpu.BSROpcode)
	}
	if len(code) != 3 {
		t.Fatalf("BSR must encode a 16-bit displacement, got % X", code)
	}
}

func TestLongBranchPrefixOn45GS02(t *testing.T) {
	a := newTestAssembler()
	a.Variant = cpu.GS45_02
	a.pc = 0x1000
	code, err := a.Encode("LBNE", "$1010", 1)
	if err != nil {
		t.Fatal(err)
	}
	want := byte(cpu.LongBranchOpcode(cpu.Relative["BNE"].Op))
	if code[0] != want {
		t.Fatalf("LBNE opcode = %#x, want %#x", code[0], want)
	}
	if len(code) != 3 {
		t.Fatalf("LBNE must encode a 16-bit displacement, got % X", code)
	}
	if !IsMnemonic("LBNE") {
		t.Fatalf("IsMnemonic should recognize the L-prefix long-branch forms")
	}
}

func TestLongBranchPrefixUnavailableOff45GS02(t *testing.T) {
	a := newTestAssembler()
	a.pc = 0x1000
	if _, err := a.Encode("LBNE", "$1010", 1); err == nil {
		t.Fatalf("LBNE should be unrecognized outside the 45GS02 variant")
	}
}

func assertBytes(t *testing.T, got, want []byte) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got % X, want % X", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("got % X, want % X", got, want)
		}
	}
}
