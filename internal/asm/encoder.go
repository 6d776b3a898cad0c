package asm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/edilbert/bsa650x/internal/cpu"
)

// operand is the syntactic shape of an instruction's operand field, before
// any expression is evaluated.
type operand struct {
	mode cpu.AddrMode
	expr string // the main (or only) expression text
	bit  string // RMB/SMB/BBR/BBS bit-number text
}

// parseOperand classifies the raw operand text into an AddrMode and the
// expression substring(s) it carries, by syntax alone -- no evaluation
// happens here. A leading '`' forces the 16-bit absolute form and
// suppresses base-page shortening ("`$0040" -> AD 40 00).
func parseOperand(s string) operand {
	s = strings.TrimSpace(s)
	force := false
	if strings.HasPrefix(s, "`") {
		force = true
		s = strings.TrimSpace(s[1:])
	}
	if s == "" {
		return operand{mode: cpu.ModeImpl}
	}
	if strings.EqualFold(s, "A") {
		return operand{mode: cpu.ModeAccu}
	}
	if strings.HasPrefix(s, "#") {
		return operand{mode: cpu.ModeImme, expr: s[1:]}
	}
	if strings.HasPrefix(s, "[") {
		// [expr],Z -- 45GS02 32-bit indirect.
		if close := strings.IndexByte(s, ']'); close >= 0 {
			inner := s[1:close]
			rest := strings.TrimSpace(s[close+1:])
			if strings.EqualFold(rest, ",Z") {
				return operand{mode: cpu.ModeInd32, expr: inner}
			}
		}
	}
	if strings.HasPrefix(s, "(") {
		close := matchingParen(s)
		if close < 0 {
			return operand{mode: cpu.ModeAbso, expr: s}
		}
		inner := s[1:close]
		rest := strings.TrimSpace(s[close+1:])
		switch {
		case strings.HasSuffix(strings.ToUpper(inner), ",X"):
			return operand{mode: cpu.ModeIndX, expr: strings.TrimSpace(inner[:len(inner)-2])}
		case rest == "":
			return operand{mode: cpu.ModeInd, expr: inner}
		case strings.EqualFold(rest, ",Y"):
			return operand{mode: cpu.ModeIndY, expr: inner}
		case strings.EqualFold(rest, ",Z") || strings.EqualFold(rest, "Z"):
			return operand{mode: cpu.ModeIndZ, expr: inner}
		}
	}
	upper := strings.ToUpper(s)
	if strings.HasSuffix(upper, ",X") {
		mode := cpu.ModeZpgx
		if force {
			mode = cpu.ModeAbsx
		}
		return operand{mode: mode, expr: strings.TrimSpace(s[:len(s)-2])}
	}
	if strings.HasSuffix(upper, ",Y") {
		mode := cpu.ModeZpgy
		if force {
			mode = cpu.ModeAbsy
		}
		return operand{mode: mode, expr: strings.TrimSpace(s[:len(s)-2])}
	}
	mode := cpu.ModeZpag
	if force {
		mode = cpu.ModeAbso
	}
	return operand{mode: mode, expr: s}
}

func matchingParen(s string) int {
	depth := 0
	for i, c := range s {
		switch c {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// widen promotes a base-page-shaped mode to its absolute counterpart, used
// when the resolved value does not fit the active base page.
func widen(m cpu.AddrMode) cpu.AddrMode {
	switch m {
	case cpu.ModeZpag:
		return cpu.ModeAbso
	case cpu.ModeZpgx:
		return cpu.ModeAbsx
	case cpu.ModeZpgy:
		return cpu.ModeAbsy
	default:
		return m
	}
}

// encodeGeneral resolves mode (shortening to base page where the value
// allows it) and appends the opcode and little-endian operand bytes.
func (a *Assembler) encodeGeneral(entry cpu.GeneralEntry, op operand, line int) ([]byte, error) {
	mode := op.mode
	value, _ := a.evalOperandExpr(op.expr, line)

	if _, ok := entry.Modes[mode]; !ok {
		if w := widen(mode); w != mode {
			if _, ok2 := entry.Modes[w]; ok2 {
				mode = w
			}
		}
	}
	if mode == cpu.ModeZpag || mode == cpu.ModeZpgx || mode == cpu.ModeZpgy {
		if !a.fitsBasePage(value) {
			mode = widen(mode)
		}
	}
	opcode, ok := entry.Modes[mode]
	if !ok {
		return nil, fmt.Errorf("addressing mode not available for this instruction")
	}
	return appendOperandBytes([]byte{byte(opcode)}, mode, value), nil
}

// fitsBasePage reports whether value's high byte equals the active base
// page register, so only the low byte need be stored.
func (a *Assembler) fitsBasePage(value int32) bool {
	if value == symtabUndef {
		return true // assume the narrower form until resolved; widened on mismatch in a later pass
	}
	return byte(value>>8) == a.bp
}

func appendOperandBytes(out []byte, mode cpu.AddrMode, value int32) []byte {
	switch mode {
	case cpu.ModeImpl, cpu.ModeAccu:
		return out
	case cpu.ModeZpag, cpu.ModeZpgx, cpu.ModeZpgy, cpu.ModeImme,
		cpu.ModeIndX, cpu.ModeIndY, cpu.ModeIndZ, cpu.ModeInd32:
		return append(out, byte(value))
	default:
		return append(out, byte(value), byte(value>>8))
	}
}

// symtabUndef mirrors symtab.Undef without importing it twice in this file's
// reading flow; kept as a local alias for clarity at call sites.
const symtabUndef = 0xFF0000

func (a *Assembler) evalOperandExpr(expr string, line int) (int32, string) {
	if expr == "" {
		return 0, ""
	}
	return a.Eval(expr)
}

// encodeQ builds the NEG NEG (NOP) prefix plus the A-register equivalent of
// a Q-register mnemonic (LDA for LDQ, STA for STQ, else the name minus Q).
func (a *Assembler) encodeQ(mnemonic string, op operand, line int) ([]byte, error) {
	base := strings.TrimSuffix(mnemonic, "Q")
	switch mnemonic {
	case "LDQ":
		base = "LDA"
	case "STQ":
		base = "STA"
	}
	entry, ok := cpu.General[base]
	if !ok {
		return nil, fmt.Errorf("%s has no Q-register form", mnemonic)
	}
	indirect := op.mode == cpu.ModeIndX || op.mode == cpu.ModeIndY || op.mode == cpu.ModeIndZ || op.mode == cpu.ModeInd32
	body, err := a.encodeGeneral(entry, op, line)
	if err != nil {
		return nil, err
	}
	prefix := cpu.QPrefix
	if indirect {
		prefix = cpu.QPrefixIndirect
	}
	out := make([]byte, 0, len(prefix)+len(body))
	out = append(out, prefix...)
	out = append(out, body...)
	return out, nil
}

// encodeBitTest builds RMB/SMB/BBR/BBS (45GS02 only): "bit,zp[,target]"
// where bit is 0-7.
func (a *Assembler) encodeBitTest(mnemonic, operandField string, line int) ([]byte, error) {
	parts := splitTop(operandField, ',')
	if len(parts) < 2 {
		return nil, fmt.Errorf("%s requires a bit number and a base-page address", mnemonic)
	}
	bit, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || bit < 0 || bit > 7 {
		return nil, fmt.Errorf("%s bit number must be 0-7", mnemonic)
	}
	base := cpu.BitTestBase[mnemonic]
	opcode := base | (bit << 4)
	zp, _ := a.evalOperandExpr(strings.TrimSpace(parts[1]), line)
	out := []byte{byte(opcode), byte(zp)}
	if len(parts) == 3 {
		target, _ := a.evalOperandExpr(strings.TrimSpace(parts[2]), line)
		disp := target - (a.pc + int32(len(out)) + 1)
		out = append(out, byte(disp))
	}
	return out, nil
}

func splitTop(s string, sep byte) []string {
	var out []string
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(', '[':
			depth++
		case ')', ']':
			depth--
		default:
			if s[i] == sep && depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	out = append(out, s[start:])
	return out
}

// encodeBranch picks the short (2-byte) or long (3-byte, 45GS02) form of a
// conditional branch. The choice made on the penultimate resolution pass
// is locked and reused verbatim on the final pass so the emitted size
// cannot change out from under already-computed addresses.
func (a *Assembler) encodeBranch(op cpu.SimpleEntry, expr string, line int) ([]byte, error) {
	target, _ := a.evalOperandExpr(expr, line)

	if dec, ok := a.lockedBranch[a.pc]; ok && a.finalPass() {
		return a.renderBranch(dec, target)
	}

	short := target - (a.pc + 2)
	useLong := false
	if (short < -128 || short > 127) && a.branchOpt && a.Variant&cpu.GS45_02 != 0 {
		useLong = true
	}
	dec := lockedBranchDecision{opcode: op.Op, long: useLong}
	if useLong {
		dec.length = 3
	} else {
		dec.length = 2
	}
	if a.pass == a.lastPass-1 {
		a.lockedBranch[a.pc] = dec
	}
	return a.renderBranch(dec, target)
}

func (a *Assembler) renderBranch(dec lockedBranchDecision, target int32) ([]byte, error) {
	if dec.long {
		disp := target - (a.pc + 3)
		return []byte{byte(cpu.LongBranchOpcode(dec.opcode)), byte(disp), byte(disp >> 8)}, nil
	}
	disp := target - (a.pc + 2)
	if disp < -128 || disp > 127 {
		if a.finalPass() {
			return nil, fmt.Errorf("branch target out of range")
		}
		disp = 0 // placeholder during resolution passes
	}
	return []byte{byte(dec.opcode), byte(int8(disp))}, nil
}

// longBranchMnemonic reports whether name is an L-prefixed forced long
// branch (LBPL, LBMI, ...) -- the short-branch mnemonic it names with an
// "L" stuck on the front -- and returns the short form's table entry.
func longBranchMnemonic(name string) (cpu.SimpleEntry, bool) {
	if !strings.HasPrefix(name, "L") {
		return cpu.SimpleEntry{}, false
	}
	entry, ok := cpu.Relative[name[1:]]
	return entry, ok
}

// Encode dispatches mnemonic/operandField through an ordered set of
// lookups: bit-test, Q-register, long-branch (BSR, L-prefix), implied,
// short-branch, then the general 9-mode table.
func (a *Assembler) Encode(mnemonic, operandField string, line int) ([]byte, error) {
	mnemonic = strings.ToUpper(mnemonic)

	if _, ok := cpu.BitTestBase[mnemonic]; ok && a.Variant&cpu.GS45_02 != 0 {
		return a.encodeBitTest(mnemonic, operandField, line)
	}

	if cpu.QRegisterMnemonics[mnemonic] && a.Variant&cpu.GS45_02 != 0 {
		return a.encodeQ(mnemonic, parseOperand(operandField), line)
	}

	if mnemonic == "BSR" && a.Variant&cpu.GS45_02 != 0 {
		target, _ := a.evalOperandExpr(strings.TrimSpace(operandField), line)
		disp := target - (a.pc + 3)
		return []byte{cpu.BSROpcode, byte(disp), byte(disp >> 8)}, nil
	}

	if entry, ok := longBranchMnemonic(mnemonic); ok && a.Variant&cpu.GS45_02 != 0 {
		target, _ := a.evalOperandExpr(strings.TrimSpace(operandField), line)
		disp := target - (a.pc + 3)
		return []byte{byte(cpu.LongBranchOpcode(entry.Op)), byte(disp), byte(disp >> 8)}, nil
	}

	if entry, ok := cpu.Implied[mnemonic]; ok && entry.Available(a.Variant) {
		if opText := strings.TrimSpace(operandField); opText == "" || strings.EqualFold(opText, "A") {
			return []byte{byte(entry.Op)}, nil
		}
	}

	if entry, ok := cpu.Relative[mnemonic]; ok && entry.Available(a.Variant) {
		return a.encodeBranch(entry, strings.TrimSpace(operandField), line)
	}

	if entry, ok := cpu.General[mnemonic]; ok && entry.Available(a.Variant) {
		return a.encodeGeneral(entry, parseOperand(operandField), line)
	}

	return nil, fmt.Errorf("unknown mnemonic %q for the active CPU variant", mnemonic)
}

// IsMnemonic reports whether name is a recognized opcode mnemonic on any
// variant, used by the line classifier to distinguish an instruction from a
// directive or a macro call.
func IsMnemonic(name string) bool {
	name = strings.ToUpper(name)
	if _, ok := cpu.General[name]; ok {
		return true
	}
	if _, ok := cpu.Implied[name]; ok {
		return true
	}
	if _, ok := cpu.Relative[name]; ok {
		return true
	}
	if _, ok := cpu.BitTestBase[name]; ok {
		return true
	}
	if cpu.QRegisterMnemonics[name] {
		return true
	}
	if name == "BSR" {
		return true
	}
	_, ok := longBranchMnemonic(name)
	return ok
}
