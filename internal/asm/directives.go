package asm

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/edilbert/bsa650x/internal/cpu"
	"github.com/edilbert/bsa650x/internal/token"
)

// directive is one entry of the dispatcher. handler receives the
// directive's argument text (everything after the name) and returns the
// bytes to emit at the current pc, if any.
type directive struct {
	name    string
	handler func(a *Assembler, args string, line int) ([]byte, error)
}

// directiveTable maps the data-emitting directive names to their handlers;
// the control and conditional directives are matched in DispatchDirective's
// switch. Dispatch strips a leading '.' or '!' (token.StripDirectivePrefix)
// and upper-cases the name, so matching is case-insensitive.
var directiveTable = map[string]func(a *Assembler, args string, line int) ([]byte, error){
	"BYTE":   dirByte,
	"BYT":    dirByte,
	"PET":    dirPet,
	"DISP":   dirScreen,
	"SCREEN": dirScreen,
	"WORD":   dirWord,
	"WOR":    dirWord,
	"BIGW":   dirBigWord,
	"HEX4":   dirHex4,
	"DEC4":   dirDec4,
	"QUAD":   dirQuad,
	"REAL":   dirReal,
	"REAL4":  dirReal4,
	"BITS":   dirBits,
	"LITS":   dirLits,
	"FILL":   dirFill,
	"BSS":    dirBSS,
}

// DispatchDirective handles a line whose first token names a directive,
// returning the emitted bytes (if any), or handled=false if name is not a known
// directive name at all (so the caller can try it as a mnemonic instead).
func (a *Assembler) DispatchDirective(name, args string, line int) (code []byte, handled bool, err error) {
	bare := token.StripDirectivePrefix(name)
	upper := strings.ToUpper(bare)

	if fn, ok := directiveTable[upper]; ok {
		code, err = fn(a, args, line)
		return code, true, err
	}

	switch upper {
	case "ORG":
		return nil, true, a.dirOrg(args, line)
	case "LOAD":
		return nil, true, a.dirLoad(args, line)
	case "STORE":
		return nil, true, a.dirStore(args, line)
	case "INCLUDE", "SRC":
		return nil, true, a.dirInclude(args, line)
	case "END":
		return nil, true, a.dirEnd()
	case "CPU":
		return nil, true, a.dirCPU(args)
	case "BASE":
		return nil, true, a.dirBase(args, line)
	case "CASE":
		return nil, true, a.dirCase(args)
	case "SIZE":
		return nil, true, a.dirSize(args, line)
	case "SKI", "PAG", "NAM", "SUBTTL":
		return nil, true, nil // listing cosmetics, no-ops at the core-engine layer
	case "ADDR":
		return nil, true, nil // debug-info annotation, consumed by the listing sink only
	case "IF":
		return nil, true, a.dirIf(args, line)
	case "IFDEF":
		return nil, true, a.dirIfdef(args, true)
	case "IFNDEF":
		return nil, true, a.dirIfdef(args, false)
	case "ELSE":
		return nil, true, a.cond.doElse()
	case "ENDIF":
		return nil, true, a.cond.doEndif()
	case "ERROR":
		return nil, true, fmt.Errorf("%s", strings.TrimSpace(args))
	}
	return nil, false, nil
}

// --- Control directives -----------------------------------------------

func (a *Assembler) dirOrg(args string, line int) error {
	v, sym := a.Eval(strings.TrimSpace(args))
	if sym != "" && v == symtabUndef {
		return fmt.Errorf("ORG target %q is undefined", sym)
	}
	a.pc = v
	return nil
}

// dirLoad implements LOAD: arms the 2-byte little-endian load-address
// prefix for the next STORE, which is written from that STORE's own start
// address.
func (a *Assembler) dirLoad(args string, line int) error {
	a.loadPending = true
	return nil
}

func (a *Assembler) dirStore(args string, line int) error {
	parts := splitTop(args, ',')
	if len(parts) != 3 {
		return fmt.Errorf("STORE requires start,len,filename")
	}
	start, _ := a.Eval(strings.TrimSpace(parts[0]))
	length, _ := a.Eval(strings.TrimSpace(parts[1]))
	filename := strings.Trim(strings.TrimSpace(parts[2]), `"`)
	if !a.finalPass() {
		return nil
	}
	if start < 0 || length < 0 || int(start)+int(length) > len(a.Image) {
		return fmt.Errorf("STORE region out of range")
	}
	entry := StoreEntry{Start: int(start), Length: int(length), Filename: filename, WithLoad: a.loadPending}
	a.loadPending = false
	return a.plan.add(entry)
}

func (a *Assembler) dirInclude(args string, line int) error {
	path := strings.Trim(strings.TrimSpace(args), `"`)
	f, err := OpenFile(path)
	if err != nil {
		return fmt.Errorf("cannot open include file %q: %w", path, err)
	}
	return a.include.Push(f)
}

func (a *Assembler) dirEnd() error {
	for !a.include.Empty() {
		a.include.Pop()
	}
	return nil
}

func (a *Assembler) dirCPU(args string) error {
	name := strings.TrimSpace(args)
	v, ok := cpu.ByName(name)
	if !ok {
		return fmt.Errorf("unknown CPU variant %q", name)
	}
	a.Variant = v
	return nil
}

func (a *Assembler) dirBase(args string, line int) error {
	v, _ := a.Eval(strings.TrimSpace(args))
	a.bp = byte(v)
	return nil
}

// dirCase implements "CASE +"/"CASE -" to toggle symbol-name case
// sensitivity, plus the more readable SENSITIVE/INSENSITIVE and ON/OFF
// spellings for the same switch.
func (a *Assembler) dirCase(args string) error {
	switch strings.ToUpper(strings.TrimSpace(args)) {
	case "+", "SENSITIVE", "ON":
		a.Syms.CaseSensitive = true
	case "-", "INSENSITIVE", "OFF":
		a.Syms.CaseSensitive = false
	default:
		return fmt.Errorf("CASE expects + or - (or SENSITIVE/INSENSITIVE)")
	}
	return nil
}

func (a *Assembler) dirSize(args string, line int) error {
	// .SIZE label reports the byte length of label's defined region; this
	// core engine only needs to make that length resolvable for the '?'
	// operator, so it records nothing extra -- Bytes is already set by
	// defineLabelAndContinue from the bytes emitted on the label's line.
	return nil
}

// --- Conditional directives --------------------------------------------

func (a *Assembler) dirIf(args string, line int) error {
	v, _ := a.Eval(strings.TrimSpace(args))
	return a.cond.pushIf(v != 0 && v != symtabUndef)
}

func (a *Assembler) dirIfdef(args string, wantDefined bool) error {
	name := strings.TrimSpace(args)
	sym := a.Syms.Lookup(a.qualify(name))
	defined := sym != nil && sym.Defined()
	return a.cond.pushIf(defined == wantDefined)
}

// --- Data directives -----------------------------------------------------

func dirByte(a *Assembler, args string, line int) ([]byte, error) {
	return a.encodeByteList(args, line, asciiByte)
}

func dirPet(a *Assembler, args string, line int) ([]byte, error) {
	return a.encodeByteList(args, line, petsciiByte)
}

func dirScreen(a *Assembler, args string, line int) ([]byte, error) {
	return a.encodeByteList(args, line, screenCodeByte)
}

// encodeByteList parses a comma-separated list of string literals and
// numeric expressions into a byte stream, shared by BYTE/PET/DISP. xform
// converts a literal character for the selected string form; numeric items
// are never transformed.
func (a *Assembler) encodeByteList(args string, line int, xform func(byte) byte) ([]byte, error) {
	var out []byte
	for _, item := range splitTop(args, ',') {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if item[0] == '"' || item[0] == '\'' {
			bytes, err := decodeStringLiteral(item, xform)
			if err != nil {
				return nil, err
			}
			out = append(out, bytes...)
			continue
		}
		v, _ := a.Eval(item)
		out = append(out, byte(v))
		if v > 255 || v < -127 {
			out = append(out, byte(v>>8))
		}
	}
	return out, nil
}

func asciiByte(c byte) byte { return c }

// petsciiByte implements the PETSCII transliteration: lowercase shifts
// down by 0x20, uppercase shifts up into the 0xC1.. range.
func petsciiByte(c byte) byte {
	switch {
	case c >= 'a' && c <= 'z':
		return c - 0x20
	case c >= 'A' && c <= 'Z':
		return c + 0x80
	default:
		return c
	}
}

// screenCodeByte implements the C64/MEGA65 screen-code mapping: '@' through
// '_' map to 0x00-0x1F, 'a'-'z' to 0x01-0x1A, and every other byte (space,
// digits and punctuation included) passes through unchanged.
func screenCodeByte(c byte) byte {
	switch {
	case c >= '@' && c <= '_':
		return c - '@'
	case c >= 'a' && c <= 'z':
		return c - 'a' + 1
	case c >= ' ' && c <= '?':
		return c
	default:
		return c
	}
}

// decodeStringLiteral parses one quoted item (" or ') including the
// \r \n \a \e \0 \\ escapes and the trailing '^' high-bit marker.
func decodeStringLiteral(s string, xform func(byte) byte) ([]byte, error) {
	if len(s) < 2 {
		return nil, fmt.Errorf("malformed string literal %q", s)
	}
	quote := s[0]
	var out []byte
	i := 1
	for i < len(s) && s[i] != quote {
		c := s[i]
		if c == '\\' && i+1 < len(s) {
			i++
			switch s[i] {
			case 'r':
				c = '\r'
			case 'n':
				c = '\n'
			case 'a':
				c = 0x07
			case 'e':
				c = 0x1B
			case '0':
				c = 0
			case '\\':
				c = '\\'
			default:
				c = s[i]
			}
			out = append(out, c)
			i++
			continue
		}
		out = append(out, xform(c))
		i++
	}
	i++ // closing quote
	if len(out) > 0 && i < len(s) && s[i] == '^' {
		out[len(out)-1] |= 0x80
	}
	return out, nil
}

func dirWord(a *Assembler, args string, line int) ([]byte, error) {
	var out []byte
	for _, item := range splitTop(args, ',') {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		v, _ := a.Eval(item)
		out = append(out, byte(v), byte(v>>8))
	}
	return out, nil
}

func dirBigWord(a *Assembler, args string, line int) ([]byte, error) {
	var out []byte
	for _, item := range splitTop(args, ',') {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		v, _ := a.Eval(item)
		out = append(out, byte(v>>8), byte(v))
	}
	return out, nil
}

// dirHex4/dirDec4 emit BASIC-style 4-hex/4-decimal-digit text representation
// of each value as raw ASCII bytes, a BASIC-loader convenience in the
// original tool.
func dirHex4(a *Assembler, args string, line int) ([]byte, error) {
	var out []byte
	for _, item := range splitTop(args, ',') {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		v, _ := a.Eval(item)
		out = append(out, []byte(fmt.Sprintf("%04X", uint16(v)))...)
	}
	return out, nil
}

func dirDec4(a *Assembler, args string, line int) ([]byte, error) {
	var out []byte
	for _, item := range splitTop(args, ',') {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		v, _ := a.Eval(item)
		out = append(out, []byte(fmt.Sprintf("%04d", uint16(v)))...)
	}
	return out, nil
}

func dirQuad(a *Assembler, args string, line int) ([]byte, error) {
	var out []byte
	for _, item := range splitTop(args, ',') {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		v, _ := a.Eval(item)
		out = append(out, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
	}
	return out, nil
}

// cbmReal encodes a float64 as 5-byte CBM/MEGA65 floating point: exponent
// byte biased 0x81, sign folded into mantissa byte 1, mantissa rounded on
// the first bit past its fourth byte.
func cbmReal(v float64) [5]byte {
	if v == 0 {
		return [5]byte{}
	}
	bits := math.Float64bits(v)
	b7 := byte(bits >> 56)
	b6 := byte(bits >> 48)
	b5 := byte(bits >> 40)
	b4 := byte(bits >> 32)
	b3 := byte(bits >> 24)
	b2 := byte(bits >> 16)

	sign := b7 & 0x80
	exponent := byte((int(b7&0x7f)<<4 | int(b6)>>4) - 0x3ff + 0x81)

	var out [5]byte
	out[0] = exponent
	out[1] = ((b6 & 0x0f) << 3) | (b5 >> 5)
	out[2] = ((b5 & 0x1f) << 3) | (b4 >> 5)
	out[3] = ((b4 & 0x1f) << 3) | (b3 >> 5)
	out[4] = ((b3 & 0x1f) << 3) | (b2 >> 5)
	if b2&0x10 != 0 { // round up, carrying through the mantissa bytes
		for i := 4; i >= 1; i-- {
			out[i]++
			if out[i] != 0 {
				break
			}
		}
		if out[1] == 0x80 { // carry out of the mantissa: renormalize
			out[1] = 0
			out[0]++
		}
	}
	out[1] |= sign
	return out
}

func dirReal(a *Assembler, args string, line int) ([]byte, error) {
	text := strings.TrimSpace(args)
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed REAL literal %q: %w", text, err)
	}
	b := cbmReal(f)
	return b[:], nil
}

// dirReal4 emits the 4-byte truncated form used by some BASIC dialects:
// the same layout as REAL with the final mantissa byte dropped.
func dirReal4(a *Assembler, args string, line int) ([]byte, error) {
	b, err := dirReal(a, args, line)
	if err != nil {
		return nil, err
	}
	return b[:4], nil
}

// dirBits packs up to 8 comma-separated 0/1 expressions into one byte,
// most-significant first.
func dirBits(a *Assembler, args string, line int) ([]byte, error) {
	items := splitTop(args, ',')
	if len(items) > 8 {
		return nil, fmt.Errorf("BITS accepts at most 8 values")
	}
	var b byte
	for i, item := range items {
		v, _ := a.Eval(strings.TrimSpace(item))
		if v != 0 {
			b |= 1 << uint(7-i)
		}
	}
	return []byte{b}, nil
}

// dirLits is the inverse of BITS for listings: a run of '0'/'1' characters
// forming one byte.
func dirLits(a *Assembler, args string, line int) ([]byte, error) {
	bits := strings.TrimSpace(args)
	if len(bits) != 8 {
		return nil, fmt.Errorf("LITS requires exactly 8 bit characters")
	}
	var b byte
	for i := 0; i < 8; i++ {
		if bits[i] == '1' {
			b |= 1 << uint(7-i)
		} else if bits[i] != '0' {
			return nil, fmt.Errorf("LITS characters must be 0 or 1")
		}
	}
	return []byte{b}, nil
}

// dirFill implements "FILL N (v)", emitting N copies of the low byte of v;
// the parenthesized fill value is optional and defaults to the assembler's
// configured fill byte. A comma-separated "FILL N,v" spelling is also
// accepted.
func dirFill(a *Assembler, args string, line int) ([]byte, error) {
	args = strings.TrimSpace(args)
	countText, fillText := args, ""
	if idx := strings.IndexByte(args, '('); idx >= 0 {
		countText = strings.TrimRight(strings.TrimSpace(args[:idx]), ",")
		countText = strings.TrimSpace(countText)
		close := matchingParen(args[idx:])
		if close < 0 {
			return nil, fmt.Errorf("FILL: unbalanced parentheses")
		}
		fillText = args[idx+1 : idx+close]
	} else if idx := strings.IndexByte(args, ','); idx >= 0 {
		countText = strings.TrimSpace(args[:idx])
		fillText = args[idx+1:]
	}
	count, _ := a.Eval(countText)
	fill := int32(a.Fill)
	if strings.TrimSpace(fillText) != "" {
		fill, _ = a.Eval(strings.TrimSpace(fillText))
	}
	if count < 0 {
		return nil, fmt.Errorf("FILL count must be non-negative")
	}
	out := make([]byte, count)
	for i := range out {
		out[i] = byte(fill)
	}
	return out, nil
}

func dirBSS(a *Assembler, args string, line int) ([]byte, error) {
	v, _ := a.Eval(strings.TrimSpace(args))
	if v < 0 {
		return nil, fmt.Errorf("BSS size must be non-negative")
	}
	a.bss += v
	return nil, nil
}
