package asm

import (
	"fmt"
	"strings"

	"github.com/edilbert/bsa650x/internal/macro"
	"github.com/edilbert/bsa650x/internal/symtab"
	"github.com/edilbert/bsa650x/internal/token"
)

// Assemble drives the whole multi-pass translation of one top-level source
// file: repeated resolution passes until the symbol table stops changing,
// followed by one final emission pass. If MaxPasses resolution passes run
// without converging, Assemble returns an error and no emission pass runs.
// The final pass's branch-size decisions are those locked on the
// penultimate resolution pass.
func (a *Assembler) Assemble(path string) error {
	probe, err := OpenFile(path)
	if err != nil {
		return err
	}
	probe.Close()
	return a.assembleFrom(path, func() (*FileFrame, error) { return OpenFile(path) })
}

// AssembleSource assembles in-memory text under the given display name,
// useful for tests and for driving the engine without touching disk.
func (a *Assembler) AssembleSource(name, content string) error {
	return a.assembleFrom(name, func() (*FileFrame, error) { return OpenString(name, content), nil })
}

func (a *Assembler) assembleFrom(displayName string, reopen func() (*FileFrame, error)) error {
	for pass := 1; pass <= MaxPasses; pass++ {
		a.pass = pass
		a.lastPass = pass + 1 // tentative; corrected below once convergence is known
		a.labelMoves = 0
		a.errorCount = 0
		a.assignedThisPass = make(map[*symtab.Symbol]int32)
		a.resetIncludeTo(reopen)

		if err := a.runOnePass(); err != nil {
			return err
		}
		if a.labelMoves == 0 {
			a.lastPass = pass + 1
			break
		}
		if pass == MaxPasses {
			a.fatal(ErrSemantic, "symbol table did not converge within the pass limit")
			return fmt.Errorf("non-convergent assembly of %s", displayName)
		}
	}

	// Final emission pass: phase errors are now fatal.
	a.pass = a.lastPass
	a.errorCount = 0
	a.assignedThisPass = make(map[*symtab.Symbol]int32)
	a.resetIncludeTo(reopen)
	if err := a.runOnePass(); err != nil {
		return err
	}

	a.Syms.PairIndirectY()
	a.listing.Close()
	if a.finalPass() {
		return a.plan.WriteAll(a.Image[:])
	}
	return nil
}

// resetIncludeTo rewinds the include stack to a fresh open of the root
// source for the next pass; every nested INCLUDE is re-opened as the line
// it appeared on is re-encountered.
func (a *Assembler) resetIncludeTo(reopen func() (*FileFrame, error)) {
	for !a.include.Empty() {
		a.include.Pop()
	}
	fresh, err := reopen()
	if err == nil {
		_ = a.include.Push(fresh)
	}
	a.pc = symtab.Undef
	a.scope = ""
}

// runOnePass streams every line of the current pass through processLine
// until the include stack (and any active macro frame) drains, or the
// per-pass error ceiling is reached.
func (a *Assembler) runOnePass() error {
	for {
		line, ok := a.include.NextLine()
		if !ok {
			break
		}
		a.rawLine = line
		if a.Opt.StripDisasmPrefix {
			line = token.StripDisasmPrefix(line)
		}
		if a.finalPass() && a.preprocessedWriter != nil {
			fmt.Fprintln(a.preprocessedWriter, line)
		}
		if err := a.processLine(line); err != nil {
			ce := a.report(a.newError(ErrSemantic, err.Error()))
			if ce {
				break
			}
		}
	}
	return nil
}

// processLine classifies and dispatches a single source line. Preprocessor
// directives are recognized even while skipping, so nested
// #if/#else/#endif stay balanced.
func (a *Assembler) processLine(line string) error {
	if a.recordingMacro != "" {
		return a.continueMacroRecording(line)
	}

	trimmed := strings.TrimSpace(stripComment(line))
	if trimmed == "" {
		return nil
	}
	if strings.HasPrefix(trimmed, "#") {
		return a.dispatchHash(trimmed)
	}
	if a.cond.skipping() {
		return nil
	}
	return a.processStatement(trimmed)
}

// processStatement checks a leading identifier as a mnemonic, then a macro
// call, then a directive, and only once none of those match is it treated
// as a label definition -- whose remainder is then recursively processed
// as its own statement.
func (a *Assembler) processStatement(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	if strings.HasPrefix(text, "*") {
		return a.dirOrg(strings.TrimPrefix(strings.TrimSpace(text[1:]), "="), a.currentLine())
	}
	if strings.HasPrefix(text, "&") {
		v, _ := a.Eval(strings.TrimPrefix(strings.TrimSpace(text[1:]), "="))
		a.bss = v
		return nil
	}

	name, after := leadingName(text)
	after = strings.TrimSpace(after)
	if name == "" {
		return fmt.Errorf("unrecognized statement %q", text)
	}

	if strings.EqualFold(name, "MACRO") {
		return a.beginMacroRecordingFromHeader(after)
	}

	if IsMnemonic(name) {
		code, err := a.Encode(name, after, a.currentLine())
		if err != nil {
			return err
		}
		return a.emit(code)
	}

	if m, ok := a.Macros.Lookup(name); ok {
		return a.expandMacroCall(m, after)
	}

	if emitted, handled, err := a.DispatchDirective(name, after, a.currentLine()); handled {
		if err != nil {
			return err
		}
		return a.emit(emitted)
	}

	return a.defineLabelAndContinue(name, after)
}

// leadingName extracts the first identifier of text, with the '!' directive
// spelling (!SRC, !ADDR) kept attached since token.IsSymbolChar does not
// include '!'.
func leadingName(text string) (string, string) {
	if text[0] == '!' {
		sym, rest := token.GetSymbol(text[1:])
		return "!" + sym, rest
	}
	return token.GetSymbol(text)
}

// emit writes code at the current pc, advances it, and pushes the
// listing line, only meaningfully during the emission pass but harmlessly
// re-run (and size-only) during resolution passes.
func (a *Assembler) emit(code []byte) error {
	if a.pc == symtab.Undef {
		a.pc = 0
	}
	if len(code) > 0 {
		if int(a.pc)+len(code) > 0x10000 {
			return fmt.Errorf("program counter overflowed the 64K image")
		}
		if a.finalPass() {
			copy(a.Image[a.pc:], code)
			a.emitListingLine(code)
		}
	} else if a.finalPass() {
		a.emitListingLine(nil)
	}
	a.pc += int32(len(code))
	return nil
}

// dispatchHash handles the '#if'/'#ifdef'/'#else'/'#endif'/'#error' family,
// which must be recognized regardless of the current skip state.
func (a *Assembler) dispatchHash(trimmed string) error {
	rest := trimmed[1:]
	name, after := token.NextSymbol(rest)
	after = strings.TrimSpace(after)
	_, _, err := a.DispatchDirective(name, after, a.currentLine())
	return err
}

// stripComment removes a trailing ';' comment, honoring quoted strings so a
// ';' inside "..." or '...' is not mistaken for one.
func stripComment(line string) string {
	inDouble, inSingle := false, false
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '"':
			if !inSingle {
				inDouble = !inDouble
			}
		case '\'':
			if !inDouble {
				inSingle = !inSingle
			}
		case ';':
			if !inDouble && !inSingle {
				return line[:i]
			}
		}
	}
	return line
}

// splitLabel peels a leading label off a source line: a label starts in
// column 1 (no leading space), everything else is indented. Returns
// ("", line) when the line is indented (no label).
func splitLabel(line string) (label, rest string) {
	if line == "" || token.IsSpace(line[0]) {
		return "", line
	}
	sym, after := token.GetSymbol(line)
	if sym == "" {
		return "", line
	}
	if strings.HasSuffix(sym, ":") {
		sym = strings.TrimSuffix(sym, ":")
	} else if strings.HasPrefix(after, ":") {
		after = after[1:]
	}
	return sym, after
}

// defineLabel applies the symbol-definition rules: a bare label takes the
// current pc; "label = expr" / "label := expr" assigns a value; "label
// BSS n" / "label DS n" allocates bss space and advances bss. Redefinition
// from one resolution pass to the next is silent-update: the same value is
// not an error, and a changed value just bumps the label-move counter that
// drives pass convergence. A conflicting value within one pass, or a
// changed value on the emission pass, is an error (see assignSymbol).
func (a *Assembler) defineLabel(label, rest string) (consumedLine bool, err error) {
	rest = token.SkipSpace(rest)
	if a.Opt.CompatMode && label != "" && label[0] != '.' && label[0] != '_' {
		a.scope = label
	}
	qualified := a.qualify(label)
	sym := a.Syms.Define(qualified)

	switch {
	case strings.HasPrefix(rest, ":="), strings.HasPrefix(rest, "="):
		expr := strings.TrimLeft(rest, ":=")
		v, _ := a.Eval(strings.TrimSpace(expr))
		a.assignSymbol(sym, symtab.RefValueDef, v)
		return true, nil

	case token.HasFold(rest, "BSS"), token.HasFold(rest, "DS"):
		_, after := token.NextSymbol(rest)
		n, _ := a.Eval(strings.TrimSpace(after))
		a.assignSymbol(sym, symtab.RefBSSDef, a.bss)
		a.bss += n
		return true, nil

	default:
		// A bare positional label takes the current pc; the rest of the
		// line (a mnemonic, directive or macro call) is still to be
		// processed by the caller.
		a.assignSymbol(sym, symtab.RefPositionalDef, a.pc)
		return false, nil
	}
}

// defineLabelAndContinue applies the label-definition rules to a line
// whose leading identifier matched none of mnemonic, macro call or
// directive. The optional ':' label suffix is stripped before dispatch;
// for the positional form (no '=', ':=', 'BSS' or 'DS' follows) the
// remainder of the line is itself a mnemonic/directive/macro call and is
// re-dispatched through processStatement, and the number of bytes it
// emitted is recorded as the label's Bytes (read by the '?' operator).
func (a *Assembler) defineLabelAndContinue(label, rest string) error {
	rest = strings.TrimPrefix(strings.TrimSpace(rest), ":")
	consumed, err := a.defineLabel(label, rest)
	if err != nil {
		return err
	}
	if consumed {
		return nil
	}
	start := a.pc
	if err := a.processStatement(rest); err != nil {
		return err
	}
	if sym := a.Syms.Lookup(a.qualify(label)); sym != nil && start != symtab.Undef {
		sym.Bytes = int(a.pc - start)
	}
	return nil
}

// assignSymbol stores value into sym unless it is locked (a -D command-line
// definition). A symbol assigned twice within the same pass to two
// different values is a conflicting redefinition and a hard error
// regardless of pass; that check is independent of, and runs before, the
// cross-pass comparisons below. Across passes a changed value is a silent
// rebinding that bumps the label-move counter driving convergence -- except
// on the emission pass, where a changed value relative to the address
// recorded on the prior pass is instead a fatal phase error.
func (a *Assembler) assignSymbol(sym *symtab.Symbol, attr symtab.RefAttr, value int32) bool {
	if sym.Locked {
		return true
	}
	if prior, ok := a.assignedThisPass[sym]; ok && prior != value {
		a.fatal(ErrSemantic, fmt.Sprintf("%s redefined with a conflicting value within the same pass: %04X then %04X", sym.Name, uint16(prior), uint16(value)))
		return false
	}
	a.assignedThisPass[sym] = value

	if a.finalPass() {
		if sym.Defined() && sym.Address != value {
			a.fatal(ErrSemantic, fmt.Sprintf("phase error: %s recorded as %04X, recomputed as %04X", sym.Name, uint16(sym.Address), uint16(value)))
			return false
		}
		sym.Address = value
		sym.Refs = append(sym.Refs, symtab.Reference{Line: a.currentLine(), Attr: attr})
		return true
	}
	if sym.Address != value {
		a.labelMoves++
	}
	sym.Address = value
	sym.Refs = append(sym.Refs, symtab.Reference{Line: a.currentLine(), Attr: attr})
	return true
}

// --- Macro recording and expansion ---------------------------------------

// beginMacroRecordingFromHeader parses a "MACRO Name(arg1,arg2,...)" header
// line (the text after the MACRO keyword itself) into the macro's name and
// parameter list and starts the recorder.
func (a *Assembler) beginMacroRecordingFromHeader(after string) error {
	after = strings.TrimSpace(after)
	name, rest := token.GetSymbol(after)
	return a.beginMacroRecording(name, strings.TrimSpace(rest))
}

func (a *Assembler) beginMacroRecording(name, paramText string) error {
	if name == "" {
		return fmt.Errorf("MACRO requires a name label")
	}
	params := macro.SplitArguments(strings.Trim(paramText, "()"))
	a.recordingMacro = name
	a.recordingParams = params
	a.recordingBody = nil
	return nil
}

func (a *Assembler) continueMacroRecording(line string) error {
	trimmed := strings.TrimSpace(stripComment(line))
	if strings.EqualFold(trimmed, "ENDMAC") || strings.EqualFold(trimmed, "ENDM") {
		name := a.recordingMacro
		params := a.recordingParams
		body := a.recordingBody
		a.recordingMacro = ""
		a.recordingParams = nil
		a.recordingBody = nil
		a.Macros.Define(name, params, body)
		return nil
	}
	a.recordingBody = append(a.recordingBody, macro.RecordBody(line, a.recordingParams))
	return nil
}

func (a *Assembler) expandMacroCall(m *macro.Macro, argText string) error {
	args := macro.SplitArguments(strings.Trim(strings.TrimSpace(argText), "()"))
	lines, err := macro.Expand(m, args)
	if err != nil {
		return err
	}
	frame := NewMacroFrame(a.currentFile(), a.currentLine(), lines)
	return a.include.Push(frame)
}
