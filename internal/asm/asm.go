// Package asm is the translation engine: the pass driver, directive
// dispatcher, instruction encoder and conditional/include stacks, bundled
// into a single Assembler value passed by pointer to every method -- no
// package-level mutable globals.
package asm

import (
	"errors"
	"fmt"
	"io"

	"github.com/edilbert/bsa650x/internal/cpu"
	"github.com/edilbert/bsa650x/internal/expr"
	"github.com/edilbert/bsa650x/internal/macro"
	"github.com/edilbert/bsa650x/internal/symtab"
)

var (
	errTooManyIfs     = errors.New("too many #if's nested")
	errElseWithoutIf  = errors.New("#else without #if")
	errEndifWithoutIf = errors.New("#endif without #if")
)

// ImageSize is 64K plus the trailing guard byte.
const ImageSize = 0x10000 + 1

// MaxPasses is the implementation-defined resolution-pass ceiling.
const MaxPasses = 20

// DefaultErrorCeiling bounds how many errors accumulate in a pass before it
// is abandoned.
const DefaultErrorCeiling = 10

// Options configures a run of the assembler; it is the Go-level mirror of
// the CLI surface.
type Options struct {
	StripDisasmPrefix bool
	BranchOptimize    bool
	CaseInsensitive    bool
	DebugLog           io.Writer
	ListLineNumbers    bool
	CompatMode         bool // .src extension: 45GS02, case-insensitive, branch-opt on, fill 0xFF, @octal on
	Defines            map[string]int32
}

// DefaultOptions matches the non-.src defaults.
func DefaultOptions() Options {
	return Options{Defines: map[string]int32{}}
}

// CompatOptions matches the .src extension's defaults.
func CompatOptions() Options {
	return Options{
		BranchOptimize:  true,
		CaseInsensitive: true,
		CompatMode:      true,
		Defines:         map[string]int32{},
	}
}

// Assembler bundles every piece of mutable translation state into one
// value. Every method takes *Assembler explicitly; there is no hidden
// global and no re-entrancy.
type Assembler struct {
	Opt Options

	Image [ImageSize]byte
	Fill  byte

	pc         int32 // 0-65535, or symtab.Undef when not yet set
	bp         byte  // base page
	bss        int32
	scope      string
	Variant    cpu.Variant
	branchOpt  bool
	pass       int
	lastPass   int
	labelMoves int

	Syms   *symtab.Table
	Macros *macro.Table

	include   IncludeStack
	cond      condStack
	macroOnce *macroCallState // never set: macro bodies run as MacroFrames on include (see InMacro)

	recordingMacro  string
	recordingParams []string
	recordingBody   []string

	plan storagePlanner

	loadPending bool // LOAD directive armed for the next STORE

	Errors       []*Error
	errorCount   int
	ErrorCeiling int

	rawLine string // current raw source line, for diagnostics

	listing Listing
	xref    *symtab.Table // alias of Syms, kept distinct for clarity at call sites

	debugLog *debugLogger

	// locked branch decisions from the penultimate resolution pass,
	// keyed by the instruction's starting pc.
	lockedBranch map[int32]lockedBranchDecision

	// value each symbol was assigned so far on the current pass, reset at
	// the start of every pass; catches "X = 1" followed by "X = 2" within
	// one pass, which a cross-pass comparison alone would miss.
	assignedThisPass map[*symtab.Symbol]int32

	preprocessedWriter io.Writer // -p: preprocessed source capture, written on the final pass
}

type lockedBranchDecision struct {
	opcode int
	length int
	long   bool
}

// macroCallState tracks the single macro-pointer slot.
type macroCallState struct {
	frame *MacroFrame
}

// New creates an Assembler ready to assemble a single top-level file.
func New(opt Options) *Assembler {
	a := &Assembler{
		Opt:              opt,
		Syms:             symtab.New(!opt.CaseInsensitive),
		Macros:           macro.New(),
		ErrorCeiling:     DefaultErrorCeiling,
		lockedBranch:     make(map[int32]lockedBranchDecision),
		assignedThisPass: make(map[*symtab.Symbol]int32),
		listing:          NopListing{},
	}
	a.xref = a.Syms
	if opt.CompatMode {
		a.Fill = 0xFF
		a.Variant = cpu.GS45_02
	} else {
		a.Variant = cpu.Mos6502
	}
	a.branchOpt = opt.BranchOptimize
	a.pc = symtab.Undef
	a.bp = 0
	if opt.DebugLog != nil {
		a.debugLog = &debugLogger{w: opt.DebugLog}
	}
	for name, v := range opt.Defines {
		sym := a.Syms.Define(name)
		sym.Address = v
		sym.Locked = true
	}
	return a
}

func (a *Assembler) currentFile() string {
	if a.include.Top() != nil {
		return a.include.Top().Name()
	}
	return ""
}

func (a *Assembler) currentLine() int {
	if a.include.Top() != nil {
		return a.include.Top().Line()
	}
	return 0
}

// PC returns the current program counter, or symtab.Undef. Implements
// expr.Resolver.
func (a *Assembler) PC() int32 { return a.pc }

// Symbol resolves name to its value for the expression evaluator,
// implements expr.Resolver. A leading '.' or '_' name is scope-qualified.
// On the emission pass, referencing a symbol that never received a value
// is a hard error.
func (a *Assembler) Symbol(name string) int32 {
	qualified := a.qualify(name)
	sym := a.Syms.Reference(qualified, a.currentLine(), symtab.RefUse)
	if a.finalPass() && !sym.Defined() {
		a.fatal(ErrSemantic, fmt.Sprintf("undefined symbol %q referenced on the emission pass", name))
	}
	return sym.Address
}

// Bytes resolves the '?' length-of operator, implements expr.Resolver.
func (a *Assembler) Bytes(name string) int32 {
	qualified := a.qualify(name)
	sym := a.Syms.Reference(qualified, a.currentLine(), symtab.RefUse)
	return int32(sym.Bytes)
}

// qualify rewrites a leading '.' or '_' symbol to "SCOPE_sym" when a scope
// is active.
func (a *Assembler) qualify(name string) string {
	if a.scope == "" || name == "" {
		return name
	}
	if name[0] == '.' || name[0] == '_' {
		return a.scope + "_" + name[1:]
	}
	return name
}

// SetBasePage overrides the initial base-page register, normally left at 0
// until a BASE directive runs.
func (a *Assembler) SetBasePage(bp byte) { a.bp = bp }

// SetPreprocessedSink arms capture of the expanded source text (after
// INCLUDE and macro expansion) into w, for the -p flag.
func (a *Assembler) SetPreprocessedSink(w io.Writer) {
	a.preprocessedWriter = w
}

// Eval evaluates an expression against the assembler's own state.
func (a *Assembler) Eval(s string) (int32, string) {
	return expr.Eval(s, a, expr.Options{CompatOctal: a.Opt.CompatMode})
}

// finalPass reports whether the current pass is the emitting pass.
func (a *Assembler) finalPass() bool { return a.pass == a.lastPass }

// fmtLine formats a line number as decimal text; nothing in the package
// calls it.
func fmtLine(n int) string { return fmt.Sprintf("%d", n) }
