// Package symtab implements the insertion-ordered symbol table: name ->
// address/value plus a reference list, used both to resolve expressions
// and to drive the final cross-reference listing.
package symtab

import "strings"

// Undef is the sentinel address of a symbol that has not yet been given a
// value (0xFF0000). It deliberately sits outside the 16-bit address space
// so it can never collide with a real value.
const Undef = 0xFF0000

// RefAttr distinguishes a reference's kind: one of the three definition
// forms (value-assign, bss-assign, positional) or a use recorded with the
// encoded address mode. The indirect-X/indirect-Y values let the
// cross-reference emitter pair adjacent indirect-Y labels.
type RefAttr int

const (
	RefValueDef RefAttr = iota
	RefBSSDef
	RefPositionalDef
	RefUse
	RefUseIndirectX
	RefUseIndirectY
)

// Reference records one appearance of a symbol: the source line and how it
// was used there.
type Reference struct {
	Line int
	Attr RefAttr
}

// Symbol is one entry of the table.
type Symbol struct {
	Name    string
	Address int32 // 16-bit value, or Undef
	Bytes   int   // length of the associated data region, for the '?' operator
	Paired  bool
	Locked  bool // came from -D on the command line; never overwritten
	Refs    []Reference
}

// Defined reports whether the symbol has a concrete address.
func (s *Symbol) Defined() bool { return s.Address != Undef }

// Table is the insertion-ordered symbol table. Iteration order (All) is the
// order in which symbols were first defined or referenced, which
// PairIndirectY depends on to find adjacent labels.
type Table struct {
	CaseSensitive bool
	index         map[string]int
	order         []*Symbol
}

// New creates an empty table.
func New(caseSensitive bool) *Table {
	return &Table{
		CaseSensitive: caseSensitive,
		index:         make(map[string]int),
	}
}

func (t *Table) key(name string) string {
	if t.CaseSensitive {
		return name
	}
	return strings.ToUpper(name)
}

// Lookup returns the symbol named name, or nil if it has never been seen.
func (t *Table) Lookup(name string) *Symbol {
	if i, ok := t.index[t.key(name)]; ok {
		return t.order[i]
	}
	return nil
}

// Reference returns the symbol named name, creating it with Address = Undef
// on first sight: on first definition or first forward reference.
func (t *Table) Reference(name string, line int, attr RefAttr) *Symbol {
	sym := t.Lookup(name)
	if sym == nil {
		sym = &Symbol{Name: name, Address: Undef}
		t.index[t.key(name)] = len(t.order)
		t.order = append(t.order, sym)
	}
	sym.Refs = append(sym.Refs, Reference{Line: line, Attr: attr})
	return sym
}

// Define creates the symbol if new, or returns the existing entry for the
// caller to validate/update. Definition-kind callers (asm.Assembler) decide
// whether overwriting is legal.
func (t *Table) Define(name string) *Symbol {
	sym := t.Lookup(name)
	if sym == nil {
		sym = &Symbol{Name: name, Address: Undef}
		t.index[t.key(name)] = len(t.order)
		t.order = append(t.order, sym)
	}
	return sym
}

// All returns every symbol in definition order.
func (t *Table) All() []*Symbol { return t.order }

// Undefined returns every symbol that never received a value.
func (t *Table) Undefined() []*Symbol {
	var out []*Symbol
	for _, s := range t.order {
		if !s.Defined() {
			out = append(out, s)
		}
	}
	return out
}

// PairIndirectY merges each base-page label referenced in indirect-Y mode
// with the label directly following it in definition order, when the
// following label's address is exactly one greater -- the classic 6502
// "LO/HI" pointer-pair idiom. The merged entry's cross-reference lists both
// names ("LO/HI") and the second symbol is flagged Paired so the listing
// emitter can skip it.
func (t *Table) PairIndirectY() {
	for i := 0; i+1 < len(t.order); i++ {
		lo := t.order[i]
		hi := t.order[i+1]
		if lo.Address >= 0xff || hi.Address != lo.Address+1 {
			continue
		}
		usesIndy := false
		for _, r := range lo.Refs {
			if r.Attr == RefUseIndirectY {
				usesIndy = true
				break
			}
		}
		if !usesIndy {
			continue
		}
		lo.Name = lo.Name + "/" + hi.Name
		lo.Refs = append(lo.Refs, hi.Refs...)
		hi.Paired = true
	}
}
