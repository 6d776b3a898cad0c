// Package listing implements the default listing sink and cross-reference
// printer: the assembler only calls an interface, this package is the
// concrete default.
package listing

import (
	"fmt"
	"io"
	"sort"

	"github.com/edilbert/bsa650x/internal/symtab"
)

// Writer formats one line per source line into the configured io.Writer:
// optional 5-digit decimal line number, 4-hex-digit address, up to 5 bytes
// of code, then the source line.
type Writer struct {
	W            io.Writer
	LineNumbers  bool
}

// Emit implements asm.Listing.
func (lw *Writer) Emit(lineNo int, address int32, code []byte, source string) {
	if lw.LineNumbers {
		fmt.Fprintf(lw.W, "%5d ", lineNo)
	}
	fmt.Fprintf(lw.W, "%04X", uint16(address))
	for i := 0; i < 5; i++ {
		if i < len(code) {
			fmt.Fprintf(lw.W, " %02X", code[i])
		} else {
			fmt.Fprint(lw.W, "   ")
		}
	}
	fmt.Fprintf(lw.W, "  %s\n", source)
}

// Close satisfies asm.Listing; Writer owns no resource of its own, the
// caller opened the underlying file.
func (lw *Writer) Close() {}

// WriteCrossReference prints the final symbol table, one line per symbol,
// sorted by name, each followed by its sorted reference line numbers
// (paired-register grouping already folded into sym.Name by
// symtab.Table.PairIndirectY; symbols flagged Paired are skipped).
func WriteCrossReference(w io.Writer, syms []*symtab.Symbol) {
	sorted := make([]*symtab.Symbol, len(syms))
	copy(sorted, syms)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	for _, s := range sorted {
		if s.Paired {
			continue // listed under its partner's merged "LO/HI" entry
		}
		addr := "????"
		if s.Defined() {
			addr = fmt.Sprintf("%04X", uint16(s.Address))
		}
		fmt.Fprintf(w, "%-24s %s", s.Name, addr)
		lines := make([]int, 0, len(s.Refs))
		for _, r := range s.Refs {
			lines = append(lines, r.Line)
		}
		sort.Ints(lines)
		for _, ln := range lines {
			fmt.Fprintf(w, " %d", ln)
		}
		fmt.Fprintln(w)
	}
}
