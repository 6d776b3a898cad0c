// Command bsa is the cross-assembler's command-line front end: flag
// parsing, source/listing/debug-log file I/O, and exit-code mapping. All of
// the actual translation work happens in internal/asm.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/edilbert/bsa650x/internal/asm"
	"github.com/edilbert/bsa650x/internal/config"
	"github.com/edilbert/bsa650x/internal/cpu"
	"github.com/edilbert/bsa650x/internal/listing"
)

// defineList collects repeated `-D name=value` flags. The value is parsed
// as an integer literal (strconv base 0: decimal, 0x, 0o, 0b or leading-0
// octal); it is not evaluated as an assembler expression.
type defineList map[string]int32

func (d defineList) String() string {
	parts := make([]string, 0, len(d))
	for k, v := range d {
		parts = append(parts, fmt.Sprintf("%s=%d", k, v))
	}
	return strings.Join(parts, ",")
}

func (d defineList) Set(s string) error {
	eq := strings.IndexByte(s, '=')
	if eq < 0 {
		return fmt.Errorf("-D expects name=value, got %q", s)
	}
	name := s[:eq]
	v, err := strconv.ParseInt(s[eq+1:], 0, 32)
	if err != nil {
		return fmt.Errorf("-D %s: %w", name, err)
	}
	d[name] = int32(v)
	return nil
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("bsa", flag.ContinueOnError)
	stripPrefix := fs.Bool("x", false, "strip disassembly prefix from each input line")
	branchOpt := fs.Bool("b", false, "enable branch optimization")
	debugLog := fs.Bool("d", false, "write verbose debug log to Debug.lst")
	caseInsensitive := fs.Bool("i", false, "case-insensitive symbols")
	lineNumbers := fs.Bool("n", false, "include line numbers in the listing")
	preprocess := fs.Bool("p", false, "emit preprocessed source to source.pp")
	configPath := fs.String("config", "bsa.toml", "path to a project-default configuration file")
	defines := defineList{}
	fs.Var(defines, "D", "pre-define a locked symbol, name=value with an integer value (repeatable)")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: bsa [flags] source[.asm|.src]")
		return 1
	}
	source := fs.Arg(0)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bsa: %s: %v\n", *configPath, err)
		return 1
	}

	opt := asm.DefaultOptions()
	if strings.HasSuffix(strings.ToLower(source), ".src") {
		opt = asm.CompatOptions()
	}
	opt.StripDisasmPrefix = *stripPrefix
	opt.BranchOptimize = opt.BranchOptimize || *branchOpt || cfg.BranchOptimize
	opt.CaseInsensitive = opt.CaseInsensitive || *caseInsensitive
	opt.ListLineNumbers = *lineNumbers
	for name, v := range cfg.Defines {
		opt.Defines[name] = int32(v)
	}
	for name, v := range defines {
		opt.Defines[name] = v
	}

	var debugFile *os.File
	if *debugLog {
		debugFile, err = os.Create("Debug.lst")
		if err != nil {
			fmt.Fprintf(os.Stderr, "bsa: %v\n", err)
			return 1
		}
		defer debugFile.Close()
		opt.DebugLog = debugFile
	}

	a := asm.New(opt)

	if cfg.CPU != "" {
		if v, ok := cpu.ByName(cfg.CPU); ok {
			a.Variant = v
		}
	}
	if cfg.BasePage != 0 {
		a.SetBasePage(byte(cfg.BasePage))
	}
	if cfg.FillByte != 0 {
		a.Fill = byte(cfg.FillByte)
	}

	lstName := withExt(source, ".lst")
	lstFile, err := os.Create(lstName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bsa: %v\n", err)
		return 1
	}
	defer lstFile.Close()
	a.SetListing(&listing.Writer{W: lstFile, LineNumbers: *lineNumbers})

	if *preprocess {
		ppFile, err := os.Create(withExt(source, ".pp"))
		if err != nil {
			fmt.Fprintf(os.Stderr, "bsa: %v\n", err)
			return 1
		}
		defer ppFile.Close()
		a.SetPreprocessedSink(ppFile)
	}

	if err := a.Assemble(source); err != nil {
		fmt.Fprintf(os.Stderr, "bsa: %v\n", err)
		return 1
	}

	for _, e := range a.Errors {
		fmt.Fprintln(os.Stderr, e.Error())
	}
	if len(a.Errors) > 0 {
		return 1
	}

	xrefName := withExt(source, ".xrf")
	xrefFile, err := os.Create(xrefName)
	if err == nil {
		listing.WriteCrossReference(xrefFile, a.Syms.All())
		xrefFile.Close()
	}

	return 0
}

func withExt(source, ext string) string {
	if i := strings.LastIndexByte(source, '.'); i >= 0 {
		return source[:i] + ext
	}
	return source + ext
}

