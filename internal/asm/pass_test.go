package asm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAssembleMacroExpansionScenario(t *testing.T) {
	src := "MACRO LDXY(W)\n" +
		"LDX W\n" +
		"LDY W+1\n" +
		"ENDMAC\n" +
		"V = $2000\n" +
		"LDXY(V)\n"

	a := New(DefaultOptions())
	err := a.AssembleSource("test.asm", src)
	require.NoError(t, err)

	got := a.Image[0:6]
	want := []byte{0xAE, 0x00, 0x20, 0xAC, 0x01, 0x20}
	require.Equal(t, want, got)
}

func TestAssembleConditionalOnlyEmitsActiveBranch(t *testing.T) {
	src := "#if 0\n" +
		"LDA #1\n" +
		"#else\n" +
		"LDA #2\n" +
		"#endif\n"

	a := New(DefaultOptions())
	err := a.AssembleSource("test.asm", src)
	require.NoError(t, err)
	require.Equal(t, []byte{0xA9, 0x02}, a.Image[0:2])
}

func TestAssembleLabelAndBranchProgram(t *testing.T) {
	src := "ORG $1000\n" +
		"LOOP: BNE LOOP\n"

	a := New(DefaultOptions())
	err := a.AssembleSource("test.asm", src)
	require.NoError(t, err)
	require.Equal(t, []byte{0xD0, 0xFE}, a.Image[0x1000:0x1002])
}

func TestAssembleStoreDirectiveQueuesRegion(t *testing.T) {
	src := "ORG $1000\n" +
		"LDA #$42\n" +
		"STORE $1000,2,\"out.bin\"\n"

	a := New(DefaultOptions())
	require.NoError(t, a.AssembleSource("test.asm", src))
	require.Len(t, a.plan.entries, 1)
	require.Equal(t, 0x1000, a.plan.entries[0].Start)
	require.Equal(t, 2, a.plan.entries[0].Length)
}

func TestAssembleUndefinedSymbolAccumulatesAsError(t *testing.T) {
	src := "LDA UNKNOWN\n"

	a := New(DefaultOptions())
	err := a.AssembleSource("test.asm", src)
	_ = err
	require.NotEmpty(t, a.Syms.Undefined())
	require.NotEmpty(t, a.Errors)
}

func TestConflictingRedefinitionWithinOnePassIsAnError(t *testing.T) {
	src := "X = 1\n" +
		"X = 2\n"

	a := New(DefaultOptions())
	_ = a.AssembleSource("test.asm", src)
	require.NotEmpty(t, a.Errors)

	sym := a.Syms.Lookup("X")
	require.NotNil(t, sym)
	require.Equal(t, int32(1), sym.Address)
}

func TestCompatModeScopesLocalLabels(t *testing.T) {
	src := "FOO\n" +
		"_X = 1\n" +
		"BAR\n" +
		"_X = 2\n"

	a := New(CompatOptions())
	err := a.AssembleSource("test.asm", src)
	require.NoError(t, err)

	foo := a.Syms.Lookup("FOO_X")
	require.NotNil(t, foo)
	require.Equal(t, int32(1), foo.Address)

	bar := a.Syms.Lookup("BAR_X")
	require.NotNil(t, bar)
	require.Equal(t, int32(2), bar.Address)
}
