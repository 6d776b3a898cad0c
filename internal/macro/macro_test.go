package macro

import (
	"reflect"
	"testing"
)

func TestRecordAndExpandLDXY(t *testing.T) {
	tab := New()
	body := []string{
		RecordBody("LDX W", []string{"W"}),
		RecordBody("LDY W+1", []string{"W"}),
	}
	if ok := tab.Define("LDXY", []string{"W"}, body); !ok {
		t.Fatalf("Define should succeed for a new macro")
	}

	m, ok := tab.Lookup("ldxy")
	if !ok {
		t.Fatalf("Lookup should be case-insensitive")
	}

	lines, err := Expand(m, []string{"V"})
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	want := []string{"LDX V", "LDY V+1"}
	if !reflect.DeepEqual(lines, want) {
		t.Fatalf("got %v want %v", lines, want)
	}
}

func TestRedefinitionIsSilentlySkipped(t *testing.T) {
	tab := New()
	tab.Define("M", nil, []string{"NOP"})
	if ok := tab.Define("M", nil, []string{"BRK"}); ok {
		t.Fatalf("redefining an existing macro must be rejected")
	}
	m, _ := tab.Lookup("M")
	if m.Body[0] != "NOP" {
		t.Fatalf("first definition should stick, got %v", m.Body)
	}
}

func TestWrongArgumentCount(t *testing.T) {
	tab := New()
	tab.Define("ONE", []string{"A"}, []string{"LDA &0"})
	m, _ := tab.Lookup("ONE")
	if _, err := Expand(m, []string{"1", "2"}); err == nil {
		t.Fatalf("expected an error for a parameter-count mismatch")
	}
}

func TestSubstitutionInsideStringIsIntentional(t *testing.T) {
	// The recorder substitutes textually, including inside quoted strings --
	// intentional, not a bug to guard against.
	body := RecordBody(`.BYTE "N is here"`, []string{"N"})
	if body != `.BYTE "&0 is here"` {
		t.Fatalf("got %q", body)
	}
}

func TestSplitArgumentsHonorsNesting(t *testing.T) {
	args := SplitArguments("(A+B),C,$10")
	want := []string{"(A+B)", "C", "$10"}
	if !reflect.DeepEqual(args, want) {
		t.Fatalf("got %v want %v", args, want)
	}
}
