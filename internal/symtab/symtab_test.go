package symtab

import "testing"

func TestReferenceCreatesForwardUndef(t *testing.T) {
	tab := New(true)
	sym := tab.Reference("LOOP", 10, RefUse)
	if sym.Defined() {
		t.Fatalf("forward reference should be undefined")
	}
	if sym.Address != Undef {
		t.Fatalf("got address %x, want Undef", sym.Address)
	}
}

func TestDefineThenReferenceSameSymbol(t *testing.T) {
	tab := New(true)
	sym := tab.Define("START")
	sym.Address = 0x1000
	again := tab.Reference("START", 5, RefUse)
	if again != sym {
		t.Fatalf("Reference should find the same entry Define created")
	}
	if again.Address != 0x1000 {
		t.Fatalf("got %x want 0x1000", again.Address)
	}
}

func TestCaseSensitivity(t *testing.T) {
	caseSensitive := New(true)
	caseSensitive.Define("Foo").Address = 1
	caseSensitive.Define("foo").Address = 2
	if len(caseSensitive.All()) != 2 {
		t.Fatalf("case-sensitive table should keep Foo and foo distinct")
	}

	caseInsensitive := New(false)
	caseInsensitive.Define("Foo").Address = 1
	same := caseInsensitive.Define("foo")
	if same.Address != 1 {
		t.Fatalf("case-insensitive table should have folded foo into Foo")
	}
	if len(caseInsensitive.All()) != 1 {
		t.Fatalf("expected a single folded entry")
	}
}

func TestPairIndirectY(t *testing.T) {
	tab := New(true)
	lo := tab.Define("PTR")
	lo.Address = 0x80
	lo.Refs = append(lo.Refs, Reference{Line: 1, Attr: RefUseIndirectY})
	hi := tab.Define("PTR_HI")
	hi.Address = 0x81

	tab.PairIndirectY()

	if lo.Name != "PTR/PTR_HI" {
		t.Fatalf("got merged name %q", lo.Name)
	}
	if !hi.Paired {
		t.Fatalf("second symbol of the pair should be flagged Paired")
	}
}

func TestUndefinedListsOnlyUnresolved(t *testing.T) {
	tab := New(true)
	tab.Define("RESOLVED").Address = 5
	tab.Reference("PENDING", 1, RefUse)

	undef := tab.Undefined()
	if len(undef) != 1 || undef[0].Name != "PENDING" {
		t.Fatalf("got %v", undef)
	}
}
