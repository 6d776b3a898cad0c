package expr

import "testing"

type fakeResolver struct {
	pc      int32
	symbols map[string]int32
	bytes   map[string]int32
}

func (f *fakeResolver) PC() int32 { return f.pc }
func (f *fakeResolver) Symbol(name string) int32 {
	if v, ok := f.symbols[name]; ok {
		return v
	}
	return Undef
}
func (f *fakeResolver) Bytes(name string) int32 {
	if v, ok := f.bytes[name]; ok {
		return v
	}
	return Undef
}

func eval(t *testing.T, src string, res *fakeResolver) int32 {
	t.Helper()
	v, rest := Eval(src, res, Options{})
	if rest != "" {
		t.Fatalf("eval(%q) left unconsumed remainder %q", src, rest)
	}
	return v
}

func TestPrecedence(t *testing.T) {
	res := &fakeResolver{symbols: map[string]int32{}, bytes: map[string]int32{}}
	cases := []struct {
		src  string
		want int32
	}{
		{"1+2*3", 7},
		{"1<<2+1", 8},
		{"(1+2)*3", 9},
		{"2==2", 1},
		{"2==3", 0},
		{"1<2", 1},
		{"1>2", 0},
		{"1&&0", 0},
		{"1||0", 1},
		{"5&3", 1},
		{"5|2", 7},
		{"5^1", 4},
	}
	for _, c := range cases {
		if got := eval(t, c.src, res); got != c.want {
			t.Errorf("eval(%q) = %d, want %d", c.src, got, c.want)
		}
	}
}

func TestLiterals(t *testing.T) {
	res := &fakeResolver{symbols: map[string]int32{}, bytes: map[string]int32{}}
	cases := []struct {
		src  string
		want int32
	}{
		{"$42", 0x42},
		{"%1010", 10},
		{"%..**", 3},
		{"'A'", 'A'},
		{"'\\n'", '\n'},
		{"42", 42},
	}
	for _, c := range cases {
		if got := eval(t, c.src, res); got != c.want {
			t.Errorf("eval(%q) = %d, want %d", c.src, got, c.want)
		}
	}
}

func TestOctalCompatMode(t *testing.T) {
	res := &fakeResolver{symbols: map[string]int32{}, bytes: map[string]int32{}}
	v, _ := Eval("@17", res, Options{CompatOctal: true})
	if v != 15 {
		t.Fatalf("got %d want 15", v)
	}
}

func TestUndefPropagates(t *testing.T) {
	res := &fakeResolver{symbols: map[string]int32{}, bytes: map[string]int32{}}
	if v := eval(t, "UNKNOWN+1", res); v != Undef {
		t.Fatalf("got %d want Undef", v)
	}
	if v := eval(t, "5/0", res); v != Undef {
		t.Fatalf("division by zero should yield Undef, got %d", v)
	}
}

func TestLowHighByte(t *testing.T) {
	res := &fakeResolver{symbols: map[string]int32{"ADDR": 0x1234}, bytes: map[string]int32{}}
	if v := eval(t, "<ADDR", res); v != 0x34 {
		t.Fatalf("got %x", v)
	}
	if v := eval(t, ">ADDR", res); v != 0x12 {
		t.Fatalf("got %x", v)
	}
}

func TestProgramCounterToken(t *testing.T) {
	res := &fakeResolver{pc: 0x2000, symbols: map[string]int32{}, bytes: map[string]int32{}}
	if v := eval(t, "*+2", res); v != 0x2002 {
		t.Fatalf("got %x", v)
	}
}

func TestLengthOperator(t *testing.T) {
	res := &fakeResolver{symbols: map[string]int32{}, bytes: map[string]int32{"BUF": 5}}
	if v := eval(t, "?BUF", res); v != 5 {
		t.Fatalf("got %d", v)
	}
}

func TestNumericLabelForm(t *testing.T) {
	res := &fakeResolver{symbols: map[string]int32{"10$": 0x3000}, bytes: map[string]int32{}}
	if v := eval(t, "10$", res); v != 0x3000 {
		t.Fatalf("got %x", v)
	}
}
