package canonical_test

import (
	"math"
	"testing"

	"github.com/jmerrifield20/renderledger/internal/canonical"
)

func mustParse(t *testing.T, s string) canonical.Value {
	t.Helper()
	v, err := canonical.Parse([]byte(s))
	if err != nil {
		t.Fatalf("Parse(%q): %v", s, err)
	}
	return v
}

func mustEncode(t *testing.T, v canonical.Value) string {
	t.Helper()
	b, err := canonical.Encode(v)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return string(b)
}

func TestEncode_sortsKeysRecursively(t *testing.T) {
	v := mustParse(t, `{"b": 1, "a": {"z": true, "y": [3, 2, {"d": null, "c": "x"}]}}`)
	got := mustEncode(t, v)
	want := `{"a":{"y":[3,2,{"c":"x","d":null}],"z":true},"b":1}`
	if got != want {
		t.Errorf("Encode:\n got %s\nwant %s", got, want)
	}
}

func TestEncode_insertionOrderIndependent(t *testing.T) {
	a := mustParse(t, `{"type":"layer.add","name":"bg","index":0}`)
	b := mustParse(t, `{"index":0,"name":"bg","type":"layer.add"}`)
	if mustEncode(t, a) != mustEncode(t, b) {
		t.Error("semantically equal objects encoded differently")
	}
}

func TestEncode_differentValuesDiffer(t *testing.T) {
	a := mustEncode(t, mustParse(t, `{"a":1}`))
	b := mustEncode(t, mustParse(t, `{"a":"1"}`))
	c := mustEncode(t, mustParse(t, `{"a":[1]}`))
	if a == b || b == c || a == c {
		t.Errorf("distinct values collided: %s %s %s", a, b, c)
	}
}

func TestEncode_numbers(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`1`, `1`},
		{`1.0`, `1`},
		{`-0`, `0`},
		{`1.5`, `1.5`},
		{`0.1`, `0.1`},
		{`100`, `100`},
		{`1e21`, `1e+21`},
		{`1e20`, `100000000000000000000`},
		{`0.0000001`, `1e-7`},
		{`0.000001`, `0.000001`},
		{`-2.5e-8`, `-2.5e-8`},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			if got := mustEncode(t, mustParse(t, tc.in)); got != tc.want {
				t.Errorf("Encode(%s) = %s, want %s", tc.in, got, tc.want)
			}
		})
	}
}

func TestEncode_stringEscaping(t *testing.T) {
	v := canonical.String("a\"b\\c\n\t<&>\u0001é")
	got := mustEncode(t, v)
	want := `"a\"b\\c\n\t<&>\u0001é"`
	if got != want {
		t.Errorf("Encode string:\n got %s\nwant %s", got, want)
	}
}

func TestSortedKeys_utf16Order(t *testing.T) {
	// U+1F600 encodes as a surrogate pair (0xD83D...), which sorts before
	// U+FF61 in UTF-16 but after it in UTF-8.
	obj := canonical.Object{
		"｡":     canonical.Null{},
		"\U0001F600": canonical.Null{},
	}
	keys := canonical.SortedKeys(obj)
	if keys[0] != "\U0001F600" {
		t.Errorf("expected surrogate-pair key first, got %q", keys)
	}
}

func TestFromAny_goValues(t *testing.T) {
	v, err := canonical.FromAny(map[string]any{
		"n":    3,
		"tags": []string{"x", "y"},
		"meta": map[string]string{"k": "v"},
		"nil":  nil,
	})
	if err != nil {
		t.Fatal(err)
	}
	got := mustEncode(t, v)
	want := `{"meta":{"k":"v"},"n":3,"nil":null,"tags":["x","y"]}`
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestFromAny_rejectsUnencodable(t *testing.T) {
	if _, err := canonical.FromAny(math.NaN()); err == nil {
		t.Error("expected error for NaN")
	}
	if _, err := canonical.FromAny(struct{}{}); err == nil {
		t.Error("expected error for unsupported type")
	}
	if _, err := canonical.Encode(canonical.Number(math.Inf(1))); err == nil {
		t.Error("expected error encoding +Inf")
	}
}

func TestFromAny_rejectsCycles(t *testing.T) {
	m := map[string]any{}
	m["self"] = m
	if _, err := canonical.FromAny(m); err == nil {
		t.Error("expected error for cyclic map")
	}
}

func TestParse_rejectsTrailingData(t *testing.T) {
	if _, err := canonical.Parse([]byte(`{"a":1} {"b":2}`)); err == nil {
		t.Error("expected error for trailing data")
	}
}

func TestText(t *testing.T) {
	if got := canonical.Text(canonical.String(" abc ")); got != " abc " {
		t.Errorf("Text(String) = %q", got)
	}
	if got := canonical.Text(canonical.Number(12)); got != "12" {
		t.Errorf("Text(Number) = %q", got)
	}
}

func TestEmpty(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{`null`, true},
		{`false`, true},
		{`0`, true},
		{`""`, true},
		{`true`, false},
		{`1`, false},
		{`"x"`, false},
		{`[]`, false},
		{`{}`, false},
	}
	for _, tt := range tests {
		if got := canonical.Empty(mustParse(t, tt.in)); got != tt.want {
			t.Errorf("Empty(%s) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if !canonical.Empty(nil) {
		t.Error("Empty(nil) = false")
	}
}
