package canonical

import (
	"bytes"
	"math"
	"testing"
)

func TestMarshal_SortsKeys(t *testing.T) {
	got, err := Marshal(map[string]any{
		"zebra": 1,
		"alpha": 2,
		"mango": map[string]any{"b": true, "a": nil},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"alpha":2,"mango":{"a":null,"b":true},"zebra":1}`
	if string(got) != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestMarshal_NoWhitespace(t *testing.T) {
	got, err := Marshal(map[string]any{"a": []any{1, "two", false}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if bytes.ContainsAny(got, " \n\t") {
		t.Fatalf("canonical output contains whitespace: %s", got)
	}
}

func TestMarshal_Numbers(t *testing.T) {
	cases := []struct {
		in   float64
		want string
	}{
		{0, "0"},
		{1, "1"},
		{-1, "-1"},
		{1.5, "1.5"},
		{0.1, "0.1"},
		{100, "100"},
		{1e21, "1e+21"},
		{1e-7, "1e-7"},
		{0.000001, "0.000001"},
	}
	for _, c := range cases {
		got, err := Marshal(c.in)
		if err != nil {
			t.Fatalf("marshal %v: %v", c.in, err)
		}
		if string(got) != c.want {
			t.Errorf("marshal %v: got %s, want %s", c.in, got, c.want)
		}
	}
}

func TestMarshal_NegativeZero(t *testing.T) {
	negZero := math.Copysign(0, -1)
	got, err := Marshal(negZero)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(got) != "0" {
		t.Fatalf("negative zero should serialize as 0, got %s", got)
	}
}

func TestMarshal_NonFiniteRejected(t *testing.T) {
	if _, err := Marshal(math.NaN()); err == nil {
		t.Fatal("NaN should be rejected")
	}
	if _, err := Marshal(math.Inf(1)); err == nil {
		t.Fatal("Inf should be rejected")
	}
}

func TestMarshal_StringEscaping(t *testing.T) {
	got, err := Marshal("line\nbreak\ttab \"quote\" \\ h\u00e9llo \x01")
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := "\"line\\nbreak\\ttab \\\"quote\\\" \\\\ h\u00e9llo \\u0001\""
	if string(got) != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestMarshalRaw_EquivalentEncodings(t *testing.T) {
	// Same value, different key order, whitespace, and number spellings.
	a := []byte(`{"b": 1.0, "a": {"y": 2e0, "x": "s"}}`)
	b := []byte(`{"a":{"x":"s","y":2},"b":1}`)

	ca, err := MarshalRaw(a)
	if err != nil {
		t.Fatalf("marshal a: %v", err)
	}
	cb, err := MarshalRaw(b)
	if err != nil {
		t.Fatalf("marshal b: %v", err)
	}
	if !bytes.Equal(ca, cb) {
		t.Fatalf("equivalent documents canonicalize differently: %s vs %s", ca, cb)
	}
	if string(ca) != `{"a":{"x":"s","y":2},"b":1}` {
		t.Fatalf("unexpected canonical form: %s", ca)
	}
}

func TestMarshal_Deterministic(t *testing.T) {
	v := map[string]any{"k": []any{map[string]any{"z": 1, "a": 2}, "str", nil}}
	first, err := Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for i := 0; i < 50; i++ {
		again, err := Marshal(v)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("iteration %d produced different bytes", i)
		}
	}
}
