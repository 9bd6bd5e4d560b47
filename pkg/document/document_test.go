package document

import (
	"errors"
	"testing"
)

func TestDecodeObject_PreservesOrder(t *testing.T) {
	obj, err := DecodeObject([]byte(`{"z": 1, "a": {"y": true, "b": null}, "m": [1, "x"]}`))
	if err != nil {
		t.Fatalf("DecodeObject() error = %v", err)
	}

	keys := obj.Keys()
	want := []string{"z", "a", "m"}
	if len(keys) != len(want) {
		t.Fatalf("Keys() = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("Keys()[%d] = %s, want %s", i, keys[i], want[i])
		}
	}

	out, err := obj.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON() error = %v", err)
	}
	if got, want := string(out), `{"z":1,"a":{"y":true,"b":null},"m":[1,"x"]}`; got != want {
		t.Errorf("MarshalJSON() = %s, want %s", got, want)
	}
}

func TestCanonical(t *testing.T) {
	a, err := DecodeObject([]byte(`{"b": 2, "a": {"d": 1.50, "c": "x<y"}}`))
	if err != nil {
		t.Fatalf("DecodeObject() error = %v", err)
	}
	b, err := DecodeObject([]byte(`{"a":{"c":"x<y","d":1.50},"b":2}`))
	if err != nil {
		t.Fatalf("DecodeObject() error = %v", err)
	}

	ca, _ := a.Canonical()
	cb, _ := b.Canonical()

	if string(ca) != string(cb) {
		t.Errorf("canonical forms differ: %s vs %s", ca, cb)
	}
	if want := `{"a":{"c":"x<y","d":1.50},"b":2}`; string(ca) != want {
		t.Errorf("Canonical() = %s, want %s", ca, want)
	}
}

func TestDecodeObject_Errors(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		notObject bool
	}{
		{"array", `[1,2]`, true},
		{"string", `"x"`, true},
		{"truncated", `{"a":`, false},
		{"trailing", `{"a":1} {"b":2}`, false},
		{"empty", ``, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeObject([]byte(tt.input))
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, ErrNotObject); got != tt.notObject {
				t.Errorf("errors.Is(ErrNotObject) = %v, want %v (err %v)", got, tt.notObject, err)
			}
		})
	}
}

func TestValueText(t *testing.T) {
	obj, err := DecodeObject([]byte(`{"s":"hi","n":12.0,"t":true,"f":false,"z":null,"o":{"k":1},"a":[1,2]}`))
	if err != nil {
		t.Fatalf("DecodeObject() error = %v", err)
	}

	tests := []struct {
		key    string
		want   string
		wantOK bool
	}{
		{"s", "hi", true},
		{"n", "12.0", true},
		{"t", "true", true},
		{"f", "false", true},
		{"z", "", false},
		{"o", `{"k":1}`, true},
		{"a", `[1,2]`, true},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			v, _ := obj.Get(tt.key)
			got, ok := v.Text()
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("Text() = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestObjectSet_DuplicateKeepsPosition(t *testing.T) {
	obj := NewObject()
	obj.Set("a", Number("1"))
	obj.Set("b", Number("2"))
	obj.Set("a", Number("3"))

	if obj.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", obj.Len())
	}
	out, _ := obj.MarshalJSON()
	if got, want := string(out), `{"a":3,"b":2}`; got != want {
		t.Errorf("MarshalJSON() = %s, want %s", got, want)
	}
}
