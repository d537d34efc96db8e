package version

import (
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    ProtoVersion
		wantErr bool
	}{
		{"1.0", ProtoVersion{1, 0}, false},
		{"2.13", ProtoVersion{2, 13}, false},
		{"1", ProtoVersion{1, 0}, false},
		{"", ProtoVersion{}, true},
		{"1.2.3", ProtoVersion{}, true},
		{"a.b", ProtoVersion{}, true},
		{"1.", ProtoVersion{}, true},
	}

	for _, tt := range tests {
		got, err := Parse(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("Parse(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err == nil && got != tt.want {
			t.Errorf("Parse(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestString(t *testing.T) {
	if got := (ProtoVersion{1, 2}).String(); got != "1.2" {
		t.Errorf("String() = %q, want \"1.2\"", got)
	}
}

func TestCompatible(t *testing.T) {
	v1 := ProtoVersion{1, 0}
	if !v1.Compatible(ProtoVersion{1, 9}) {
		t.Error("same major must be compatible")
	}
	if v1.Compatible(ProtoVersion{2, 0}) {
		t.Error("different major must be incompatible")
	}
}

func TestCurrentParses(t *testing.T) {
	if _, err := Parse(Current); err != nil {
		t.Fatalf("Current %q does not parse: %v", Current, err)
	}
}

func TestTXTValue(t *testing.T) {
	if got := TXTValue(); got != "1" {
		t.Errorf("TXTValue() = %q, want \"1\"", got)
	}
}
