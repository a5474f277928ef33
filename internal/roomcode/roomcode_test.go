package roomcode

import (
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		length  int
		want    string
		wantErr bool
	}{
		{name: "already upper", input: "ABC123", length: 6, want: "ABC123"},
		{name: "lower case normalized", input: "abc123", length: 6, want: "ABC123"},
		{name: "surrounding space", input: "  xy12zq ", length: 6, want: "XY12ZQ"},
		{name: "too short", input: "ABC12", length: 6, wantErr: true},
		{name: "too long", input: "ABC1234", length: 6, wantErr: true},
		{name: "punctuation", input: "ABC-12", length: 6, wantErr: true},
		{name: "empty", input: "", length: 6, wantErr: true},
		{name: "length check disabled", input: "abcdefgh", length: 0, want: "ABCDEFGH"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input, tt.length)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalid) {
					t.Fatalf("expected ErrInvalid, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestGenerate(t *testing.T) {
	for range 50 {
		code := Generate(Length)
		if err := Validate(code, Length); err != nil {
			t.Fatalf("generated code %q is invalid: %v", code, err)
		}
	}
}

func TestGenerateUniqueSkipsCodesInUse(t *testing.T) {
	calls := 0
	code := GenerateUnique(Length, func(string) bool {
		calls++
		return calls < 3
	})
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
	if len(code) != Length {
		t.Errorf("expected %d characters, got %q", Length, code)
	}
}
