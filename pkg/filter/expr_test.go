package filter

import (
	"bytes"
	"testing"
)

func TestParseRule(t *testing.T) {
	tests := []struct {
		expr     string
		wantMode Mode
		wantStr  string
		wantErr  bool
	}{
		{"+id 0x123", Include, "id 0x123", false},
		{"0x5C0", Include, "id 0x5C0", false},
		{"1472", Include, "id 0x5C0", false},
		{"-id 0x700/0x700", Exclude, "id 0x700/0x700", false},
		{"exclude data FF ??", Exclude, "data FF ??", false},
		{"include data 1?,02", Include, "data 1? 02", false},
		{"- data FF00", Exclude, "data FF 00", false},
		{"+data 10&F0", Include, "data 1?", false},
		{"+data 12&F3", Include, "data 12&F3", false},
		{"", 0, "", true},
		{"-", 0, "", true},
		{"+id", 0, "", true},
		{"+id 0x123 0x456", 0, "", true},
		{"+id 0x20000000", 0, "", true},
		{"+data 01 02 03 04 05 06 07 08 09", 0, "", true},
		{"+data GG", 0, "", true},
		{"+data 0F0", 0, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			mode, target, err := ParseRule(tt.expr)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseRule() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if mode != tt.wantMode {
				t.Errorf("mode = %s, want %s", mode, tt.wantMode)
			}
			if target.String() != tt.wantStr {
				t.Errorf("target = %q, want %q", target.String(), tt.wantStr)
			}
		})
	}
}

func TestParseDataPattern_Wildcards(t *testing.T) {
	p, err := ParseDataPattern("FF * ?1 0x02")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(p.Bytes, []byte{0xFF, 0x00, 0x01, 0x02}) {
		t.Errorf("Bytes = % X", p.Bytes)
	}
	if !bytes.Equal(p.Mask, []byte{0xFF, 0x00, 0x0F, 0xFF}) {
		t.Errorf("Mask = % X", p.Mask)
	}
}
