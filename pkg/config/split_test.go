package config

import (
	"testing"
)

func TestSplitQuotedFields(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		quote    rune
		expected []string
	}{
		{"single quotes", `field'A' 'fieldB' fie'l\'d'C fieldD 'another field' fieldE`, '\'',
			[]string{"fieldA", "fieldB", "fiel'dC", "fieldD", "another field", "fieldE"}},
		{"double quotes", `field"A" "fieldB" fie"l'd"C "field\"D" "yet another field"`, '"',
			[]string{"fieldA", "fieldB", "fiel'dC", "field\"D", "yet another field"}},
		{"empty string at the end", `field"A" ""`, '"', []string{"fieldA", ""}},
		{"empty string at the beginning", ` "" field"A"`, '"', []string{"", "fieldA"}},
		{"lots of spaces", `    field"A"   `, '"', []string{"fieldA"}},
		{"only empty strings", ` "" "" "" """" "" `, '"', []string{"", "", "", "", ""}},
		{"regular expressions", `DS "^DS::Vector<.*>$" a|b`, '"', []string{"DS", "^DS::Vector<.*>$", "a|b"}},
		{"backslash outside quotes", `a\b`, '"', []string{`a\b`}},
		{"nothing", "  ", '"', []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := SplitQuotedFields(tt.in, tt.quote)
			if len(tt.expected) != len(out) {
				t.Fatalf("expected %#v, got %#v (len mismatch)", tt.expected, out)
			}
			for i := range tt.expected {
				if tt.expected[i] != out[i] {
					t.Fatalf("expected %#v, got %#v (mismatch at %d)", tt.expected, out, i)
				}
			}
		})
	}
}
