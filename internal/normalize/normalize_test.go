package normalize

import "testing"

func TestKey(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"lowercase", "MATRIX", "matrix"},
		{"leading article the", "The Matrix", "matrix"},
		{"leading article a", "A Clockwork Orange", "clockwork orange"},
		{"leading article an", "An American Werewolf", "american werewolf"},
		{"article only is kept", "The", "the"},
		{"chained articles stripped", "The A Team", "team"},
		{"trailing lone article kept", "The A", "a"},
		{"trailing year", "Matrix (1999)", "matrix"},
		{"trailing bracket tag", "Abbey Road [Remastered]", "abbey road"},
		{"stacked suffixes", "Dune (2021) [IMAX]", "dune"},
		{"article and year together", "The Matrix (1999)", "matrix"},
		{"diacritics folded", "Amélie", "amelie"},
		{"diacritics uppercase", "CAFÉ", "cafe"},
		{"internal apostrophe kept", "Don't Look Up", "don't look up"},
		{"quoting apostrophes dropped", "'Salem's Lot'", "salem's lot"},
		{"punctuation to space", "Spider-Man: Homecoming", "spider man homecoming"},
		{"whitespace collapsed", "  The   Dark    Knight  ", "dark knight"},
		{"ampersand dropped", "Fast & Furious", "fast furious"},
		{"digits survive", "2001: A Space Odyssey", "2001 a space odyssey"},
		{"empty input", "", ""},
		{"punctuation only", "!!!", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Key(tt.input); got != tt.want {
				t.Errorf("Key(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestKeyMergesSurfaceForms(t *testing.T) {
	// All of these must collide so the engine's no-duplicates guarantee holds
	forms := []string{
		"The Matrix",
		"the matrix",
		"Matrix",
		"Matrix (1999)",
		"  MATRIX  ",
		"The Matrix (1999)",
	}
	want := Key(forms[0])
	for _, form := range forms[1:] {
		if got := Key(form); got != want {
			t.Errorf("Key(%q) = %q, want %q (same as %q)", form, got, want, forms[0])
		}
	}

	// Forms differing only by a leading article must collide too
	if Key("The A Team") != Key("A Team") {
		t.Errorf("Key(\"The A Team\") = %q, Key(\"A Team\") = %q, want equal",
			Key("The A Team"), Key("A Team"))
	}
}

func TestKeyIdempotent(t *testing.T) {
	inputs := []string{
		"The Matrix (1999)",
		"Amélie",
		"Don't Look Up",
		"Spider-Man: Homecoming",
		"2001: A Space Odyssey",
		"An American Werewolf [4K]",
		"The A Team",
		"An A Cappella Night",
		"The The",
	}
	for _, input := range inputs {
		once := Key(input)
		if twice := Key(once); twice != once {
			t.Errorf("Key not idempotent for %q: Key=%q, Key(Key)=%q", input, once, twice)
		}
	}
}

func TestKeyInvalidUTF8(t *testing.T) {
	// Malformed UTF-8 must still yield a key, not panic or go empty
	if got := Key("abc\xffdef"); got == "" {
		t.Errorf("Key on invalid UTF-8 returned empty key")
	}
}
