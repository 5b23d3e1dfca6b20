package genclient

import (
	"fmt"
	"strings"
	"testing"

	"rankforge/internal/llm"
)

func TestRecoverListJSONArray(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "bare array",
			input: `["alpha", "beta", "gamma"]`,
			want:  []string{"alpha", "beta", "gamma"},
		},
		{
			name:  "array with surrounding prose",
			input: "Here you go:\n[\"one\", \"two\"]\nHope that helps!",
			want:  []string{"one", "two"},
		},
		{
			name:  "markdown fenced",
			input: "```json\n[\"first\", \"second\"]\n```",
			want:  []string{"first", "second"},
		},
		{
			name:  "fence without language tag",
			input: "```\n[\"x\", \"y\"]\n```",
			want:  []string{"x", "y"},
		},
		{
			name:  "brackets inside strings",
			input: `["item [a]", "item [b]"]`,
			want:  []string{"item [a]", "item [b]"},
		},
		{
			name:  "truncated array closed at last complete string",
			input: `["done", "also done", "cut off mid`,
			want:  []string{"done", "also done"},
		},
		{
			name:  "whitespace trimmed per item",
			input: `["  padded  ", "ok"]`,
			want:  []string{"padded", "ok"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RecoverList(tt.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			assertItems(t, got, tt.want)
		})
	}
}

func TestRecoverListNumbered(t *testing.T) {
	input := `Sure! Here are some candidates:
1. The Matrix
2) Blade Runner
Feel free to ask for more.
3: Alien
`
	got, err := RecoverList(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Only numbered lines count; prose lines are commentary
	assertItems(t, got, []string{"The Matrix", "Blade Runner", "Alien"})
}

func TestRecoverListSingleNumberedLineFallsThrough(t *testing.T) {
	// One numbered line is not a numbered list; line-based recovery applies
	got, err := RecoverList("1. only entry")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected one item, got %v", got)
	}
}

func TestRecoverListPlainLines(t *testing.T) {
	input := "- alpha\n* beta\n• gamma\ndelta\n\n"
	got, err := RecoverList(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertItems(t, got, []string{"alpha", "beta", "gamma", "delta"})
}

func TestRecoverListLineCap(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < maxFreeTextLines+50; i++ {
		fmt.Fprintf(&sb, "item %d\n", i)
	}
	got, err := RecoverList(sb.String())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != maxFreeTextLines {
		t.Errorf("expected cap at %d lines, got %d", maxFreeTextLines, len(got))
	}
}

func TestRecoverListBlankIsEmptySuccess(t *testing.T) {
	for _, input := range []string{"", "   ", "\n\n\t"} {
		got, err := RecoverList(input)
		if err != nil {
			t.Errorf("blank input %q should not error, got %v", input, err)
		}
		if got != nil {
			t.Errorf("blank input %q should yield nil items, got %v", input, got)
		}
	}
}

func TestRecoverListUnrecoverable(t *testing.T) {
	// Bullet-only lines strip to nothing, leaving no recoverable items
	_, err := RecoverList("- \n* \n")
	if llm.KindOf(err) != llm.KindMalformed {
		t.Errorf("expected malformed error, got %v", err)
	}
}

func assertItems(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Errorf("item %d: got %q, want %q", i, got[i], want[i])
		}
	}
}
