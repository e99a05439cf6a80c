package markdown

import (
	"strings"
	"testing"
)

// TestFlatten_StripsInlineMarkup checks emphasis, links and code spans are reduced to text.
func TestFlatten_StripsInlineMarkup(t *testing.T) {
	input := "Aria met **Tomas** at the [old mill](https://example.com/mill) and said `hello`."

	got := NewFlattener().Flatten([]byte(input))

	want := "Aria met Tomas at the old mill and said hello."
	if got != want {
		t.Errorf("Flatten: expected %q, got %q", want, got)
	}
}

// TestFlatten_BlocksBecomeParagraphs checks headings, paragraphs and list items are separated by blank lines.
func TestFlatten_BlocksBecomeParagraphs(t *testing.T) {
	input := `# The Harbour

Fog rolled in
over the docks.

- ropes
- lanterns

---

Dawn came late.
`

	got := NewFlattener().Flatten([]byte(input))

	want := "The Harbour\n\nFog rolled in over the docks.\n\nropes\n\nlanterns\n\nDawn came late."
	if got != want {
		t.Errorf("Flatten: expected %q, got %q", want, got)
	}
}

// TestFlatten_KeepsCodeDropsHTML checks fenced code survives verbatim and raw HTML disappears.
func TestFlatten_KeepsCodeDropsHTML(t *testing.T) {
	input := "<div class=\"note\">hidden</div>\n\n```\nINT. LIGHTHOUSE - NIGHT\n```\n"

	got := NewFlattener().Flatten([]byte(input))

	if strings.Contains(got, "hidden") || strings.Contains(got, "<div") {
		t.Errorf("Flatten kept HTML: %q", got)
	}
	if !strings.Contains(got, "INT. LIGHTHOUSE - NIGHT") {
		t.Errorf("Flatten dropped code block: %q", got)
	}
}

// TestFlatten_PlainText checks text without markup passes through.
func TestFlatten_PlainText(t *testing.T) {
	got := NewFlattener().Flatten([]byte("Just a sentence."))
	if got != "Just a sentence." {
		t.Errorf("Flatten: got %q", got)
	}
	if got := NewFlattener().Flatten(nil); got != "" {
		t.Errorf("Flatten(nil): got %q", got)
	}
}

// TestOutline_HeaderHierarchy checks nested headings produce joined paths.
func TestOutline_HeaderHierarchy(t *testing.T) {
	input := `# Act One

## Scene One

Text.

## Scene Two

### Beat

# Act Two
`

	paths, err := NewFlattener().Outline([]byte(input), 2)
	if err != nil {
		t.Fatalf("Outline failed: %v", err)
	}

	want := []string{"Act One", "Act One > Scene One", "Act One > Scene Two", "Act Two"}
	if len(paths) != len(want) {
		t.Fatalf("Outline: expected %v, got %v", want, paths)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("Outline[%d]: expected %q, got %q", i, want[i], paths[i])
		}
	}
}

// TestOutline_NoHeadings checks documents without headings have an empty outline.
func TestOutline_NoHeadings(t *testing.T) {
	paths, err := NewFlattener().Outline([]byte("No headings here."), 3)
	if err != nil {
		t.Fatalf("Outline failed: %v", err)
	}
	if len(paths) != 0 {
		t.Errorf("Outline: expected none, got %v", paths)
	}
}
