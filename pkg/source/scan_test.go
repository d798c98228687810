package source

import (
	"strings"
	"testing"
)

func TestLineScanner_OversizedLineFlagged(t *testing.T) {
	input := strings.Repeat("x", 200) + "\n" + `{"ok":true}` + "\n"
	s := newLineScanner(strings.NewReader(input), nil, 64)

	if !s.Scan() {
		t.Fatal("scan stopped at oversized line")
	}
	if !s.TooLong() {
		t.Error("oversized line not flagged")
	}
	if len(s.Bytes()) != 0 {
		t.Errorf("oversized line retained %d bytes", len(s.Bytes()))
	}

	if !s.Scan() {
		t.Fatal("scan did not resume after oversized line")
	}
	if s.TooLong() {
		t.Error("following line flagged as oversized")
	}
	if got := strings.TrimSpace(string(s.Bytes())); got != `{"ok":true}` {
		t.Errorf("following line = %q", got)
	}

	if s.Scan() {
		t.Error("scan past end of input")
	}
	if s.Err() != nil {
		t.Errorf("unexpected error: %v", s.Err())
	}
}

func TestLineScanner_LastLineWithoutNewline(t *testing.T) {
	s := newLineScanner(strings.NewReader("a\nb"), nil, 64)

	var lines []string
	for s.Scan() {
		lines = append(lines, strings.TrimSpace(string(s.Bytes())))
	}
	if s.Err() != nil {
		t.Fatal(s.Err())
	}
	if len(lines) != 2 || lines[0] != "a" || lines[1] != "b" {
		t.Errorf("lines = %v, want [a b]", lines)
	}
}
