package types

import "testing"

func TestExtractExtension(t *testing.T) {
	cases := map[string]string{
		"foo.tar.gz": "gz",
		".hidden":    "",
		"NoDot":      "",
		"bar.":       "",
		"IMG.JPG":    "jpg",
	}
	for in, want := range cases {
		if got := ExtractExtension(in); got != want {
			t.Errorf("ExtractExtension(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestEscapeSingleQuotesIdempotence(t *testing.T) {
	s := "O'Brien's file"
	once := EscapeSingleQuotes(s)
	twice := EscapeSingleQuotes(once)
	want := replaceAll(once, "''", "''''")
	if twice != want {
		t.Errorf("escaping twice = %q, want %q", twice, want)
	}
}

func replaceAll(s, old, new string) string {
	// local helper to avoid importing strings twice in the test for clarity
	out := ""
	for i := 0; i < len(s); {
		if i+len(old) <= len(s) && s[i:i+len(old)] == old {
			out += new
			i += len(old)
		} else {
			out += string(s[i])
			i++
		}
	}
	return out
}

func TestMergeSourceIdempotentAndAppends(t *testing.T) {
	csv := MergeSource("", "ModA")
	if csv != "ModA" {
		t.Fatalf("got %q", csv)
	}
	csv = MergeSource(csv, "ModA")
	if csv != "ModA" {
		t.Fatalf("re-adding same source should be a no-op, got %q", csv)
	}
	csv = MergeSource(csv, "ModB")
	if csv != "ModA,ModB" {
		t.Fatalf("got %q", csv)
	}
	csv = MergeSource(csv, "ModA")
	if csv != "ModA,ModB" {
		t.Fatalf("got %q", csv)
	}
}

func TestClampSize(t *testing.T) {
	if ClampSize(-5) != 0 {
		t.Fatal("negative size must clamp to zero")
	}
	if ClampSize(100) != 100 {
		t.Fatal("positive size must pass through")
	}
}

func TestMaxSignificance(t *testing.T) {
	if MaxSignificance(SignificanceLikelyNotable, SignificanceNotable) != SignificanceNotable {
		t.Fatal("expected notable to win")
	}
	if MaxSignificance(SignificanceNotable, SignificanceUnknown) != SignificanceNotable {
		t.Fatal("expected notable to win over unknown")
	}
}
