package ptypool

import "testing"

func TestEscapeArg(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", `""`},
		{"plain", "plain"},
		{"has space", `"has space"`},
		{`with"quote`, `with\"quote`},
		{`back\slash`, `back\slash`},
		{`trailing\`, `trailing\`},
		{`path with\ space`, `"path with\ space"`},
		{`quote" and space`, `"quote\" and space"`},
	}
	for _, tc := range cases {
		if got := escapeArg(tc.in); got != tc.want {
			t.Errorf("escapeArg(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestBuildCmdLine(t *testing.T) {
	got := buildCmdLine([]string{"claude", "--resume", "my session"})
	want := `claude --resume "my session"`
	if got != want {
		t.Errorf("buildCmdLine = %q, want %q", got, want)
	}
}
