package pipeline

import "testing"

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "markdown structure stripped",
			in:   "## Heading\n\n- first **bold** point\n- second _em_ point",
			want: "Heading first bold point second em point",
		},
		{
			name: "code blocks removed",
			in:   "Run this:\n```go\nfmt.Println(\"hi\")\n```\nthen `go test` it.",
			want: "Run this: then it.",
		},
		{
			name: "symbols spoken",
			in:   "A -> B costs 5€ & takes ~3%",
			want: "A rightarrow B costs 5 euros and takes about 3 percent",
		},
		{
			name: "punctuation runs collapse",
			in:   "Really??!! Yes... sure,,",
			want: "Really? Yes. sure,",
		},
		{
			name: "empty stays empty",
			in:   "   \n\t  ",
			want: "",
		},
		{
			name: "bullet hidden behind emphasis",
			in:   "**- hello world**",
			want: "hello world",
		},
		{
			name: "header hidden behind emphasis",
			in:   "*# heading text*",
			want: "heading text",
		},
		{
			name: "header hidden behind bullet",
			in:   "- # nested heading",
			want: "nested heading",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Sanitize(tc.in); got != tc.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestSanitize_Idempotent(t *testing.T) {
	inputs := []string{
		"## Title\nSome **bold** -> text with `code` & 50% of €10...",
		"plain sentence already clean",
		"```\nblock\n```",
		"A ± B ° C § D",
		"**- hello world**",
		"*# heading text*",
		"- # nested heading",
		"__* deep **- nesting** *__",
	}
	for _, in := range inputs {
		once := Sanitize(in)
		twice := Sanitize(once)
		if once != twice {
			t.Errorf("not idempotent for %q:\n once: %q\ntwice: %q", in, once, twice)
		}
	}
}
