package sanitize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilename(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "clean name is unchanged",
			input: "report.pdf",
			want:  "report.pdf",
		},
		{
			name:  "windows reserved characters",
			input: `a<b>c:d"e/f\g|h?i*j.txt`,
			want:  "a_b_c_d_e_f_g_h_i_j.txt",
		},
		{
			name:  "control characters",
			input: "foo\x00bar\x1fbaz",
			want:  "foo_bar_baz",
		},
		{
			name:  "leading and trailing dots and spaces",
			input: "  ..archive.tar.gz. ",
			want:  "archive.tar.gz",
		},
		{
			name:  "empty input",
			input: "",
			want:  Fallback,
		},
		{
			name:  "only invalid characters",
			input: " .. ",
			want:  Fallback,
		},
		{
			name:  "slashes only",
			input: "///",
			want:  "___",
		},
		{
			name:  "unicode is preserved",
			input: "días-fériés.png",
			want:  "días-fériés.png",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Filename(tt.input))
		})
	}
}

func TestFilename_NeverProducesInvalidOutput(t *testing.T) {
	inputs := []string{
		"", " ", ".", "..", "a/b", `C:\Users\x`, "tab\there", "\x01\x02\x03",
		"mixed <ok> name?.jpg", strings.Repeat(".", 50), "....   ....",
	}

	for _, input := range inputs {
		got := Filename(input)

		assert.NotEmpty(t, got, "input %q", input)

		for _, r := range got {
			assert.GreaterOrEqual(t, r, rune(0x20), "control char in output for %q", input)
			assert.NotContains(t, `<>:"/\|?*`, string(r), "invalid char in output for %q", input)
		}

		assert.False(t, strings.HasPrefix(got, " ") || strings.HasPrefix(got, "."), "input %q", input)
		assert.False(t, strings.HasSuffix(got, " ") || strings.HasSuffix(got, "."), "input %q", input)
	}
}
