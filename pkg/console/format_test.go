package console

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatScreenStripsTrailingMarkers(t *testing.T) {
	raw := "data: first line\ndata: second line\nU F U C(ZVMHOST001) I 2 24 80 0 0 0x0 -\nok\n"

	got := FormatScreen(raw, true)

	assert.Equal(t, "first line\nsecond line", got)
}

func TestFormatScreenFlagLineShapes(t *testing.T) {
	tests := []struct {
		name     string
		flagLine string
	}{
		{"unlocked formatted", "U F U C(ZVMHOST001) I 2 24 80 0 0 0x0 -"},
		{"unlocked unformatted", "U U U C(ZVMHOST001) I 2 24 80 0 0 0x0 -"},
		{"locked", "L U U C(ZVMHOST001) I 2 24 80 0 0 0x0 -"},
		{"no host indicator", "U F U"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := "data: content\n" + tt.flagLine + "\nok\n"
			assert.Equal(t, "content", FormatScreen(raw, true))
		})
	}
}

func TestFormatScreenNoMarkersDropsNothing(t *testing.T) {
	raw := "plain text\nanother line"

	got := FormatScreen(raw, false)

	assert.Equal(t, "plain text\nanother line", got)
}

func TestFormatScreenBlankLines(t *testing.T) {
	raw := "data: one\ndata: \ndata: two\nU F U\nok\n"

	assert.Equal(t, "one\ntwo", FormatScreen(raw, true))
	assert.Equal(t, "one\n\ntwo", FormatScreen(raw, false))
}

func TestFormatScreenEmpty(t *testing.T) {
	assert.Equal(t, "", FormatScreen("", true))
	assert.Equal(t, "", FormatScreen("", false))
}

func TestFormatScreenIdempotent(t *testing.T) {
	inputs := []string{
		"data: profile exec loaded\ndata: Ready;\nU F U C(ZVMHOST001) I 2 24 80 0 0 0x0 -\nok\n",
		"no markers at all",
		"data: one\ndata: \ndata: two\nL U U\nok\n",
		"",
	}

	for _, stripBlank := range []bool{true, false} {
		for _, raw := range inputs {
			once := FormatScreen(raw, stripBlank)
			twice := FormatScreen(once, stripBlank)
			assert.Equal(t, once, twice, "formatting must be idempotent for %q", raw)
		}
	}
}
