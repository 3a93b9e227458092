package console

import (
	"regexp"
	"strings"
)

// dataTag prefixes every content line of an emulator response block.
const dataTag = "data:"

// flagLinePatterns recognize the emulator's trailing flag line: three
// space-delimited single-character fields, optionally suffixed with a
// parenthesized host indicator.
var flagLinePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^U F U( C\(.*\))?`),
	regexp.MustCompile(`^U U U( C\(.*\))?`),
	regexp.MustCompile(`^L U U( C\(.*\))?`),
}

// FormatScreen turns a raw emulator response block into the visible screen
// content. The trailing status token line and the flag line preceding it are
// dropped, and the data tag is stripped from each remaining line. With
// stripBlank set, lines that are blank after stripping are omitted.
//
// The function is total and, once the genuine trailing marker lines are gone,
// idempotent.
func FormatScreen(raw string, stripBlank bool) string {
	lines := strings.Split(raw, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) == 0 {
		return ""
	}

	if strings.HasPrefix(lines[len(lines)-1], statusOK) {
		lines = lines[:len(lines)-1]
	}
	if len(lines) > 0 && isFlagLine(lines[len(lines)-1]) {
		lines = lines[:len(lines)-1]
	}

	formatted := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.HasPrefix(line, dataTag) {
			line = line[len(dataTag):]
			line = strings.TrimPrefix(line, " ")
		}
		if stripBlank && strings.TrimSpace(line) == "" {
			continue
		}
		formatted = append(formatted, line)
	}

	return strings.Join(formatted, "\n")
}

func isFlagLine(line string) bool {
	for _, pattern := range flagLinePatterns {
		if pattern.MatchString(line) {
			return true
		}
	}
	return false
}
