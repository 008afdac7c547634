package optionchain

import (
	"hash/fnv"
	"regexp"
	"strconv"
	"strings"
)

var spotNumberRe = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)

// SpotFromText extracts the underlying value from a label such as "NIFTY 50 24,210.35" or
// "Underlying Index: BANKNIFTY 51,002.10 As on 17-Oct-2026 15:30:00 IST". Date and time
// fragments are skipped. The first number with a fractional part wins; without one the
// largest number does, so index names like "NIFTY 50" are not read as the price.
func SpotFromText(text string) (float64, bool) {
	var best float64
	found := false
	for _, loc := range spotNumberRe.FindAllStringIndex(text, -1) {
		if datePart(text, loc[0], loc[1]) {
			continue
		}
		tok := text[loc[0]:loc[1]]
		v, ok := ParseNumber(tok)
		if !ok || v <= 0 {
			continue
		}
		if strings.Contains(tok, ".") {
			return v, true
		}
		if !found || v > best {
			best, found = v, true
		}
	}
	return best, found
}

func datePart(text string, start, end int) bool {
	sep := func(b byte) bool { return b == '-' || b == ':' || b == '/' }
	return (start > 0 && sep(text[start-1])) || (end < len(text) && sep(text[end]))
}

// Fingerprint hashes the row text of a table so unchanged content can be recognized.
func Fingerprint(rows [][]string) string {
	h := fnv.New64a()
	for _, row := range rows {
		_, _ = h.Write([]byte(strings.Join(row, "\x1f")))
		_, _ = h.Write([]byte{'\n'})
	}
	return strconv.FormatUint(h.Sum64(), 16)
}
