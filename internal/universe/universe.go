// Package universe holds the static default symbol set.
package universe

import (
	"bufio"
	_ "embed"
	"strings"
)

//go:embed sp500.txt
var sp500 string

// SP500 returns the embedded S&P 500 ticker list in file order.
func SP500() []string {
	return parse(sp500)
}

// Resolve returns override when it is non-empty, otherwise the default universe.
// Entries are trimmed, upper-cased and de-duplicated in order.
func Resolve(override []string) []string {
	if len(override) == 0 {
		return SP500()
	}
	return normalize(override)
}

// ParseList splits a comma-separated symbol list.
func ParseList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return normalize(strings.Split(s, ","))
}

func parse(text string) []string {
	var lines []string
	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return normalize(lines)
}

func normalize(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
