package expressions

import (
	"regexp"
	"strings"
)

// Variable references inside node config appear in three syntaxes:
// {{node.field}}, ${node.field}, and bare {node.field}. Bodies must be
// simple identifier paths, which keeps JSON structure from matching the
// single-brace form.
var (
	doubleBraceRe = regexp.MustCompile(`\{\{\s*([A-Za-z_][\w.]*)\s*\}\}`)
	dollarBraceRe = regexp.MustCompile(`\$\{\s*([A-Za-z_][\w.]*)\s*\}`)
	singleBraceRe = regexp.MustCompile(`\{([A-Za-z_][\w.]*)\}`)
)

// ScanVariableRefs extracts variable reference tokens from serialized node
// data. Returns deduplicated tokens in first-seen order. Double-brace and
// dollar-brace matches are masked before the single-brace pass so a token
// is only reported once.
func ScanVariableRefs(s string) []string {
	if !strings.ContainsRune(s, '{') {
		return nil
	}

	seen := make(map[string]bool)
	var out []string
	add := func(groups [][]string) {
		for _, g := range groups {
			tok := g[1]
			if !seen[tok] {
				seen[tok] = true
				out = append(out, tok)
			}
		}
	}

	add(doubleBraceRe.FindAllStringSubmatch(s, -1))
	masked := doubleBraceRe.ReplaceAllString(s, " ")
	add(dollarBraceRe.FindAllStringSubmatch(masked, -1))
	masked = dollarBraceRe.ReplaceAllString(masked, " ")
	add(singleBraceRe.FindAllStringSubmatch(masked, -1))

	return out
}

// RefRoot returns the leading identifier of a reference token:
// "fetch.output.url" -> "fetch".
func RefRoot(ref string) string {
	if i := strings.IndexByte(ref, '.'); i >= 0 {
		return ref[:i]
	}
	return ref
}
