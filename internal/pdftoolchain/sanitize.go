package pdftoolchain

import (
	"regexp"
	"strings"
)

var (
	nonSafeRunRegex = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)
	edgeUnderscores = regexp.MustCompile(`^_+|_+$`)
)

// SanitizeBaseName replaces runs of non [A-Za-z0-9_-] characters with
// "_", strips leading/trailing "_", falls back to "document" if the
// result is empty, and truncates to 80 characters. Idempotent:
// SanitizeBaseName(SanitizeBaseName(x)) == SanitizeBaseName(x)
// (spec.md Testable Property #6). Ported from
// original_source/ghostscript.rs's sanitize_base_name.
func SanitizeBaseName(s string) string {
	out := nonSafeRunRegex.ReplaceAllString(s, "_")
	out = edgeUnderscores.ReplaceAllString(out, "")
	if out == "" {
		out = "document"
	}
	if len(out) > 80 {
		out = out[:80]
		// Truncation can strand a trailing "_" that was the start of a
		// longer run; strip it again so re-sanitizing is a no-op.
		out = edgeUnderscores.ReplaceAllString(out, "")
		if out == "" {
			out = "document"
		}
	}
	return out
}

// SanitizeFilenameForHeader applies the narrower ASCII-only rule
// spec.md §4.11 uses for the Content-Disposition filename: only
// alphanumerics and "._-" survive, everything else becomes "_".
func SanitizeFilenameForHeader(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
