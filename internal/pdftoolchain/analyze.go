package pdftoolchain

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

const formFieldMarker = "/Subtype /Widget"

// Analyze implements spec.md §4.4's analyze: runs the Ghostscript
// inkcov device, parses per-page CMYK coverage, normalizes the result
// to exactly pageCount entries, and probes for form fields by a raw
// byte-window scan. Ported from original_source/ghostscript.rs's
// analyze_pdf/parse_inkcov_profiles/parse_inkcov_line/parse_f64_token/
// normalize_profiles.
func (a Adapter) Analyze(ctx context.Context, path string, fileName string, pageCount int) (Analysis, error) {
	res, err := a.runInkcov(ctx, path)
	if err != nil {
		return Analysis{}, fmt.Errorf("analyze: %w", err)
	}

	combined := combineInkcovOutput(res.Stdout, res.Stderr)
	profiles := parseInkcovProfiles(combined, pageCount)
	profiles = normalizeProfiles(profiles, pageCount)

	hasFormFields, err := detectFormFields(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("form field probe failed, assuming none present")
	}

	return Analysis{
		FileName:      fileName,
		PageCount:     pageCount,
		HasFormFields: hasFormFields,
		ColorProfiles: profiles,
	}, nil
}

func (a Adapter) runInkcov(ctx context.Context, path string) (result, error) {
	return a.runGS(ctx, "-q", "-o", "-", "-dSAFER", "-dBATCH", "-dNOPAUSE", "-sDEVICE=inkcov", path)
}

// combineInkcovOutput mirrors ghostscript.rs's specific empty-check
// rule: gs writes inkcov lines to stdout but some builds route them to
// stderr instead, so prefer whichever stream is non-empty, concatenating
// both when neither is empty so no data is silently dropped.
func combineInkcovOutput(stdout, stderr string) string {
	switch {
	case strings.TrimSpace(stdout) == "":
		return stderr
	case strings.TrimSpace(stderr) == "":
		return stdout
	default:
		return stdout + "\n" + stderr
	}
}

// parseInkcovProfiles parses each line that carries a valid
// four-float match, stopping once the page index would exceed
// pageCount.
func parseInkcovProfiles(output string, pageCount int) []ColorProfile {
	var profiles []ColorProfile
	scanner := bufio.NewScanner(strings.NewReader(output))
	page := 1
	for scanner.Scan() {
		line := scanner.Text()
		profile, ok := parseInkcovLine(line)
		if !ok {
			continue
		}
		if pageCount > 0 && page > pageCount {
			break
		}
		profile.Page = page
		profiles = append(profiles, profile)
		page++
	}
	return profiles
}

// parseInkcovLine scans every possible four-token window in the line
// and keeps the LAST one whose tokens all parse as floats, treating
// any remaining tokens as the ink_type label. This matches
// ghostscript.rs tolerating leading page-index tokens some gs builds
// emit before the CMYK quad.
func parseInkcovLine(line string) (ColorProfile, bool) {
	tokens := strings.Fields(line)
	if len(tokens) < 4 {
		return ColorProfile{}, false
	}

	best := -1
	var c, m, y, k float64
	for start := 0; start+4 <= len(tokens); start++ {
		cc, ok1 := parseF64Token(tokens[start])
		mm, ok2 := parseF64Token(tokens[start+1])
		yy, ok3 := parseF64Token(tokens[start+2])
		kk, ok4 := parseF64Token(tokens[start+3])
		if ok1 && ok2 && ok3 && ok4 {
			best = start
			c, m, y, k = cc, mm, yy, kk
		}
	}
	if best == -1 {
		return ColorProfile{}, false
	}

	inkType := strings.TrimSpace(strings.Join(tokens[best+4:], " "))
	return ColorProfile{C: c, M: m, Y: y, K: k, InkType: inkType}, true
}

// parseF64Token parses a direct float; if that fails and the token has
// no '.', retries with ',' substituted for '.' (European-locale decimal).
func parseF64Token(token string) (float64, bool) {
	if v, err := strconv.ParseFloat(token, 64); err == nil {
		return v, true
	}
	if !strings.Contains(token, ".") && strings.Contains(token, ",") {
		if v, err := strconv.ParseFloat(strings.Replace(token, ",", ".", 1), 64); err == nil {
			return v, true
		}
	}
	return 0, false
}

// normalizeProfiles truncates extras, pads missing pages with
// zero-valued entries, and reassigns Page indices 1..pageCount.
func normalizeProfiles(profiles []ColorProfile, pageCount int) []ColorProfile {
	if pageCount <= 0 {
		return profiles
	}

	if len(profiles) != pageCount {
		sample := sampleForLog(profiles)
		log.Warn().Int("parsed", len(profiles)).Int("expected", pageCount).
			Str("sample", sample).Msg("ink coverage profile count mismatch, normalizing")
	}

	if len(profiles) > pageCount {
		profiles = profiles[:pageCount]
	}
	for len(profiles) < pageCount {
		profiles = append(profiles, ColorProfile{})
	}
	for i := range profiles {
		profiles[i].Page = i + 1
	}
	return profiles
}

func sampleForLog(profiles []ColorProfile) string {
	var b strings.Builder
	for _, p := range profiles {
		fmt.Fprintf(&b, "%+v ", p)
		if b.Len() > 600 {
			break
		}
	}
	s := b.String()
	if len(s) > 600 {
		s = s[:600]
	}
	return s
}

// detectFormFields returns true iff the literal byte sequence
// "/Subtype /Widget" appears anywhere in the file. A read failure
// yields (false, err) — callers log a warning and treat it as "no
// form fields", per spec.md §4.4.
func detectFormFields(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	return bytes.Contains(data, []byte(formFieldMarker)), nil
}
