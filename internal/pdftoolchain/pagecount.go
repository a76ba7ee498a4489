package pdftoolchain

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/toricodesthings/ghostgate/internal/procrunner"
)

var pageCountRegex = regexp.MustCompile(`(?m)^\s*Pages:\s+(\d+)\s*$`)

// hasLoggedPDFInfoFallback is the one-shot flag from spec.md §5: the
// pdfinfo-unavailable fallback reason is logged once per process, not
// on every request. Mirrors ghostscript.rs's HAS_LOGGED_PDFINFO_FALLBACK.
var hasLoggedPDFInfoFallback atomic.Bool

// Adapter is the PDF Toolchain Adapter. GSBinary/PDFInfoBinary default
// to "gs"/"pdfinfo" when empty, matching the teacher's convention of
// resolving tool names once at config time.
type Adapter struct {
	GSBinary          string
	PDFInfoBinary     string
	MutoolBinary      string
	CommandTimeout    time.Duration
	MutoolTimeout     time.Duration
	ProductionOptions ProductionOptions
	// LogTimings enables per-call duration logging for Ghostscript
	// invocations, matching original_source/ghostscript.rs's optional
	// LOG_GHOSTSCRIPT_TIMINGS instrumentation.
	LogTimings bool
}

// ProductionOptions configures the optional black-text/vector
// coercion described in spec.md §4.4.
type ProductionOptions struct {
	ForceBlackText   bool
	ForceBlackVector bool
	LThreshold       *float64
	CThreshold       *float64
}

func (a Adapter) gsBin() string {
	if a.GSBinary == "" {
		return "gs"
	}
	return a.GSBinary
}

func (a Adapter) pdfInfoBin() string {
	if a.PDFInfoBinary == "" {
		return "pdfinfo"
	}
	return a.PDFInfoBinary
}

func (a Adapter) timeout() time.Duration {
	if a.CommandTimeout <= 0 {
		return 120 * time.Second
	}
	return a.CommandTimeout
}

// PageCount implements spec.md §4.4's page_count: fast-path pdfinfo,
// falling back to a Ghostscript one-liner on any pdfinfo failure. The
// fallback reason is logged only the first time it happens per process.
func (a Adapter) PageCount(ctx context.Context, path string) (int, error) {
	count, ok := a.tryPageCountWithPDFInfo(ctx, path)
	if ok {
		return count, nil
	}

	script := fmt.Sprintf(`(%s) (r) file runpdfbegin pdfpagecount = quit`, path)
	res, err := procrunner.Run(ctx, a.timeout(), a.gsBin(),
		"-q", "-dNODISPLAY", "-dSAFER", "--permit-file-read="+path, "-c", script)
	if err != nil {
		return 0, fmt.Errorf("page count: %w", err)
	}

	count, err = parsePositiveInt(res.Stdout)
	if err != nil {
		return 0, fmt.Errorf("page count: ghostscript produced no usable page count: %w", err)
	}
	return count, nil
}

// tryPageCountWithPDFInfo returns (count, true) on success. Any
// failure mode — spawn error, non-zero exit, missing/invalid Pages
// field — yields (0, false) and logs the fallback reason exactly once
// per process, matching original_source/ghostscript.rs.
func (a Adapter) tryPageCountWithPDFInfo(ctx context.Context, path string) (int, bool) {
	res, err := procrunner.Run(ctx, a.timeout(), a.pdfInfoBin(), path)
	if err != nil {
		logPDFInfoFallback(err.Error())
		return 0, false
	}

	matches := pageCountRegex.FindStringSubmatch(res.Stdout)
	if len(matches) != 2 {
		logPDFInfoFallback("pdfinfo output did not contain a Pages field")
		return 0, false
	}

	count, err := strconv.Atoi(matches[1])
	if err != nil || count <= 0 {
		logPDFInfoFallback("pdfinfo reported a non-positive page count")
		return 0, false
	}
	return count, true
}

func logPDFInfoFallback(reason string) {
	if hasLoggedPDFInfoFallback.CompareAndSwap(false, true) {
		log.Warn().Str("reason", reason).Msg("pdfinfo unavailable, falling back to ghostscript for page count")
	}
}

func parsePositiveInt(s string) (int, error) {
	count, err := strconv.Atoi(trimToDigits(s))
	if err != nil {
		return 0, err
	}
	if count <= 0 {
		return 0, fmt.Errorf("non-positive page count: %d", count)
	}
	return count, nil
}

func trimToDigits(s string) string {
	start, end := -1, -1
	for i, r := range s {
		if r >= '0' && r <= '9' {
			if start == -1 {
				start = i
			}
			end = i + 1
		}
	}
	if start == -1 {
		return ""
	}
	return s[start:end]
}
