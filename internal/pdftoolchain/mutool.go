package pdftoolchain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/toricodesthings/ghostgate/internal/procrunner"
)

// ConvertGrayscaleMutool implements the optional mutool-based engine
// from spec.md §9's Open Question #3, ported from
// original_source/mupdf.rs: try "recolor -c gray" first, and retry
// with the legacy "convert -F pdf -O colorspace=gray" invocation when
// the error text indicates this mutool build lacks recolor. SPEC_FULL.md
// §4 resolves the open question by wiring the "engine" multipart field
// to this path when its value is "mutool".
func (a Adapter) ConvertGrayscaleMutool(ctx context.Context, in, out string) error {
	bin := a.MutoolBinary
	if bin == "" {
		bin = "mutool"
	}
	timeout := a.MutoolTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second // kept separate from the gs timeout per the original's own env var
	}

	_, err := procrunner.Run(ctx, timeout, bin, "recolor", "-c", "gray", "-o", out, in)
	if err == nil {
		return nil
	}
	if !isRecolorUnsupported(err) {
		return fmt.Errorf("mutool recolor: %w", err)
	}

	_, err = procrunner.Run(ctx, timeout, bin, "convert", "-F", "pdf", "-O", "colorspace=gray", "-o", out, in)
	if err != nil {
		return fmt.Errorf("mutool convert (legacy fallback): %w", err)
	}
	return nil
}

func isRecolorUnsupported(err error) bool {
	message := strings.ToLower(err.Error())
	if strings.Contains(message, "usage: mutool <command>") {
		return true
	}
	return strings.Contains(message, "unknown command") && strings.Contains(message, "recolor")
}
