package pdftoolchain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/toricodesthings/ghostgate/internal/procrunner"
)

type result = procrunner.Result

func (a Adapter) runGS(ctx context.Context, args ...string) (result, error) {
	start := time.Now()
	res, err := procrunner.Run(ctx, a.timeout(), a.gsBin(), args...)
	if a.LogTimings {
		log.Debug().Dur("elapsed", time.Since(start)).Bool("ok", err == nil).Msg("ghostscript invocation")
	}
	return res, err
}

// ConvertGrayscale implements spec.md §4.4's preview-mode
// convert_grayscale: pdfwrite device with the Gray color conversion
// strategy and DeviceGray process color model.
func (a Adapter) ConvertGrayscale(ctx context.Context, in, out string) error {
	_, err := a.runGS(ctx,
		"-q", "-dNOPAUSE", "-dBATCH", "-dSAFER",
		"-sDEVICE=pdfwrite",
		"-sColorConversionStrategy=Gray",
		"-dProcessColorModel=/DeviceGray",
		"-sOutputFile="+out,
		in,
	)
	if err != nil {
		return fmt.Errorf("convert to grayscale: %w", err)
	}
	return nil
}

// ConvertGrayscaleProduction implements spec.md §4.4's production-mode
// conversion: the same base pipeline, plus the black-generation and/or
// undercolor-removal PostScript procedure built by blackCoercionProlog,
// which uses LThreshold/CThreshold as an approximation of the L*/chroma
// test. A nil threshold disables that half of the test.
func (a Adapter) ConvertGrayscaleProduction(ctx context.Context, in, out string, opts ProductionOptions) error {
	args := []string{
		"-q", "-dNOPAUSE", "-dBATCH", "-dSAFER",
		"-sDEVICE=pdfwrite",
		"-sColorConversionStrategy=Gray",
		"-dProcessColorModel=/DeviceGray",
	}

	if opts.ForceBlackText || opts.ForceBlackVector {
		args = append(args, "-c", blackCoercionProlog(opts))
	}

	args = append(args, "-sOutputFile="+out, in)

	_, err := a.runGS(ctx, args...)
	if err != nil {
		return fmt.Errorf("convert to grayscale (production): %w", err)
	}
	return nil
}

// blackCoercionProlog builds a small PostScript procedure that returns
// 1.0 (full black) when the single value Ghostscript passes it is below
// both CThreshold and LThreshold, and returns the value unchanged
// otherwise; a nil threshold drops that comparison. ForceBlackText
// installs it with setblackgeneration and ForceBlackVector with
// setundercolorremoval.
func blackCoercionProlog(opts ProductionOptions) string {
	body := "pop 1.0"
	if opts.LThreshold != nil {
		body = fmt.Sprintf("dup %g lt { %s } if", *opts.LThreshold, body)
	}
	if opts.CThreshold != nil {
		body = fmt.Sprintf("dup %g lt { %s } if", *opts.CThreshold, body)
	}

	script := fmt.Sprintf(`{ %s } bind`, body)

	var setters []string
	if opts.ForceBlackText {
		setters = append(setters, fmt.Sprintf("%s setblackgeneration", script))
	}
	if opts.ForceBlackVector {
		setters = append(setters, fmt.Sprintf("%s setundercolorremoval", script))
	}

	return strings.Join(setters, " ")
}
