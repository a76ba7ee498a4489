// Package pdftoolchain is the PDF Toolchain Adapter (spec.md §4.4):
// page count, ink-coverage parsing, form-field probe, and grayscale
// conversion, all built on internal/procrunner.
//
// Grounded on original_source/ghostscript.rs (the master reference for
// every operation here) and internal/extractor/poppler.go from the
// teacher (the fast-path pdfinfo call and its context.WithTimeout/exec
// idiom).
package pdftoolchain

// ColorProfile is spec.md §3's per-page ink-coverage record.
type ColorProfile struct {
	Page    int     `json:"page"`
	C       float64 `json:"c"`
	M       float64 `json:"m"`
	Y       float64 `json:"y"`
	K       float64 `json:"k"`
	InkType string  `json:"ink_type"`
}

// Analysis is spec.md §3's PdfAnalysis: invariant
// len(ColorProfiles) == PageCount, enforced by normalizeProfiles.
type Analysis struct {
	FileName      string         `json:"file_name"`
	PageCount     int            `json:"page_count"`
	HasFormFields bool           `json:"has_formfields"`
	ColorProfiles []ColorProfile `json:"color_profiles"`
}
