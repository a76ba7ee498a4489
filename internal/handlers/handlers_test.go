package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/toricodesthings/ghostgate/internal/admission"
	"github.com/toricodesthings/ghostgate/internal/backend"
	"github.com/toricodesthings/ghostgate/internal/pdftoolchain"
)

// fakeGSScript dispatches on the invoking Adapter's args: -sDEVICE=inkcov
// emits FAKE_PAGES lines of a well-formed CMYK quad (or fails when
// FAKE_GS_FAIL_INKCOV is set), and -sOutputFile=<path> writes a stub PDF
// to that path (or fails when FAKE_GS_FAIL_CONVERT is set). Both modes
// are driven by env vars so a single fake binary covers every test.
const fakeGSScript = `#!/bin/sh
is_inkcov=0
out=""
for arg in "$@"; do
  case "$arg" in
    -sDEVICE=inkcov) is_inkcov=1 ;;
    -sOutputFile=*) out="${arg#-sOutputFile=}" ;;
  esac
done
if [ "$is_inkcov" = "1" ]; then
  if [ "$FAKE_GS_FAIL_INKCOV" = "1" ]; then
    echo "simulated ghostscript inkcov failure" 1>&2
    exit 1
  fi
  i=1
  pages="${FAKE_PAGES:-1}"
  while [ "$i" -le "$pages" ]; do
    echo "0.10 0.20 0.05 0.00 CMYK Process"
    i=$((i+1))
  done
  exit 0
fi
if [ -n "$out" ]; then
  if [ "$FAKE_GS_FAIL_CONVERT" = "1" ]; then
    echo "simulated ghostscript conversion failure" 1>&2
    exit 1
  fi
  echo '%PDF-1.4 fake grayscale output' > "$out"
  exit 0
fi
exit 0
`

func writeScript(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o755))
	return path
}

// newFakeAdapter wires PDFInfoBinary/GSBinary to tiny shell stand-ins so
// PageCount/Analyze/ConvertGrayscale exercise real procrunner.Run calls
// without needing a real pdfinfo/Ghostscript install.
func newFakeAdapter(t *testing.T, pages int) pdftoolchain.Adapter {
	t.Helper()
	dir := t.TempDir()
	pdfinfo := writeScript(t, dir, "pdfinfo", fmt.Sprintf("#!/bin/sh\necho 'Pages:          %d'\n", pages))
	gs := writeScript(t, dir, "gs", fakeGSScript)
	t.Setenv("FAKE_PAGES", fmt.Sprintf("%d", pages))
	return pdftoolchain.Adapter{
		PDFInfoBinary:  pdfinfo,
		GSBinary:       gs,
		CommandTimeout: 5 * time.Second,
	}
}

// fakeBackendCalls counts invocations of each quota RPC path so tests
// can assert spec.md's "reserve, then exactly one of commit/release"
// invariant.
type fakeBackendCalls struct {
	mu      sync.Mutex
	reserve int
	commit  int
	release int
}

func (c *fakeBackendCalls) inc(n *int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	*n++
}

func (c *fakeBackendCalls) snapshot() (reserve, commit, release int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reserve, c.commit, c.release
}

// newFakeBackend stands up a fake backend RPC server covering the
// subscriptions:get/usage:reserve/commit/release paths preflightForUser
// and grayscaleForUser drive. A free-plan subscription is assumed.
func newFakeBackend(t *testing.T, reserveAllowed, commitOK bool) (*backend.Client, *fakeBackendCalls) {
	t.Helper()
	calls := &fakeBackendCalls{}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/query", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Path string `json:"path"`
		}
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &req))
		switch req.Path {
		case "subscriptions:get":
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "success", "value": nil})
		default:
			t.Fatalf("unexpected query path %q", req.Path)
		}
	})
	mux.HandleFunc("/api/action", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Path string `json:"path"`
		}
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &req))
		switch req.Path {
		case "usage:reserveForClerkUser":
			calls.inc(&calls.reserve)
			reservationID := any(nil)
			if reserveAllowed {
				reservationID = "res_1"
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status": "success",
				"value": map[string]any{
					"allowed":        reserveAllowed,
					"reservationId":  reservationID,
					"totalThisMonth": 10,
					"pendingUnits":   0,
				},
			})
		case "usage:commitReservationForClerkUser":
			calls.inc(&calls.commit)
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "success", "value": map[string]any{"committed": commitOK}})
		case "usage:releaseReservationForClerkUser":
			calls.inc(&calls.release)
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "success", "value": nil})
		default:
			t.Fatalf("unexpected action path %q", req.Path)
		}
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return backend.New(server.Client(), server.URL), calls
}

func newUploadRequest(t *testing.T, fileName string, fileContent []byte, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	part, err := mw.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = part.Write(fileContent)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/process/preflight", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func tempFileCount(t *testing.T, pattern string) int {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(os.TempDir(), pattern))
	require.NoError(t, err)
	return len(matches)
}

func TestTestDocumentComputesRealPageCount(t *testing.T) {
	adapter := newFakeAdapter(t, 3)
	s := &State{Adapter: adapter, Gate: admission.NewGate(2, false)}

	req := newUploadRequest(t, "doc.pdf", []byte("%PDF-1.4 stub"), nil)
	rec := httptest.NewRecorder()
	s.TestDocument(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var analysis pdftoolchain.Analysis
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &analysis))
	require.Equal(t, 3, analysis.PageCount)
	require.Len(t, analysis.ColorProfiles, 3)
}

func TestPreflightForUserSuccessCommitsReservationExactlyOnce(t *testing.T) {
	adapter := newFakeAdapter(t, 2)
	client, calls := newFakeBackend(t, true, true)
	s := &State{Adapter: adapter, Gate: admission.NewGate(2, false), Backend: client}

	req := newUploadRequest(t, "doc.pdf", []byte("%PDF-1.4 stub"), nil)
	rec := httptest.NewRecorder()
	s.preflightForUser(rec, req, "clerk_1", 5<<20)

	require.Equal(t, http.StatusOK, rec.Code)
	var analysis pdftoolchain.Analysis
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &analysis))
	require.Equal(t, 2, analysis.PageCount)

	reserve, commit, release := calls.snapshot()
	require.Equal(t, 1, reserve)
	require.Equal(t, 1, commit)
	require.Equal(t, 0, release)
}

// TestPreflightForUserQuotaDeniedReturnsE3Body asserts spec.md's E3
// quota-denial response shape and status, and that no commit/release
// ever fires for a denied reservation.
func TestPreflightForUserQuotaDeniedReturnsE3Body(t *testing.T) {
	adapter := newFakeAdapter(t, 1)
	client, calls := newFakeBackend(t, false, false)
	s := &State{Adapter: adapter, Gate: admission.NewGate(2, false), Backend: client}

	req := newUploadRequest(t, "doc.pdf", []byte("%PDF-1.4 stub"), nil)
	rec := httptest.NewRecorder()
	s.preflightForUser(rec, req, "clerk_1", 5<<20)

	require.Equal(t, http.StatusPaymentRequired, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "Monthly quota exceeded.", body["error"])
	require.Contains(t, body, "plan")
	require.Contains(t, body, "monthlyQuota")
	require.Contains(t, body, "unitsThisMonth")
	require.Contains(t, body, "pendingUnits")
	require.EqualValues(t, 2, body["unitsRequested"])

	reserve, commit, release := calls.snapshot()
	require.Equal(t, 1, reserve)
	require.Equal(t, 0, commit)
	require.Equal(t, 0, release)
}

// TestPreflightForUserAnalyzeFailureReleasesReservation covers spec.md
// Invariant #1: a failed analyze step releases (never commits) the
// prior reservation.
func TestPreflightForUserAnalyzeFailureReleasesReservation(t *testing.T) {
	adapter := newFakeAdapter(t, 2)
	t.Setenv("FAKE_GS_FAIL_INKCOV", "1")
	client, calls := newFakeBackend(t, true, true)
	s := &State{Adapter: adapter, Gate: admission.NewGate(2, false), Backend: client}

	req := newUploadRequest(t, "doc.pdf", []byte("%PDF-1.4 stub"), nil)
	rec := httptest.NewRecorder()
	s.preflightForUser(rec, req, "clerk_1", 5<<20)

	require.Equal(t, http.StatusInternalServerError, rec.Code)

	reserve, commit, release := calls.snapshot()
	require.Equal(t, 1, reserve)
	require.Equal(t, 0, commit)
	require.Equal(t, 1, release)
}

func TestPreflightForUserRejectsNonPDFUpload(t *testing.T) {
	adapter := newFakeAdapter(t, 1)
	client, calls := newFakeBackend(t, true, true)
	s := &State{Adapter: adapter, Gate: admission.NewGate(2, false), Backend: client}

	req := newUploadRequest(t, "doc.txt", []byte("not a pdf"), nil)
	rec := httptest.NewRecorder()
	s.preflightForUser(rec, req, "clerk_1", 5<<20)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	reserve, _, _ := calls.snapshot()
	require.Equal(t, 0, reserve, "upload rejection must happen before any quota reservation")
}

func TestGrayscaleForUserSuccessCommitsAndCleansUpTempFiles(t *testing.T) {
	adapter := newFakeAdapter(t, 1)
	client, calls := newFakeBackend(t, true, true)
	s := &State{Adapter: adapter, Gate: admission.NewGate(2, false), Backend: client}

	before := tempFileCount(t, "ghost-upload-*.pdf") + tempFileCount(t, "*-grayscale.pdf")

	req := newUploadRequest(t, "report.pdf", []byte("%PDF-1.4 stub"), nil)
	rec := httptest.NewRecorder()
	s.grayscaleForUser(rec, req, "clerk_1")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Header().Get("Content-Disposition"), "report-grayscale.pdf")
	require.NotEmpty(t, rec.Body.Bytes())

	reserve, commit, release := calls.snapshot()
	require.Equal(t, 1, reserve)
	require.Equal(t, 1, commit)
	require.Equal(t, 0, release)

	after := tempFileCount(t, "ghost-upload-*.pdf") + tempFileCount(t, "*-grayscale.pdf")
	require.Equal(t, before, after, "both the uploaded and converted temp files must be removed")
}

// TestGrayscaleForUserConversionFailureReleasesAndCleansUp covers
// Invariant #1 (release, not commit, on a failed conversion) and
// Invariant #2 (both temp files still removed) for the grayscale path.
func TestGrayscaleForUserConversionFailureReleasesAndCleansUp(t *testing.T) {
	adapter := newFakeAdapter(t, 1)
	t.Setenv("FAKE_GS_FAIL_CONVERT", "1")
	client, calls := newFakeBackend(t, true, true)
	s := &State{Adapter: adapter, Gate: admission.NewGate(2, false), Backend: client}

	before := tempFileCount(t, "ghost-upload-*.pdf") + tempFileCount(t, "*-grayscale.pdf")

	req := newUploadRequest(t, "report.pdf", []byte("%PDF-1.4 stub"), nil)
	rec := httptest.NewRecorder()
	s.grayscaleForUser(rec, req, "clerk_1")

	require.Equal(t, http.StatusInternalServerError, rec.Code)

	reserve, commit, release := calls.snapshot()
	require.Equal(t, 1, reserve)
	require.Equal(t, 0, commit)
	require.Equal(t, 1, release)

	after := tempFileCount(t, "ghost-upload-*.pdf") + tempFileCount(t, "*-grayscale.pdf")
	require.Equal(t, before, after, "a conversion failure must still remove both temp files")
}

func TestGrayscaleForUserQuotaDeniedReturnsE3Body(t *testing.T) {
	adapter := newFakeAdapter(t, 4)
	client, calls := newFakeBackend(t, false, false)
	s := &State{Adapter: adapter, Gate: admission.NewGate(2, false), Backend: client}

	req := newUploadRequest(t, "report.pdf", []byte("%PDF-1.4 stub"), nil)
	rec := httptest.NewRecorder()
	s.grayscaleForUser(rec, req, "clerk_1")

	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "Monthly quota exceeded.", body["error"])
	require.EqualValues(t, 4, body["unitsRequested"])

	reserve, commit, release := calls.snapshot()
	require.Equal(t, 1, reserve)
	require.Equal(t, 0, commit)
	require.Equal(t, 0, release)
}

func TestGrayscaleForUserInvalidModeRejectedBeforeReservation(t *testing.T) {
	adapter := newFakeAdapter(t, 1)
	client, calls := newFakeBackend(t, true, true)
	s := &State{Adapter: adapter, Gate: admission.NewGate(2, false), Backend: client}

	req := newUploadRequest(t, "report.pdf", []byte("%PDF-1.4 stub"), map[string]string{"mode": "bogus"})
	rec := httptest.NewRecorder()
	s.grayscaleForUser(rec, req, "clerk_1")

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Contains(t, body["error"], "invalid mode")

	reserve, _, _ := calls.snapshot()
	require.Equal(t, 0, reserve, "mode validation must reject before any quota reservation")
}
