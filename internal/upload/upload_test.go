package upload

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildRequest(t *testing.T, fields map[string]string, fileField, fileName string, fileContent []byte, contentType string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for name, value := range fields {
		require.NoError(t, w.WriteField(name, value))
	}

	if fileField != "" {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="`+fileField+`"; filename="`+fileName+`"`)
		if contentType != "" {
			header.Set("Content-Type", contentType)
		}
		part, err := w.CreatePart(header)
		require.NoError(t, err)
		_, err = part.Write(fileContent)
		require.NoError(t, err)
	}

	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestSaveAcceptsPDFByContentType(t *testing.T) {
	req := buildRequest(t, map[string]string{"mode": " preview "}, "file", "doc.bin", []byte("%PDF-1.4 ..."), "application/pdf")
	f, err := Save(req, 1<<20)
	require.NoError(t, err)
	defer f.Remove()

	require.Equal(t, "preview", f.Mode)
	_, statErr := os.Stat(f.TempPath)
	require.NoError(t, statErr)
	require.True(t, strings.Contains(f.TempPath, "ghost-upload-"))
}

func TestSaveAcceptsPDFByExtension(t *testing.T) {
	req := buildRequest(t, nil, "file", "doc.PDF", []byte("data"), "application/octet-stream")
	f, err := Save(req, 1<<20)
	require.NoError(t, err)
	defer f.Remove()
}

func TestSaveRejectsNonPDF(t *testing.T) {
	req := buildRequest(t, nil, "file", "doc.txt", []byte("data"), "text/plain")
	_, err := Save(req, 1<<20)
	require.Error(t, err)
	var uploadErr *Error
	require.ErrorAs(t, err, &uploadErr)
	require.Equal(t, KindUnsupportedFileType, uploadErr.Kind)
}

func TestSaveMissingFile(t *testing.T) {
	req := buildRequest(t, map[string]string{"mode": "preview"}, "", "", nil, "")
	_, err := Save(req, 1<<20)
	require.Error(t, err)
	var uploadErr *Error
	require.ErrorAs(t, err, &uploadErr)
	require.Equal(t, KindMissingFile, uploadErr.Kind)
}

func TestSaveExactlyAtLimitSucceeds(t *testing.T) {
	content := bytes.Repeat([]byte("a"), 100)
	req := buildRequest(t, nil, "file", "doc.pdf", content, "application/pdf")
	f, err := Save(req, 100)
	require.NoError(t, err)
	defer f.Remove()
}

func TestSaveOverLimitFailsAndRemovesPartial(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("TMPDIR", tmp)

	content := bytes.Repeat([]byte("a"), 101)
	req := buildRequest(t, nil, "file", "doc.pdf", content, "application/pdf")
	_, err := Save(req, 100)
	require.Error(t, err)
	var uploadErr *Error
	require.ErrorAs(t, err, &uploadErr)
	require.Equal(t, KindFileTooLarge, uploadErr.Kind)

	entries, err := os.ReadDir(tmp)
	require.NoError(t, err)
	require.Empty(t, entries, "the partial upload must be removed")
}
