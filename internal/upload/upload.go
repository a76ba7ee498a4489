// Package upload is the Upload Sink (spec.md §4.2): stream a multipart
// body to disk with a size cap, recognizing the file field plus the
// sibling "mode"/"engine" text fields.
//
// Ported from original_source/upload.rs's save_pdf_from_multipart,
// extended with the mode/engine sibling-field parsing handlers.rs
// references (save_pdf_with_mode_from_multipart) but that the
// retrieved upload.rs snapshot does not itself define — this file is
// that extension, built to the same contract. Temp file naming uses
// github.com/google/uuid in place of the original's uuid crate,
// grounded on other_examples/afd98a13_NISHADDEVENDRA-chatbot-backend__services-pdf_service.go.go.
package upload

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind enumerates the Upload Sink error taxonomy from spec.md §4.2.
type Kind int

const (
	KindMissingFile Kind = iota
	KindUnsupportedFileType
	KindFileTooLarge
	KindMultipartError
	KindIOError
)

// Error is a typed Upload Sink failure.
type Error struct {
	Kind  Kind
	cause error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindMissingFile:
		return "no file field in upload"
	case KindUnsupportedFileType:
		return "uploaded file is not a PDF"
	case KindFileTooLarge:
		return "uploaded file exceeds the size limit"
	case KindMultipartError:
		return fmt.Sprintf("multipart error: %v", e.cause)
	default:
		return fmt.Sprintf("io error: %v", e.cause)
	}
}

func (e *Error) Unwrap() error { return e.cause }

func newErr(kind Kind, cause error) *Error { return &Error{Kind: kind, cause: cause} }

// File is an UploadedFile (spec.md §3): the caller owns deletion once
// Save returns.
type File struct {
	TempPath     string
	OriginalName string
	// Mode and Engine are the optional sibling multipart fields,
	// trimmed; empty string means "absent".
	Mode   string
	Engine string
}

// Remove deletes the temp file if it exists, matching
// original_source/upload.rs's remove_file_if_exists: a path that is
// already gone is not an error; any other removal error is returned to
// the caller.
func (f File) Remove() error {
	if f.TempPath == "" {
		return nil
	}
	err := os.Remove(f.TempPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Save streams the multipart request body, honoring maxSizeBytes, and
// returns the saved File. On any error path the partial file (if
// created) is removed before returning.
func Save(r *http.Request, maxSizeBytes int64) (File, error) {
	reader, err := r.MultipartReader()
	if err != nil {
		return File{}, newErr(KindMultipartError, err)
	}

	var (
		out      File
		havePart bool
	)

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			_ = out.Remove()
			return File{}, newErr(KindMultipartError, err)
		}

		switch part.FormName() {
		case "mode":
			if out.Mode == "" {
				out.Mode = strings.TrimSpace(readTextField(part))
			}
		case "engine":
			if out.Engine == "" {
				out.Engine = strings.TrimSpace(readTextField(part))
			}
		case "file":
			if havePart {
				// Subsequent file parts are ignored per spec.md §4.2.
				_, _ = io.Copy(io.Discard, part)
				continue
			}
			saved, err := savePart(part, maxSizeBytes)
			if err != nil {
				return File{}, err
			}
			out.TempPath = saved.tempPath
			out.OriginalName = saved.originalName
			havePart = true
		default:
			_, _ = io.Copy(io.Discard, part)
		}
	}

	if !havePart {
		return File{}, newErr(KindMissingFile, nil)
	}

	return out, nil
}

func readTextField(part *multipart.Part) string {
	data, _ := io.ReadAll(io.LimitReader(part, 4096))
	return string(data)
}

type savedPart struct {
	tempPath     string
	originalName string
}

func savePart(part *multipart.Part, maxSizeBytes int64) (savedPart, error) {
	originalName := part.FileName()
	if originalName == "" {
		originalName = "document.pdf"
	}

	contentType := part.Header.Get("Content-Type")
	isPDF := contentType == "application/pdf" || strings.HasSuffix(strings.ToLower(originalName), ".pdf")
	if !isPDF {
		_, _ = io.Copy(io.Discard, part)
		return savedPart{}, newErr(KindUnsupportedFileType, nil)
	}

	tempPath := filepath.Join(os.TempDir(), fmt.Sprintf("ghost-upload-%s-%d.pdf", uuid.NewString(), time.Now().UnixMilli()))

	f, err := os.Create(tempPath)
	if err != nil {
		return savedPart{}, newErr(KindIOError, err)
	}
	defer f.Close()

	written, err := io.Copy(f, io.LimitReader(part, maxSizeBytes+1))
	if err != nil {
		f.Close()
		_ = os.Remove(tempPath)
		return savedPart{}, newErr(KindIOError, err)
	}
	if written > maxSizeBytes {
		f.Close()
		_ = os.Remove(tempPath)
		return savedPart{}, newErr(KindFileTooLarge, nil)
	}

	return savedPart{tempPath: tempPath, originalName: originalName}, nil
}
