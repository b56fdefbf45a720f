// Package fileparse classifies uploaded files and pulls plain text out
// of the formats that carry it.
package fileparse

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Kind is the coarse content class of an uploaded file.
type Kind string

const (
	KindPDF     Kind = "pdf"
	KindText    Kind = "text"
	KindImage   Kind = "image"
	KindAudio   Kind = "audio"
	KindUnknown Kind = "unknown"
)

var extKinds = map[string]Kind{
	".pdf":  KindPDF,
	".txt":  KindText,
	".md":   KindText,
	".text": KindText,
	".jpg":  KindImage,
	".jpeg": KindImage,
	".png":  KindImage,
	".gif":  KindImage,
	".webp": KindImage,
	".mp3":  KindAudio,
	".wav":  KindAudio,
	".m4a":  KindAudio,
	".ogg":  KindAudio,
}

// Detect classifies a file by its name's extension.
func Detect(name string) Kind {
	ext := strings.ToLower(filepath.Ext(name))
	if k, ok := extKinds[ext]; ok {
		return k
	}
	return KindUnknown
}

// ExtractText returns the plain text of an uploaded file. Text files
// pass through; PDFs are parsed page by page. Image and audio content
// has no extractable text and returns an error naming the kind.
func ExtractText(name string, data []byte) (string, error) {
	switch kind := Detect(name); kind {
	case KindText:
		return string(data), nil
	case KindPDF:
		return pdfText(data)
	case KindUnknown:
		return "", fmt.Errorf("unsupported file type %q", filepath.Ext(name))
	default:
		return "", fmt.Errorf("no text to extract from %s content", kind)
	}
}

func pdfText(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}

	var sb strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// A torn page should not discard the readable ones.
			continue
		}
		sb.WriteString(text)
		sb.WriteByte('\n')
	}

	out := strings.TrimSpace(sb.String())
	if out == "" {
		return "", errors.New("pdf contains no extractable text")
	}
	return out, nil
}
