package extraction

import (
	"bytes"
	"fmt"
	"os/exec"
	"strings"
)

const (
	defaultTesseractBinary = "tesseract"
	// English plus simplified Chinese covers the documents this service receives.
	DefaultOCRLanguages = "eng+chi_sim"
)

// OCREngine recognises text in an image file.
type OCREngine interface {
	Recognize(path string) (string, error)
}

// TesseractOCR runs the tesseract command line tool.
type TesseractOCR struct {
	Binary    string
	Languages string
}

// NewTesseractOCR returns an engine for the given binary and language list ("eng+chi_sim").
func NewTesseractOCR(binary, languages string) *TesseractOCR {
	if binary == "" {
		binary = defaultTesseractBinary
	}
	if languages == "" {
		languages = DefaultOCRLanguages
	}
	return &TesseractOCR{Binary: binary, Languages: languages}
}

func (t *TesseractOCR) Recognize(path string) (string, error) {
	cmd := exec.Command(t.Binary, path, "stdout", "-l", t.Languages)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("tesseract: %w: %s", err, msg)
		}
		return "", fmt.Errorf("tesseract: %w", err)
	}
	return stdout.String(), nil
}
