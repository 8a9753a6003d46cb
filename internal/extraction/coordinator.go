package extraction

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/docflow/internal/domain"
)

const (
	defaultMaxFileSize       = 100 << 20
	defaultMinPrintableRatio = 0.85
)

var errGarbled = errors.New("garbled text")

// Coordinator picks the backend for a file, applies the PDF fallback chain and
// normalizes whitespace. It holds no mutable state and is safe for concurrent use.
type Coordinator struct {
	primaryPDF        PDFBackend
	secondaryPDF      PDFBackend
	ocr               OCREngine
	maxFileSize       int64
	minPrintableRatio float64
	logger            *zap.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

func WithPrimaryPDF(b PDFBackend) Option { return func(c *Coordinator) { c.primaryPDF = b } }

func WithSecondaryPDF(b PDFBackend) Option { return func(c *Coordinator) { c.secondaryPDF = b } }

func WithOCR(e OCREngine) Option { return func(c *Coordinator) { c.ocr = e } }

// WithMaxFileSize rejects files larger than n bytes. Zero keeps the default (100 MB).
func WithMaxFileSize(n int64) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxFileSize = n
		}
	}
}

// WithMinPrintableRatio sets the printable-rune share below which PDF output counts as garbled.
func WithMinPrintableRatio(r float64) Option {
	return func(c *Coordinator) {
		if r > 0 && r <= 1 {
			c.minPrintableRatio = r
		}
	}
}

// NewCoordinator creates a coordinator with the ledongthuc reader as primary PDF
// backend, pdfcpu as secondary and tesseract for images.
func NewCoordinator(logger *zap.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		primaryPDF:        LedongthucPDF{},
		secondaryPDF:      PdfcpuPDF{},
		ocr:               NewTesseractOCR("", ""),
		maxFileSize:       defaultMaxFileSize,
		minPrintableRatio: defaultMinPrintableRatio,
		logger:            logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

// Extract returns the normalized text of the file at path.
// Every failure is a *domain.ExtractionError; empty text is never returned with a nil error.
func (c *Coordinator) Extract(path string) (string, error) {
	format := Detect(path)
	if !format.Supported() {
		return "", &domain.ExtractionError{Kind: domain.ExtractionUnsupported, Path: path, Format: format}
	}

	if err := c.checkFile(path); err != nil {
		return "", &domain.ExtractionError{Kind: domain.ExtractionIO, Path: path, Format: format, Err: err}
	}

	start := time.Now()
	var (
		text    string
		backend string
		err     error
	)
	switch format {
	case domain.FormatPlainText:
		backend = "plain_text"
		var raw string
		raw, err = readPlainText(path)
		if err != nil {
			return "", &domain.ExtractionError{Kind: domain.ExtractionIO, Path: path, Format: format, Err: err}
		}
		text, err = nonEmpty(raw)
	case domain.FormatPDF:
		backend, text, err = c.extractPDF(path)
	case domain.FormatWordModern:
		backend = "docx"
		var raw string
		if raw, err = extractDocx(path); err == nil {
			text, err = nonEmpty(raw)
		}
	case domain.FormatImage:
		backend = "ocr"
		var raw string
		if raw, err = c.recognize(path); err == nil {
			text, err = nonEmpty(raw)
		}
	default:
		return "", &domain.ExtractionError{Kind: domain.ExtractionUnsupported, Path: path, Format: format}
	}

	if err != nil {
		c.logger.Warn("extraction failed",
			zap.String("path", path),
			zap.String("format", string(format)),
			zap.String("backend", backend),
			zap.Error(err),
		)
		return "", &domain.ExtractionError{Kind: domain.ExtractionBackend, Path: path, Format: format, Backend: backend, Err: err}
	}

	c.logger.Debug("text extracted",
		zap.String("path", path),
		zap.String("format", string(format)),
		zap.String("backend", backend),
		zap.Int("chars", len([]rune(text))),
		zap.Duration("duration", time.Since(start)),
	)
	return text, nil
}

func (c *Coordinator) checkFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	if info.Size() > c.maxFileSize {
		return fmt.Errorf("file too large: %d bytes (max %d)", info.Size(), c.maxFileSize)
	}
	return nil
}

// extractPDF tries the primary backend, then the secondary one when the primary
// errors, panics, or yields empty or garbled text.
func (c *Coordinator) extractPDF(path string) (string, string, error) {
	text, primaryErr := c.runPDF(c.primaryPDF, path)
	if primaryErr == nil {
		return c.primaryPDF.Name(), text, nil
	}
	if c.secondaryPDF == nil {
		return c.primaryPDF.Name(), "", primaryErr
	}

	c.logger.Info("primary PDF backend failed, trying secondary",
		zap.String("path", path),
		zap.String("primary", c.primaryPDF.Name()),
		zap.String("secondary", c.secondaryPDF.Name()),
		zap.Error(primaryErr),
	)

	text, secondaryErr := c.runPDF(c.secondaryPDF, path)
	if secondaryErr == nil {
		return c.secondaryPDF.Name(), text, nil
	}

	backend := c.primaryPDF.Name() + "+" + c.secondaryPDF.Name()
	return backend, "", fmt.Errorf("%s: %w; %s: %w",
		c.primaryPDF.Name(), primaryErr, c.secondaryPDF.Name(), secondaryErr)
}

func (c *Coordinator) runPDF(b PDFBackend, path string) (text string, err error) {
	defer recoverInto(&err)

	raw, err := b.ExtractText(path)
	if err != nil {
		return "", err
	}
	text, err = nonEmpty(raw)
	if err != nil {
		return "", err
	}
	if ratio := printableRatio(text); ratio < c.minPrintableRatio {
		return "", fmt.Errorf("%w: printable ratio %.2f below %.2f", errGarbled, ratio, c.minPrintableRatio)
	}
	return text, nil
}

func (c *Coordinator) recognize(path string) (string, error) {
	if c.ocr == nil {
		return "", errors.New("no OCR engine configured")
	}
	return c.ocr.Recognize(path)
}

func nonEmpty(raw string) (string, error) {
	text := Normalize(raw)
	if text == "" {
		return "", domain.ErrEmptyContent
	}
	return text, nil
}

var _ domain.Extractor = (*Coordinator)(nil)
