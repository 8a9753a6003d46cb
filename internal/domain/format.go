package domain

// Format identifies the extraction strategy for a file.
type Format string

const (
	FormatPlainText   Format = "plain_text"
	FormatPDF         Format = "pdf"
	FormatWordLegacy  Format = "word_legacy"
	FormatWordModern  Format = "word_modern"
	FormatImage       Format = "image"
	FormatUnsupported Format = "unsupported"
)

// Supported reports whether an extraction backend exists for f.
func (f Format) Supported() bool {
	switch f {
	case FormatPlainText, FormatPDF, FormatWordModern, FormatImage:
		return true
	}
	return false
}
