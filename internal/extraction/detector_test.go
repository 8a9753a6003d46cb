package extraction

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/your-org/docflow/internal/domain"
)

func TestDetect(t *testing.T) {
	cases := map[string]domain.Format{
		"notes.txt":            domain.FormatPlainText,
		"REPORT.PDF":           domain.FormatPDF,
		"/var/uploads/a.pdf":   domain.FormatPDF,
		"contract.doc":         domain.FormatWordLegacy,
		"contract.DocX":        domain.FormatWordModern,
		"scan.jpg":             domain.FormatImage,
		"scan.JPEG":            domain.FormatImage,
		"scan.png":             domain.FormatImage,
		"archive.zip":          domain.FormatUnsupported,
		"README":               domain.FormatUnsupported,
		"":                     domain.FormatUnsupported,
		"dir.with.dots/readme": domain.FormatUnsupported,
		"trailing.":            domain.FormatUnsupported,
	}
	for name, want := range cases {
		assert.Equal(t, want, Detect(name), "Detect(%q)", name)
	}
}

func TestSupportedExtensionsHaveBackends(t *testing.T) {
	for _, ext := range SupportedExtensions() {
		assert.True(t, Detect("file"+ext).Supported(), ext)
	}
	assert.False(t, Detect("file.doc").Supported())
}
