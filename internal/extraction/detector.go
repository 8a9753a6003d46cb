package extraction

import (
	"path/filepath"
	"strings"

	"github.com/your-org/docflow/internal/domain"
)

var formatsByExt = map[string]domain.Format{
	".txt":  domain.FormatPlainText,
	".pdf":  domain.FormatPDF,
	".doc":  domain.FormatWordLegacy,
	".docx": domain.FormatWordModern,
	".jpg":  domain.FormatImage,
	".jpeg": domain.FormatImage,
	".png":  domain.FormatImage,
}

// Detect maps a file name or path to its extraction format.
// Unknown or missing extensions map to FormatUnsupported.
func Detect(name string) domain.Format {
	ext := strings.ToLower(filepath.Ext(name))
	if f, ok := formatsByExt[ext]; ok {
		return f
	}
	return domain.FormatUnsupported
}

// SupportedExtensions returns the extensions that have a working backend.
func SupportedExtensions() []string {
	return []string{".txt", ".pdf", ".docx", ".jpg", ".jpeg", ".png"}
}
