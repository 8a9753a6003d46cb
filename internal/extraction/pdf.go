package extraction

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/your-org/docflow/internal/domain"
)

// PDFBackend extracts raw text from a PDF file.
type PDFBackend interface {
	Name() string
	ExtractText(path string) (string, error)
}

var errNoPages = errors.New("document has no pages")

// LedongthucPDF reads the text layer page by page with github.com/ledongthuc/pdf.
type LedongthucPDF struct{}

func (LedongthucPDF) Name() string { return "ledongthuc" }

func (LedongthucPDF) ExtractText(path string) (text string, err error) {
	defer recoverInto(&err)

	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	fonts := make(map[string]*pdf.Font)
	return collectPages(r.NumPage(), func(pageNr int) (string, error) {
		p := r.Page(pageNr)
		if p.V.IsNull() {
			return "", errors.New("page object is null")
		}
		for _, name := range p.Fonts() {
			if _, ok := fonts[name]; !ok {
				font := p.Font(name)
				fonts[name] = &font
			}
		}
		return p.GetPlainText(fonts)
	})
}

// PdfcpuPDF parses page content streams with github.com/pdfcpu/pdfcpu.
// It is slower but tolerates documents the text-layer reader rejects.
type PdfcpuPDF struct{}

func (PdfcpuPDF) Name() string { return "pdfcpu" }

func (PdfcpuPDF) ExtractText(path string) (text string, err error) {
	defer recoverInto(&err)

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	conf := model.NewDefaultConfiguration()
	ctx, err := api.ReadValidateAndOptimize(f, conf)
	if err != nil {
		return "", fmt.Errorf("read: %w", err)
	}

	return collectPages(ctx.PageCount, func(pageNr int) (string, error) {
		r, err := pdfcpu.ExtractPageContent(ctx, pageNr)
		if err != nil {
			return "", err
		}
		if r == nil {
			return "", nil
		}
		data, err := io.ReadAll(r)
		if err != nil {
			return "", err
		}
		return textFromContentStream(data), nil
	})
}

// collectPages runs fn for pages 1..count. Page errors are dropped when at
// least one page produced text; otherwise they are returned joined.
func collectPages(count int, fn func(pageNr int) (string, error)) (string, error) {
	if count <= 0 {
		return "", errNoPages
	}

	var sb strings.Builder
	var errs []error
	for pageNr := 1; pageNr <= count; pageNr++ {
		text, err := safePage(pageNr, fn)
		if err != nil {
			errs = append(errs, fmt.Errorf("page %d: %w", pageNr, err))
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(text)
	}

	if sb.Len() > 0 {
		return sb.String(), nil
	}
	if len(errs) > 0 {
		return "", errors.Join(errs...)
	}
	return "", domain.ErrEmptyContent
}

func safePage(pageNr int, fn func(int) (string, error)) (text string, err error) {
	defer recoverInto(&err)
	return fn(pageNr)
}

func recoverInto(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("panic: %v", r)
	}
}

// textFromContentStream pulls shown strings out of a PDF content stream.
// It understands the Tj, TJ, ' and " operators plus line positioning.
func textFromContentStream(data []byte) string {
	var sb strings.Builder
	var operands []string

	newline := func() {
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
	}

	for i := 0; i < len(data); {
		c := data[i]
		switch {
		case c == '%':
			for i < len(data) && data[i] != '\n' && data[i] != '\r' {
				i++
			}
		case c == '(':
			s, next := readLiteralString(data, i)
			operands = append(operands, s)
			i = next
		case c == '<' && i+1 < len(data) && data[i+1] == '<':
			i += 2
		case c == '<':
			s, next := readHexString(data, i)
			operands = append(operands, s)
			i = next
		case isOperatorStart(c):
			start := i
			for i < len(data) && isOperatorByte(data[i]) {
				i++
			}
			switch string(data[start:i]) {
			case "Tj", "TJ":
				sb.WriteString(strings.Join(operands, ""))
			case "'", "\"":
				newline()
				sb.WriteString(strings.Join(operands, ""))
			case "Td", "TD", "Tm":
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
			case "T*", "ET":
				newline()
			}
			operands = operands[:0]
		default:
			i++
		}
	}
	return sb.String()
}

func isOperatorStart(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '\'' || c == '"'
}

func isOperatorByte(c byte) bool {
	return isOperatorStart(c) || c == '*'
}

// readLiteralString decodes a (...) string starting at data[start].
// Bytes are mapped one-to-one onto runes.
func readLiteralString(data []byte, start int) (string, int) {
	var sb strings.Builder
	depth := 0
	i := start
	for ; i < len(data); i++ {
		c := data[i]
		switch c {
		case '\\':
			if i+1 >= len(data) {
				continue
			}
			i++
			switch e := data[i]; e {
			case 'n':
				sb.WriteByte('\n')
			case 'r':
				sb.WriteByte('\r')
			case 't':
				sb.WriteByte('\t')
			case 'b', 'f':
			case '\r', '\n':
				// line continuation
			default:
				if e >= '0' && e <= '7' {
					val := int(e - '0')
					for k := 0; k < 2 && i+1 < len(data) && data[i+1] >= '0' && data[i+1] <= '7'; k++ {
						i++
						val = val*8 + int(data[i]-'0')
					}
					sb.WriteRune(rune(byte(val)))
				} else {
					sb.WriteRune(rune(e))
				}
			}
		case '(':
			depth++
			if depth > 1 {
				sb.WriteByte('(')
			}
		case ')':
			depth--
			if depth == 0 {
				return sb.String(), i + 1
			}
			sb.WriteByte(')')
		default:
			sb.WriteRune(rune(c))
		}
	}
	return sb.String(), i
}

func readHexString(data []byte, start int) (string, int) {
	var sb strings.Builder
	var hi byte
	half := false
	i := start + 1
	for ; i < len(data) && data[i] != '>'; i++ {
		v, ok := hexValue(data[i])
		if !ok {
			continue
		}
		if !half {
			hi, half = v, true
			continue
		}
		sb.WriteRune(rune(hi<<4 | v))
		half = false
	}
	if half {
		sb.WriteRune(rune(hi << 4))
	}
	return sb.String(), i + 1
}

func hexValue(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
