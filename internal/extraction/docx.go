package extraction

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

const docxBodyPart = "word/document.xml"

// extractDocx returns the paragraph text of a .docx file in document order,
// one paragraph per line.
func extractDocx(path string) (string, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("open archive: %w", err)
	}
	defer r.Close()

	var body *zip.File
	for _, f := range r.File {
		if f.Name == docxBodyPart {
			body = f
			break
		}
	}
	if body == nil {
		return "", fmt.Errorf("%s not found in archive", docxBodyPart)
	}

	rc, err := body.Open()
	if err != nil {
		return "", fmt.Errorf("open %s: %w", docxBodyPart, err)
	}
	defer rc.Close()

	paragraphs, err := docxParagraphs(rc)
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", docxBodyPart, err)
	}
	return strings.Join(paragraphs, "\n"), nil
}

// docxParagraphs walks WordprocessingML and returns the non-empty paragraphs.
// Paragraphs can nest (a text box inside a run holds its own w:p); each one keeps
// its own text and takes its place by where it starts.
func docxParagraphs(r io.Reader) ([]string, error) {
	decoder := xml.NewDecoder(r)

	type openParagraph struct {
		slot int
		text strings.Builder
	}
	var (
		slots  []string
		open   []*openParagraph
		inText bool
	)
	top := func() *openParagraph {
		if len(open) == 0 {
			return nil
		}
		return open[len(open)-1]
	}

	for {
		tok, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				open = append(open, &openParagraph{slot: len(slots)})
				slots = append(slots, "")
			case "t":
				inText = top() != nil
			case "tab":
				if p := top(); p != nil {
					p.text.WriteByte('\t')
				}
			case "br", "cr":
				if p := top(); p != nil {
					p.text.WriteByte('\n')
				}
			}
		case xml.CharData:
			if p := top(); inText && p != nil {
				p.text.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if p := top(); p != nil {
					open = open[:len(open)-1]
					slots[p.slot] = strings.TrimSpace(p.text.String())
				}
			}
		}
	}

	paragraphs := make([]string, 0, len(slots))
	for _, text := range slots {
		if text != "" {
			paragraphs = append(paragraphs, text)
		}
	}
	return paragraphs, nil
}
