package extraction

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/docflow/internal/domain"
)

func TestTextFromContentStream(t *testing.T) {
	stream := []byte("BT /F1 12 Tf 72 712 Td (Hello) Tj ( world.) Tj ET\n" +
		"BT 72 690 Td [(Sec) -20 (ond)] TJ T* (line \\(x\\)) Tj ET % comment (ignored) Tj\n" +
		"BT <48 69> Tj ET")

	got := Normalize(textFromContentStream(stream))
	assert.Equal(t, "Hello world. Second line (x) Hi", got)
}

func TestReadLiteralStringEscapes(t *testing.T) {
	s, next := readLiteralString([]byte(`(a\101\nb(c)d)rest`), 0)
	assert.Equal(t, "aA\nb(c)d", s)
	assert.Equal(t, len(`(a\101\nb(c)d)`), next)
}

func TestCollectPagesSuppressesErrorsWhenAPageSucceeds(t *testing.T) {
	text, err := collectPages(3, func(pageNr int) (string, error) {
		switch pageNr {
		case 1:
			return "", errors.New("bad font")
		case 2:
			panic("broken xref")
		default:
			return "page three", nil
		}
	})
	require.NoError(t, err)
	assert.Equal(t, "page three", text)
}

func TestCollectPagesPropagatesWhenAllPagesFail(t *testing.T) {
	_, err := collectPages(2, func(pageNr int) (string, error) {
		if pageNr == 1 {
			return "", errors.New("bad font")
		}
		panic("broken xref")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "page 1: bad font")
	assert.Contains(t, err.Error(), "page 2: panic: broken xref")
}

func TestCollectPagesEmptyDocument(t *testing.T) {
	_, err := collectPages(0, nil)
	assert.ErrorIs(t, err, errNoPages)

	_, err = collectPages(2, func(int) (string, error) { return "  ", nil })
	assert.ErrorIs(t, err, domain.ErrEmptyContent)
}
