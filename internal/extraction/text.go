package extraction

import (
	"errors"
	"os"
	"unicode/utf8"
)

var errInvalidUTF8 = errors.New("file is not valid UTF-8 text")

// readPlainText returns the file contents verbatim.
func readPlainText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	// Drop a UTF-8 byte order mark.
	if len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
		data = data[3:]
	}
	if !utf8.Valid(data) {
		return "", errInvalidUTF8
	}
	return string(data), nil
}
