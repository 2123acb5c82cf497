package extract

import (
	"os"
	"strings"
	"unicode/utf8"
)

// extractTXT returns the file content after checking it is valid UTF-8.
// A leading byte order mark is dropped.
func extractTXT(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fileError(path, err)
	}

	if off := invalidUTF8Offset(data); off >= 0 {
		return "", &DecodeError{Path: path, Format: FormatTXT, Offset: off}
	}

	return strings.TrimPrefix(string(data), "\ufeff"), nil
}

// invalidUTF8Offset returns the byte offset of the first invalid UTF-8
// sequence in data, or -1 if data is valid.
func invalidUTF8Offset(data []byte) int {
	if utf8.Valid(data) {
		return -1
	}
	for i := 0; i < len(data); {
		r, size := utf8.DecodeRune(data[i:])
		if r == utf8.RuneError && size <= 1 {
			return i
		}
		i += size
	}
	return -1
}
