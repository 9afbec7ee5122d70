package extract

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"
)

// Text decodes UTF-8 text, dropping a leading BOM. Invalid UTF-8 is rejected.
func Text(_ context.Context, data []byte, _ string) (string, error) {
	if !utf8.Valid(data) {
		return "", errors.New("file is not valid UTF-8 text")
	}
	return strings.TrimPrefix(string(data), "\uFEFF"), nil
}
