package extract

import (
	"context"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
)

var (
	scriptRe   = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleRe    = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	blankRunRe = regexp.MustCompile(`\n{3,}`)
)

// HTML converts HTML pages to markdown-flavoured text, keeping headings and tables readable.
type HTML struct {
	converter *md.Converter
}

func NewHTML() *HTML {
	converter := md.NewConverter("", true, nil)
	converter.Use(plugin.GitHubFlavored())
	return &HTML{converter: converter}
}

func (h *HTML) Extract(_ context.Context, data []byte, _ string) (string, error) {
	cleaned := scriptRe.ReplaceAllString(string(data), "")
	cleaned = styleRe.ReplaceAllString(cleaned, "")
	out, err := h.converter.ConvertString(cleaned)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(blankRunRe.ReplaceAllString(out, "\n\n")), nil
}
