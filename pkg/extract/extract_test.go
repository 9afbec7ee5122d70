package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildDocx(t *testing.T, body string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>` +
		`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
		body + `</w:body></w:document>`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestDOCX(t *testing.T) {
	data := buildDocx(t,
		`<w:p><w:r><w:t>Hébergement</w:t></w:r><w:r><w:tab/><w:t xml:space="preserve"> souverain</w:t></w:r></w:p>`+
			`<w:tbl><w:tr><w:tc><w:p><w:r><w:t>A</w:t></w:r></w:p></w:tc></w:tr></w:tbl>`+
			`<w:p><w:r><w:t>Fin</w:t></w:r></w:p>`)

	text, err := DOCX(context.Background(), data, "rfp.docx")
	require.NoError(t, err)
	assert.Equal(t, "Hébergement\t souverain\nA\n\tFin", text)
}

func TestDOCX_Invalid(t *testing.T) {
	_, err := DOCX(context.Background(), []byte("not a zip"), "x.docx")
	assert.Error(t, err)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	_, _ = zw.Create("other.xml")
	require.NoError(t, zw.Close())
	_, err = DOCX(context.Background(), buf.Bytes(), "x.docx")
	assert.Error(t, err)
}

func TestText(t *testing.T) {
	text, err := Text(context.Background(), []byte("\xef\xbb\xbfbonjour"), "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "bonjour", text)

	// 只去掉开头的 BOM
	text, err = Text(context.Background(), []byte("a\xef\xbb\xbfb"), "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "a\uFEFFb", text)

	_, err = Text(context.Background(), []byte{0xff, 0xfe, 0x00}, "a.txt")
	assert.Error(t, err)
}

func TestHTML(t *testing.T) {
	text, err := NewHTML().Extract(context.Background(),
		[]byte(`<html><head><style>p{color:red}</style><script>alert(1)</script></head>`+
			`<body><h1>Titre</h1><p>Un paragraphe.</p></body></html>`), "a.html")
	require.NoError(t, err)
	assert.Contains(t, text, "# Titre")
	assert.Contains(t, text, "Un paragraphe.")
	assert.NotContains(t, text, "alert")
	assert.NotContains(t, text, "color")
}

func TestPDF_Malformed(t *testing.T) {
	_, err := PDF(context.Background(), []byte("%PDF-1.4 garbage"), "a.pdf")
	assert.Error(t, err)
}

func TestDetectKind(t *testing.T) {
	assert.Equal(t, KindPDF, DetectKind("a.PDF", ""))
	assert.Equal(t, KindPDF, DetectKind("noext", "application/pdf"))
	assert.Equal(t, KindDOCX, DetectKind("a.docx", ""))
	assert.Equal(t, KindHTML, DetectKind("a.bin", "text/html; charset=utf-8"))
	assert.Equal(t, KindText, DetectKind("notes.md", ""))
	assert.Equal(t, "xlsx", DetectKind("sheet.xlsx", ""))
}

func TestRegistry_Fallback(t *testing.T) {
	ctx := context.Background()

	r := NewRegistry(nil)
	_, err := r.Extract(ctx, []byte("x"), "sheet.xlsx", "")
	assert.True(t, errors.Is(err, ErrUnsupported))

	var gotName string
	r = NewRegistry(ExtractorFunc(func(_ context.Context, _ []byte, name string) (string, error) {
		gotName = name
		return "from tika", nil
	}))
	text, err := r.Extract(ctx, []byte("x"), "sheet.xlsx", "")
	require.NoError(t, err)
	assert.Equal(t, "from tika", text)
	assert.Equal(t, "sheet.xlsx", gotName)

	text, err = r.Extract(ctx, []byte("plain"), "a.txt", "")
	require.NoError(t, err)
	assert.Equal(t, "plain", text)
}
