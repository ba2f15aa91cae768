package knowledge

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileTypeOf(t *testing.T) {
	tests := []struct {
		name    string
		want    FileType
		wantErr bool
	}{
		{"manual.PDF", FileTypePDF, false},
		{"faq.docx", FileTypeDOCX, false},
		{"horarios.txt", FileTypeTXT, false},
		{"planilha.xlsx", "", true},
		{"sem-extensao", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FileTypeOf(tt.name)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedFileType)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractTXT(t *testing.T) {
	text, err := ExtractText([]byte("\xef\xbb\xbfPreço: R$ 10"), FileTypeTXT)
	require.NoError(t, err)
	assert.Equal(t, "Preço: R$ 10", text)

	// Windows-1252 encoded "Preço".
	text, err = ExtractText([]byte("Pre\xe7o"), FileTypeTXT)
	require.NoError(t, err)
	assert.Equal(t, "Preço", text)
}

func buildDOCX(t *testing.T, documentXML string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(documentXML))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestExtractDOCX(t *testing.T) {
	data := buildDOCX(t, `<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>Política de </w:t></w:r><w:r><w:t>trocas</w:t></w:r></w:p>
    <w:p></w:p>
    <w:p><w:r><w:t>Prazo de 7 dias.</w:t></w:r></w:p>
  </w:body>
</w:document>`)

	text, err := ExtractText(data, FileTypeDOCX)
	require.NoError(t, err)
	assert.Equal(t, "Política de trocas\nPrazo de 7 dias.", text)
}

func TestExtractDOCXErrors(t *testing.T) {
	_, err := ExtractText([]byte("not a zip"), FileTypeDOCX)
	assert.Error(t, err)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	_, _ = zw.Create("other.xml")
	require.NoError(t, zw.Close())
	_, err = ExtractText(buf.Bytes(), FileTypeDOCX)
	assert.Error(t, err)
}

func TestExtractUnsupported(t *testing.T) {
	_, err := ExtractText([]byte("x"), FileType("xlsx"))
	assert.ErrorIs(t, err, ErrUnsupportedFileType)

	_, err = ExtractText([]byte("not a pdf"), FileTypePDF)
	assert.Error(t, err)
}
