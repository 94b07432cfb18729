// Package loader извлекает текст из поддерживаемых форматов файлов (pdf, txt).
package loader

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"altavo/types"
)

var supported = map[string]struct{}{
	"pdf": {},
	"txt": {},
}

// Ext расширение файла в нижнем регистре без точки
func Ext(filename string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
}

func Supported(filename string) bool {
	_, ok := supported[Ext(filename)]
	return ok
}

// Extract возвращает текст файла по его содержимому; тип определяется расширением имени
func Extract(filename string, data []byte) (string, error) {
	var (
		text string
		err  error
	)
	switch Ext(filename) {
	case "pdf":
		text, err = extractPDF(data)
	case "txt":
		text = extractText(data)
	default:
		return "", fmt.Errorf("%w: %s", types.ErrUnsupportedType, filename)
	}
	if err != nil {
		return "", err
	}
	return stripControl(text), nil
}

// ExtractFile читает файл с диска и извлекает из него текст
func ExtractFile(path string) (string, error) {
	if !Supported(path) {
		return "", fmt.Errorf("%w: %s", types.ErrUnsupportedType, filepath.Base(path))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return Extract(path, data)
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func extractText(data []byte) string {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return string(data)
	}
	return strings.ToValidUTF8(string(data), "\uFFFD")
}

// stripControl убирает управляющие символы кроме переводов строк и табуляции.
// Postgres не принимает NUL в TEXT.
func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', '\t':
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}
