package loader

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// extractPDF собирает текст страниц PDF. Кодировки шрифтов (включая
// Identity-H с ToUnicode) разбирает ledongthuc/pdf. Если файл не читается
// напрямую (битая xref и т.п.), pdfcpu пересобирает его и чтение повторяется.
func extractPDF(data []byte) (string, error) {
	text, err := plainText(data)
	if err == nil {
		return text, nil
	}

	repaired, rerr := repairPDF(data)
	if rerr != nil {
		return "", fmt.Errorf("read pdf: %w", err)
	}
	return plainText(repaired)
}

// plainText читает текст постранично; страницы разделяются пустой строкой
func plainText(data []byte) (out string, err error) {
	// ledongthuc/pdf паникует на части повреждённых файлов
	defer func() {
		if r := recover(); r != nil {
			out, err = "", fmt.Errorf("parse pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", i, err)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(text)
	}
	return sb.String(), nil
}

// repairPDF перечитывает файл pdfcpu в мягком режиме и записывает заново
// с восстановленной таблицей ссылок
func repairPDF(data []byte) ([]byte, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	// классическая таблица xref без потоков объектов
	conf.WriteObjectStream = false
	conf.WriteXRefStream = false

	ctx, err := api.ReadContext(bytes.NewReader(data), conf)
	if err != nil {
		return nil, err
	}
	if err := api.ValidateContext(ctx); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := api.WriteContext(ctx, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
