package model

import (
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter оценивает размер текста в токенах модели
type TokenCounter interface {
	Count(text string) int
}

type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter загружает BPE-словарь; при первом вызове он скачивается и кешируется tiktoken-go
func NewTiktokenCounter(modelName string) (*TiktokenCounter, error) {
	enc, err := tiktoken.EncodingForModel(modelName) // Можно заменить на любую совместимую модель
	if err != nil {
		return nil, err
	}
	return &TiktokenCounter{enc: enc}, nil
}

func (c *TiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// ApproxCounter грубая оценка: около 4 символов на токен
type ApproxCounter struct{}

func (ApproxCounter) Count(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}
