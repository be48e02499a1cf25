package chunk

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter はテキストのトークン数を数えます
type TokenCounter interface {
	CountTokens(text string) int
}

// TiktokenCounter は tiktoken (cl100k_base) を利用した TokenCounter 実装
type TiktokenCounter struct {
	encoding *tiktoken.Tiktoken
}

// NewTiktokenCounter は cl100k_base エンコーディングを読み込みます
func NewTiktokenCounter() (*TiktokenCounter, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("failed to load tiktoken encoding: %w", err)
	}
	return &TiktokenCounter{encoding: enc}, nil
}

func (t *TiktokenCounter) CountTokens(text string) int {
	if t == nil || t.encoding == nil {
		return 0
	}
	return len(t.encoding.Encode(text, nil, nil))
}

// RuneCounter はエンコーディングが使えない環境向けに文字数で近似します
type RuneCounter struct{}

func (RuneCounter) CountTokens(text string) int {
	return len([]rune(text))
}
