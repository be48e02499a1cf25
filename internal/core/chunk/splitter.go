package chunk

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// DefaultChunkSize はチャンクの目標文字数
	DefaultChunkSize = 1000
	// DefaultChunkOverlap は隣接チャンク間で共有する文字数
	DefaultChunkOverlap = 200
)

// defaultSeparators は分割に使う区切り（優先度順）。段落、行、単語の順に試し、最後は文字単位で切る
var defaultSeparators = []string{"\n\n", "\n", " "}

// Config は Splitter の設定
type Config struct {
	ChunkSize    int // 目標チャンク長（文字数、rune単位）
	ChunkOverlap int // 前チャンク末尾から繰り返す文字数
}

// DefaultConfig はデフォルト設定を返します
func DefaultConfig() Config {
	return Config{
		ChunkSize:    DefaultChunkSize,
		ChunkOverlap: DefaultChunkOverlap,
	}
}

// Validate は設定値を検証します
func (c Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size must be positive (got %d)", ErrInvalidConfig, c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: chunk overlap must be in [0, %d) (got %d)", ErrInvalidConfig, c.ChunkSize, c.ChunkOverlap)
	}
	return nil
}

// Splitter はテキストを重なりのある固定長チャンクに分割します
//
// 段落・行の境界を優先し、それでも ChunkSize を超える単位は文字数で強制的に切ります。
// 2つ目以降のチャンクは直前チャンクの末尾 ChunkOverlap 文字で始まります。
type Splitter struct {
	size       int
	overlap    int
	separators []string
}

// NewSplitter は新しい Splitter を作成します
func NewSplitter(cfg Config) (*Splitter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Splitter{
		size:       cfg.ChunkSize,
		overlap:    cfg.ChunkOverlap,
		separators: defaultSeparators,
	}, nil
}


// Split はテキストをチャンク列に分割します。空入力は空スライスを返します
func (s *Splitter) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return []string{}
	}
	return s.merge(s.units(text, 0))
}

// units はテキストを ChunkSize 以下の単位に再帰的に分解します
// 区切り文字は直前の単位に残すため、単位を連結すると元のテキストに戻ります
func (s *Splitter) units(text string, level int) []string {
	if utf8.RuneCountInString(text) <= s.size {
		return []string{text}
	}
	if level >= len(s.separators) {
		return s.hardCut(text)
	}

	var out []string
	for _, piece := range strings.SplitAfter(text, s.separators[level]) {
		if piece == "" {
			continue
		}
		if utf8.RuneCountInString(piece) <= s.size {
			out = append(out, piece)
			continue
		}
		out = append(out, s.units(piece, level+1)...)
	}
	return out
}

// hardCut は区切りが見つからないテキストを切ります
// オーバーラップを付けても ChunkSize に収まるよう ChunkSize-ChunkOverlap 文字ごとに切ります
func (s *Splitter) hardCut(text string) []string {
	runes := []rune(text)
	stride := s.size - s.overlap
	out := make([]string, 0, len(runes)/stride+1)
	for start := 0; start < len(runes); start += stride {
		end := min(start+stride, len(runes))
		out = append(out, string(runes[start:end]))
	}
	return out
}

// merge は単位を貪欲に詰め込み、チャンク間にオーバーラップを付与します
func (s *Splitter) merge(units []string) []string {
	var (
		chunks  []string
		current strings.Builder
		curLen  int
		hasBody bool
	)

	// begin は直前チャンクの末尾を引き継いで新しいチャンクを開始します
	begin := func(unit string, unitLen int) {
		current.Reset()
		curLen = 0
		if len(chunks) > 0 {
			overlap := min(s.overlap, s.size-unitLen)
			tail := tailRunes(chunks[len(chunks)-1], overlap)
			current.WriteString(tail)
			curLen = utf8.RuneCountInString(tail)
		}
		current.WriteString(unit)
		curLen += unitLen
		hasBody = true
	}

	for _, unit := range units {
		unitLen := utf8.RuneCountInString(unit)
		blank := strings.TrimSpace(unit) == ""

		if hasBody && curLen+unitLen > s.size {
			chunks = append(chunks, current.String())
			hasBody = false
		}

		if !hasBody {
			// 本文の先頭には空白だけの単位を置かない
			if blank {
				continue
			}
			begin(unit, unitLen)
			continue
		}

		current.WriteString(unit)
		curLen += unitLen
	}

	if hasBody {
		chunks = append(chunks, current.String())
	}
	return chunks
}

// tailRunes は文字列の末尾 n 文字を返します
func tailRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if n >= len(runes) {
		return s
	}
	return string(runes[len(runes)-n:])
}
