package pipeline

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	DefaultChunkSize    = 2000
	DefaultChunkOverlap = 200
)

// Chunker 按句子边界把文本切成有重叠的分块。长度以字符（rune）计。
type Chunker struct {
	Size    int
	Overlap int
}

// NewChunker 创建分块器，非法参数回落到默认值。
func NewChunker(size, overlap int) Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 10
	}
	return Chunker{Size: size, Overlap: overlap}
}

// SplitText 使用给定参数切分文本，等价于 NewChunker(size, overlap).Split(text)。
func SplitText(text string, size, overlap int) []string {
	return NewChunker(size, overlap).Split(text)
}

// Split 将文本累积为不超过 Size 的分块。
// 追加下一句会超出 Size 且缓冲区非空时输出当前缓冲区，并以其末尾不超过 Overlap 个字符的整词
// 加上触发切分的句子作为下一个缓冲区。单句超过 Size 时保持完整，不做截断。
func (c Chunker) Split(text string) []string {
	var chunks []string
	var buf strings.Builder
	bufLen := 0

	for _, sentence := range splitSentences(text) {
		if strings.TrimSpace(sentence) == "" {
			continue
		}
		sentenceLen := utf8.RuneCountInString(sentence)

		if bufLen > 0 && bufLen+1+sentenceLen > c.Size {
			emitted := strings.TrimSpace(buf.String())
			if emitted != "" {
				chunks = append(chunks, emitted)
			}
			tail := overlapTail(emitted, c.Overlap)
			buf.Reset()
			bufLen = 0
			if tail != "" {
				buf.WriteString(tail)
				buf.WriteByte(' ')
				bufLen = utf8.RuneCountInString(tail) + 1
			}
			buf.WriteString(sentence)
			bufLen += sentenceLen
			continue
		}

		if bufLen > 0 {
			buf.WriteByte(' ')
			bufLen++
		}
		buf.WriteString(sentence)
		bufLen += sentenceLen
	}

	if last := strings.TrimSpace(buf.String()); last != "" {
		chunks = append(chunks, last)
	}
	return chunks
}

// splitSentences 在句末标点（. ! ?）后的空白处断句，空白本身被丢弃。
func splitSentences(text string) []string {
	runes := []rune(text)
	var out []string
	start := 0
	for i := 1; i < len(runes); i++ {
		if !unicode.IsSpace(runes[i]) || !isTerminal(runes[i-1]) {
			continue
		}
		j := i
		for j < len(runes) && unicode.IsSpace(runes[j]) {
			j++
		}
		out = append(out, string(runes[start:i]))
		start = j
		i = j - 1
	}
	if start < len(runes) {
		out = append(out, string(runes[start:]))
	}
	return out
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// overlapTail 取 s 末尾的若干整词，拼接（单空格）后的长度不超过 budget。
func overlapTail(s string, budget int) string {
	if budget <= 0 {
		return ""
	}
	words := strings.Fields(s)
	n := 0
	first := len(words)
	for i := len(words) - 1; i >= 0; i-- {
		wl := utf8.RuneCountInString(words[i])
		if first < len(words) {
			wl++ // 分隔空格
		}
		if n+wl > budget {
			break
		}
		n += wl
		first = i
	}
	return strings.Join(words[first:], " ")
}
