package llm

import (
	"regexp"
	"strings"
)

var fencePattern = regexp.MustCompile("(?s)```([A-Za-z0-9_+-]*)[^\\n]*\\n(.*?)```")

// Block is a fenced code block from an LLM reply.
type Block struct {
	Lang string
	Code string
}

// ExtractBlocks returns every fenced block in text, in order.
func ExtractBlocks(text string) []Block {
	var blocks []Block
	for _, m := range fencePattern.FindAllStringSubmatch(text, -1) {
		blocks = append(blocks, Block{
			Lang: strings.ToLower(m[1]),
			Code: strings.TrimSpace(m[2]),
		})
	}
	return blocks
}

// ExtractCode returns the first block tagged lang. Untagged blocks match any
// language. When text has no fences the trimmed text itself is returned and
// ok is false.
func ExtractCode(text, lang string) (code string, ok bool) {
	lang = strings.ToLower(lang)
	for _, b := range ExtractBlocks(text) {
		if b.Lang == lang || b.Lang == "" {
			return b.Code, true
		}
	}
	return strings.TrimSpace(text), false
}
