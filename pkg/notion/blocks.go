package notion

import (
	"strings"

	"github.com/jomei/notionapi"
)

// maxTextLen is Notion's limit on a single rich text content string.
const maxTextLen = 2000

func richText(s string) []notionapi.RichText {
	return []notionapi.RichText{
		{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: s}},
	}
}

// Title builds a title property value.
func Title(s string) notionapi.TitleProperty {
	return notionapi.TitleProperty{
		Type:  notionapi.PropertyTypeTitle,
		Title: richText(truncate(s)),
	}
}

// Text builds a rich text property value.
func Text(s string) notionapi.RichTextProperty {
	return notionapi.RichTextProperty{
		Type:     notionapi.PropertyTypeRichText,
		RichText: richText(truncate(s)),
	}
}

// Number builds a number property value.
func Number(n float64) notionapi.NumberProperty {
	return notionapi.NumberProperty{
		Type:   notionapi.PropertyTypeNumber,
		Number: n,
	}
}

// Select builds a select property value.
func Select(name string) notionapi.SelectProperty {
	return notionapi.SelectProperty{
		Type:   notionapi.PropertyTypeSelect,
		Select: notionapi.Option{Name: name},
	}
}

// Heading builds a level-2 heading block.
func Heading(s string) notionapi.Block {
	return &notionapi.Heading2Block{
		BasicBlock: notionapi.BasicBlock{
			Object: notionapi.ObjectTypeBlock,
			Type:   notionapi.BlockTypeHeading2,
		},
		Heading2: notionapi.Heading{RichText: richText(truncate(s))},
	}
}

// Paragraphs splits s into paragraph blocks, one per blank-line separated
// paragraph, further split so no block exceeds Notion's text limit.
func Paragraphs(s string) []notionapi.Block {
	var blocks []notionapi.Block
	for _, para := range strings.Split(s, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		for _, chunk := range chunks(para, maxTextLen) {
			blocks = append(blocks, &notionapi.ParagraphBlock{
				BasicBlock: notionapi.BasicBlock{
					Object: notionapi.ObjectTypeBlock,
					Type:   notionapi.BlockTypeParagraph,
				},
				Paragraph: notionapi.Paragraph{RichText: richText(chunk)},
			})
		}
	}
	return blocks
}

// chunks splits s into pieces of at most n runes.
func chunks(s string, n int) []string {
	r := []rune(s)
	if len(r) <= n {
		return []string{s}
	}
	var out []string
	for len(r) > 0 {
		end := min(n, len(r))
		out = append(out, string(r[:end]))
		r = r[end:]
	}
	return out
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) <= maxTextLen {
		return s
	}
	return string(r[:maxTextLen])
}
