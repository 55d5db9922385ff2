package telegram

import (
	"sort"
	"strings"
	"unicode/utf16"

	"github.com/gotd/td/tg"
)

// span wraps a UTF-16 range of the message text in markdown delimiters.
// Text inside a literal span (code, pre) is not escaped.
type span struct {
	start, end  int
	open, close string
	literal     bool
}

// EntitiesToMarkdown converts a Telegram message's plain text and entity
// list into CommonMark. Characters that markdown would interpret are escaped
// outside code spans, so the result renders to the original text plus the
// formatting the entities describe.
//
// Entity offsets count UTF-16 code units.
func EntitiesToMarkdown(text string, entities []tg.MessageEntityClass) string {
	units := utf16.Encode([]rune(text))

	spans := make([]span, 0, len(entities))
	for _, e := range entities {
		sp, ok := entitySpan(units, e)
		if !ok {
			continue
		}
		spans = append(spans, sp)
	}

	// Outer spans first: earlier start, then longer.
	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].start != spans[j].start {
			return spans[i].start < spans[j].start
		}
		return spans[i].end > spans[j].end
	})

	var (
		b        strings.Builder
		open     []int // indices into spans, in opening order
		next     int
		literal  int
		lineHead = true
		escapeAt = -1 // ordered list delimiter to escape
	)
	for i := 0; i <= len(units); i++ {
		// Close innermost spans ending here.
		for k := len(open) - 1; k >= 0; k-- {
			sp := spans[open[k]]
			if sp.end != i {
				continue
			}
			b.WriteString(sp.close)
			if sp.literal {
				literal--
			}
			open = append(open[:k], open[k+1:]...)
		}
		for next < len(spans) && spans[next].start == i {
			sp := spans[next]
			b.WriteString(sp.open)
			if sp.literal {
				literal++
			}
			open = append(open, next)
			next++
		}
		if i == len(units) {
			break
		}

		r := rune(units[i])
		if utf16.IsSurrogate(r) && i+1 < len(units) {
			r = utf16.DecodeRune(r, rune(units[i+1]))
			i++
		}
		switch {
		case literal > 0:
			b.WriteRune(r)
		case lineHead && (r == ' ' || r == '\t'):
			// Leading whitespace as a character reference cannot indent a
			// code block or nest a list.
			if r == ' ' {
				b.WriteString("&#32;")
			} else {
				b.WriteString("&#9;")
			}
		case i == escapeAt:
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			if lineHead {
				escapeAt = orderedListDelimiter(units, i)
			}
			writeEscaped(&b, r, lineHead)
		}
		lineHead = r == '\n'
	}

	return b.String()
}

// inlineSpecial are characters with inline meaning anywhere in a line.
const inlineSpecial = "\\`*_[]<>&~|"

// blockSpecial are characters that start a block construct at line head.
const blockSpecial = "#-+=>"

func writeEscaped(b *strings.Builder, r rune, lineHead bool) {
	if r < 128 && (strings.ContainsRune(inlineSpecial, r) || (lineHead && strings.ContainsRune(blockSpecial, r))) {
		b.WriteByte('\\')
	}
	b.WriteRune(r)
}

// orderedListDelimiter returns the index of the '.' or ')' that would make
// the line starting at i an ordered list item, or -1.
func orderedListDelimiter(units []uint16, i int) int {
	j := i
	for j < len(units) && j-i < 9 && units[j] >= '0' && units[j] <= '9' {
		j++
	}
	if j == i || j >= len(units) || (units[j] != '.' && units[j] != ')') {
		return -1
	}
	if j+1 < len(units) {
		switch units[j+1] {
		case ' ', '\t', '\n', '\r':
		default:
			return -1
		}
	}
	return j
}

// entitySpan converts a Telegram entity into a markdown span clamped to the
// text bounds.
func entitySpan(units []uint16, entity tg.MessageEntityClass) (span, bool) {
	start := entity.GetOffset()
	end := start + entity.GetLength()
	if start < 0 || start >= len(units) || end <= start {
		return span{}, false
	}
	if end > len(units) {
		end = len(units)
	}
	sp := span{start: start, end: end}

	switch e := entity.(type) {
	case *tg.MessageEntityBold, *tg.MessageEntityMentionName, *tg.MessageEntityMention, *tg.MessageEntityHashtag:
		sp.open, sp.close = "**", "**"
	case *tg.MessageEntityItalic, *tg.MessageEntityUnderline:
		// Markdown has no underline; emphasis is the closest.
		sp.open, sp.close = "*", "*"
	case *tg.MessageEntityStrike:
		sp.open, sp.close = "~~", "~~"
	case *tg.MessageEntityCode, *tg.MessageEntityBotCommand:
		sp.open, sp.close, sp.literal = "`", "`", true
	case *tg.MessageEntityPre:
		sp.open, sp.close, sp.literal = "```"+e.Language+"\n", "\n```", true
	case *tg.MessageEntityTextURL:
		sp.open, sp.close = "[", "]("+linkDestination(e.URL)+")"
	case *tg.MessageEntityURL:
		sp.open, sp.close = "[", "]("+linkDestination(utf16Substring(units, start, end))+")"
	case *tg.MessageEntityEmail:
		sp.open, sp.close = "[", "](mailto:"+linkDestination(utf16Substring(units, start, end))+")"
	case *tg.MessageEntityBlockquote:
		sp.open = "> "
	default:
		return span{}, false
	}
	return sp, true
}

// linkDestination makes url safe to place inside "(...)".
func linkDestination(url string) string {
	return strings.NewReplacer(" ", "%20", "(", "%28", ")", "%29").Replace(url)
}

func utf16Substring(units []uint16, start, end int) string {
	return string(utf16.Decode(units[start:end]))
}
