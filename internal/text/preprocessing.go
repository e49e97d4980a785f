// Package text prepares reader text for speech synthesis.
//
// The preprocessor normalizes whitespace, quotes and dashes, strips citation
// markers that would otherwise be read aloud, and guarantees a sentence
// ending. Split then cuts long passages into request-sized chunks at
// sentence boundaries so each chunk fits one synthesis exchange.
package text

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// DefaultMaxChunkBytes stays under the remote limit of 8000 bytes of
	// UTF-8 text per synthesis request.
	DefaultMaxChunkBytes = 7800
	// DefaultMaxRunes is the playback cap the reader applies to a page.
	DefaultMaxRunes = 500
	// Ellipsis marks text shortened by Truncate.
	Ellipsis = "..."
)

// Regex patterns for text preprocessing.
const (
	urlRegexPattern        = `https?://\S+`
	emailRegexPattern      = `[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`
	referenceRegexPattern  = `\[\d+\]|\(\d+\)|[¹²³⁴⁵⁶⁷⁸⁹⁰]+`
	citationRegexPattern   = `\([^)]*\d{4}[^)]*\)|\b\w+\s+et\s+al\.`
	whitespaceRegexPattern = `\s+`
)

// placeholderPattern is built from private-use runes, which neither the
// punctuation passes nor the whitespace pass touch.
const placeholderPattern = "\uE000%d\uE001"

// Preprocessor normalizes text before it is synthesized.
type Preprocessor struct {
	urlPattern        *regexp.Regexp
	emailPattern      *regexp.Regexp
	referencePattern  *regexp.Regexp
	citationPattern   *regexp.Regexp
	whitespacePattern *regexp.Regexp
	punctuation       *strings.Replacer
}

// NewPreprocessor compiles the patterns once.
func NewPreprocessor() *Preprocessor {
	return &Preprocessor{
		urlPattern:        regexp.MustCompile(urlRegexPattern),
		emailPattern:      regexp.MustCompile(emailRegexPattern),
		referencePattern:  regexp.MustCompile(referenceRegexPattern),
		citationPattern:   regexp.MustCompile(citationRegexPattern),
		whitespacePattern: regexp.MustCompile(whitespaceRegexPattern),
		punctuation: strings.NewReplacer(
			"—", "-",
			"–", "-",
			"‒", "-",
			"…", Ellipsis,
			"“", `"`, "”", `"`,
			"‘", "'", "’", "'",
		),
	}
}

// PreprocessText returns text cleaned for synthesis. Empty or
// whitespace-only input yields "".
func (p *Preprocessor) PreprocessText(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}

	preserved, placeholders := p.preserveTokens(text)

	cleaned := p.referencePattern.ReplaceAllString(preserved, "")
	cleaned = p.citationPattern.ReplaceAllString(cleaned, "")
	cleaned = p.whitespacePattern.ReplaceAllString(cleaned, " ")
	cleaned = strings.TrimSpace(cleaned)

	cleaned = p.punctuation.Replace(cleaned)
	cleaned = collapseRepeatedPunctuation(cleaned)
	cleaned = restoreTokens(cleaned, placeholders)

	return ensureSentenceEnding(cleaned)
}

// preserveTokens swaps URLs and emails for placeholders so the cleanup
// passes cannot corrupt them.
func (p *Preprocessor) preserveTokens(text string) (string, map[string]string) {
	placeholders := make(map[string]string)
	counter := 0

	replace := func(pattern *regexp.Regexp, input string) string {
		return pattern.ReplaceAllStringFunc(input, func(match string) string {
			placeholder := fmt.Sprintf(placeholderPattern, counter)
			placeholders[placeholder] = match
			counter++

			return placeholder
		})
	}

	text = replace(p.urlPattern, text)
	text = replace(p.emailPattern, text)

	return text, placeholders
}

func restoreTokens(text string, placeholders map[string]string) string {
	for placeholder, original := range placeholders {
		text = strings.ReplaceAll(text, placeholder, original)
	}

	return text
}

// collapseRepeatedPunctuation folds runs of the same mark ("!!!", "。。")
// into one. Dots are left alone so an ellipsis survives.
func collapseRepeatedPunctuation(text string) string {
	var (
		builder strings.Builder
		last    rune
	)

	builder.Grow(len(text))

	for _, char := range text {
		if char == last && char != '.' && unicode.IsPunct(char) {
			continue
		}

		builder.WriteRune(char)

		last = char
	}

	return builder.String()
}

func ensureSentenceEnding(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ""
	}

	lastChar, _ := utf8.DecodeLastRuneInString(trimmed)
	if isTerminal(lastChar) || lastChar == '"' || lastChar == '\'' || lastChar == '」' {
		return trimmed
	}

	if unicode.Is(unicode.Han, lastChar) {
		return trimmed + "。"
	}

	return trimmed + "."
}

// isTerminal reports whether r ends a sentence in Latin or CJK text.
func isTerminal(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？', '；', ';':
		return true
	default:
		return false
	}
}

// Truncate caps text at maxRunes runes and appends Ellipsis when it cut
// anything. A non-positive maxRunes disables the cap.
func Truncate(text string, maxRunes int) string {
	if maxRunes <= 0 || utf8.RuneCountInString(text) <= maxRunes {
		return text
	}

	runes := []rune(text)

	return string(runes[:maxRunes]) + Ellipsis
}

// Split cuts text into chunks of at most maxBytes bytes, breaking after
// sentence-ending punctuation where possible and never inside a rune.
// A non-positive maxBytes means DefaultMaxChunkBytes.
func Split(text string, maxBytes int) []string {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxChunkBytes
	}

	var (
		chunks  []string
		current strings.Builder
	)

	flush := func() {
		chunk := strings.TrimSpace(current.String())
		if chunk != "" {
			chunks = append(chunks, chunk)
		}

		current.Reset()
	}

	for _, sentence := range sentences(text) {
		if current.Len()+len(sentence) > maxBytes {
			flush()
		}

		for len(sentence) > maxBytes {
			cut := runeBoundary(sentence, maxBytes)
			current.WriteString(sentence[:cut])
			flush()

			sentence = sentence[cut:]
		}

		current.WriteString(sentence)
	}

	flush()

	return chunks
}

// sentences splits after each run of terminal punctuation, keeping the
// punctuation and any following space with its sentence.
func sentences(text string) []string {
	var (
		parts []string
		start int
	)

	for index, char := range text {
		if !isTerminal(char) {
			continue
		}

		end := index + utf8.RuneLen(char)
		if end < len(text) {
			next, _ := utf8.DecodeRuneInString(text[end:])
			if isTerminal(next) {
				continue
			}
		}

		for end < len(text) {
			next, size := utf8.DecodeRuneInString(text[end:])
			if !unicode.IsSpace(next) {
				break
			}

			end += size
		}

		if end > start {
			parts = append(parts, text[start:end])
			start = end
		}
	}

	if start < len(text) {
		parts = append(parts, text[start:])
	}

	return parts
}

// runeBoundary returns the largest index <= limit that starts a rune.
func runeBoundary(text string, limit int) int {
	if limit >= len(text) {
		return len(text)
	}

	for limit > 0 && !utf8.RuneStart(text[limit]) {
		limit--
	}

	if limit == 0 {
		_, size := utf8.DecodeRuneInString(text)

		return size
	}

	return limit
}
