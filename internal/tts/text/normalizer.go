// Package text prepares roast lines for speech synthesis.
//
// Corpus lines are written for reading, not for speaking: they carry smart
// quotes, digits, shouted punctuation and stray whitespace that providers
// pronounce badly. Normalize turns a line into text a voice reads cleanly
// without changing what it says.
package text

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// NumberBaseTen represents the base for decimal number system.
	NumberBaseTen = 10
	// NumberBaseTwenty represents the boundary for teen numbers.
	NumberBaseTwenty = 20
	// NumberBaseHundred represents the base for hundreds.
	NumberBaseHundred = 100
	// NumberBaseThousand represents the base for thousands.
	NumberBaseThousand = 1000
	// MaxNumberForWords represents the maximum number that can be converted to words.
	MaxNumberForWords = 999999
)

const (
	numberRegexPattern        = `\d+`
	whitespaceRegexPattern    = `\s+`
	repeatedMarksRegexPattern = `([!?])[!?]+`
)

// Normalizer rewrites lines into speakable text. It is safe for concurrent use.
type Normalizer struct {
	numberPattern        *regexp.Regexp
	whitespacePattern    *regexp.Regexp
	repeatedMarksPattern *regexp.Regexp
	abbreviationReplacer *strings.Replacer
	punctuationReplacer  *strings.Replacer
}

// NewNormalizer creates a Normalizer with its patterns compiled.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		numberPattern:        regexp.MustCompile(numberRegexPattern),
		whitespacePattern:    regexp.MustCompile(whitespaceRegexPattern),
		repeatedMarksPattern: regexp.MustCompile(repeatedMarksRegexPattern),
		abbreviationReplacer: strings.NewReplacer(
			"Mr.", "Mister",
			"Mrs.", "Misses",
			"Dr.", "Doctor",
			"vs.", "versus",
			"etc.", "et cetera",
			"&", " and ",
			"%", " percent",
		),
		punctuationReplacer: strings.NewReplacer(
			"—", "-",
			"–", "-",
			"…", "...",
			"“", `"`, "”", `"`,
			"‘", "'", "’", "'",
		),
	}
}

// Normalize returns the speakable form of line, or "" for a blank line.
func (n *Normalizer) Normalize(line string) string {
	if strings.TrimSpace(line) == "" {
		return ""
	}

	spoken := n.punctuationReplacer.Replace(line)
	spoken = n.abbreviationReplacer.Replace(spoken)
	spoken = n.spellNumbers(spoken)
	spoken = n.repeatedMarksPattern.ReplaceAllString(spoken, "$1")
	spoken = strings.TrimSpace(n.whitespacePattern.ReplaceAllString(spoken, " "))

	return ensureSentenceEnding(spoken)
}

// spellNumbers replaces each digit run with words. A run glued to letters is
// separated from them by spaces; ordinals such as "2nd" are left as written.
func (n *Normalizer) spellNumbers(line string) string {
	matches := n.numberPattern.FindAllStringIndex(line, -1)
	if matches == nil {
		return line
	}

	var spoken strings.Builder

	last := 0

	for _, match := range matches {
		start, end := match[0], match[1]
		spoken.WriteString(line[last:start])

		last = end

		if isOrdinalSuffix(line[end:]) {
			spoken.WriteString(line[start:end])

			continue
		}

		words := numberToWords(line[start:end])

		if before, _ := utf8.DecodeLastRuneInString(line[:start]); unicode.IsLetter(before) {
			spoken.WriteByte(' ')
		}

		spoken.WriteString(words)

		if after, _ := utf8.DecodeRuneInString(line[end:]); unicode.IsLetter(after) {
			spoken.WriteByte(' ')
		}
	}

	spoken.WriteString(line[last:])

	return spoken.String()
}

func isOrdinalSuffix(rest string) bool {
	const suffixLen = 2

	if len(rest) < suffixLen {
		return false
	}

	switch strings.ToLower(rest[:suffixLen]) {
	case "st", "nd", "rd", "th":
	default:
		return false
	}

	next, _ := utf8.DecodeRuneInString(rest[suffixLen:])

	return !unicode.IsLetter(next)
}

func numberToWords(digits string) string {
	number, err := strconv.Atoi(digits)
	if err != nil || number > MaxNumberForWords {
		return digits
	}

	return integerToWords(number)
}

func ensureSentenceEnding(text string) string {
	lastChar, _ := utf8.DecodeLastRuneInString(text)

	switch {
	case lastChar == '.' || lastChar == '!' || lastChar == '?':
		return text
	case unicode.IsPunct(lastChar) && lastChar != '"' && lastChar != '\'' && lastChar != ')':
		return strings.TrimRightFunc(text, unicode.IsPunct) + "."
	default:
		return text + "."
	}
}

var (
	ones = []string{
		"zero", "one", "two", "three", "four", "five",
		"six", "seven", "eight", "nine",
	}
	teens = []string{
		"ten", "eleven", "twelve", "thirteen", "fourteen",
		"fifteen", "sixteen", "seventeen", "eighteen", "nineteen",
	}
	tens = []string{
		"", "", "twenty", "thirty", "forty", "fifty",
		"sixty", "seventy", "eighty", "ninety",
	}
)

// integerToWords spells out 0 through MaxNumberForWords in English.
func integerToWords(number int) string {
	if number < NumberBaseThousand {
		return underThousand(number)
	}

	words := underThousand(number/NumberBaseThousand) + " thousand"
	if remainder := number % NumberBaseThousand; remainder > 0 {
		words += " " + underThousand(remainder)
	}

	return words
}

func underThousand(number int) string {
	if number < NumberBaseHundred {
		return underHundred(number)
	}

	words := ones[number/NumberBaseHundred] + " hundred"
	if remainder := number % NumberBaseHundred; remainder > 0 {
		words += " " + underHundred(remainder)
	}

	return words
}

func underHundred(number int) string {
	switch {
	case number < NumberBaseTen:
		return ones[number]
	case number < NumberBaseTwenty:
		return teens[number-NumberBaseTen]
	case number%NumberBaseTen == 0:
		return tens[number/NumberBaseTen]
	default:
		return tens[number/NumberBaseTen] + "-" + ones[number%NumberBaseTen]
	}
}
