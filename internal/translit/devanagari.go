// Package translit converts Devanagari text to an informal Roman spelling.
package translit

import "strings"

const (
	halant = '्'
	nukta  = '़'
	aaSign = 'ा'
)

var vowels = map[rune]string{
	'अ': "a", 'आ': "aa", 'इ': "i", 'ई': "ee",
	'उ': "u", 'ऊ': "oo", 'ए': "e", 'ऐ': "ai",
	'ओ': "o", 'औ': "au", 'ऋ': "ri",
}

// Matras replace the inherent vowel of the preceding consonant.
var matras = map[rune]string{
	'ा': "aa", 'ि': "i", 'ी': "ee", 'ु': "u",
	'ू': "oo", 'े': "e", 'ै': "ai", 'ो': "o",
	'ौ': "au", 'ृ': "ri",
}

var consonants = map[rune]string{
	'क': "k", 'ख': "kh", 'ग': "g", 'घ': "gh", 'ङ': "ng",
	'च': "ch", 'छ': "chh", 'ज': "j", 'झ': "jh", 'ञ': "n",
	'ट': "t", 'ठ': "th", 'ड': "d", 'ढ': "dh", 'ण': "n",
	'त': "t", 'थ': "th", 'द': "d", 'ध': "dh", 'न': "n",
	'प': "p", 'फ': "ph", 'ब': "b", 'भ': "bh", 'म': "m",
	'य': "y", 'र': "r", 'ल': "l", 'व': "v",
	'श': "sh", 'ष': "sh", 'स': "s", 'ह': "h",
}

// collapsible lists consonants that are dropped before a halant and the
// given aspirated partner. Only च्छ is written with a single cluster in
// common romanization; geminates like द्ध keep both letters.
var collapsible = map[rune]rune{
	'च': 'छ',
}

var marks = map[rune]string{
	'ं': "n", // anusvara
	'ः': "h", // visarga
	'ँ': "n", // chandrabindu
	halant: "",
	nukta:  "",
}

func isDevanagari(r rune) bool {
	return r >= 0x0900 && r <= 0x097F
}

func isMatra(r rune) bool {
	_, ok := matras[r]
	return ok
}

// wordFinal reports whether position i+1 ends the current word.
func wordFinal(runes []rune, i int) bool {
	if i+1 >= len(runes) {
		return true
	}
	next := runes[i+1]
	return next == ' ' || !isDevanagari(next)
}

// aspiratedPartner reports whether the consonant at i is followed by a
// halant and then its collapsible partner.
func aspiratedPartner(runes []rune, i int) bool {
	if i+2 >= len(runes) || runes[i+1] != halant {
		return false
	}
	partner, ok := collapsible[runes[i]]
	return ok && runes[i+2] == partner
}

func lookup(r rune) (string, bool) {
	if s, ok := consonants[r]; ok {
		return s, true
	}
	if s, ok := matras[r]; ok {
		return s, true
	}
	if s, ok := vowels[r]; ok {
		return s, true
	}
	s, ok := marks[r]
	return s, ok
}

// Transliterate romanizes the Devanagari runs of text and copies every
// other character unchanged. Consonants carry an inherent "a" unless a
// halant or matra follows or the consonant ends the word.
func Transliterate(text string) string {
	runes := []rune(text)
	var out strings.Builder
	out.Grow(len(text))

	for i, r := range runes {
		roman, ok := lookup(r)
		if !ok {
			out.WriteRune(r)
			continue
		}

		if _, consonant := consonants[r]; consonant {
			if aspiratedPartner(runes, i) {
				continue
			}
			out.WriteString(roman)
			if i+1 < len(runes) && (runes[i+1] == halant || isMatra(runes[i+1])) {
				continue
			}
			if !wordFinal(runes, i) {
				out.WriteByte('a')
			}
			continue
		}

		if r == aaSign && wordFinal(runes, i) {
			out.WriteByte('a')
			continue
		}
		out.WriteString(roman)
	}
	return out.String()
}
