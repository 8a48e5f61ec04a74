// Package fingerprint derives compact hashes of page text for change detection.
//
// FullHash detects any edit beyond case and whitespace. SimHash is a 64-bit
// locality-sensitive signature whose Hamming distance approximates how much
// two texts differ, so a page with only a rotating timestamp still compares as
// nearly identical.
package fingerprint

import (
	"crypto/md5" //nolint:gosec // md5 is a feature hash here, not a security boundary.
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/bits"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

const (
	signatureBits = 64
	topPhrases    = 10
)

// Fingerprint summarizes one version of a page's text.
type Fingerprint struct {
	FullHash   string `json:"full_hash"`
	SimHash    string `json:"simhash"`
	PhraseHash string `json:"phrase_hash"`
	WordCount  int    `json:"word_count"`
	CharCount  int    `json:"char_count"`
}

// New fingerprints text. It is deterministic and safe for concurrent use.
func New(text string) Fingerprint {
	normalized := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	full := sha256.Sum256([]byte(normalized))

	tokens := strings.Fields(stripPunctuation(normalized))
	phrases := md5.Sum([]byte(strings.Join(commonTrigrams(tokens, topPhrases), " "))) //nolint:gosec

	return Fingerprint{
		FullHash:   hex.EncodeToString(full[:]),
		SimHash:    fmt.Sprintf("%016x", simhash(tokens)),
		PhraseHash: hex.EncodeToString(phrases[:]),
		WordCount:  len(strings.Fields(normalized)),
		CharCount:  len([]rune(normalized)),
	}
}

// Similarity returns a score in [0,1]. Equal full hashes short-circuit to 1;
// otherwise it is 1 minus the SimHash Hamming distance over 64. Unparseable
// signatures compare as 0.
func Similarity(a, b Fingerprint) float64 {
	if a.FullHash != "" && a.FullHash == b.FullHash {
		return 1
	}
	ha, err := strconv.ParseUint(a.SimHash, 16, 64)
	if err != nil {
		return 0
	}
	hb, err := strconv.ParseUint(b.SimHash, 16, 64)
	if err != nil {
		return 0
	}
	return 1 - float64(bits.OnesCount64(ha^hb))/signatureBits
}

// Changed reports whether b differs from a in content.
func Changed(a, b Fingerprint) bool {
	return a.FullHash != b.FullHash
}

func simhash(tokens []string) uint64 {
	var v [signatureBits]int
	for _, tok := range tokens {
		sum := md5.Sum([]byte(tok)) //nolint:gosec
		h := binary.BigEndian.Uint64(sum[8:])
		for i := 0; i < signatureBits; i++ {
			if h&(1<<uint(i)) != 0 {
				v[i]++
			} else {
				v[i]--
			}
		}
	}
	var out uint64
	for i := 0; i < signatureBits; i++ {
		if v[i] >= 0 {
			out |= 1 << uint(i)
		}
	}
	return out
}

func stripPunctuation(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) || r == '_' {
			return r
		}
		return -1
	}, s)
}

// commonTrigrams returns the n most frequent word 3-grams, ties broken by
// first occurrence. Fewer than three tokens are returned as-is.
func commonTrigrams(tokens []string, n int) []string {
	if len(tokens) < 3 {
		return tokens
	}
	counts := make(map[string]int)
	var order []string
	for i := 0; i+2 < len(tokens); i++ {
		gram := tokens[i] + " " + tokens[i+1] + " " + tokens[i+2]
		if counts[gram] == 0 {
			order = append(order, gram)
		}
		counts[gram]++
	}
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if len(order) > n {
		order = order[:n]
	}
	return order
}
