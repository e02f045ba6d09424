package simhash

import (
	"net/url"
	"sort"
	"strings"
	"unicode"

	"kaka.lopezb.com/internal/kaka/kakaerr"
)

// DefaultShingleSize is the word n-gram length used for page content.
const DefaultShingleSize = 3

const (
	hostWeight = 3.0
	gramSize   = 3
)

// Tokens splits text into lower-cased runs of letters and digits.
func Tokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// Shingles returns the word n-grams of text as features. A shingle seen c
// times has weight c. Text shorter than n words yields one shingle of all its
// words; text with no words yields none.
func Shingles(text string, n int) []Feature {
	if n <= 0 {
		n = DefaultShingleSize
	}
	toks := Tokens(text)
	if len(toks) == 0 {
		return nil
	}
	counts := make(map[string]int)
	if len(toks) < n {
		counts[strings.Join(toks, " ")]++
	} else {
		for i := 0; i+n <= len(toks); i++ {
			counts[strings.Join(toks[i:i+n], " ")]++
		}
	}

	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Feature, len(keys))
	for i, k := range keys {
		out[i] = Feature{Data: []byte(k), Weight: float64(counts[k])}
	}
	return out
}

// URLFeatures extracts structural features from a URL:
//
//   - character trigrams of the host, weight 3
//   - character trigrams of the path, weighted 2*(len-i)/len so that the
//     leading segments dominate
//   - each query pair as "key=value", weight 1
func URLFeatures(rawURL string) ([]Feature, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, kakaerr.Config("simhash: %q is not an absolute url", rawURL)
	}

	var out []Feature
	host := []byte(strings.ToLower(u.Hostname()))
	for i := 0; i+gramSize <= len(host); i++ {
		out = append(out, Feature{Data: host[i : i+gramSize], Weight: hostWeight})
	}

	path := []byte(u.EscapedPath())
	l := float64(max(len(path), 1))
	for i := 0; i+gramSize <= len(path); i++ {
		out = append(out, Feature{Data: path[i : i+gramSize], Weight: 2 * (l - float64(i)) / l})
	}

	q := u.Query()
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range q[k] {
			out = append(out, Feature{Data: []byte(k + "=" + v), Weight: 1})
		}
	}
	return out, nil
}
