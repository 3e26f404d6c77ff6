package index

import (
	"encoding/binary"
	"unicode/utf8"

	"golang.org/x/text/width"
	"github.com/zeebo/xxh3"
)

// qgramSize is the number of runes per gram. Two-grams keep the posting
// list fan-out reasonable for short strings (tags, names) while still
// supporting substring-style containment queries.
const qgramSize = 2

// QGrams tokenizes s into its overlapping q-grams for the `qgram` index
// kind: the string is first width-folded (so fullwidth and halfwidth
// forms of the same character collide) and casefolded, then split into
// rune runs of qgramSize with a one-rune stride. Grams longer than 8
// bytes are hashed down to a fixed-width 8-byte key with xxh3 so the
// posting key size never depends on gram byte length; short grams are
// used as-is so single-byte ASCII text doesn't pay a hashing cost or
// lose its natural sort order.
func QGrams(s string) [][]byte {
	folded := foldString(width.Fold.String(s))
	runes := []rune(folded)
	if len(runes) == 0 {
		return nil
	}
	if len(runes) < qgramSize {
		return [][]byte{gramKey(string(runes))}
	}
	grams := make([][]byte, 0, len(runes)-qgramSize+1)
	for i := 0; i+qgramSize <= len(runes); i++ {
		grams = append(grams, gramKey(string(runes[i:i+qgramSize])))
	}
	return grams
}

func gramKey(gram string) []byte {
	if utf8.RuneCountInString(gram) <= qgramSize && len(gram) <= 8 {
		return []byte(gram)
	}
	h := xxh3.HashString(gram)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], h)
	return b[:]
}
