package dedup

import (
	"hash/fnv"
	"math"
	"math/bits"
	"strings"
)

// shingleSize is the word n-gram width used for simhash features.
const shingleSize = 3

// Simhash64 computes a 64-bit locality-sensitive hash of the text over
// word 3-shingles. Texts with small hamming distance between their
// fingerprints are highly similar. Returns 0 for empty input.
func Simhash64(text string) uint64 {
	words := strings.Fields(text)
	if len(words) == 0 {
		return 0
	}

	var vector [64]int
	addFeature := func(feature string) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(feature))
		sum := h.Sum64()
		for b := 0; b < 64; b++ {
			if sum>>uint(b)&1 == 1 {
				vector[b]++
			} else {
				vector[b]--
			}
		}
	}

	if len(words) < shingleSize {
		addFeature(strings.Join(words, " "))
	} else {
		for i := 0; i+shingleSize <= len(words); i++ {
			addFeature(strings.Join(words[i:i+shingleSize], " "))
		}
	}

	var fp uint64
	for b := 0; b < 64; b++ {
		if vector[b] > 0 {
			fp |= 1 << uint(b)
		}
	}
	return fp
}

// HammingDistance counts differing bits between two fingerprints.
func HammingDistance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// ThresholdBits converts a similarity threshold in [0.5, 1.0] into the
// maximum hamming distance considered a match.
func ThresholdBits(threshold float64) int {
	if threshold < 0.5 {
		threshold = 0.5
	}
	if threshold > 1.0 {
		threshold = 1.0
	}
	return int(math.Round((1.0 - threshold) * 64.0))
}
