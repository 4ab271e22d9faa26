package listing

import "math/rand"

// FilterUnseen returns the listings whose ModID is absent from seen,
// preserving relative order.
func FilterUnseen(listings []Listing, seen map[int64]bool) []Listing {
	if len(listings) == 0 {
		return nil
	}
	out := make([]Listing, 0, len(listings))
	for _, l := range listings {
		if !seen[l.ModID] {
			out = append(out, l)
		}
	}
	return out
}

// MergeDeduplicated concatenates batches keeping the first occurrence per
// ModID; later duplicates are dropped. Used when combining cache-sourced and
// network-sourced results.
func MergeDeduplicated(batches ...[]Listing) []Listing {
	var out []Listing
	taken := make(map[int64]bool)
	for _, batch := range batches {
		for _, l := range batch {
			if taken[l.ModID] {
				continue
			}
			taken[l.ModID] = true
			out = append(out, l)
		}
	}
	return out
}

// UseCacheOnly reports whether the unseen cache subset alone satisfies a
// request, avoiding an unnecessary network round trip.
func UseCacheOnly(unseenCacheCount, threshold int) bool {
	return unseenCacheCount >= threshold
}

// Shuffle permutes listings in place with an unbiased Fisher-Yates shuffle.
// Presentation order carries no meaning; pure randomness is a product
// requirement, so no popularity or recency ordering is ever applied.
func Shuffle(listings []Listing) {
	rand.Shuffle(len(listings), func(i, j int) {
		listings[i], listings[j] = listings[j], listings[i]
	})
}

// ShuffleIDs permutes a candidate id slice in place.
func ShuffleIDs(ids []int64) {
	rand.Shuffle(len(ids), func(i, j int) {
		ids[i], ids[j] = ids[j], ids[i]
	})
}
