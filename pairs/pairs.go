// Package pairs builds labelled signature pairs from per-signer corpora and
// splits them into train, validation and test sets.
package pairs

import (
	"fmt"
	"math"
	"math/rand"
	"slices"

	"sigverify/types"

	"golang.org/x/exp/maps"
)

// SignerIDs returns the corpus keys in ascending order
func SignerIDs(corpora map[int]*types.SignerCorpus) []int {
	ids := maps.Keys(corpora)
	slices.Sort(ids)
	return ids
}

// Count returns how many positive and negative pairs Generate will produce
func Count(corpora map[int]*types.SignerCorpus) (positives, negatives int) {
	for _, c := range corpora {
		if c == nil {
			continue
		}
		n, m := len(c.Originals), len(c.Forgeries)
		positives += n * (n - 1) / 2
		negatives += n * m
	}
	return positives, negatives
}

// Generate enumerates every within-signer pair. Signers are visited in
// ascending id order; for each signer all original/original pairs (label 1,
// p<q) come first, then all original/forgery pairs (label 0) in row-major
// order. No pair ever spans two signers.
func Generate(corpora map[int]*types.SignerCorpus) types.Dataset {
	pos, neg := Count(corpora)
	ds := types.Dataset{
		Pairs:  make([]types.Pair, 0, pos+neg),
		Labels: make([]int, 0, pos+neg),
	}

	for _, id := range SignerIDs(corpora) {
		c := corpora[id]
		if c == nil {
			continue
		}
		originals, forgeries := c.Originals, c.Forgeries

		for p := 0; p < len(originals); p++ {
			for q := p + 1; q < len(originals); q++ {
				ds.Append(types.Pair{
					A:      originals[p].Image,
					B:      originals[q].Image,
					Label:  1,
					Signer: id,
					IndexA: p,
					IndexB: q,
				})
			}
		}

		for p := 0; p < len(originals); p++ {
			for q := 0; q < len(forgeries); q++ {
				ds.Append(types.Pair{
					A:      originals[p].Image,
					B:      forgeries[q].Image,
					Label:  0,
					Signer: id,
					IndexA: p,
					IndexB: q,
				})
			}
		}
	}

	return ds
}

// Split draws ceil(testFraction*N) pairs as the test set with a seedA
// permutation, then ceil(valFraction*rest) of the remainder as validation
// with a seedB permutation; what is left is train. The draw ignores labels
// and signers, so class balance across the three sets is not guaranteed.
func Split(ds types.Dataset, testFraction, valFraction float64, seedA, seedB int64) (train, val, test types.Dataset, err error) {
	if len(ds.Pairs) != len(ds.Labels) {
		return train, val, test, fmt.Errorf("dataset has %d pairs but %d labels", len(ds.Pairs), len(ds.Labels))
	}
	if testFraction < 0 || testFraction >= 1 {
		return train, val, test, fmt.Errorf("test fraction %v outside [0,1)", testFraction)
	}
	if valFraction < 0 || valFraction >= 1 {
		return train, val, test, fmt.Errorf("validation fraction %v outside [0,1)", valFraction)
	}

	all := make([]int, ds.Len())
	for i := range all {
		all[i] = i
	}

	testIdx, rest := draw(all, testFraction, seedA)
	valIdx, trainIdx := draw(rest, valFraction, seedB)

	return ds.Subset(trainIdx), ds.Subset(valIdx), ds.Subset(testIdx), nil
}

// draw picks ceil(fraction*len(idx)) entries of idx using a seeded
// permutation. The picked entries keep permutation order; the remainder
// keeps the input order.
func draw(idx []int, fraction float64, seed int64) (picked, rest []int) {
	k := int(math.Ceil(fraction * float64(len(idx))))
	if k > len(idx) {
		k = len(idx)
	}
	perm := rand.New(rand.NewSource(seed)).Perm(len(idx))

	chosen := make([]bool, len(idx))
	picked = make([]int, 0, k)
	for _, p := range perm[:k] {
		chosen[p] = true
		picked = append(picked, idx[p])
	}
	rest = make([]int, 0, len(idx)-k)
	for i, v := range idx {
		if !chosen[i] {
			rest = append(rest, v)
		}
	}
	return picked, rest
}
