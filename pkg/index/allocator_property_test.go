//go:build property
// +build property

package index_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/kaizencorps/stache/pkg/index"
)

// TestAllocatorBoundedAndUnique drives random allocate/release sequences.
// Property: the live set never exceeds Max, never holds a duplicate and never
// holds a reserved value.
func TestAllocatorBoundedAndUnique(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("live set stays bounded and unique", prop.ForAll(
		func(start uint8, ops []bool, picks []uint8) bool {
			a := index.New(5)
			a.Next = index.Index(start)

			for i, allocate := range ops {
				if allocate {
					_, err := a.Allocate()
					if err != nil && !a.Full() {
						return false
					}
				} else if a.Len() > 0 {
					pick := 0
					if i < len(picks) {
						pick = int(picks[i]) % a.Len()
					}
					if err := a.Release(a.Live[pick]); err != nil {
						return false
					}
				}

				if a.Len() > 5 {
					return false
				}
				seen := make(map[index.Index]bool, a.Len())
				for _, v := range a.Live {
					if v < index.MinIndex || v > index.MaxIndex || seen[v] {
						return false
					}
					seen[v] = true
				}
			}
			return true
		},
		gen.UInt8(),
		gen.SliceOf(gen.Bool()),
		gen.SliceOf(gen.UInt8()),
	))

	properties.TestingRun(t)
}

// TestAllocatorWrapsToOne checks that the index following 254 is 1 for any
// allocator whose low indices are free.
func TestAllocatorWrapsToOne(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("254 is followed by 1", prop.ForAll(
		func(max int) bool {
			a := index.New(max)
			a.Next = index.MaxIndex
			first, err := a.Allocate()
			if err != nil || first != index.MaxIndex {
				return false
			}
			second, err := a.Allocate()
			return err == nil && second == index.MinIndex
		},
		gen.IntRange(2, 10),
	))

	properties.TestingRun(t)
}
