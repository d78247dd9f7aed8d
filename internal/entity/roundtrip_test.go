package entity

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// The encode/decode pair must round-trip: for any flat map whose keys are
// declared and whose values validate, FromFlatMap followed by FlatMap yields
// an equivalent map.
func TestFlatMapRoundTrip(t *testing.T) {
	s := personSchema(t)

	genFlatMap := gopter.CombineGens(
		gen.AlphaString(),
		gen.Int64Range(0, 150),
		gen.Bool(),
		gen.AlphaString(),
	).Map(func(vals []any) map[string]any {
		m := map[string]any{
			"firstName": vals[0].(string),
			"age":       vals[1].(int64),
		}
		if vals[2].(bool) {
			m["address"] = map[string]any{"city": vals[3].(string), "verified": vals[2].(bool)}
		}
		return m
	})

	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	properties.Property("FlatMap(FromFlatMap(m)) == m", prop.ForAll(
		func(m map[string]any) bool {
			e, err := FromFlatMap(s, m)
			if err != nil {
				return false
			}
			got := e.FlatMap()
			return flatMapsEqual(m, got)
		},
		genFlatMap,
	))

	properties.TestingRun(t)
}

func flatMapsEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok {
			return false
		}
		am, aIsMap := av.(map[string]any)
		bm, bIsMap := bv.(map[string]any)
		if aIsMap != bIsMap {
			return false
		}
		if aIsMap {
			if !flatMapsEqual(am, bm) {
				return false
			}
			continue
		}
		if av != bv {
			return false
		}
	}
	return true
}
