// internal/filters/fieldpath.go
package filters

import (
	"strconv"

	"github.com/solatis/propfilter/internal/types"
)

/*
 * Field chain resolution for event rows.
 *
 * A chain such as ["properties", "$browser"] or ["person", "properties",
 * "email"] walks nested JSON objects key by key. A numeric element indexes
 * into an array, so ["properties", "tags", "0"] reads the first tag.
 * Anything else that does not resolve is reported as ErrFieldNotFound,
 * which the evaluator treats as SQL NULL.
 */

// ResolveResult contains the resolved value.
type ResolveResult struct {
	Value any  // resolved value (nil if not found)
	Found bool // true if the chain resolved to a value
}

// Resolve walks row following chain.
// Returns ErrPathTooDeep if chain exceeds MaxPathDepth.
// Returns ErrFieldNotFound if the chain does not exist in row.
func Resolve(chain []string, row map[string]any) (ResolveResult, error) {
	if len(chain) > types.MaxPathDepth {
		return ResolveResult{}, types.ErrPathTooDeep
	}
	return resolveRecursive(chain, row)
}

func resolveRecursive(chain []string, current any) (ResolveResult, error) {
	if len(chain) == 0 {
		return ResolveResult{Value: current, Found: true}, nil
	}

	key := chain[0]
	remaining := chain[1:]

	switch v := current.(type) {
	case map[string]any:
		val, ok := v[key]
		if !ok {
			return ResolveResult{}, types.ErrFieldNotFound
		}
		return resolveRecursive(remaining, val)

	case []any:
		index, err := strconv.Atoi(key)
		if err != nil || index < 0 || index >= len(v) {
			return ResolveResult{}, types.ErrFieldNotFound
		}
		return resolveRecursive(remaining, v[index])

	default:
		// nil or scalar with chain remaining
		return ResolveResult{}, types.ErrFieldNotFound
	}
}
