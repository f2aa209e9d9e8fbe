package experiment

import (
	"errors"
	"hash/fnv"
	"sort"

	"github.com/popforge/popup-service/internal/domain"
)

var (
	ErrVariantCount  = errors.New("experiments need 2 to 4 variants")
	ErrControlNotA   = errors.New("experiments need exactly one control variant with key A")
	ErrVariantKeyDup = errors.New("duplicate variant key")
	ErrVariantKeyBad = errors.New("variant keys must be A through D")
	ErrAllocationSum = errors.New("traffic allocation must sum to 100")
	ErrAllocationKey = errors.New("traffic allocation keys must match variant keys")
)

var knownKeys = map[domain.VariantKey]bool{
	domain.VariantA: true,
	domain.VariantB: true,
	domain.VariantC: true,
	domain.VariantD: true,
}

// ValidateVariants enforces the creation-time invariants of an experiment:
// 2-4 variants keyed A..D, exactly one control (always "A"), one shared
// goal, and a traffic allocation that covers exactly the variant keys and
// sums to 100. The sum check is a hard constraint here; nothing downstream
// revalidates it.
func ValidateVariants(variants []*domain.Campaign, alloc map[domain.VariantKey]int) error {
	if len(variants) < 2 || len(variants) > 4 {
		return ErrVariantCount
	}

	seen := map[domain.VariantKey]bool{}
	controls := 0
	goal := variants[0].Goal
	for _, v := range variants {
		if !knownKeys[v.VariantKey] {
			return ErrVariantKeyBad
		}
		if seen[v.VariantKey] {
			return ErrVariantKeyDup
		}
		seen[v.VariantKey] = true

		if v.IsControl {
			controls++
			if v.VariantKey != domain.VariantA {
				return ErrControlNotA
			}
		}
		if v.Goal != goal {
			return domain.ErrVariantGoalDrift
		}
	}
	if controls != 1 {
		return ErrControlNotA
	}

	if len(alloc) != len(variants) {
		return ErrAllocationKey
	}
	sum := 0
	for k, pct := range alloc {
		if !seen[k] {
			return ErrAllocationKey
		}
		if pct < 0 {
			return ErrAllocationSum
		}
		sum += pct
	}
	if sum != 100 {
		return ErrAllocationSum
	}
	return nil
}

// Assign buckets a visitor into a variant. The bucket is a deterministic
// hash of (visitorID, experimentID), so a returning visitor lands on the
// same variant without any per-visitor state, and the same visitor can
// land on different variants across experiments.
func Assign(visitorID string, exp domain.Experiment) domain.VariantKey {
	keys := make([]domain.VariantKey, 0, len(exp.TrafficAllocation))
	for k := range exp.TrafficAllocation {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	if len(keys) == 0 {
		return domain.VariantA
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(visitorID))
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write([]byte(exp.ID.String()))
	bucket := int(h.Sum32() % 100)

	cum := 0
	for _, k := range keys {
		cum += exp.TrafficAllocation[k]
		if bucket < cum {
			return k
		}
	}
	// Allocations sum to 100, so this is only reachable on malformed data;
	// fall back to the last key rather than failing the serve path.
	return keys[len(keys)-1]
}
