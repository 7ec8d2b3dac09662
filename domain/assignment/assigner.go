// Package assignment splits a lead list into the two treatment groups.
package assignment

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"time"

	"callsplit/domain/core"
	"callsplit/domain/experiment"
)

// Assign maps every lead to a group. Deterministic when cfg.Seed is set,
// otherwise time-seeded. Output order follows the input lead order.
func Assign(leads []experiment.Lead, cfg experiment.AssignmentConfig) ([]experiment.Assignment, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(leads) == 0 {
		return nil, core.ErrEmptyLeadList
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	switch cfg.Mode {
	case experiment.ModeRandomOneToOne:
		return assignOneToOne(leads), nil
	case experiment.ModeStratified:
		return assignStratified(leads, cfg.BlockSize, seed), nil
	default:
		return nil, core.ErrMissingMode
	}
}

// assignOneToOne streams leads into whichever group currently has fewer
// members, ties broken toward A. |countA - countB| <= 1 holds at every
// prefix of the input order, not just at the end.
func assignOneToOne(leads []experiment.Lead) []experiment.Assignment {
	out := make([]experiment.Assignment, 0, len(leads))
	countA, countB := 0, 0
	for i, lead := range leads {
		group := core.GroupA
		if countB < countA {
			group = core.GroupB
		}
		if group == core.GroupA {
			countA++
		} else {
			countB++
		}
		out = append(out, experiment.Assignment{
			LeadID: lead.ID,
			Group:  group,
			Reason: fmt.Sprintf("random_1_to_1: position %d, running counts A=%d B=%d", i+1, countA, countB),
			Metadata: map[string]string{
				"mode": string(experiment.ModeRandomOneToOne),
			},
		})
	}
	return out
}

// assignStratified partitions leads by sector x region, splits each stratum
// into fixed-size blocks, shuffles each block with a seeded Fisher-Yates and
// alternates labels by position. Imbalance stays within one lead per block
// even when strata are small.
func assignStratified(leads []experiment.Lead, blockSize int, seed int64) []experiment.Assignment {
	strata := make(map[string][]experiment.Lead)
	var order []string
	for _, lead := range leads {
		key := lead.StratumKey()
		if _, ok := strata[key]; !ok {
			order = append(order, key)
		}
		strata[key] = append(strata[key], lead)
	}

	byLead := make(map[core.LeadID]experiment.Assignment, len(leads))
	for _, key := range order {
		rng := rand.New(rand.NewSource(seed + stratumOffset(key)))
		members := strata[key]
		for blockIdx := 0; blockIdx*blockSize < len(members); blockIdx++ {
			lo := blockIdx * blockSize
			hi := lo + blockSize
			if hi > len(members) {
				hi = len(members)
			}
			block := make([]experiment.Lead, hi-lo)
			copy(block, members[lo:hi])
			rng.Shuffle(len(block), func(i, j int) {
				block[i], block[j] = block[j], block[i]
			})
			for pos, lead := range block {
				group := core.GroupA
				if pos%2 == 1 {
					group = core.GroupB
				}
				byLead[lead.ID] = experiment.Assignment{
					LeadID: lead.ID,
					Group:  group,
					Reason: fmt.Sprintf("stratified: stratum %q block %d slot %d", key, blockIdx+1, pos+1),
					Metadata: map[string]string{
						"mode":    string(experiment.ModeStratified),
						"stratum": key,
						"block":   fmt.Sprintf("%d", blockIdx+1),
					},
				}
			}
		}
	}

	// Preserve input order in the output.
	out := make([]experiment.Assignment, 0, len(leads))
	for _, lead := range leads {
		out = append(out, byLead[lead.ID])
	}
	return out
}

// stratumOffset derives a stable per-stratum seed offset so shuffles differ
// between strata but stay reproducible.
func stratumOffset(key string) int64 {
	h := fnv.New64a()
	h.Write([]byte(key))
	return int64(h.Sum64() & 0x7fffffff)
}
