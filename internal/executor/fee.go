package executor

import (
	"context"
	"sort"
	"sync"
	"time"
)

const (
	feeSampleWindow = 20
	feeCacheTTL     = 5 * time.Second
	minPriorityFee  = 0.0001
	maxPriorityFee  = 0.01
)

// FeeSampler returns recent priority-fee samples from the network, most
// recent first. A real implementation queries the swap backend's RPC;
// zero samples are excluded from the percentile per spec §4.6. A nil
// FeeSampler yields no samples, so the fee falls back to minPriorityFee.
type FeeSampler interface {
	RecentFees(ctx context.Context) ([]float64, error)
}

// feeCalculator computes the dynamic priority fee: the 75th percentile
// over the 20 most-recent non-zero samples, clamped and cached for 5s.
type feeCalculator struct {
	sampler FeeSampler

	mu        sync.Mutex
	cached    float64
	cachedAt  time.Time
}

func newFeeCalculator(sampler FeeSampler) *feeCalculator {
	return &feeCalculator{sampler: sampler}
}

func (f *feeCalculator) compute(ctx context.Context) (float64, error) {
	f.mu.Lock()
	if !f.cachedAt.IsZero() && time.Since(f.cachedAt) < feeCacheTTL {
		fee := f.cached
		f.mu.Unlock()
		return fee, nil
	}
	f.mu.Unlock()

	var samples []float64
	if f.sampler != nil {
		var err error
		samples, err = f.sampler.RecentFees(ctx)
		if err != nil {
			return 0, err
		}
	}

	nonZero := make([]float64, 0, len(samples))
	for _, s := range samples {
		if s != 0 {
			nonZero = append(nonZero, s)
		}
		if len(nonZero) == feeSampleWindow {
			break
		}
	}

	fee := minPriorityFee
	if len(nonZero) > 0 {
		sort.Float64s(nonZero)
		fee = percentile75(nonZero)
		if fee < minPriorityFee {
			fee = minPriorityFee
		}
		if fee > maxPriorityFee {
			fee = maxPriorityFee
		}
	}

	f.mu.Lock()
	f.cached = fee
	f.cachedAt = time.Now()
	f.mu.Unlock()

	return fee, nil
}

// percentile75 expects a sorted ascending slice.
func percentile75(sorted []float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	idx := int(float64(len(sorted)-1) * 0.75)
	return sorted[idx]
}
