package metrics

import (
	"errors"
	"time"

	"github.com/meshfield/meshfield/pkg/types"
)

// minElapsed is the clock resolution floor applied to every sample.
const minElapsed = time.Nanosecond

// Output holds the aggregate figures of one run.
type Output struct {
	Workers               int           `json:"workers"`
	TotalElapsed          time.Duration `json:"total_elapsed_ns"`
	TotalPixels           int64         `json:"total_pixels"`
	Throughput            float64       `json:"throughput_pixels_per_second"`
	LoadBalanceEfficiency float64       `json:"load_balance_efficiency_percent"`
	SequentialEstimate    time.Duration `json:"sequential_estimate_ns"`
	SpeedupEstimate       float64       `json:"speedup_estimate"`
	ParallelEfficiency    float64       `json:"parallel_efficiency_percent"`
	FastestRank           int           `json:"fastest_rank"`
	SlowestRank           int           `json:"slowest_rank"`
	UniqueHosts           int           `json:"unique_hosts"`
}

// Compute aggregates samples, one per rank.
func Compute(samples []types.PerformanceSample) (Output, error) {
	if len(samples) == 0 {
		return Output{}, errors.New("metrics: no samples")
	}

	out := Output{Workers: len(samples)}
	hosts := make(map[string]struct{}, len(samples))
	var (
		minE, maxE time.Duration
		sumE       time.Duration
	)
	for i, s := range samples {
		e := s.Elapsed
		if e < minElapsed {
			e = minElapsed
		}
		if i == 0 || e < minE {
			minE, out.FastestRank = e, s.Rank
		}
		if i == 0 || e > maxE {
			maxE, out.SlowestRank = e, s.Rank
		}
		sumE += e
		out.TotalPixels += s.Pixels
		hosts[s.Host] = struct{}{}
	}
	out.UniqueHosts = len(hosts)
	out.TotalElapsed = maxE

	total := maxE.Seconds()
	out.Throughput = float64(out.TotalPixels) / total
	out.LoadBalanceEfficiency = float64(minE) / float64(maxE) * 100

	// Σ elapsed stands in for the sequential time when no pixels were
	// computed: the rate is undefined but the ratio's limit is well defined.
	seq := sumE
	if out.TotalPixels > 0 {
		rate := float64(out.TotalPixels) / sumE.Seconds()
		seq = time.Duration(float64(out.TotalPixels) / rate * float64(time.Second))
	}
	out.SequentialEstimate = seq
	out.SpeedupEstimate = seq.Seconds() / total
	out.ParallelEfficiency = out.SpeedupEstimate / float64(out.Workers) * 100
	return out, nil
}
