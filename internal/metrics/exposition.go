package metrics

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"

	"github.com/meshfield/meshfield/pkg/types"
)

const namespace = "meshfield"

// Phases are the coordinator's wall-clock timings for one run.
type Phases struct {
	Compute  time.Duration `json:"compute_ns"`
	Gather   time.Duration `json:"gather_ns"`
	Assemble time.Duration `json:"assemble_ns"`
}

// Summary is everything the exposition covers for one run.
type Summary struct {
	Output  Output
	Samples []types.PerformanceSample
	Phases  Phases
}

// Families converts s into Prometheus metric families, sorted by name.
func (s Summary) Families() []*dto.MetricFamily {
	o := s.Output
	fams := []*dto.MetricFamily{
		gauge("workers", "Number of ranks that took part in the run.", float64(o.Workers)),
		gauge("total_elapsed_seconds", "Slowest rank's compute time.", o.TotalElapsed.Seconds()),
		counter("pixels_total", "Grid points computed across all ranks.", float64(o.TotalPixels)),
		gauge("throughput_pixels_per_second", "Total pixels divided by total elapsed time.", o.Throughput),
		gauge("load_balance_efficiency_percent", "Fastest over slowest rank time, as a percentage.", o.LoadBalanceEfficiency),
		gauge("sequential_estimate_seconds", "Estimated single-rank compute time.", o.SequentialEstimate.Seconds()),
		gauge("speedup_estimate", "Sequential estimate divided by total elapsed time.", o.SpeedupEstimate),
		gauge("parallel_efficiency_percent", "Speedup estimate per rank, as a percentage.", o.ParallelEfficiency),
		gauge("unique_hosts", "Distinct hosts the ranks ran on.", float64(o.UniqueHosts)),
		{
			Name: proto.String(namespace + "_phase_seconds"),
			Help: proto.String("Coordinator wall-clock time per run phase."),
			Type: dto.MetricType_GAUGE.Enum(),
			Metric: []*dto.Metric{
				gaugeMetric(s.Phases.Compute.Seconds(), "phase", "compute"),
				gaugeMetric(s.Phases.Gather.Seconds(), "phase", "gather"),
				gaugeMetric(s.Phases.Assemble.Seconds(), "phase", "assemble"),
			},
		},
	}

	if len(s.Samples) > 0 {
		elapsed := &dto.MetricFamily{
			Name: proto.String(namespace + "_rank_elapsed_seconds"),
			Help: proto.String("Per-rank compute time."),
			Type: dto.MetricType_GAUGE.Enum(),
		}
		pixels := &dto.MetricFamily{
			Name: proto.String(namespace + "_rank_pixels_total"),
			Help: proto.String("Per-rank grid points computed."),
			Type: dto.MetricType_COUNTER.Enum(),
		}
		for _, smp := range s.Samples {
			rank := strconv.Itoa(smp.Rank)
			elapsed.Metric = append(elapsed.Metric, gaugeMetric(smp.Elapsed.Seconds(), "host", smp.Host, "rank", rank))
			pixels.Metric = append(pixels.Metric, &dto.Metric{
				Label:   labels("host", smp.Host, "rank", rank),
				Counter: &dto.Counter{Value: proto.Float64(float64(smp.Pixels))},
			})
		}
		fams = append(fams, elapsed, pixels)
	}

	sort.Slice(fams, func(i, j int) bool { return fams[i].GetName() < fams[j].GetName() })
	return fams
}

// WriteText writes s in the Prometheus text exposition format.
func WriteText(w io.Writer, s Summary) error {
	for _, mf := range s.Families() {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("metrics: write %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

func gauge(name, help string, v float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   proto.String(namespace + "_" + name),
		Help:   proto.String(help),
		Type:   dto.MetricType_GAUGE.Enum(),
		Metric: []*dto.Metric{gaugeMetric(v)},
	}
}

func counter(name, help string, v float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   proto.String(namespace + "_" + name),
		Help:   proto.String(help),
		Type:   dto.MetricType_COUNTER.Enum(),
		Metric: []*dto.Metric{{Counter: &dto.Counter{Value: proto.Float64(v)}}},
	}
}

func gaugeMetric(v float64, kv ...string) *dto.Metric {
	return &dto.Metric{
		Label: labels(kv...),
		Gauge: &dto.Gauge{Value: proto.Float64(v)},
	}
}

// labels builds label pairs from alternating names and values. Names must be
// passed in sorted order.
func labels(kv ...string) []*dto.LabelPair {
	out := make([]*dto.LabelPair, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, &dto.LabelPair{Name: proto.String(kv[i]), Value: proto.String(kv[i+1])})
	}
	return out
}
