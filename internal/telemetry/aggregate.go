package telemetry

import "time"

// latencyBuckets are the upper bounds used for duration percentiles.
var latencyBuckets = []time.Duration{
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
	2500 * time.Millisecond,
	5 * time.Second,
	10 * time.Second,
	30 * time.Second,
	60 * time.Second,
}

// family keeps lifetime aggregates plus a bounded window of recent values.
type family struct {
	count  int64
	sum    float64
	window []float64
	next   int
	filled bool
}

func newFamily(size int) *family {
	return &family{window: make([]float64, size)}
}

func (f *family) add(v float64) {
	f.count++
	f.sum += v
	f.window[f.next] = v
	f.next = (f.next + 1) % len(f.window)
	if f.next == 0 {
		f.filled = true
	}
}

// recent returns the window oldest first.
func (f *family) recent() []float64 {
	if !f.filled {
		out := make([]float64, f.next)
		copy(out, f.window[:f.next])
		return out
	}
	out := make([]float64, 0, len(f.window))
	out = append(out, f.window[f.next:]...)
	return append(out, f.window[:f.next]...)
}

func (f *family) mean() float64 {
	if f.count == 0 {
		return 0
	}
	return f.sum / float64(f.count)
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var s float64
	for _, v := range vals {
		s += v
	}
	return s / float64(len(vals))
}

// Trend compares the newest n samples with the n before them.
type Trend struct {
	Recent   float64 `json:"recent"`
	Previous float64 `json:"previous"`
	Delta    float64 `json:"delta"`
}

func trend(vals []float64, n int) Trend {
	if len(vals) == 0 {
		return Trend{}
	}
	recentStart := max(len(vals)-n, 0)
	prevStart := max(recentStart-n, 0)
	t := Trend{Recent: mean(vals[recentStart:])}
	if recentStart > prevStart {
		t.Previous = mean(vals[prevStart:recentStart])
		t.Delta = t.Recent - t.Previous
	}
	return t
}

// percentile returns the upper bound of the bucket holding the p-th fraction of the
// values, interpreted as milliseconds. Values above the last bucket report the max.
func percentile(vals []float64, p float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	counts := make([]int, len(latencyBuckets)+1)
	var maxVal float64
	for _, v := range vals {
		maxVal = max(maxVal, v)
		i := 0
		for i < len(latencyBuckets) && v > float64(latencyBuckets[i].Milliseconds()) {
			i++
		}
		counts[i]++
	}
	target := p * float64(len(vals))
	cum := 0
	for i, c := range counts {
		cum += c
		if float64(cum) >= target {
			if i == len(latencyBuckets) {
				return maxVal
			}
			return float64(latencyBuckets[i].Milliseconds())
		}
	}
	return maxVal
}
