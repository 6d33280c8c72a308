package throughput

import "math"

// stabilityThreshold is the maximum FPS standard deviation as a fraction of
// the mean. 30 FPS mean is stable if stddev < 4.5 FPS.
const stabilityThreshold = 0.15

// Summary describes the distribution of per-window FPS values.
type Summary struct {
	Windows int
	Mean    float64
	StdDev  float64
	Min     float64
	Max     float64

	// Stable is true when StdDev < 15% of Mean. Always false with fewer
	// than two windows or a zero mean.
	Stable bool
}

// Summarize computes a Summary from per-window FPS values.
func Summarize(windows []float64) Summary {
	n := len(windows)
	if n == 0 {
		return Summary{}
	}

	s := Summary{Windows: n, Min: windows[0], Max: windows[0]}

	var sum float64
	for _, fps := range windows {
		sum += fps
		if fps < s.Min {
			s.Min = fps
		}
		if fps > s.Max {
			s.Max = fps
		}
	}
	s.Mean = sum / float64(n)

	var sumSquares float64
	for _, fps := range windows {
		diff := fps - s.Mean
		sumSquares += diff * diff
	}
	s.StdDev = math.Sqrt(sumSquares / float64(n))

	s.Stable = n >= 2 && s.Mean > 0 && s.StdDev < s.Mean*stabilityThreshold
	return s
}
