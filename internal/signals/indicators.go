package signals

import "math"

// SMA returns the simple moving average over period values. The first
// period-1 entries are NaN.
func SMA(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	for i := range values {
		if period < 1 || i < period-1 {
			out[i] = math.NaN()
			continue
		}
		sum := 0.0
		for _, v := range values[i-period+1 : i+1] {
			sum += v
		}
		out[i] = sum / float64(period)
	}
	return out
}

// EMA returns the exponential moving average with alpha = 2/(span+1),
// seeded with the first value and defined from the first entry on.
func EMA(values []float64, span int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	alpha := 2.0 / (float64(span) + 1)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// RSI returns the relative strength index using simple rolling means of
// gains and losses over period. The first change is taken as zero, so RSI is
// defined from index period-1. RSI is NaN whenever the mean loss is zero.
func RSI(values []float64, period int) []float64 {
	gains := make([]float64, len(values))
	losses := make([]float64, len(values))
	for i := 1; i < len(values); i++ {
		d := values[i] - values[i-1]
		if d > 0 {
			gains[i] = d
		} else if d < 0 {
			losses[i] = -d
		}
	}

	avgGain := SMA(gains, period)
	avgLoss := SMA(losses, period)

	out := make([]float64, len(values))
	for i := range values {
		if math.IsNaN(avgGain[i]) || math.IsNaN(avgLoss[i]) || avgLoss[i] == 0 {
			out[i] = math.NaN()
			continue
		}
		rs := avgGain[i] / avgLoss[i]
		out[i] = 100 - 100/(1+rs)
	}
	return out
}
