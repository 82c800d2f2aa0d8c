package indicator

import "math"

// SMA calculates Simple Moving Average
// Returns slice of length: len(prices) - period + 1
func SMA(prices []float64, period int) []float64 {
	if period <= 0 || len(prices) < period {
		return []float64{}
	}

	result := make([]float64, 0, len(prices)-period+1)

	// Calculate first SMA
	var sum float64
	for i := 0; i < period; i++ {
		sum += prices[i]
	}
	result = append(result, sum/float64(period))

	// Rolling calculation
	for i := period; i < len(prices); i++ {
		sum = sum - prices[i-period] + prices[i]
		result = append(result, sum/float64(period))
	}

	return result
}

// HighestHigh returns the maximum of the last n values, or NaN when fewer
// than n values are available.
func HighestHigh(values []float64, n int) float64 {
	if n <= 0 || len(values) < n {
		return math.NaN()
	}
	high := math.Inf(-1)
	for _, v := range values[len(values)-n:] {
		if v > high {
			high = v
		}
	}
	return high
}

// LowestLow returns the minimum of the last n values, or NaN when fewer
// than n values are available.
func LowestLow(values []float64, n int) float64 {
	if n <= 0 || len(values) < n {
		return math.NaN()
	}
	low := math.Inf(1)
	for _, v := range values[len(values)-n:] {
		if v < low {
			low = v
		}
	}
	return low
}

// AvgRange returns the mean of (high-low) over the last n bars, or NaN when
// fewer than n bars are available.
func AvgRange(highs, lows []float64, n int) float64 {
	if n <= 0 || len(highs) < n || len(lows) != len(highs) {
		return math.NaN()
	}
	var sum float64
	for i := len(highs) - n; i < len(highs); i++ {
		sum += highs[i] - lows[i]
	}
	return sum / float64(n)
}
