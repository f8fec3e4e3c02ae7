package executor

// TickSize returns the KRX quoting unit for price. Bands widen with price.
func TickSize(price float64) float64 {
	switch {
	case price < 1000:
		return 1
	case price < 5000:
		return 5
	case price < 10000:
		return 10
	case price < 50000:
		return 50
	case price < 100000:
		return 100
	case price < 500000:
		return 500
	default:
		return 1000
	}
}
