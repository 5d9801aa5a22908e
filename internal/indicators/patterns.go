package indicators

// Engulfing flags two-bar engulfing reversals: +100 bullish, -100 bearish, 0 otherwise.
func Engulfing(open, close []float64) []int {
	out := make([]int, len(close))
	for i := 1; i < len(close); i++ {
		po, pc := open[i-1], close[i-1]
		co, cc := open[i], close[i]
		switch {
		case pc < po && cc > co && cc >= po && co <= pc && (cc > po || co < pc):
			out[i] = 100
		case pc > po && cc < co && co >= pc && cc <= po && (co > pc || cc < po):
			out[i] = -100
		}
	}
	return out
}
