package strategy

import "breakout-trader-go/internal/models"

// isBullishEngulfing reports whether cur is a bullish candle whose body
// engulfs the body of a bearish prev.
func isBullishEngulfing(prev, cur models.Bar) bool {
	return prev.IsBearish() && cur.IsBullish() &&
		cur.Open <= prev.Close && cur.Close >= prev.Open
}

// isBearishEngulfing is the mirror for short setups.
func isBearishEngulfing(prev, cur models.Bar) bool {
	return prev.IsBullish() && cur.IsBearish() &&
		cur.Open >= prev.Close && cur.Close <= prev.Open
}

// isHammer reports a small-bodied bar with a lower wick at least twice the
// body, closing in the upper part of its range.
func isHammer(b models.Bar) bool {
	body := b.Body()
	if body == 0 || b.Range() == 0 {
		return false
	}
	bodyLow := b.Open
	if b.Close < b.Open {
		bodyLow = b.Close
	}
	lowerWick := bodyLow - b.Low
	bodyHigh := b.Open
	if b.Close > b.Open {
		bodyHigh = b.Close
	}
	upperWick := b.High - bodyHigh
	return lowerWick >= 2*body && upperWick <= body
}

// isShootingStar is the mirror of isHammer: long upper wick, small body near
// the low of the range.
func isShootingStar(b models.Bar) bool {
	body := b.Body()
	if body == 0 || b.Range() == 0 {
		return false
	}
	bodyHigh := b.Open
	if b.Close > b.Open {
		bodyHigh = b.Close
	}
	upperWick := b.High - bodyHigh
	bodyLow := b.Open
	if b.Close < b.Open {
		bodyLow = b.Close
	}
	lowerWick := bodyLow - b.Low
	return upperWick >= 2*body && lowerWick <= body
}

// isReversalPattern reports whether the bar pair forms a reversal in the
// direction of the given side.
func isReversalPattern(prev, cur models.Bar, side models.Side) bool {
	if side == models.SideLong {
		return isBullishEngulfing(prev, cur) || isHammer(cur)
	}
	return isBearishEngulfing(prev, cur) || isShootingStar(cur)
}
