package planner

import (
	"gridbot/config"
	"gridbot/logger"
)

// BuildGrid produces the entry ladder for one grid cycle. It never fails:
// when the parameters cannot produce a valid ladder it logs the reason and
// returns an empty plan, and the engine waits for the next signal.
func BuildGrid(refPrice, capital float64, bot *config.BotConfig, prec Precision) Plan {
	if refPrice <= 0 || capital <= 0 {
		logger.Warnf("[Planner] %s: no grid, refPrice=%v capital=%v", bot.Symbol, refPrice, capital)
		return nil
	}

	switch bot.Policy {
	case config.PolicyScaledRange:
		return buildScaledRange(refPrice, capital, bot, prec)
	default:
		return buildGeometric(refPrice, capital, bot, prec)
	}
}

// entrySide maps the strategy direction to the side of its entry orders.
func entrySide(dir config.Direction) Side {
	if dir == config.DirectionShort {
		return Sell
	}
	return Buy
}

// levelPrice walks away from the base price by the cumulative step, below it
// for long grids and above it for short grids.
func levelPrice(base, cum float64, dir config.Direction) float64 {
	if dir == config.DirectionShort {
		return base + cum
	}
	return base - cum
}

// basePrice offsets the reference price toward the grid.
func basePrice(ref float64, offset float64, dir config.Direction) float64 {
	if dir == config.DirectionShort {
		return ref * (1 + offset)
	}
	return ref * (1 - offset)
}

// buildScaledRange lays martingale-growing price steps across a fixed share
// of the reference price, then scales martingale-growing sizes so the ladder
// consumes the committed capital. The whole plan is validated against the
// exchange minimum notional before anything is returned: one level below the
// minimum discards the entire ladder, never a partial one.
func buildScaledRange(ref, capital float64, bot *config.BotConfig, prec Precision) Plan {
	p := bot.Params
	n := p.GridSize

	// Price steps: first step fixed by grid_distance, remaining steps grow
	// by martingale_step and are rescaled to fill max_range exactly.
	firstStep := ref * p.GridDistance
	remaining := ref*p.MaxRange - firstStep
	if remaining <= 0 {
		logger.Warnf("[Planner] %s: max_range %.4f leaves no room beyond first step", bot.Symbol, p.MaxRange)
		return nil
	}
	steps := make([]float64, 0, n)
	steps = append(steps, firstStep)
	if n > 1 {
		rawSteps := make([]float64, n-1)
		sum := 0.0
		for i := range rawSteps {
			rawSteps[i] = pow(p.MartingaleStep, i)
			sum += rawSteps[i]
		}
		scale := remaining / sum
		for _, s := range rawSteps {
			steps = append(steps, s*scale)
		}
	}

	base := basePrice(ref, p.Offset, bot.Direction)
	prices := make([]float64, n)
	cum := 0.0
	for i := 0; i < n; i++ {
		cum += steps[i]
		prices[i] = roundTo(levelPrice(base, cum, bot.Direction), prec.Price)
		if prices[i] <= 0 {
			logger.Warnf("[Planner] %s: level %d price fell to %v, no grid", bot.Symbol, i+1, prices[i])
			return nil
		}
	}

	// Sizes: martingale ratios scaled so the total notional equals capital.
	rawSizes := make([]float64, n)
	totalNotional := 0.0
	for i := 0; i < n; i++ {
		rawSizes[i] = pow(p.MartingaleOrder, i)
		totalNotional += rawSizes[i] * prices[i]
	}
	sizeScale := capital / totalNotional

	plan := make(Plan, 0, n)
	side := entrySide(bot.Direction)
	for i := 0; i < n; i++ {
		qty := roundTo(rawSizes[i]*sizeScale, prec.Quantity)
		intent := OrderIntent{Side: side, Price: prices[i], Quantity: qty}
		if intent.Notional() < p.MinNotional {
			logger.Warnf("[Planner] %s: level %d notional %.2f below minimum %.2f, discarding entire grid",
				bot.Symbol, i+1, intent.Notional(), p.MinNotional)
			return nil
		}
		plan = append(plan, intent)
	}
	return plan
}

// buildGeometric spaces levels a fixed grid_distance apart and grows the
// per-level capital geometrically so the series sums to the committed
// capital: size0 = capital*(r-1)/(r^n - 1).
func buildGeometric(ref, capital float64, bot *config.BotConfig, prec Precision) Plan {
	p := bot.Params
	n := p.GridSize
	r := p.SizeMultiplier

	size := capital * (r - 1) / (pow(r, n) - 1)

	plan := make(Plan, 0, n)
	side := entrySide(bot.Direction)
	for i := 0; i < n; i++ {
		cum := ref * float64(i) * p.GridDistance
		price := roundTo(levelPrice(basePrice(ref, p.Offset, bot.Direction), cum, bot.Direction), prec.Price)
		if price <= 0 {
			logger.Warnf("[Planner] %s: level %d price fell to %v, truncating grid", bot.Symbol, i+1, price)
			break
		}
		qty := roundTo(size/price, prec.Quantity)
		plan = append(plan, OrderIntent{Side: side, Price: price, Quantity: qty})
		size *= r
	}
	return plan
}

// pow raises base to a non-negative integer exponent.
func pow(base float64, exp int) float64 {
	out := 1.0
	for i := 0; i < exp; i++ {
		out *= base
	}
	return out
}
