package validation

// matchKey is the composite key the matcher joins on: deterministic
// client_order_id plus the zero-based occurrence index, the pipeline's
// primary matching contract — price/qty equality is a consequence of a
// correct match, not the join key itself.
type matchKey struct {
	ClientOrderID string
	Occurrence    int
}

// MatchedPair is one live trade paired with its corresponding backtest
// trade under the same (client_order_id, occurrence) key.
type MatchedPair struct {
	Live     NormalizedTrade
	Backtest NormalizedTrade
}

// MatchResult partitions live and backtest trades into matched pairs and
// the trades present on only one side.
type MatchResult struct {
	Matched     []MatchedPair
	LiveOnly    []NormalizedTrade
	BacktestOnly []NormalizedTrade
}

// Match joins live and backtest trades by (client_order_id, occurrence).
func Match(live, backtest []NormalizedTrade) MatchResult {
	backtestByKey := make(map[matchKey]NormalizedTrade, len(backtest))
	for _, t := range backtest {
		backtestByKey[matchKey{t.ClientOrderID, t.Occurrence}] = t
	}

	var result MatchResult
	consumed := make(map[matchKey]bool, len(backtest))

	for _, lt := range live {
		key := matchKey{lt.ClientOrderID, lt.Occurrence}
		if bt, ok := backtestByKey[key]; ok {
			result.Matched = append(result.Matched, MatchedPair{Live: lt, Backtest: bt})
			consumed[key] = true
			continue
		}
		result.LiveOnly = append(result.LiveOnly, lt)
	}

	for _, bt := range backtest {
		key := matchKey{bt.ClientOrderID, bt.Occurrence}
		if !consumed[key] {
			result.BacktestOnly = append(result.BacktestOnly, bt)
		}
	}

	return result
}
