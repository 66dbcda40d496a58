// Package ensemble combines per-model votes into a single trading signal.
package ensemble

import (
	"ensemble-trader/internal/config"
	"ensemble-trader/internal/models"
)

// Combiner turns a list of per-model votes into one CombinedSignal.
// Combination is pure and stateless; the strategy is fixed for the life
// of a run. A model whose prediction failed is simply absent from the
// vote list and never aborts combination.
type Combiner struct {
	strategy      string
	minConfidence float64
}

// NewCombiner creates a combiner from validated configuration.
func NewCombiner(cfg config.EnsembleConfig) *Combiner {
	return &Combiner{
		strategy:      cfg.Strategy,
		minConfidence: cfg.MinCombinedConfidence,
	}
}

// Combine produces the combined signal for the current decision cycle.
// Zero votes degrade to a non-actionable HOLD rather than failing.
func (c *Combiner) Combine(votes []models.ModelVote) models.CombinedSignal {
	if len(votes) == 0 {
		return holdSignal()
	}

	switch c.strategy {
	case config.StrategyWeighted:
		return c.combineWeighted(votes)
	case config.StrategyVoting:
		return c.combineVoting(votes)
	default:
		return c.combineConfirmation(votes)
	}
}

// combineConfirmation requires every present vote to carry the same
// non-HOLD label. Disagreement is not an error; it is the conservative
// default of HOLD. Confidence is the minimum across votes.
func (c *Combiner) combineConfirmation(votes []models.ModelVote) models.CombinedSignal {
	label := votes[0].Label
	minConf := votes[0].Confidence
	for _, v := range votes[1:] {
		if v.Label != label {
			return holdSignal()
		}
		if v.Confidence < minConf {
			minConf = v.Confidence
		}
	}
	if label == models.Hold {
		return holdSignal()
	}

	return models.CombinedSignal{
		Label:          label,
		Confidence:     minConf,
		ModelsAgree:    true,
		AgreementLevel: 1.0,
		Actionable:     minConf >= c.minConfidence,
	}
}

// combineWeighted averages the discrete labels (SELL=0, HOLD=1, BUY=2)
// by vote weight and maps the average back through fixed thresholds.
func (c *Combiner) combineWeighted(votes []models.ModelVote) models.CombinedSignal {
	var weightSum, labelSum, confSum float64
	for _, v := range votes {
		weightSum += v.Weight
		labelSum += float64(v.Label) * v.Weight
		confSum += v.Confidence * v.Weight
	}
	if weightSum == 0 {
		return holdSignal()
	}

	weightedAvg := labelSum / weightSum
	weightedConf := confSum / weightSum

	label := models.Hold
	if weightedAvg > 1.5 {
		label = models.Buy
	} else if weightedAvg < 0.5 {
		label = models.Sell
	}

	agreement := labelAgreement(votes, label)

	return models.CombinedSignal{
		Label:          label,
		Confidence:     weightedConf,
		ModelsAgree:    agreement == 1.0,
		AgreementLevel: agreement,
		Actionable:     label != models.Hold && weightedConf >= c.minConfidence,
	}
}

// combineVoting takes a majority vote over discrete labels. Ties are
// broken deterministically: highest summed confidence wins, then HOLD,
// then SELL over BUY (most conservative ordering).
func (c *Combiner) combineVoting(votes []models.ModelVote) models.CombinedSignal {
	counts := make(map[models.Label]int)
	confSums := make(map[models.Label]float64)
	for _, v := range votes {
		counts[v.Label]++
		confSums[v.Label] += v.Confidence
	}

	winner := majorityLabel(counts, confSums)

	conf := confSums[winner] / float64(counts[winner])
	agreement := labelAgreement(votes, winner)

	return models.CombinedSignal{
		Label:          winner,
		Confidence:     conf,
		ModelsAgree:    agreement == 1.0,
		AgreementLevel: agreement,
		Actionable:     winner != models.Hold && conf >= c.minConfidence,
	}
}

// majorityLabel picks the label with the most votes. tieRank orders
// HOLD before SELL before BUY so the conservative label wins when both
// vote count and summed confidence tie.
func majorityLabel(counts map[models.Label]int, confSums map[models.Label]float64) models.Label {
	tieRank := map[models.Label]int{models.Hold: 0, models.Sell: 1, models.Buy: 2}

	winner := models.Hold
	bestCount := -1
	for _, label := range []models.Label{models.Hold, models.Sell, models.Buy} {
		count, ok := counts[label]
		if !ok {
			continue
		}
		switch {
		case count > bestCount:
			winner, bestCount = label, count
		case count == bestCount:
			if confSums[label] > confSums[winner] ||
				(confSums[label] == confSums[winner] && tieRank[label] < tieRank[winner]) {
				winner = label
			}
		}
	}
	return winner
}

// labelAgreement returns the fraction of votes matching label.
func labelAgreement(votes []models.ModelVote, label models.Label) float64 {
	var matching int
	for _, v := range votes {
		if v.Label == label {
			matching++
		}
	}
	return float64(matching) / float64(len(votes))
}

func holdSignal() models.CombinedSignal {
	return models.CombinedSignal{
		Label:          models.Hold,
		Confidence:     0,
		ModelsAgree:    false,
		AgreementLevel: 0,
		Actionable:     false,
	}
}
