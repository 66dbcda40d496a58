package ensemble

import (
	"math"
	"testing"

	"ensemble-trader/internal/config"
	"ensemble-trader/internal/models"
)

func newTestCombiner(strategy string, minConf float64) *Combiner {
	return NewCombiner(config.EnsembleConfig{
		Strategy:              strategy,
		MinCombinedConfidence: minConf,
	})
}

func vote(label models.Label, conf, weight float64) models.ModelVote {
	return models.ModelVote{Timeframe: "1h", Label: label, Confidence: conf, Weight: weight}
}

func TestConfirmationAllAgree(t *testing.T) {
	c := newTestCombiner(config.StrategyConfirmation, 0.5)

	sig := c.Combine([]models.ModelVote{
		vote(models.Buy, 0.8, 1),
		vote(models.Buy, 0.6, 1),
	})

	if sig.Label != models.Buy {
		t.Errorf("label = %v, want BUY", sig.Label)
	}
	if sig.Confidence != 0.6 {
		t.Errorf("confidence = %v, want min(0.8, 0.6) = 0.6", sig.Confidence)
	}
	if sig.AgreementLevel != 1.0 {
		t.Errorf("agreement = %v, want 1.0", sig.AgreementLevel)
	}
	if !sig.Actionable {
		t.Error("signal should be actionable above min confidence")
	}
}

func TestConfirmationDisagreement(t *testing.T) {
	c := newTestCombiner(config.StrategyConfirmation, 0.5)

	sig := c.Combine([]models.ModelVote{
		vote(models.Buy, 0.9, 1),
		vote(models.Sell, 0.9, 1),
	})

	if sig.Label != models.Hold {
		t.Errorf("label = %v, want HOLD on disagreement", sig.Label)
	}
	if sig.Confidence != 0 {
		t.Errorf("confidence = %v, want 0", sig.Confidence)
	}
	if sig.Actionable {
		t.Error("disagreement must not be actionable")
	}
}

func TestConfirmationAllHold(t *testing.T) {
	c := newTestCombiner(config.StrategyConfirmation, 0.1)

	sig := c.Combine([]models.ModelVote{
		vote(models.Hold, 0.9, 1),
		vote(models.Hold, 0.9, 1),
	})

	if sig.Label != models.Hold || sig.Actionable {
		t.Errorf("all-HOLD must stay a non-actionable HOLD, got %+v", sig)
	}
}

func TestConfirmationSingleVoteAutoAgrees(t *testing.T) {
	c := newTestCombiner(config.StrategyConfirmation, 0.5)

	sig := c.Combine([]models.ModelVote{vote(models.Sell, 0.7, 1)})

	if sig.Label != models.Sell {
		t.Errorf("label = %v, want SELL", sig.Label)
	}
	if sig.Confidence != 0.7 {
		t.Errorf("confidence = %v, want the single model's 0.7", sig.Confidence)
	}
	if !sig.ModelsAgree {
		t.Error("single vote counts as agreement")
	}
}

func TestWeightedAverage(t *testing.T) {
	c := newTestCombiner(config.StrategyWeighted, 0.6)

	sig := c.Combine([]models.ModelVote{
		vote(models.Buy, 0.8, 0.7),
		vote(models.Buy, 0.6, 0.3),
	})

	if sig.Label != models.Buy {
		t.Errorf("label = %v, want BUY (weightedAvg = 2.0)", sig.Label)
	}
	if math.Abs(sig.Confidence-0.74) > 1e-9 {
		t.Errorf("weighted confidence = %v, want 0.74", sig.Confidence)
	}
	if !sig.Actionable {
		t.Error("BUY at 0.74 should be actionable at threshold 0.6")
	}
}

func TestWeightedThresholds(t *testing.T) {
	c := newTestCombiner(config.StrategyWeighted, 0.0)

	tests := []struct {
		name  string
		votes []models.ModelVote
		want  models.Label
	}{
		{
			"all sell maps below 0.5",
			[]models.ModelVote{vote(models.Sell, 0.9, 1), vote(models.Sell, 0.9, 1)},
			models.Sell,
		},
		{
			"mixed lands in hold band",
			[]models.ModelVote{vote(models.Buy, 0.9, 1), vote(models.Sell, 0.9, 1)},
			models.Hold,
		},
		{
			"buy-lean stays hold until above 1.5",
			[]models.ModelVote{vote(models.Buy, 0.9, 1), vote(models.Hold, 0.9, 1)},
			models.Hold,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if sig := c.Combine(tt.votes); sig.Label != tt.want {
				t.Errorf("label = %v, want %v", sig.Label, tt.want)
			}
		})
	}
}

func TestWeightedHoldNeverActionable(t *testing.T) {
	c := newTestCombiner(config.StrategyWeighted, 0.0)

	sig := c.Combine([]models.ModelVote{
		vote(models.Buy, 0.9, 1),
		vote(models.Sell, 0.9, 1),
	})

	if sig.Actionable {
		t.Error("HOLD label must never be actionable regardless of confidence")
	}
}

func TestVotingMajority(t *testing.T) {
	c := newTestCombiner(config.StrategyVoting, 0.5)

	sig := c.Combine([]models.ModelVote{
		vote(models.Buy, 0.8, 1),
		vote(models.Buy, 0.6, 1),
		vote(models.Sell, 0.9, 1),
	})

	if sig.Label != models.Buy {
		t.Errorf("label = %v, want majority BUY", sig.Label)
	}
	if math.Abs(sig.Confidence-0.7) > 1e-9 {
		t.Errorf("confidence = %v, want mean(0.8, 0.6) = 0.7", sig.Confidence)
	}
	if math.Abs(sig.AgreementLevel-2.0/3.0) > 1e-9 {
		t.Errorf("agreement = %v, want 2/3", sig.AgreementLevel)
	}
}

func TestVotingTieBreakByConfidence(t *testing.T) {
	c := newTestCombiner(config.StrategyVoting, 0.0)

	// One BUY and one SELL vote: the higher summed confidence wins.
	sig := c.Combine([]models.ModelVote{
		vote(models.Buy, 0.9, 1),
		vote(models.Sell, 0.4, 1),
	})

	if sig.Label != models.Buy {
		t.Errorf("label = %v, want BUY (higher confidence side of the tie)", sig.Label)
	}
}

func TestVotingTieBreakConservative(t *testing.T) {
	c := newTestCombiner(config.StrategyVoting, 0.0)

	// Equal counts and equal confidence: SELL is preferred over BUY.
	sig := c.Combine([]models.ModelVote{
		vote(models.Buy, 0.8, 1),
		vote(models.Sell, 0.8, 1),
	})

	if sig.Label != models.Sell {
		t.Errorf("label = %v, want SELL on a dead tie", sig.Label)
	}
}

func TestZeroVotesDegradeToHold(t *testing.T) {
	for _, strategy := range []string{config.StrategyConfirmation, config.StrategyWeighted, config.StrategyVoting} {
		c := newTestCombiner(strategy, 0.5)
		sig := c.Combine(nil)
		if sig.Label != models.Hold || sig.Confidence != 0 || sig.Actionable {
			t.Errorf("%s: zero votes = %+v, want non-actionable HOLD", strategy, sig)
		}
	}
}
