package chain

import "oraclegridd/metrics"

// BuildTally closes a data request, given its funded reward/collateral
// economics and the set of reveals collected during the reveal phase.
// liars are reveal indices whose value disagreed with the tally script's
// consensus result (the data request's RadonScript is opaque to this
// node; the caller supplies the already-computed consensus outcome and
// per-witness correctness).
func BuildTally(dr OutputPointer, reward DataRequestOutput, reveals []RevealTransaction, correct []bool, witnessPKH []PKH, result []byte) TallyTransaction {
	var errors, liars []uint16
	var outputs []ValueTransferOutput
	var truthfulCount int

	for i := range reveals {
		if i >= len(correct) {
			errors = append(errors, uint16(i))
			continue
		}
		if correct[i] {
			truthfulCount++
		} else {
			liars = append(liars, uint16(i))
		}
	}

	metrics.DataRequestsResolved.Inc()

	if truthfulCount == 0 {
		// Zero-truther rule: every witness disagreed (or no reveals came
		// in at all), so the entire bounty including collateral is burned
		// to the unspendable zero PKH rather than refunded or split.
		outputs = append(outputs, ValueTransferOutput{
			PKH:       PKH{},
			ValueNann: reward.WitnessReward*uint64(len(reveals)) + reward.Collateral*uint64(len(reveals)),
		})
		return TallyTransaction{DRPointer: dr, Result: result, Outputs: outputs, Errors: errors, Liars: liars}
	}

	share := reward.WitnessReward + reward.Collateral
	for i := range reveals {
		if i < len(correct) && correct[i] && i < len(witnessPKH) {
			outputs = append(outputs, ValueTransferOutput{PKH: witnessPKH[i], ValueNann: share})
		}
	}

	// Liars' collateral is slashed: redistributed pro-rata to the
	// truthful witnesses rather than refunded to the liar.
	slashed := reward.Collateral * uint64(len(liars))
	if slashed > 0 && truthfulCount > 0 {
		per := slashed / uint64(truthfulCount)
		for i := range outputs {
			outputs[i].ValueNann += per
		}
	}

	return TallyTransaction{DRPointer: dr, Result: result, Outputs: outputs, Errors: errors, Liars: liars}
}

// ApplyTallyReputation feeds a resolved tally's outcome into the
// reputation engine: truthful witnesses gain issuance expiring at
// expireAtAlpha, liars are penalized via the fixed-point
// penalization_factor^lies_count mechanism, and push_activity records
// every committer as active this tick regardless of correctness
// (non-participants are not recorded). Returns the total amount removed
// from liars' reputation, for the caller to fold into the tally's
// truther bounty.
func ApplyTallyReputation(rep *ReputationEngine, expireAtAlpha uint32, witnessPKH []PKH, correct []bool, issuance uint64, liesCount uint32) uint64 {
	var gains []ReputationDiff
	var active []PKH
	var removed uint64

	for i, pkh := range witnessPKH {
		if i >= len(correct) {
			continue
		}
		active = append(active, pkh)
		if correct[i] {
			gains = append(gains, ReputationDiff{PKH: pkh, Amount: issuance})
		} else {
			removed += rep.Penalize(pkh, liesCount)
		}
	}

	if len(gains) > 0 {
		rep.Gain(gains, expireAtAlpha)
	}
	if len(active) > 0 {
		rep.PushActivity(active)
	}
	return removed
}
