package session

// Reduce folds a session's interaction log into its Summary: arithmetic mean
// of intensity and confidence score, utterances carried over in arrival
// order.
//
// An empty log returns (zero, false) — terminating a session with no
// accumulated turns writes nothing rather than producing a mean of nothing.
func Reduce(records []InteractionRecord, userID string) (Summary, bool) {
	if len(records) == 0 {
		return Summary{}, false
	}

	var intensitySum, scoreSum float64
	keywords := make([]string, 0, len(records))
	for _, rec := range records {
		intensitySum += float64(rec.Intensity)
		scoreSum += rec.Score
		keywords = append(keywords, rec.Utterance)
	}

	n := float64(len(records))
	return Summary{
		AvgIntensity: intensitySum / n,
		AvgScore:     scoreSum / n,
		Keywords:     keywords,
		UserID:       userID,
	}, true
}
