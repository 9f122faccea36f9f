package anomaly

import "errors"

var (
	// ErrUnfittedModel is returned when scoring is attempted without a profile
	ErrUnfittedModel = errors.New("model has not been fitted")

	// ErrEmptyTrainingSet is returned when fit sees no records
	ErrEmptyTrainingSet = errors.New("training set contains no records")

	// ErrNoScores is returned by KMeans before any prediction
	ErrNoScores = errors.New("no score table available, run predict first")
)
