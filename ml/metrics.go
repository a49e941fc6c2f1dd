package ml

import (
	"errors"
	"math"
)

type Metrics struct {
	R2   float64 `json:"r2"`
	RMSE float64 `json:"rmse"`
	MAE  float64 `json:"mae"`
	N    int     `json:"n"`
}

func Evaluate(actual, predicted []float64) (Metrics, error) {
	if len(actual) == 0 {
		return Metrics{}, errors.New("evaluate: no samples")
	}
	if len(actual) != len(predicted) {
		return Metrics{}, errors.New("evaluate: actual and predicted size mismatch")
	}
	return Metrics{
		R2:   R2Score(actual, predicted),
		RMSE: math.Sqrt(meanSquaredError(actual, predicted)),
		MAE:  meanAbsoluteError(actual, predicted),
		N:    len(actual),
	}, nil
}

// R2Score is the coefficient of determination. A constant target scores 1 when
// predicted exactly and 0 otherwise.
func R2Score(actual, predicted []float64) float64 {
	mean, _ := meanStd(actual)
	var ssRes, ssTot float64
	for i, y := range actual {
		d := y - predicted[i]
		ssRes += d * d
		t := y - mean
		ssTot += t * t
	}
	if ssTot == 0 {
		if ssRes == 0 {
			return 1
		}
		return 0
	}
	return 1 - ssRes/ssTot
}

func meanSquaredError(actual, predicted []float64) float64 {
	var sum float64
	for i, y := range actual {
		d := y - predicted[i]
		sum += d * d
	}
	return sum / float64(len(actual))
}

func meanAbsoluteError(actual, predicted []float64) float64 {
	var sum float64
	for i, y := range actual {
		sum += math.Abs(y - predicted[i])
	}
	return sum / float64(len(actual))
}
