package neuralnet

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Epsilon floors probabilities before the log in CrossEntropy.
const Epsilon = 1e-9

// Softmax turns each row of logits into a probability distribution. The row
// maximum is subtracted before exponentiating so large logits cannot overflow.
func Softmax(logits mat.Matrix) *mat.Dense {
	r, c := logits.Dims()
	probs := mat.NewDense(r, c, nil)
	probs.Copy(logits)
	for i := 0; i < r; i++ {
		row := probs.RawRowView(i)
		top := floats.Max(row)
		for j := range row {
			row[j] = math.Exp(row[j] - top)
		}
		floats.Scale(1/floats.Sum(row), row)
	}
	return probs
}

// PickProbabilities returns probs[i, labels[i]] for every row.
func PickProbabilities(probs mat.Matrix, labels []int) ([]float64, error) {
	r, c := probs.Dims()
	if len(labels) != r {
		return nil, fmt.Errorf("%w: %d labels for %d rows", ErrShape, len(labels), r)
	}
	picked := make([]float64, r)
	for i, label := range labels {
		if label < 0 || label >= c {
			return nil, fmt.Errorf("%w: label %d outside [0, %d)", ErrLabel, label, c)
		}
		picked[i] = probs.At(i, label)
	}
	return picked, nil
}

// CrossEntropy returns -log(p) per sample, with p floored at Epsilon.
func CrossEntropy(picked []float64) []float64 {
	loss := make([]float64, len(picked))
	for i, p := range picked {
		loss[i] = -math.Log(math.Max(p, Epsilon))
	}
	return loss
}

// FusedGradient is the gradient of cross-entropy-after-softmax with respect to
// the logits: the softmax output with 1 subtracted at the true class. The
// result is a new matrix; probs is left untouched.
func FusedGradient(probs mat.Matrix, labels []int) (*mat.Dense, error) {
	r, c := probs.Dims()
	if len(labels) != r {
		return nil, fmt.Errorf("%w: %d labels for %d rows", ErrShape, len(labels), r)
	}
	grad := mat.DenseCopyOf(probs)
	for i, label := range labels {
		if label < 0 || label >= c {
			return nil, fmt.Errorf("%w: label %d outside [0, %d)", ErrLabel, label, c)
		}
		grad.Set(i, label, grad.At(i, label)-1)
	}
	return grad, nil
}
