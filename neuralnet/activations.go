package neuralnet

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// ActivationFunction is an elementwise nonlinearity. Derivative receives both
// the pre-activation x and the activated value y; each implementation reads
// whichever one its derivative is defined over.
type ActivationFunction interface {
	Activate(x float64) float64
	Derivative(x, y float64) float64
}

type ReLU struct{}

func (r ReLU) Activate(x float64) float64 {
	return math.Max(x, 0)
}

func (r ReLU) Derivative(x, _ float64) float64 {
	if x > 0 {
		return 1
	}
	return 0
}

type LeakyReLU struct {
	alpha float64
}

func NewLeakyReLU(alpha float64) LeakyReLU {
	return LeakyReLU{alpha: alpha}
}

func (l LeakyReLU) Activate(x float64) float64 {
	if x > 0 {
		return x
	}
	return l.alpha * x
}

func (l LeakyReLU) Derivative(x, _ float64) float64 {
	if x > 0 {
		return 1
	}
	return l.alpha
}

// Sigmoid is the logistic function.
type Sigmoid struct{}

func (s Sigmoid) Activate(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// Derivative uses the cached output: y * (1 - y).
func (s Sigmoid) Derivative(_, y float64) float64 {
	return y * (1 - y)
}

type Tanh struct{}

func (t Tanh) Activate(x float64) float64 {
	return math.Tanh(x)
}

func (t Tanh) Derivative(_, y float64) float64 {
	return 1 - y*y
}

type Linear struct{}

func (t Linear) Activate(x float64) float64 {
	return x
}

func (t Linear) Derivative(_, _ float64) float64 {
	return 1
}

// ActivationByName resolves a configuration name to an activation.
func ActivationByName(name string) (ActivationFunction, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "sigmoid", "logistic":
		return Sigmoid{}, nil
	case "relu":
		return ReLU{}, nil
	case "leaky_relu", "leakyrelu":
		return NewLeakyReLU(0.01), nil
	case "tanh":
		return Tanh{}, nil
	case "linear", "identity":
		return Linear{}, nil
	}
	return nil, fmt.Errorf("unknown activation %q", name)
}

// activate fills dst with f applied to every entry of pre.
func activate(dst *mat.Dense, pre mat.Matrix, f ActivationFunction) {
	if _, ok := f.(Linear); ok {
		dst.Copy(pre)
		return
	}
	dst.Apply(func(_, _ int, v float64) float64 {
		return f.Activate(v)
	}, pre)
}

// derivative returns f' evaluated over a layer's cached (pre, out) pair.
func derivative(pre, out *mat.Dense, f ActivationFunction) *mat.Dense {
	r, c := pre.Dims()
	d := mat.NewDense(r, c, nil)
	d.Apply(func(i, j int, x float64) float64 {
		return f.Derivative(x, out.At(i, j))
	}, pre)
	return d
}
