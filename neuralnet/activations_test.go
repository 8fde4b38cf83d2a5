package neuralnet

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestReLUActivate(t *testing.T) {
	r := ReLU{}
	if got := r.Activate(-1); got != 0 {
		t.Errorf("ReLU.Activate(-1) = %v; want 0", got)
	}
	if got := r.Activate(2); got != 2 {
		t.Errorf("ReLU.Activate(2) = %v; want 2", got)
	}
}

func TestReLUDerivativeUsesPreActivation(t *testing.T) {
	r := ReLU{}
	// the second argument is the activated value; it must be ignored
	if got := r.Derivative(0.5, 0); got != 1 {
		t.Errorf("ReLU.Derivative(0.5) = %v; want 1", got)
	}
	if got := r.Derivative(-0.5, 1); got != 0 {
		t.Errorf("ReLU.Derivative(-0.5) = %v; want 0", got)
	}
	if got := r.Derivative(0, 0); got != 0 {
		t.Errorf("ReLU.Derivative(0) = %v; want 0", got)
	}
}

func TestSigmoidActivate(t *testing.T) {
	s := Sigmoid{}
	got := s.Activate(0)
	want := 0.5
	if !floatEquals(got, want, 1e-9) {
		t.Errorf("Sigmoid.Activate(0) = %v; want approx %v", got, want)
	}
}

func TestSigmoidDerivativeUsesOutput(t *testing.T) {
	s := Sigmoid{}
	x := 0.7
	y := s.Activate(x)
	want := y * (1 - y)
	// a bogus pre-activation shows the derivative reads y only
	if got := s.Derivative(100, y); !floatEquals(got, want, 1e-12) {
		t.Errorf("Sigmoid.Derivative(_, %v) = %v; want %v", y, got, want)
	}
}

func TestTanhDerivative(t *testing.T) {
	tn := Tanh{}
	y := tn.Activate(0.3)
	if got, want := tn.Derivative(0.3, y), 1-math.Tanh(0.3)*math.Tanh(0.3); !floatEquals(got, want, 1e-12) {
		t.Errorf("Tanh.Derivative = %v; want %v", got, want)
	}
}

func TestLeakyReLU(t *testing.T) {
	l := NewLeakyReLU(0.1)
	if got := l.Activate(-2); !floatEquals(got, -0.2, 1e-12) {
		t.Errorf("LeakyReLU.Activate(-2) = %v; want -0.2", got)
	}
	if got := l.Derivative(-2, -0.2); got != 0.1 {
		t.Errorf("LeakyReLU.Derivative(-2) = %v; want 0.1", got)
	}
}

func TestLinearActivate(t *testing.T) {
	l := Linear{}
	input := 3.14
	if got := l.Activate(input); got != input {
		t.Errorf("Linear.Activate(%v) = %v; want %v", input, got, input)
	}
	if got := l.Derivative(input, input); got != 1 {
		t.Errorf("Linear.Derivative = %v; want 1", got)
	}
}

func TestActivationByName(t *testing.T) {
	tests := []struct {
		name string
		want ActivationFunction
	}{
		{"sigmoid", Sigmoid{}},
		{"Logistic", Sigmoid{}},
		{"relu", ReLU{}},
		{"tanh", Tanh{}},
		{"identity", Linear{}},
		{" linear ", Linear{}},
		{"leaky_relu", NewLeakyReLU(0.01)},
	}
	for _, tt := range tests {
		got, err := ActivationByName(tt.name)
		if err != nil {
			t.Errorf("ActivationByName(%q) error: %v", tt.name, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ActivationByName(%q) = %#v; want %#v", tt.name, got, tt.want)
		}
	}
	if _, err := ActivationByName("softplus"); err == nil {
		t.Error("ActivationByName(softplus) did not return error")
	}
}

func TestBatchedDerivativeReadsCachedTensors(t *testing.T) {
	pre := mat.NewDense(1, 3, []float64{-1, 0.5, 2})
	out := mat.NewDense(1, 3, nil)
	activate(out, pre, ReLU{})
	d := derivative(pre, out, ReLU{})
	want := []float64{0, 1, 1}
	for j, w := range want {
		if got := d.At(0, j); got != w {
			t.Errorf("relu derivative[%d] = %v; want %v", j, got, w)
		}
	}

	activate(out, pre, Sigmoid{})
	d = derivative(pre, out, Sigmoid{})
	for j := 0; j < 3; j++ {
		y := 1 / (1 + math.Exp(-pre.At(0, j)))
		if got := d.At(0, j); !floatEquals(got, y*(1-y), 1e-12) {
			t.Errorf("sigmoid derivative[%d] = %v; want %v", j, got, y*(1-y))
		}
	}
}
