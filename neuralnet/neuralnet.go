package neuralnet

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var (
	ErrShape        = errors.New("shape mismatch")
	ErrFeatureRange = errors.New("feature value outside [0, 1]")
	ErrLabel        = errors.New("label out of range")
	ErrNonFinite    = errors.New("non-finite value")
)

// BiasInit selects how biases are initialized when parameters are not supplied.
type BiasInit int

const (
	BiasZero BiasInit = iota
	BiasRandom
)

// NeuralNetwork is a fully-connected feedforward classifier. Layer l (0-based
// over the non-input layers) holds a (sizes[l+1], sizes[l]) weight matrix and a
// sizes[l+1] bias vector. Parameters are mutated in place by UpdateWeights and
// are not safe for concurrent writers.
type NeuralNetwork struct {
	sizes      []int
	weights    []*mat.Dense
	biases     []*mat.VecDense
	activation ActivationFunction
	output     ActivationFunction
}

// Cache holds the per-layer tensors of one forward pass. Both slices have one
// (batch, sizes[l+1]) entry per non-input layer.
type Cache struct {
	Pre []*mat.Dense
	Out []*mat.Dense
}

// Gradients holds dLoss/dW and dLoss/db summed over a batch.
type Gradients struct {
	Weights []*mat.Dense
	Biases  []*mat.VecDense
}

type Option func(*options)

type options struct {
	activation ActivationFunction
	output     ActivationFunction
	weights    []*mat.Dense
	biases     []*mat.VecDense
	rng        *rand.Rand
	biasInit   BiasInit
}

// WithActivation sets the activation shared by every hidden layer.
func WithActivation(a ActivationFunction) Option {
	return func(o *options) { o.activation = a }
}

// WithOutputActivation overrides the identity output layer.
func WithOutputActivation(a ActivationFunction) Option {
	return func(o *options) { o.output = a }
}

// WithParameters supplies the initial weights and biases. The network takes
// ownership of them and updates them in place.
func WithParameters(weights []*mat.Dense, biases []*mat.VecDense) Option {
	return func(o *options) {
		o.weights = weights
		o.biases = biases
	}
}

// WithRand sets the random source used for initialization.
func WithRand(rng *rand.Rand) Option {
	return func(o *options) { o.rng = rng }
}

func WithBiasInit(b BiasInit) Option {
	return func(o *options) { o.biasInit = b }
}

func NewNeuralNetwork(sizes []int, opts ...Option) (*NeuralNetwork, error) {
	if len(sizes) < 2 {
		return nil, fmt.Errorf("%w: need at least an input and an output layer, got %v", ErrShape, sizes)
	}
	for i, s := range sizes {
		if s <= 0 {
			return nil, fmt.Errorf("%w: layer %d has width %d", ErrShape, i, s)
		}
	}
	o := options{activation: Sigmoid{}, output: Linear{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.activation == nil || o.output == nil {
		return nil, errors.New("activation must not be nil")
	}

	nn := &NeuralNetwork{
		sizes:      append([]int(nil), sizes...),
		activation: o.activation,
		output:     o.output,
	}
	if o.weights != nil || o.biases != nil {
		if err := checkParameters(sizes, o.weights, o.biases); err != nil {
			return nil, err
		}
		nn.weights = o.weights
		nn.biases = o.biases
		return nn, nil
	}

	rng := o.rng
	if rng == nil {
		rng = rand.New(rand.NewSource(NNSeed(sizes)))
	}
	nn.weights = make([]*mat.Dense, len(sizes)-1)
	nn.biases = make([]*mat.VecDense, len(sizes)-1)
	for l := 1; l < len(sizes); l++ {
		fanIn, fanOut := sizes[l-1], sizes[l]
		scale := math.Sqrt(2.0 / float64(fanIn+fanOut))
		w := make([]float64, fanOut*fanIn)
		for i := range w {
			w[i] = rng.NormFloat64() * scale
		}
		b := make([]float64, fanOut)
		if o.biasInit == BiasRandom {
			for i := range b {
				b[i] = rng.NormFloat64() * scale
			}
		}
		nn.weights[l-1] = mat.NewDense(fanOut, fanIn, w)
		nn.biases[l-1] = mat.NewVecDense(fanOut, b)
	}
	return nn, nil
}

// NNSeed derives a deterministic default seed from the layer widths.
func NNSeed(sizes []int) int64 {
	var seed int64
	for _, s := range sizes {
		seed += int64(s)
	}
	return seed
}

func checkParameters(sizes []int, weights []*mat.Dense, biases []*mat.VecDense) error {
	layers := len(sizes) - 1
	if len(weights) != layers || len(biases) != layers {
		return fmt.Errorf("%w: %d layers but %d weights and %d biases", ErrShape, layers, len(weights), len(biases))
	}
	for l := 0; l < layers; l++ {
		if weights[l] == nil || biases[l] == nil {
			return fmt.Errorf("%w: layer %d parameters are nil", ErrShape, l+1)
		}
		r, c := weights[l].Dims()
		if r != sizes[l+1] || c != sizes[l] {
			return fmt.Errorf("%w: layer %d weight is %dx%d, want %dx%d", ErrShape, l+1, r, c, sizes[l+1], sizes[l])
		}
		if biases[l].Len() != sizes[l+1] {
			return fmt.Errorf("%w: layer %d bias has %d entries, want %d", ErrShape, l+1, biases[l].Len(), sizes[l+1])
		}
	}
	return nil
}

func (nn *NeuralNetwork) layerActivation(l int) ActivationFunction {
	if l == len(nn.weights)-1 {
		return nn.output
	}
	return nn.activation
}

func (nn *NeuralNetwork) checkInput(batch *mat.Dense) error {
	if batch == nil {
		return fmt.Errorf("%w: nil batch", ErrShape)
	}
	r, c := batch.Dims()
	if r == 0 || c != nn.sizes[0] {
		return fmt.Errorf("%w: batch is %dx%d, want Nx%d", ErrShape, r, c, nn.sizes[0])
	}
	for i := 0; i < r; i++ {
		for j, v := range batch.RawRowView(i) {
			if !(v >= 0 && v <= 1) {
				return fmt.Errorf("%w: sample %d feature %d is %v", ErrFeatureRange, i, j, v)
			}
		}
	}
	return nil
}

// FeedForward runs the batch through every layer:
// pre[l] = out[l-1] * W[l]^T + b[l], out[l] = activation(pre[l]).
func (nn *NeuralNetwork) FeedForward(batch *mat.Dense) (*Cache, error) {
	if err := nn.checkInput(batch); err != nil {
		return nil, err
	}
	n, _ := batch.Dims()
	cache := &Cache{
		Pre: make([]*mat.Dense, len(nn.weights)),
		Out: make([]*mat.Dense, len(nn.weights)),
	}
	var in mat.Matrix = batch
	for l, w := range nn.weights {
		width := nn.sizes[l+1]
		pre := mat.NewDense(n, width, nil)
		pre.Mul(in, w.T())
		bias := nn.biases[l].RawVector().Data
		for i := 0; i < n; i++ {
			floats.Add(pre.RawRowView(i), bias)
		}
		out := mat.NewDense(n, width, nil)
		activate(out, pre, nn.layerActivation(l))
		cache.Pre[l], cache.Out[l] = pre, out
		in = out
	}
	return cache, nil
}

// Predict returns the argmax class of every row, lowest index on ties.
func (nn *NeuralNetwork) Predict(batch *mat.Dense) ([]int, error) {
	cache, err := nn.FeedForward(batch)
	if err != nil {
		return nil, err
	}
	logits := cache.Out[len(cache.Out)-1]
	n, _ := logits.Dims()
	pred := make([]int, n)
	for i := range pred {
		pred[i] = floats.MaxIdx(logits.RawRowView(i))
	}
	return pred, nil
}

func (nn *NeuralNetwork) checkCache(outputGradient *mat.Dense, cache *Cache, input *mat.Dense) error {
	layers := len(nn.weights)
	if outputGradient == nil || cache == nil || input == nil {
		return fmt.Errorf("%w: nil gradient, cache or input", ErrShape)
	}
	n, c := input.Dims()
	if c != nn.sizes[0] {
		return fmt.Errorf("%w: input has %d columns, want %d", ErrShape, c, nn.sizes[0])
	}
	if r, c := outputGradient.Dims(); r != n || c != nn.sizes[layers] {
		return fmt.Errorf("%w: output gradient is %dx%d, want %dx%d", ErrShape, r, c, n, nn.sizes[layers])
	}
	if len(cache.Pre) != layers || len(cache.Out) != layers {
		return fmt.Errorf("%w: cache has %d/%d layers, want %d", ErrShape, len(cache.Pre), len(cache.Out), layers)
	}
	for l := 0; l < layers; l++ {
		for _, t := range []*mat.Dense{cache.Pre[l], cache.Out[l]} {
			if t == nil {
				return fmt.Errorf("%w: layer %d cache is nil", ErrShape, l+1)
			}
			if r, c := t.Dims(); r != n || c != nn.sizes[l+1] {
				return fmt.Errorf("%w: layer %d cache is %dx%d, want %dx%d", ErrShape, l+1, r, c, n, nn.sizes[l+1])
			}
		}
	}
	return nil
}

// Gradients backpropagates outputGradient, dLoss/d(out[L]), from the output
// layer down to the first one. Nothing is written to the network, so every
// layer sees the weights of the forward pass that produced cache.
func (nn *NeuralNetwork) Gradients(outputGradient *mat.Dense, cache *Cache, input *mat.Dense) (*Gradients, error) {
	if err := nn.checkCache(outputGradient, cache, input); err != nil {
		return nil, err
	}
	layers := len(nn.weights)
	n, _ := input.Dims()
	g := &Gradients{
		Weights: make([]*mat.Dense, layers),
		Biases:  make([]*mat.VecDense, layers),
	}

	delta := mat.DenseCopyOf(outputGradient)
	for l := layers - 1; l >= 0; l-- {
		if l < layers-1 {
			// [N x size(l+2)] x [size(l+2) x size(l+1)] => [N x size(l+1)]
			next := mat.NewDense(n, nn.sizes[l+1], nil)
			next.Mul(delta, nn.weights[l+1])
			delta = next
		}
		delta.MulElem(delta, derivative(cache.Pre[l], cache.Out[l], nn.layerActivation(l)))

		var prev mat.Matrix = input
		if l > 0 {
			prev = cache.Out[l-1]
		}
		// sum over the batch of the per-sample outer products delta_i x prev_i
		dw := mat.NewDense(nn.sizes[l+1], nn.sizes[l], nil)
		dw.Mul(delta.T(), prev)
		db := make([]float64, nn.sizes[l+1])
		for i := 0; i < n; i++ {
			floats.Add(db, delta.RawRowView(i))
		}
		g.Weights[l] = dw
		g.Biases[l] = mat.NewVecDense(len(db), db)
	}
	return g, nil
}

// UpdateWeights applies W -= lr * dW and b -= lr * db in place.
func (nn *NeuralNetwork) UpdateWeights(g *Gradients, learningRate float64) {
	for l, w := range nn.weights {
		var step mat.Dense
		step.Scale(learningRate, g.Weights[l])
		w.Sub(w, &step)
		nn.biases[l].AddScaledVec(nn.biases[l], -learningRate, g.Biases[l])
	}
}

// Backpropagate computes the gradients for one forward pass and applies them.
func (nn *NeuralNetwork) Backpropagate(outputGradient *mat.Dense, cache *Cache, input *mat.Dense, learningRate float64) error {
	g, err := nn.Gradients(outputGradient, cache, input)
	if err != nil {
		return err
	}
	nn.UpdateWeights(g, learningRate)
	return nil
}

// Duplicate returns an independent copy of the network.
func (nn *NeuralNetwork) Duplicate() *NeuralNetwork {
	return &NeuralNetwork{
		sizes:      append([]int(nil), nn.sizes...),
		weights:    nn.Weights(),
		biases:     nn.Biases(),
		activation: nn.activation,
		output:     nn.output,
	}
}

// CheckFinite reports the first NaN or infinite parameter.
func (nn *NeuralNetwork) CheckFinite() error {
	for l, w := range nn.weights {
		r, c := w.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				if v := w.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
					return fmt.Errorf("%w: layer %d weight (%d, %d) = %v", ErrNonFinite, l+1, i, j, v)
				}
			}
		}
		for i := 0; i < nn.biases[l].Len(); i++ {
			if v := nn.biases[l].AtVec(i); math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: layer %d bias %d = %v", ErrNonFinite, l+1, i, v)
			}
		}
	}
	return nil
}

func (nn *NeuralNetwork) Sizes() []int {
	return append([]int(nil), nn.sizes...)
}

// Weights returns copies of the weight matrices.
func (nn *NeuralNetwork) Weights() []*mat.Dense {
	out := make([]*mat.Dense, len(nn.weights))
	for i, w := range nn.weights {
		out[i] = mat.DenseCopyOf(w)
	}
	return out
}

// Biases returns copies of the bias vectors.
func (nn *NeuralNetwork) Biases() []*mat.VecDense {
	out := make([]*mat.VecDense, len(nn.biases))
	for i, b := range nn.biases {
		out[i] = mat.VecDenseCopyOf(b)
	}
	return out
}

func (nn *NeuralNetwork) String() string {
	var sb strings.Builder
	for l, w := range nn.weights {
		r, c := w.Dims()
		sb.WriteString(fmt.Sprintf("Layer %d: %dx%d %T\n", l+1, r, c, nn.layerActivation(l)))
	}
	return sb.String()
}
