package neuralnet

import (
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"digitnet/dataset"
)

// Params are the SGD hyperparameters.
type Params struct {
	// Lr is the base learning rate; epoch n trains with Lr * Decay^n.
	Lr    float64
	Decay float64
	// BatchSize <= 0, or >= the dataset size, trains on the full set in one step.
	BatchSize int
	// DivideLrByBatches scales each mini-batch step by 1/number of batches.
	DivideLrByBatches bool
	// EvaluateTrain measures training accuracy after every epoch.
	EvaluateTrain bool
}

// EpochStats is reported after every epoch. Accuracies are NaN when not measured.
type EpochStats struct {
	Epoch         int
	Lr            float64
	Loss          float64
	TrainAccuracy float64
	TestAccuracy  float64
	Elapsed       time.Duration
}

// Optimizer drives mini-batch SGD over a training set.
type Optimizer struct {
	net    *NeuralNetwork
	train  *dataset.Dataset
	test   *dataset.Dataset
	params Params
	epochs int
	rng    *rand.Rand
	logger *log.Logger
	hook   func(EpochStats)
}

type OptimizerOption func(*Optimizer)

// WithTestSet evaluates ds after every epoch when it carries labels.
func WithTestSet(ds *dataset.Dataset) OptimizerOption {
	return func(o *Optimizer) { o.test = ds }
}

// WithShuffleRand sets the random source used to shuffle mini-batches.
func WithShuffleRand(rng *rand.Rand) OptimizerOption {
	return func(o *Optimizer) { o.rng = rng }
}

func WithLogger(l *log.Logger) OptimizerOption {
	return func(o *Optimizer) { o.logger = l }
}

// WithEpochHook is called with the stats of every completed epoch.
func WithEpochHook(f func(EpochStats)) OptimizerOption {
	return func(o *Optimizer) { o.hook = f }
}

func NewOptimizer(net *NeuralNetwork, train *dataset.Dataset, params Params, opts ...OptimizerOption) (*Optimizer, error) {
	if net == nil || train == nil {
		return nil, errors.New("optimizer needs a network and a training set")
	}
	if !train.HasLabels() {
		return nil, fmt.Errorf("%w: training set has no labels", ErrLabel)
	}
	if params.Lr <= 0 || math.IsInf(params.Lr, 0) || math.IsNaN(params.Lr) {
		return nil, fmt.Errorf("learning rate must be > 0, got %v", params.Lr)
	}
	if params.Decay < 0 {
		return nil, fmt.Errorf("decay must be >= 0, got %v", params.Decay)
	}
	if params.Decay == 0 {
		params.Decay = 1
	}

	o := &Optimizer{
		net:    net,
		train:  train,
		params: params,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.rng == nil {
		o.rng = rand.New(rand.NewSource(1))
	}
	if o.logger == nil {
		o.logger = log.Default()
	}

	sizes := net.Sizes()
	in, classes := sizes[0], sizes[len(sizes)-1]
	if err := train.Validate(in, classes); err != nil {
		return nil, fmt.Errorf("training set: %w", err)
	}
	if o.test != nil {
		if err := o.test.Validate(in, classes); err != nil {
			return nil, fmt.Errorf("test set: %w", err)
		}
	}
	return o, nil
}

func (o *Optimizer) Network() *NeuralNetwork {
	return o.net
}

// Epochs returns the number of epochs trained so far.
func (o *Optimizer) Epochs() int {
	return o.epochs
}

// LearningRate is the rate used for the given epoch.
func (o *Optimizer) LearningRate(epoch int) float64 {
	return o.params.Lr * math.Pow(o.params.Decay, float64(epoch))
}

func (o *Optimizer) batched(n int) bool {
	return o.params.BatchSize > 0 && o.params.BatchSize < n
}

// batchIndices shuffles 0..n-1 and cuts it into ceil(n/size) contiguous
// chunks; only the last one may be shorter.
func batchIndices(n, size int, rng *rand.Rand) [][]int {
	perm := rng.Perm(n)
	batches := make([][]int, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		batches = append(batches, perm[start:end])
	}
	return batches
}

// trainIter is one SGD step: forward, softmax, cross-entropy, fused gradient, backward.
func (o *Optimizer) trainIter(batch *mat.Dense, labels []int, lr float64) (float64, error) {
	cache, err := o.net.FeedForward(batch)
	if err != nil {
		return 0, err
	}
	probs := Softmax(cache.Out[len(cache.Out)-1])
	picked, err := PickProbabilities(probs, labels)
	if err != nil {
		return 0, err
	}
	loss := floats.Sum(CrossEntropy(picked))
	grad, err := FusedGradient(probs, labels)
	if err != nil {
		return 0, err
	}
	if err := o.net.Backpropagate(grad, cache, batch, lr); err != nil {
		return 0, err
	}
	return loss, nil
}

// Epoch makes one pass over the training set with learning rate lr and
// returns the summed loss.
func (o *Optimizer) Epoch(lr float64) (float64, error) {
	n := o.train.Len()
	if !o.batched(n) {
		batch, labels := o.train.Slice(0, n)
		return o.trainIter(batch, labels, lr)
	}

	batches := batchIndices(n, o.params.BatchSize, o.rng)
	if o.params.DivideLrByBatches {
		lr /= float64(len(batches))
	}
	total := 0.0
	for _, idx := range batches {
		batch, labels := o.train.Gather(idx)
		loss, err := o.trainIter(batch, labels, lr)
		if err != nil {
			return 0, err
		}
		total += loss
	}
	return total, nil
}

// Train runs epochs until done reports true. Every epoch is completed before
// done is consulted. The stats of the last epoch are returned.
func (o *Optimizer) Train(done Termination) (EpochStats, error) {
	if done == nil {
		return EpochStats{}, errors.New("termination predicate is nil")
	}
	var stats EpochStats
	for {
		start := time.Now()
		o.epochs++
		lr := o.LearningRate(o.epochs)
		loss, err := o.Epoch(lr)
		if err != nil {
			return stats, fmt.Errorf("epoch %d: %w", o.epochs, err)
		}
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			return stats, fmt.Errorf("epoch %d: %w: loss is %v", o.epochs, ErrNonFinite, loss)
		}
		if err := o.net.CheckFinite(); err != nil {
			return stats, fmt.Errorf("epoch %d: %w", o.epochs, err)
		}

		stats = EpochStats{
			Epoch:         o.epochs,
			Lr:            lr,
			Loss:          loss,
			TrainAccuracy: math.NaN(),
			TestAccuracy:  math.NaN(),
		}
		if o.params.EvaluateTrain {
			if _, stats.TrainAccuracy, err = o.Test(o.train); err != nil {
				return stats, err
			}
		}
		if o.test != nil && o.test.HasLabels() {
			if _, stats.TestAccuracy, err = o.Test(o.test); err != nil {
				return stats, err
			}
		}
		stats.Elapsed = time.Since(start)

		o.logger.Printf("epoch = %d, lr = %g, loss = %f, train accuracy = %s, accuracy = %s",
			stats.Epoch, stats.Lr, stats.Loss, formatAccuracy(stats.TrainAccuracy), formatAccuracy(stats.TestAccuracy))
		if o.hook != nil {
			o.hook(stats)
		}
		if done(o.epochs) {
			return stats, nil
		}
	}
}

func formatAccuracy(acc float64) string {
	if math.IsNaN(acc) {
		return "Unknown"
	}
	return fmt.Sprintf("%f", acc)
}

// Predict classifies every row of ds using the training batch granularity.
func (o *Optimizer) Predict(ds *dataset.Dataset) ([]int, error) {
	n := ds.Len()
	if !o.batched(n) {
		return o.net.Predict(ds.Matrix())
	}
	pred := make([]int, 0, n)
	for start := 0; start < n; start += o.params.BatchSize {
		end := start + o.params.BatchSize
		if end > n {
			end = n
		}
		batch, _ := ds.Slice(start, end)
		p, err := o.net.Predict(batch)
		if err != nil {
			return nil, err
		}
		pred = append(pred, p...)
	}
	return pred, nil
}

// Test predicts ds and returns the predictions with the fraction that match
// its labels.
func (o *Optimizer) Test(ds *dataset.Dataset) ([]int, float64, error) {
	if !ds.HasLabels() {
		return nil, 0, fmt.Errorf("%w: dataset has no labels", ErrLabel)
	}
	pred, err := o.Predict(ds)
	if err != nil {
		return nil, 0, err
	}
	correct := 0
	for i, p := range pred {
		if p == ds.Labels()[i] {
			correct++
		}
	}
	return pred, float64(correct) / float64(len(pred)), nil
}
