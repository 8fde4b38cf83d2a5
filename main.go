package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"digitnet/config"
	"digitnet/dataset"
	"digitnet/neuralnet"
)

func main() {
	cfgPath := flag.String("config", "", "Path to YAML config (defaults apply when empty)")
	trainImages := flag.String("train-images", "", "Override training images")
	trainLabels := flag.String("train-labels", "", "Override training labels")
	testImages := flag.String("test-images", "", "Override test images")
	testLabels := flag.String("test-labels", "", "Override test labels")
	predictions := flag.String("predictions", "", "Override predictions output path")
	activation := flag.String("activation", "", "Hidden layer activation (sigmoid, relu, tanh, leaky_relu)")
	lr := flag.Float64("lr", 0, "Base learning rate")
	batchSize := flag.Int("batch-size", 0, "Mini-batch size (<0 for full batch)")
	epochs := flag.Int("epochs", 0, "Maximum number of epochs")
	budget := flag.Duration("time-budget", 0, "Wall-clock training budget, e.g. 25m")
	seed := flag.Int64("seed", 0, "PRNG seed")
	dumpSample := flag.Int("dump-sample", -1, "Write training sample N to sample.png and exit")

	flag.Parse()

	logger := log.New(os.Stderr, fmt.Sprintf("run=%s ", uuid.NewString()[:8]), log.LstdFlags)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	cfg.ApplyOverrides(config.Overrides{
		TrainImages:  *trainImages,
		TrainLabels:  *trainLabels,
		TestImages:   *testImages,
		TestLabels:   *testLabels,
		Predictions:  *predictions,
		Activation:   *activation,
		LearningRate: *lr,
		BatchSize:    *batchSize,
		Epochs:       *epochs,
		TimeBudget:   *budget,
		Seed:         *seed,
	})
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid config: %v", err)
	}

	start := time.Now()
	train, test, err := loadData(cfg)
	if err != nil {
		logger.Fatalf("failed to load data: %v", err)
	}
	logger.Printf("loaded train=%d test=%d features=%d in %s", train.Len(), lenOf(test), train.Features(), time.Since(start))

	if *dumpSample >= 0 {
		if err := train.SaveImage(*dumpSample, "sample.png"); err != nil {
			logger.Fatalf("dump sample: %v", err)
		}
		logger.Printf("sample %d saved as sample.png (label %d)", *dumpSample, train.Labels()[*dumpSample])
		return
	}

	act, err := neuralnet.ActivationByName(cfg.Activation)
	if err != nil {
		logger.Fatalf("invalid config: %v", err)
	}
	biasInit := neuralnet.BiasZero
	if cfg.BiasInit == "random" {
		biasInit = neuralnet.BiasRandom
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	net, err := neuralnet.NewNeuralNetwork(cfg.Sizes(train.Features()),
		neuralnet.WithActivation(act),
		neuralnet.WithBiasInit(biasInit),
		neuralnet.WithRand(rng),
	)
	if err != nil {
		logger.Fatalf("build network: %v", err)
	}
	logger.Printf("network %v\n%s", cfg.Sizes(train.Features()), strings.TrimRight(net.String(), "\n"))

	opts := []neuralnet.OptimizerOption{
		neuralnet.WithShuffleRand(rng),
		neuralnet.WithLogger(logger),
	}
	if test != nil {
		opts = append(opts, neuralnet.WithTestSet(test))
	}
	opt, err := neuralnet.NewOptimizer(net, train, neuralnet.Params{
		Lr:                cfg.LearningRate,
		Decay:             cfg.Decay,
		BatchSize:         cfg.BatchSize,
		DivideLrByBatches: cfg.DivideLrByBatches,
		EvaluateTrain:     cfg.EvaluateTrain,
	}, opts...)
	if err != nil {
		logger.Fatalf("build optimizer: %v", err)
	}

	var stops []neuralnet.Termination
	if cfg.Epochs > 0 {
		stops = append(stops, neuralnet.MaxEpochs(cfg.Epochs))
	}
	if cfg.TimeBudget > 0 {
		stops = append(stops, neuralnet.TimeBudget(cfg.TimeBudget-time.Since(start), nil))
	}
	if _, err := opt.Train(neuralnet.AnyOf(stops...)); err != nil {
		logger.Fatalf("training failed: %v", err)
	}

	if test == nil {
		return
	}
	if test.HasLabels() {
		_, acc, err := opt.Test(test)
		if err != nil {
			logger.Fatalf("test: %v", err)
		}
		logger.Printf("final accuracy = %f", acc)
	}
	if cfg.Predictions != "" {
		pred, err := opt.Predict(test)
		if err != nil {
			logger.Fatalf("predict: %v", err)
		}
		if err := dataset.SavePredictions(cfg.Predictions, pred); err != nil {
			logger.Fatalf("write predictions: %v", err)
		}
		logger.Printf("wrote %d predictions to %s", len(pred), cfg.Predictions)
	}
}

func loadData(cfg *config.Config) (*dataset.Dataset, *dataset.Dataset, error) {
	var train, test *dataset.Dataset
	var err error
	switch strings.ToLower(cfg.Format) {
	case "cifar10":
		if train, err = dataset.LoadCIFAR10(cfg.TrainImages); err != nil {
			return nil, nil, err
		}
		if cfg.TestImages != "" {
			test, err = dataset.LoadCIFAR10(cfg.TestImages)
		}
	default:
		if train, err = dataset.LoadCSV(cfg.TrainImages, cfg.TrainLabels); err != nil {
			return nil, nil, err
		}
		if cfg.TestImages != "" {
			test, err = dataset.LoadCSV(cfg.TestImages, cfg.TestLabels)
		}
	}
	if err != nil {
		return nil, nil, err
	}
	return train, test, nil
}

func lenOf(ds *dataset.Dataset) int {
	if ds == nil {
		return 0
	}
	return ds.Len()
}
