package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"calihouse/config"
	"calihouse/db"
	"calihouse/logging"
	"calihouse/ml"
	"go.uber.org/zap"
)

func main() {
	configPath := config.Find()
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if configPath != "" {
		cfg.RelativeTo(filepath.Dir(configPath))
	}

	dataPath := flag.String("data", cfg.Training.DataPath, "California housing CSV")
	modelPath := flag.String("model_path", cfg.Model.Path, "model output path")
	maxDepth := flag.Int("max_depth", cfg.Training.Tree.MaxDepth, "max tree depth")
	testRatio := flag.Float64("test_ratio", cfg.Training.TestRatio, "test ratio")
	seed := flag.Int64("seed", cfg.Training.Seed, "split seed")
	flag.Parse()

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	dataset, err := ml.LoadCSV(*dataPath)
	if err != nil {
		logger.Fatal("failed to load training data", zap.String("path", *dataPath), zap.Error(err))
	}

	cleaner := ml.NewDataCleaner()
	dataset, issues := cleaner.Clean(dataset)
	stats := cleaner.GetStats()
	logger.Info("training data cleaned",
		zap.Int64("rows", stats.TotalProcessed),
		zap.Int64("rejected", stats.Rejected),
		zap.Int64("corrected", stats.Corrected),
		zap.Any("issues", stats.Issues),
	)
	for _, issue := range issues[:min(len(issues), 10)] {
		logger.Debug("row rejected", zap.Int("row", issue.Row), zap.String("rule", issue.Rule), zap.String("message", issue.Message))
	}
	if dataset.Len() == 0 {
		logger.Fatal("no rows left after cleaning", zap.String("path", *dataPath))
	}

	train, test := ml.SplitDataset(dataset, *testRatio, *seed)

	params := cfg.Training.Tree
	params.MaxDepth = *maxDepth
	model := ml.NewRegressionTree(params)
	if err := model.Train(train.Features, train.Targets); err != nil {
		logger.Fatal("failed to train model", zap.Error(err))
	}

	mse, r2, err := ml.Evaluate(model, test)
	if err != nil {
		logger.Fatal("failed to evaluate model", zap.Error(err))
	}
	logger.Info("model evaluated",
		zap.Int("train_size", train.Len()),
		zap.Int("test_size", test.Len()),
		zap.Int("depth", model.Depth()),
		zap.Int("leaves", model.LeafCount()),
		zap.Float64("mse", mse),
		zap.Float64("r2", r2),
	)

	if err := os.MkdirAll(filepath.Dir(*modelPath), 0o755); err != nil {
		logger.Fatal("failed to create model dir", zap.Error(err))
	}
	if err := model.Save(*modelPath); err != nil {
		logger.Fatal("failed to save model", zap.Error(err))
	}

	store, err := db.Open(cfg.Database.Path)
	if err != nil {
		logger.Warn("training run not logged", zap.String("db", cfg.Database.Path), zap.Error(err))
	} else {
		defer store.Close()
		run := &db.TrainingRun{
			ModelPath: *modelPath,
			MSE:       mse,
			R2:        r2,
			TrainSize: train.Len(),
			TestSize:  test.Len(),
			MaxDepth:  params.MaxDepth,
		}
		if err := store.SaveTrainingRun(context.Background(), run); err != nil {
			logger.Warn("training run not logged", zap.Error(err))
		}
	}

	fmt.Printf("Model trained and saved to %s\n", *modelPath)
}
