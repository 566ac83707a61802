package main

import (
	"flag"
	"fmt"
	"os"

	"ecoharvest/config"
	"ecoharvest/logging"
	"ecoharvest/ml"
	"ecoharvest/pipeline"
)

func main() {
	defaults := config.Default()
	dataPath := flag.String("data", "", "spreadsheet file or a directory containing it")
	artifactPath := flag.String("artifact", defaults.Model.ArtifactPath, "artifact output path")
	fileName := flag.String("file", defaults.Dataset.FileName, "expected file name when -data is a directory")
	extension := flag.String("ext", defaults.Dataset.Extension, "fallback file extension when -data is a directory")
	encode := flag.Bool("encode_temperature", true, "encode temperature as a categorical label")
	testRatio := flag.Float64("test_ratio", 0.2, "share of rows held out for evaluation")
	force := flag.Bool("force", false, "overwrite an existing artifact")
	flag.Parse()

	logger := logging.New(logging.Config{Level: "info", Development: true})
	defer logger.Sync()

	if *dataPath == "" {
		logger.Fatal("-data is required")
	}
	exists, err := ml.ArtifactExists(*artifactPath)
	if err != nil {
		logger.Fatalw("failed to inspect artifact path", "artifact", *artifactPath, "error", err)
	}
	if exists && !*force {
		logger.Fatalw("artifact already exists, pass -force to replace it", "artifact", *artifactPath)
	}

	file, err := resolveDataFile(*dataPath, *fileName, *extension)
	if err != nil {
		logger.Fatalw("failed to locate dataset", "data", *dataPath, "error", err)
	}
	records, stats, err := pipeline.LoadRecords(file)
	if err != nil {
		logger.Fatalw("failed to load dataset", "file", file, "error", err)
	}
	logger.Infow("dataset cleaned", "file", file, "rows", stats.Passed, "dropped", stats.Rejected)

	opts := ml.TrainOptions{EncodeTemperature: *encode}
	trainSet, testSet := splitDataset(records, *testRatio)
	if len(testSet) > 0 {
		holdout, err := ml.Train(trainSet, opts)
		if err != nil {
			logger.Fatalw("failed to train holdout model", "error", err)
		}
		metrics, err := ml.Evaluate(holdout, testSet)
		if err != nil {
			logger.Fatalw("failed to evaluate holdout model", "error", err)
		}
		logger.Infow("holdout evaluation", "train_rows", len(trainSet), "test_rows", metrics.Rows,
			"r2", metrics.R2, "rmse", metrics.RMSE)
	}

	// 发布的模型使用全部数据，与服务端首次训练一致
	artifact, err := ml.Train(records, opts)
	if err != nil {
		logger.Fatalw("failed to train model", "error", err)
	}
	if err := ml.SaveArtifact(*artifactPath, artifact); err != nil {
		logger.Fatalw("failed to save artifact", "artifact", *artifactPath, "error", err)
	}

	fmt.Printf("model saved to %s (rows=%d r2=%.4f rmse=%.4f)\n",
		*artifactPath, artifact.Metrics.Rows, artifact.Metrics.R2, artifact.Metrics.RMSE)
}

func resolveDataFile(path, name, ext string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return path, nil
	}
	return pipeline.LocateFile(path, name, ext)
}

// splitDataset keeps row order: the tail becomes the test set.
func splitDataset(records []ml.TrainingRecord, testRatio float64) (train, test []ml.TrainingRecord) {
	if testRatio <= 0 || testRatio >= 1 {
		return records, nil
	}
	split := int(float64(len(records)) * (1 - testRatio))
	if split < 2 || split >= len(records) {
		return records, nil
	}
	return records[:split], records[split:]
}
