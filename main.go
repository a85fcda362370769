package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"sigverify/config"
	"sigverify/database"
	"sigverify/imageprocessor"
	"sigverify/logging"
	"sigverify/model"
	"sigverify/pairs"
	"sigverify/scanner"
	"sigverify/server"
	"sigverify/signalhandler"
	"sigverify/trainer"
	"sigverify/types"
	"sigverify/utils"
	"sigverify/verifier"
)

func main() {
	args := utils.ParseArguments(os.Args[1:])

	command, hasCommand := args["command"]
	if !hasCommand {
		utils.PrintUsage()
		os.Exit(1)
	}

	configPath := "sigverify.toml"
	if p, ok := utils.Flag(args, "config"); ok {
		configPath = p
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}
	if err := applyOverrides(&cfg, args); err != nil {
		fmt.Printf("Error: %v\n", err)
		utils.PrintUsage()
		os.Exit(1)
	}

	// Setup logging if enabled
	debugMode := args["debug"] == "true"
	logPath := cfg.LogFile
	if p, ok := utils.Flag(args, "logfile"); ok {
		logPath = p
	}
	if logPath == "" && debugMode {
		logPath = "sigverify.log"
	}
	if logPath != "" {
		if err := logging.SetupLogger(logPath); err != nil {
			fmt.Printf("Warning: Failed to setup logging: %v\n", err)
		} else if debugMode {
			fmt.Printf("Debug mode enabled. Logging to: %s\n", logPath)
		}
		defer logging.CloseLogger()
	}

	ctx, cancel := signalhandler.Context(context.Background())
	defer cancel()

	switch command {
	case "scan":
		err = handleScanCommand(ctx, cfg, args, debugMode)
	case "train":
		err = handleTrainCommand(ctx, cfg)
	case "evaluate":
		err = handleEvaluateCommand(ctx, cfg, args)
	case "verify":
		err = handleVerifyCommand(ctx, cfg, args)
	case "serve":
		err = handleServeCommand(ctx, cfg)
	}
	if err != nil {
		logging.LogError("%s failed: %v", command, err)
		fmt.Printf("Error: %v\n", err)
		logging.CloseLogger()
		os.Exit(1)
	}
}

// applyOverrides copies command-line flags over the file configuration
func applyOverrides(cfg *config.Config, args map[string]string) error {
	if v, ok := utils.Flag(args, "database", "db"); ok {
		cfg.Database = v
	}
	if v, ok := utils.Flag(args, "folder"); ok {
		cfg.Dataset.Path = v
	}
	if v, ok := utils.Flag(args, "model"); ok {
		cfg.Model.Path = v
	}
	if v, ok := utils.Flag(args, "listen"); ok {
		cfg.Server.Listen = v
	}
	if v, ok := utils.Flag(args, "threshold"); ok {
		t, err := utils.ParseThreshold(v)
		if err != nil {
			return err
		}
		cfg.Model.Threshold = t
	}
	if v, ok := utils.Flag(args, "epochs"); ok {
		n, err := utils.ParsePositiveInt("epochs", v)
		if err != nil {
			return err
		}
		cfg.Training.Epochs = n
	}
	if v, ok := utils.Flag(args, "batch-size"); ok {
		n, err := utils.ParsePositiveInt("batch-size", v)
		if err != nil {
			return err
		}
		cfg.Training.BatchSize = n
	}
	return cfg.Validate()
}

func openDatabase(path string) (*sql.DB, error) {
	var db *sql.DB
	var err error
	const maxRetries = 3
	for i := 0; i < maxRetries; i++ {
		db, err = database.InitDatabase(path)
		if err == nil {
			return db, nil
		}
		if i < maxRetries-1 {
			log.Printf("Error initializing database (attempt %d/%d): %v - retrying...", i+1, maxRetries, err)
			time.Sleep(time.Second * time.Duration(i+1))
		}
	}
	return nil, fmt.Errorf("error initializing database after %d attempts: %w", maxRetries, err)
}

func imageShape(cfg config.Config) imageprocessor.Shape {
	return imageprocessor.Shape{Width: cfg.Image.Width, Height: cfg.Image.Height}
}

func handleScanCommand(ctx context.Context, cfg config.Config, args map[string]string, debugMode bool) error {
	db, err := openDatabase(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	_, report, err := scanner.LoadCorpora(ctx, scanner.Options{
		FolderPaths:  []string{cfg.Dataset.Path},
		Shape:        imageShape(cfg),
		DB:           db,
		ForceRewrite: args["force"] == "true",
		DebugMode:    debugMode,
		MaxWorkers:   signalhandler.GetOptimalProcs(),
	})
	if err != nil {
		return err
	}

	fmt.Printf("Database: %s\n", cfg.Database)
	stats, err := database.GetScanStats(db, 0)
	if err == nil && stats != nil {
		fmt.Printf("\nCatalogue:\n")
		fmt.Printf("- Samples: %d (%d originals, %d forgeries)\n", stats.TotalSamples, stats.Originals, stats.Forgeries)
		fmt.Printf("- Signers: %d\n", stats.Signers)
		fmt.Printf("- Unique digests: %d\n", stats.UniqueDigests)
	}
	if len(report.Errors) > 0 {
		fmt.Printf("- Unreadable files this scan: %d\n", len(report.Errors))
	}
	return nil
}

func handleTrainCommand(ctx context.Context, cfg config.Config) error {
	db, err := openDatabase(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	p := trainer.NewPipeline(cfg, db, nil)
	p.ScanWorkers = signalhandler.GetOptimalProcs()
	p.Train.OnEpoch = func(s trainer.EpochStats) {
		fmt.Printf("Epoch %d/%d - loss: %.4f - accuracy: %.4f - val_loss: %.4f - val_accuracy: %.4f (%s)\n",
			s.Epoch, cfg.Training.Epochs, s.TrainLoss, s.TrainAccuracy, s.ValLoss, s.ValAccuracy,
			s.Duration.Round(time.Millisecond))
	}
	res, err := p.Run(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("\nTraining completed. Model %s saved to %s\n", res.Artifact.ID, cfg.Model.Path)
	if res.Test.Len() > 0 {
		ev, err := verifier.EvaluateNetwork(res.Artifact.Network, res.Artifact.Loss, res.Test, res.Artifact.Training.Workers)
		if err != nil {
			return err
		}
		fmt.Printf("Test loss: %.4f - test accuracy: %.2f%% (%d pairs)\n", ev.Loss, ev.Accuracy*100, res.Test.Len())
	}
	return nil
}

// loadModel publishes the configured model, preferring the newest catalogued one
func loadModel(cfg config.Config, holder *model.Holder) (*model.Snapshot, error) {
	var db *sql.DB
	if _, err := os.Stat(cfg.Database); err == nil {
		if db, err = openDatabase(cfg.Database); err != nil {
			return nil, err
		}
		defer db.Close()
	}
	return trainer.LoadLatest(db, cfg.Model.Path, holder)
}

// handleEvaluateCommand rebuilds the held-out split of the corpus with the
// seeds the model was trained with and evaluates on it
func handleEvaluateCommand(ctx context.Context, cfg config.Config, args map[string]string) error {
	holder := model.NewHolder()
	var snap *model.Snapshot
	var err error
	if _, explicit := utils.Flag(args, "model"); explicit {
		var a *model.Artifact
		if a, err = model.Load(cfg.Model.Path); err == nil {
			snap = model.NewSnapshot(a, cfg.Model.Path, types.Dataset{})
		}
	} else {
		snap, err = loadModel(cfg, holder)
	}
	if err != nil {
		return err
	}

	in := snap.Artifact.Arch.Input
	corpora, _, err := scanner.LoadCorpora(ctx, scanner.Options{
		FolderPaths: []string{cfg.Dataset.Path},
		Shape:       imageprocessor.Shape{Width: in.Width, Height: in.Height},
		MaxWorkers:  signalhandler.GetOptimalProcs(),
	})
	if err != nil {
		return err
	}
	logging.LogInfo("Evaluating model %s on signers %v", snap.Artifact.ID, pairs.SignerIDs(corpora))

	h := snap.Artifact.Training
	_, _, test, err := pairs.Split(pairs.Generate(corpora), h.TestFraction, h.ValFraction, h.SeedTest, h.SeedVal)
	if err != nil {
		return err
	}
	if test.Len() == 0 {
		return fmt.Errorf("corpus at %s yields no test pairs", cfg.Dataset.Path)
	}
	ev, err := verifier.Evaluate(snap, test)
	if err != nil {
		return err
	}
	fmt.Printf("Model: %s\n", snap.Artifact.ID)
	fmt.Printf("Test pairs: %d\n", test.Len())
	fmt.Printf("Loss: %.4f\n", ev.Loss)
	fmt.Printf("Accuracy: %.2f%%\n", ev.Accuracy*100)
	return nil
}

func handleVerifyCommand(ctx context.Context, cfg config.Config, args map[string]string) error {
	pathA, okA := args["arg1"]
	pathB, okB := args["arg2"]
	if !okA || !okB {
		utils.PrintUsage()
		return fmt.Errorf("verify needs two image paths")
	}
	rawA, err := os.ReadFile(pathA)
	if err != nil {
		return err
	}
	rawB, err := os.ReadFile(pathB)
	if err != nil {
		return err
	}

	holder := model.NewHolder()
	if _, err := loadModel(cfg, holder); err != nil {
		return err
	}
	result, err := verifier.NewService(holder, imageprocessor.Shape{}).Verify(ctx, rawA, rawB, cfg.Model.Threshold)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func handleServeCommand(ctx context.Context, cfg config.Config) error {
	db, err := openDatabase(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	holder := model.NewHolder()
	if snap, err := trainer.LoadLatest(db, cfg.Model.Path, holder); err != nil {
		logging.LogWarning("Starting without a model: %v", err)
		fmt.Printf("No model loaded (%v); train one with POST /api/train\n", err)
	} else {
		fmt.Printf("Serving model %s from %s\n", snap.Artifact.ID, snap.Path)
	}

	p := trainer.NewPipeline(cfg, db, holder)
	p.Quiet = true
	srv := server.New(ctx, server.Options{
		Holder:    holder,
		Pipeline:  p,
		Threshold: &cfg.Model.Threshold,
		AccessLog: true,
	})
	fmt.Printf("Listening on %s\n", cfg.Server.Listen)
	return srv.Listen(cfg.Server.Listen)
}
