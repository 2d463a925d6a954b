// Command train fits a classifier offline on a labeled CSV file and exports
// an artifact the server can load with buy_load or sell_load.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"time"

	"SignalServe/internal/domain/repository"
	internalrepo "SignalServe/internal/repository"
	"SignalServe/internal/services/features"
	"SignalServe/pkg/config"
	applogger "SignalServe/pkg/logger"
)

var errUsage = errors.New("usage: train [-config path] <epochs> <batch_size> <timesteps> <csv> <output_model>")

type trainArgs struct {
	epochs    int
	batchSize int
	timesteps int
	csvPath   string
	output    string
}

func parseArgs(args []string) (trainArgs, error) {
	if len(args) != 5 {
		return trainArgs{}, errUsage
	}
	var a trainArgs
	ints := []*int{&a.epochs, &a.batchSize, &a.timesteps}
	for i, dst := range ints {
		v, err := strconv.Atoi(args[i])
		if err != nil || v <= 0 {
			return trainArgs{}, fmt.Errorf("argument %d (%q) must be a positive integer", i+1, args[i])
		}
		*dst = v
	}
	a.csvPath, a.output = args[3], args[4]
	return a, nil
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path (model section)")
	flag.Parse()

	a, err := parseArgs(flag.Args())
	if err != nil {
		log.Fatal(err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	l, err := applogger.New(&applogger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: "stderr"})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}

	if err := run(a, internalrepo.NewNNRuntime(cfg.Model), internalrepo.NewCSVTableLoader(), os.Stdout, l); err != nil {
		l.Error("training failed", applogger.Error(err))
		os.Exit(1)
	}
}

func run(a trainArgs, runtime repository.ModelRuntime, tables repository.TableLoader, out io.Writer, l *applogger.Logger) error {
	table, labels, err := tables.Load(a.csvPath)
	if err != nil {
		return err
	}
	x, y, err := features.BuildSamples(table, labels, a.timesteps)
	if err != nil {
		return fmt.Errorf("build samples: %w", err)
	}
	fmt.Fprintf(out, "samples=%d shape=(%d, %d, %d)\n", len(y), x.Batch, x.Timesteps, x.Features)

	model, err := runtime.NewTrainable(repository.ModelSpec{Timesteps: x.Timesteps, Features: x.Features})
	if err != nil {
		return err
	}

	start := time.Now()
	if err := model.Fit(x, y, a.epochs, a.batchSize); err != nil {
		return fmt.Errorf("fit: %w", err)
	}
	loss, acc, err := model.Evaluate(x, y)
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	l.Info("training finished",
		applogger.Int("epochs", a.epochs),
		applogger.Int("batch_size", a.batchSize),
		applogger.Duration("took", time.Since(start)),
	)
	fmt.Fprintf(out, "loss=%f acc=%f\n", loss, acc)

	if err := runtime.Export(model, a.output); err != nil {
		return err
	}
	fmt.Fprintf(out, "saved %s\n", a.output)
	return nil
}
