package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/openfluke/pilot"
	"github.com/openfluke/pilot/experiments"
)

func main() {
	port := flag.Int("port", 8080, "HTTP port for the visualizer UI")
	synthetic := flag.Bool("synthetic", false, "Use synthetic digits instead of MNIST")
	skipFetch := flag.Bool("skip-fetch", false, "Skip the MNIST download stage")
	seed := flag.Int64("seed", 42, "Dataset shuffle seed")
	flag.Parse()

	fmt.Println("🧠 CNN Visualizer — draw a digit, train a classifier, watch it think")

	var (
		ds    *Dataset
		dsErr error
	)
	if *synthetic {
		fmt.Println("📊 Using synthetic digits (no MNIST files needed)")
		ds = SyntheticDataset(4000, 800, *seed)
	} else {
		mnistDir, err := EnsurePublicDir("mnist")
		if err != nil {
			fmt.Println("❌ Data directory:", err)
			os.Exit(1)
		}
		if !*skipFetch {
			if err := fetchMNIST(mnistDir); err != nil {
				fmt.Println("⚠️  MNIST fetch failed:", err)
			}
		}
		ds, dsErr = LoadMNIST(mnistDir, *seed)
		if dsErr != nil {
			// The server still starts; the UI shows a blocking error and
			// train/predict are refused until the data is in place.
			fmt.Println("❌ MNIST load failed:", dsErr)
		} else {
			fmt.Printf("📊 MNIST loaded: %d train / %d test samples\n", ds.TrainSize(), ds.TestSize())
		}
	}

	session := NewSession(ds, dsErr)
	defer session.Close()

	if err := StartWeb(*port, MustPublicPath(), session); err != nil {
		fmt.Println("❌ Web server failed:", err)
		os.Exit(1)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	fmt.Println("\n👋 Shutting down")
	if err := StopWeb(); err != nil {
		fmt.Println("⚠️  Shutdown:", err)
	}
}

// fetchMNIST downloads the IDX files into dir if they are not already
// present.
func fetchMNIST(dir string) error {
	fmt.Println("🚀 Ensuring MNIST dataset in", dir)
	stage := experiments.NewMNISTDatasetStage(dir)
	exp := pilot.NewExperiment("MNIST", stage)
	if err := exp.RunAll(); err != nil {
		return fmt.Errorf("dataset stage: %w", err)
	}
	return nil
}
