package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/geoflow/geoflow/pkg/source"
	"github.com/geoflow/geoflow/pkg/tui"
	"github.com/geoflow/geoflow/pkg/watch"
)

func runWatch(cmd *cobra.Command, args []string) error {
	opts, err := buildOptions(cmd)
	if err != nil {
		return err
	}

	debounce, err := time.ParseDuration(debounceFlag)
	if err != nil {
		return fmt.Errorf("invalid debounce: %w", err)
	}

	datasets, err := source.Discover(args[0])
	if err != nil {
		return err
	}
	if len(datasets) == 0 {
		return fmt.Errorf("no convertible datasets under %s", args[0])
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nStopping watch...")
		cancel()
	}()

	watcher, err := watch.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	watcher.WithDebounce(debounce)

	watcher.OnChange = func(dataset string) error {
		fmt.Printf("Change detected: %s\n", dataset)
		run, err := runConversion(ctx, dataset, outputDir, opts)
		if err != nil {
			return err
		}
		for _, res := range run.Layers {
			tui.PrintLayerResult(res)
		}
		return nil
	}
	watcher.OnError = func(dataset string, err error) {
		fmt.Fprintf(os.Stderr, "conversion of %s failed: %v\n", dataset, err)
	}

	for _, dataset := range datasets {
		if err := watcher.Watch(dataset); err != nil {
			return err
		}
		fmt.Printf("Watching %s\n", dataset)
	}

	if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
