package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-node/internal/config"
	"github.com/kjstillabower/weather-node/internal/location"
	"github.com/kjstillabower/weather-node/internal/node"
	"github.com/kjstillabower/weather-node/internal/observability"
	"github.com/kjstillabower/weather-node/internal/state"
)

func pollFromConfig(ctx context.Context, out io.Writer, output string) error {
	logger, err := observability.NewLogger("weathernode")
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return pollOnce(ctx, cfg, out, output, logger)
}

// pollOnce runs a single unconditional cycle for the configured location and
// writes the resulting node state.
func pollOnce(ctx context.Context, cfg *config.Config, out io.Writer, output string, logger *zap.Logger) error {
	if output != "text" && output != "json" {
		return fmt.Errorf("unknown output format %q", output)
	}
	store := state.New(logger)
	devices := newDeviceBuilder(cfg, store, store, logger)
	defer func() { _ = devices.Close() }()

	p, err := devices.buildPoller(node.WeatherAddress, cfg.WeatherAPIKey, cfg.Location)
	if err != nil {
		return err
	}
	if err := p.Start(ctx); err != nil {
		return fmt.Errorf("poll: %w", err)
	}

	n, _ := store.Node(node.WeatherAddress)
	if output == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(n)
	}
	fmt.Fprintf(out, "location: %s\n", location.Normalize(cfg.Location))
	for _, v := range n.Channels {
		fmt.Fprintln(out, v.String())
	}
	return nil
}

func printNormalized(out io.Writer, raw string) error {
	q := location.Normalize(raw)
	if q == "" {
		return fmt.Errorf("location %q is empty", raw)
	}
	_, err := fmt.Fprintln(out, q)
	return err
}
