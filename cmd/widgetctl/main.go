package main

import (
	"fmt"
	"os"

	"github.com/sensorsp/widget-engine/internal/cli"
	"github.com/sensorsp/widget-engine/internal/observability"
)

func main() {
	logger, err := observability.NewLogger("widgetctl")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	err = cli.Execute(logger)
	_ = observability.FlushTelemetry(logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
