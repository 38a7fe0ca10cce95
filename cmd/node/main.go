// Command node runs one Maelstrom-style gossip-dispatch node, reading
// envelopes on stdin and writing them on stdout until EOF.
package main

import (
	"os"

	"github.com/jabolina/maelstrom-gossip/internal/engine"
	"github.com/jabolina/maelstrom-gossip/internal/handler"
	"github.com/jabolina/maelstrom-gossip/internal/logging"
	"github.com/jabolina/maelstrom-gossip/internal/metrics"
)

func main() {
	logger := logging.New("")
	collector := metrics.New()

	registry := handler.NewRegistry()
	registry.Register(handler.EchoHandler{})
	registry.Register(&handler.GenerateHandler{})
	registry.Register(handler.NewBroadcastHandler())

	eng := engine.New(logger, collector, registry)

	if err := eng.Run(os.Stdin, os.Stdout); err != nil {
		logger.Errorf("fatal: %v", err)
		os.Exit(1)
	}
}
