package main

import (
	"os"

	"github.com/danthegoodman1/etlpipe/gologger"
)

var logger = gologger.NewLogger()

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logger.Error().Err(err).Msg("exiting with error")
		os.Exit(1)
	}
}
