// Command ofi-cvd runs the OFI/CVD microstructure signal pipeline's
// backtest executor and parity checker. Grounded on the teacher's
// cmd/cryptorun/main.go bootstrap sequence (zerolog init, cobra root,
// os.Exit on command failure) and cmd/cprotocol/root.go's simpler
// single-purpose command tree, which this CLI's scope (backtest + parity,
// no interactive menu) more closely matches.
package main

import (
	"os"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/ofi-cvd-pipeline/internal/logging"
)

const version = "v1.0.0"

func main() {
	logging.Init(os.Getenv("OFI_CVD_DEBUG") != "")

	root := newRootCmd()
	if err := root.Execute(); err != nil {
		code := exitCodeOf(err)
		log.Error().Err(err).Int("exit_code", code).Msg("command failed")
		os.Exit(code)
	}
}
