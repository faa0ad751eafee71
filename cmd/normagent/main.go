// Package main is the entry point for the normagent CLI.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/normagent/normagent/internal/config"
)

// Build-time variables (set via ldflags)
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func init() {
	// Pick up OPENAI_API_KEY and friends from a local .env if present.
	_ = godotenv.Load()
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("normagent"),
		kong.Description("Answers questions about normative documents through a planned, judged execution loop."),
		kong.UsageOnError(),
		kongVars(),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli))
}

// loadConfig reads the file named by --config, or normagent.toml from the
// working directory, falling back to defaults.
func loadConfig(cli *CLI) (*config.Config, error) {
	if cli.Config != "" {
		return config.LoadFile(cli.Config)
	}
	return config.Load()
}

// Run implements the version command.
func (c *VersionCmd) Run(_ *CLI) error {
	fmt.Printf("normagent version %s (commit: %s, built: %s)\n", version, commit, buildTime)
	return nil
}

// isTerminal checks if the given file is a terminal.
func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}
