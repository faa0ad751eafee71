package main

import (
	"os"

	"github.com/normagent/normagent/internal/replay"
)

// Run replays a session trail. With --follow the pager reloads as the
// file grows, so a running session can be watched live.
func (c *ReplayCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}

	path, err := resolveTrail(cfg.Storage.SessionsPath(), c.Session)
	if err != nil {
		return err
	}

	opts := replay.Options{Verbose: c.Verbose}
	tty := isTerminal(os.Stdout)

	if c.Follow && tty {
		return replay.Follow(path, opts)
	}
	if !c.NoPager && tty {
		return replay.Page(path, opts)
	}
	opts.Plain = !tty
	return replay.New(os.Stdout, opts).Print(path)
}
