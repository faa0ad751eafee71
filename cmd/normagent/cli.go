// Package main defines the CLI structure using kong.
package main

import "github.com/alecthomas/kong"

// CLI defines the command-line interface.
type CLI struct {
	Config string `help:"Config file path (default: normagent.toml in the working directory)" type:"path"`

	Ask      AskCmd      `cmd:"" help:"Answer a question against the indexed corpus"`
	Index    IndexCmd    `cmd:"" help:"Ingest document chunks into the search index"`
	Sessions SessionsCmd `cmd:"" help:"List or inspect recorded sessions"`
	Replay   ReplayCmd   `cmd:"" help:"Replay a session trail"`
	Version  VersionCmd  `cmd:"" help:"Show version information"`
}

// AskCmd runs one question through the control loop.
type AskCmd struct {
	Query []string `arg:"" required:"" help:"Question to answer"`
	Quiet bool     `short:"q" help:"Suppress progress output"`
}

// IndexCmd loads corpus chunks into the bleve index.
type IndexCmd struct {
	Files []string `arg:"" required:"" type:"existingfile" help:"JSONL chunk files to ingest"`
}

// SessionsCmd groups session inspection subcommands.
type SessionsCmd struct {
	List SessionsListCmd `cmd:"" default:"1" help:"List recorded sessions"`
	Show SessionsShowCmd `cmd:"" help:"Print one session trail"`
}

// SessionsListCmd lists recorded sessions, newest first.
type SessionsListCmd struct{}

// SessionsShowCmd dumps one trail without the pager.
type SessionsShowCmd struct {
	Session string `arg:"" help:"Session ID or trail path"`
	Verbose bool   `short:"v" help:"Include judge reasoning and full summaries"`
}

// ReplayCmd replays a session trail, optionally following a live one.
type ReplayCmd struct {
	Session string `arg:"" help:"Session ID or trail path"`
	Follow  bool   `short:"f" help:"Watch a running session live"`
	NoPager bool   `help:"Disable the interactive pager"`
	Verbose bool   `short:"v" help:"Include judge reasoning and full summaries"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

// kongVars returns variables for kong (version info).
func kongVars() kong.Vars {
	return kong.Vars{
		"version": version,
	}
}
