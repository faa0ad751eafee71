package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/normagent/normagent/internal/replay"
	"github.com/normagent/normagent/internal/session"
)

// Run lists recorded sessions, newest first.
func (c *SessionsListCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}

	infos, err := session.List(cfg.Storage.SessionsPath())
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Println("no sessions recorded")
		return nil
	}

	fmt.Printf("%-36s  %-19s  %-12s  %s\n", "SESSION", "STARTED", "STATUS", "QUERY")
	for _, info := range infos {
		query := info.Query
		if len(query) > 60 {
			query = query[:57] + "..."
		}
		fmt.Printf("%-36s  %-19s  %-12s  %s\n",
			info.SessionID,
			info.StartedAt.Local().Format("2006-01-02 15:04:05"),
			info.Status,
			query,
		)
	}
	return nil
}

// Run prints one trail without the pager.
func (c *SessionsShowCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}

	path, err := resolveTrail(cfg.Storage.SessionsPath(), c.Session)
	if err != nil {
		return err
	}
	r := replay.New(os.Stdout, replay.Options{
		Plain:   !isTerminal(os.Stdout),
		Verbose: c.Verbose,
	})
	return r.Print(path)
}

// resolveTrail accepts either a path to a .jsonl trail or a bare session
// ID looked up under the sessions directory. A unique ID prefix is enough.
func resolveTrail(dir, ref string) (string, error) {
	if strings.HasSuffix(ref, ".jsonl") {
		if _, err := os.Stat(ref); err != nil {
			return "", err
		}
		return ref, nil
	}

	direct := filepath.Join(dir, ref+".jsonl")
	if _, err := os.Stat(direct); err == nil {
		return direct, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("no session %q: %w", ref, err)
	}
	var matches []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		if strings.HasPrefix(name, ref) {
			matches = append(matches, filepath.Join(dir, name))
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no session matches %q", ref)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("session prefix %q is ambiguous (%d matches)", ref, len(matches))
	}
}
