package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/normagent/normagent/internal/state"
)

// Run executes one question through the control loop and prints the
// outcome. Escalation to human review is a regular termination, not an
// error; only infrastructure failures exit non-zero.
func (c *AskCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}

	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	closeTrail := rt.attachSession(c.Quiet)

	// Ctrl-C freezes the session for review instead of dropping it.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	query := strings.Join(c.Query, " ")
	st, runErr := rt.orch.Run(ctx, query)
	closeTrail(st)

	snap := st.Snapshot()
	switch snap.Status {
	case state.StatusCompleted:
		printAnswer(snap)
		return nil
	case state.StatusHumanReview:
		// Covers verdict-driven escalation and Ctrl-C; the freeze already
		// captured the session, so neither is a command failure.
		fmt.Fprintf(os.Stderr, "\nsession %s frozen for human review\n", snap.SessionID)
		if snap.HumanReviewReason != "" {
			fmt.Fprintf(os.Stderr, "reason: %s\n", snap.HumanReviewReason)
		}
		fmt.Fprintf(os.Stderr, "inspect with: normagent replay %s\n", snap.SessionID)
		return nil
	default:
		if runErr != nil {
			return runErr
		}
		return fmt.Errorf("session ended in status %s: %s", snap.Status, snap.Error)
	}
}

func printAnswer(snap state.Snapshot) {
	a := snap.FinalAnswer
	if a == nil {
		return
	}
	fmt.Println(a.Analysis)
	if len(a.Sources) > 0 {
		fmt.Println("\nSources:")
		for _, s := range a.Sources {
			fmt.Printf("  - %s\n", s.String())
		}
	}
	if a.Limitations != "" {
		fmt.Printf("\nLimitations: %s\n", a.Limitations)
	}
	if a.Recommendations != "" {
		fmt.Printf("Recommendations: %s\n", a.Recommendations)
	}
}
