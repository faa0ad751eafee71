package main

import (
	"fmt"
	"os"

	"github.com/nats-io/nats.go"

	"github.com/normagent/normagent/internal/checkpoint"
	"github.com/normagent/normagent/internal/config"
	"github.com/normagent/normagent/internal/decision"
	"github.com/normagent/normagent/internal/escalate"
	"github.com/normagent/normagent/internal/executor"
	"github.com/normagent/normagent/internal/finalizer"
	"github.com/normagent/normagent/internal/index"
	"github.com/normagent/normagent/internal/judge"
	"github.com/normagent/normagent/internal/llm"
	"github.com/normagent/normagent/internal/logging"
	"github.com/normagent/normagent/internal/orchestrator"
	"github.com/normagent/normagent/internal/plan"
	"github.com/normagent/normagent/internal/planner"
	"github.com/normagent/normagent/internal/replan"
	"github.com/normagent/normagent/internal/session"
	"github.com/normagent/normagent/internal/state"
	"github.com/normagent/normagent/internal/tools"
)

// runtime holds the assembled control loop and everything that must be
// released when the command finishes.
type runtime struct {
	cfg    *config.Config
	log    *logging.Logger
	corpus *index.Index
	nc     *nats.Conn
	orch   *orchestrator.Orchestrator
}

// buildRuntime assembles the full stack from configuration: provider,
// corpus index, tools, the pipeline components and the escalation gate.
func buildRuntime(cfg *config.Config) (*runtime, error) {
	log, err := logging.New(logging.Options{
		Level:      cfg.Logging.Level,
		FilePath:   cfg.Logging.File,
		Console:    cfg.Logging.Console,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}

	provider, err := llm.NewOpenAI(llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey(),
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout(),
		MaxRetries:  cfg.LLM.MaxRetries,
	})
	if err != nil {
		return nil, err
	}

	corpus, err := index.Open(cfg.Storage.IndexPath())
	if err != nil {
		return nil, fmt.Errorf("open corpus index: %w", err)
	}

	registry := tools.NewRegistry()
	for _, t := range []tools.Tool{
		tools.NewSearchTool(corpus, cfg.Search.Hits),
		tools.NewCalcTool(),
	} {
		if err := registry.Register(t); err != nil {
			corpus.Close()
			return nil, err
		}
	}

	store, err := checkpoint.NewStore(cfg.Storage.CheckpointsPath())
	if err != nil {
		corpus.Close()
		return nil, fmt.Errorf("checkpoint store: %w", err)
	}

	// Escalation notifications are best-effort: a missing broker only
	// disables publishing.
	var nc *nats.Conn
	var notify escalate.Notifier
	if url := cfg.NATS.ServerURL(); url != "" {
		nc, err = nats.Connect(url, nats.Name("normagent"))
		if err != nil {
			log.WithComponent("escalate").Warn("review broker unreachable", map[string]any{
				"url":   url,
				"error": err.Error(),
			})
			nc = nil
		} else {
			notify = nc
		}
	}

	pl := planner.New(provider, log, cfg.LLM.ParseRetries)
	exec := executor.New(registry, provider, executor.Config{
		MaxToolRetries: cfg.Executor.MaxToolRetries,
		ToolTimeout:    cfg.Executor.ToolTimeout(),
	}, log)
	jd := judge.New(provider, judge.Config{
		LoopWindow:         cfg.Judge.LoopWindow,
		MaxSteps:           cfg.Budget.MaxSteps,
		RelevanceThreshold: cfg.Judge.RelevanceThreshold,
		MaxParseRetries:    cfg.LLM.ParseRetries,
	}, log)
	rp := replan.New(pl, log)
	fin := finalizer.New(provider, log, cfg.LLM.ParseRetries)
	gate := escalate.New(store, notify, log)

	orch := orchestrator.New(pl, exec, jd, rp, fin, gate, store, log)

	return &runtime{cfg: cfg, log: log, corpus: corpus, nc: nc, orch: orch}, nil
}

func (r *runtime) Close() {
	if r.nc != nil {
		r.nc.Drain()
	}
	if r.corpus != nil {
		r.corpus.Close()
	}
	if r.log != nil {
		r.log.Sync()
	}
}

// attachSession wires the orchestrator callbacks to a JSONL trail under
// the sessions directory and, unless quiet, to progress lines on stderr.
// The returned close function writes the trail footer.
func (r *runtime) attachSession(quiet bool) func(*state.State) {
	var slog *session.Log
	var rec *session.Recorder

	r.orch.OnSessionStart = func(sessionID, query string) {
		l, err := session.Create(r.cfg.Storage.SessionsPath(), sessionID, query)
		if err != nil {
			r.log.WithComponent("session").Warn("trail disabled", map[string]any{
				"session_id": sessionID,
				"error":      err.Error(),
			})
			return
		}
		slog = l
		rec = session.NewRecorder(l, func(err error) {
			r.log.WithComponent("session").Warn("trail write failed", map[string]any{
				"session_id": sessionID,
				"error":      err.Error(),
			})
		})
		if !quiet {
			fmt.Fprintf(os.Stderr, "session %s\n", sessionID)
		}
	}
	r.orch.OnStatusChange = func(id string, from, to state.Status) {
		if rec != nil {
			rec.StatusChanged(id, from, to)
		}
		if !quiet {
			fmt.Fprintf(os.Stderr, "▶ %s\n", to)
		}
	}
	r.orch.OnPlan = func(id string, p *plan.Plan) {
		if rec != nil {
			rec.PlanSet(id, p)
		}
		if !quiet {
			fmt.Fprintf(os.Stderr, "  plan: %s (%d steps)\n", p.Goal, len(p.Steps))
		}
	}
	r.orch.OnStepResult = func(id string, step plan.Step, res plan.StepResult) {
		if rec != nil {
			rec.StepCompleted(id, step, res)
		}
		if !quiet {
			fmt.Fprintf(os.Stderr, "  → step %d %s: %s\n", step.Number, step.Tool, res.Status)
		}
	}
	r.orch.OnDecision = func(id string, d *decision.Decision) {
		if rec != nil {
			rec.DecisionMade(id, d)
		}
		if !quiet {
			fmt.Fprintf(os.Stderr, "  ⚖ %s\n", d.Verdict)
		}
	}
	r.orch.OnReplanned = func(id string, p *plan.Plan) {
		if rec != nil {
			rec.Replanned(id, p)
		}
		if !quiet {
			fmt.Fprintf(os.Stderr, "  ⟳ replanned: %s (%d steps)\n", p.Goal, len(p.Steps))
		}
	}

	return func(st *state.State) {
		if slog == nil {
			return
		}
		snap := st.Snapshot()
		if err := slog.Close(string(snap.Status), snap.FinalAnswer, snap.Error, snap.HumanReviewReason); err != nil {
			r.log.WithComponent("session").Warn("trail close failed", map[string]any{
				"session_id": snap.SessionID,
				"error":      err.Error(),
			})
		}
	}
}
