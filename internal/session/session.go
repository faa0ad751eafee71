// Package session records each query session as an append-only JSONL
// trail: a header line, one line per orchestration event, and a footer
// with the outcome. The trail is the forensic record the sessions and
// replay commands read; checkpoints carry full state, this carries the
// narrative.
package session

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/normagent/normagent/internal/decision"
	"github.com/normagent/normagent/internal/plan"
	"github.com/normagent/normagent/internal/state"
)

// Event types carried by record lines.
const (
	EventStatus   = "status"   // state machine transition
	EventPlan     = "plan"     // initial plan accepted
	EventStep     = "step"     // one dispatched step's result
	EventDecision = "decision" // judge verdict for the latest step
	EventReplan   = "replan"   // revised plan accepted
)

// Record type discriminators, first field of every JSONL line.
const (
	recordHeader = "header"
	recordEvent  = "event"
	recordFooter = "footer"
)

// Record is one JSONL line. Which fields are set depends on Type and,
// for event lines, on Event.
type Record struct {
	Type string `json:"_type"`

	// Header fields.
	SessionID string    `json:"session_id,omitempty"`
	Query     string    `json:"query,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`

	// Event fields.
	Seq       uint64             `json:"seq,omitempty"`
	Event     string             `json:"event,omitempty"`
	Timestamp time.Time          `json:"timestamp,omitempty"`
	From      string             `json:"from,omitempty"`
	To        string             `json:"to,omitempty"`
	Goal      string             `json:"goal,omitempty"`
	Steps     int                `json:"steps,omitempty"`
	Strategy  string             `json:"strategy,omitempty"`
	Step      *plan.Step         `json:"step,omitempty"`
	Result    *plan.StepResult   `json:"result,omitempty"`
	Decision  *decision.Decision `json:"decision,omitempty"`

	// Footer fields.
	Status  string             `json:"status,omitempty"`
	Answer  *state.FinalAnswer `json:"answer,omitempty"`
	Error   string             `json:"error,omitempty"`
	Reason  string             `json:"reason,omitempty"`
	EndedAt time.Time          `json:"ended_at,omitempty"`
}

// Log streams one session's records to disk. Every append is flushed so
// a follower (replay --follow) sees lines as they land.
type Log struct {
	mu   sync.Mutex
	f    *os.File
	w    *bufio.Writer
	seq  uint64
	path string
}

// Create opens the session file under dir and writes the header line.
func Create(dir, sessionID, query string) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("session dir: %w", err)
	}
	path := filepath.Join(dir, sessionID+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("session file: %w", err)
	}

	l := &Log{f: f, w: bufio.NewWriter(f), path: path}
	header := Record{
		Type:      recordHeader,
		SessionID: sessionID,
		Query:     query,
		StartedAt: time.Now(),
	}
	if err := l.write(header); err != nil {
		f.Close()
		return nil, err
	}
	return l, nil
}

// Path returns the file the log writes to.
func (l *Log) Path() string { return l.path }

// Append stamps the record with the next sequence number and the current
// time, then writes it.
func (l *Log) Append(r Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return fmt.Errorf("session log already closed")
	}
	l.seq++
	r.Type = recordEvent
	r.Seq = l.seq
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	return l.write(r)
}

// Close writes the footer and releases the file. Safe to call once.
func (l *Log) Close(status string, answer *state.FinalAnswer, errMsg, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return fmt.Errorf("session log already closed")
	}
	footer := Record{
		Type:    recordFooter,
		Status:  status,
		Answer:  answer,
		Error:   errMsg,
		Reason:  reason,
		EndedAt: time.Now(),
	}
	werr := l.write(footer)
	cerr := l.f.Close()
	l.f, l.w = nil, nil
	if werr != nil {
		return werr
	}
	return cerr
}

func (l *Log) write(r Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if _, err := l.w.Write(data); err != nil {
		return err
	}
	if err := l.w.WriteByte('\n'); err != nil {
		return err
	}
	return l.w.Flush()
}

// Recorder adapts the orchestrator's observer callbacks onto a Log.
// Write failures are reported through errFn and never interrupt the
// session.
type Recorder struct {
	log   *Log
	errFn func(error)
}

// NewRecorder wraps a log. errFn may be nil.
func NewRecorder(l *Log, errFn func(error)) *Recorder {
	if errFn == nil {
		errFn = func(error) {}
	}
	return &Recorder{log: l, errFn: errFn}
}

func (r *Recorder) append(rec Record) {
	if err := r.log.Append(rec); err != nil {
		r.errFn(err)
	}
}

// StatusChanged records a state machine transition.
func (r *Recorder) StatusChanged(_ string, from, to state.Status) {
	r.append(Record{Event: EventStatus, From: string(from), To: string(to)})
}

// PlanSet records the initial plan.
func (r *Recorder) PlanSet(_ string, p *plan.Plan) {
	r.append(Record{Event: EventPlan, Goal: p.Goal, Steps: len(p.Steps)})
}

// StepCompleted records one dispatched step and its result.
func (r *Recorder) StepCompleted(_ string, step plan.Step, res plan.StepResult) {
	r.append(Record{Event: EventStep, Step: &step, Result: &res})
}

// DecisionMade records the judge's verdict.
func (r *Recorder) DecisionMade(_ string, d *decision.Decision) {
	rec := Record{Event: EventDecision, Decision: d}
	if d.ReplanInstructions != nil {
		rec.Strategy = string(d.ReplanInstructions.Strategy)
	}
	r.append(rec)
}

// Replanned records an accepted revised plan.
func (r *Recorder) Replanned(_ string, p *plan.Plan) {
	r.append(Record{Event: EventReplan, Goal: p.Goal, Steps: len(p.Steps)})
}

// Trace is a fully read session trail. Footer fields stay zero for a
// session that is still running or died without one.
type Trace struct {
	SessionID string
	Query     string
	StartedAt time.Time
	Events    []Record
	Status    string
	Answer    *state.FinalAnswer
	Error     string
	Reason    string
	EndedAt   time.Time
}

// Ended reports whether the trail carries a footer.
func (t *Trace) Ended() bool { return t.Status != "" }

// ReadFile loads a session trail. Lines are read without a length limit;
// a missing footer is not an error.
func ReadFile(path string) (*Trace, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	tr := &Trace{}
	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			if perr := tr.apply(bytes.TrimSpace(line)); perr != nil {
				return nil, perr
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read session trail: %w", err)
		}
	}
	if tr.SessionID == "" {
		return nil, fmt.Errorf("%s: no session header", path)
	}
	return tr, nil
}

func (t *Trace) apply(line []byte) error {
	var r Record
	if err := json.Unmarshal(line, &r); err != nil {
		return fmt.Errorf("parse session record: %w", err)
	}
	switch r.Type {
	case recordHeader:
		t.SessionID = r.SessionID
		t.Query = r.Query
		t.StartedAt = r.StartedAt
	case recordEvent:
		t.Events = append(t.Events, r)
	case recordFooter:
		t.Status = r.Status
		t.Answer = r.Answer
		t.Error = r.Error
		t.Reason = r.Reason
		t.EndedAt = r.EndedAt
	}
	return nil
}

// Info is one row of a session listing.
type Info struct {
	SessionID string
	Path      string
	Query     string
	Status    string
	StartedAt time.Time
}

// List reads every session trail under dir, newest first. Unreadable
// files are skipped; a session without a footer lists as "running".
func List(dir string) ([]Info, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var infos []Info
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		tr, err := ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		status := tr.Status
		if status == "" {
			status = "running"
		}
		infos = append(infos, Info{
			SessionID: tr.SessionID,
			Path:      filepath.Join(dir, e.Name()),
			Query:     tr.Query,
			Status:    status,
			StartedAt: tr.StartedAt,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].StartedAt.After(infos[j].StartedAt) })
	return infos, nil
}
