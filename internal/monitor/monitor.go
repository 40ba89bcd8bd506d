// Package monitor follows a remote run from launch to its terminal status,
// then fetches and summarizes its logs.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/nick353/Automate-sub000/internal/apiclient"
	"github.com/nick353/Automate-sub000/internal/domain"
	"github.com/nick353/Automate-sub000/internal/notify"
	"github.com/nick353/Automate-sub000/internal/transcript"
)

// snapshotBuffer is the capacity of a watch channel. The last slot is kept
// free for the terminal snapshot.
const snapshotBuffer = 16

// API is the part of the task API the monitor polls
type API interface {
	GetExecution(ctx context.Context, executionID string) (*apiclient.ExecutionStatus, error)
	GetExecutionLogs(ctx context.Context, executionID string) ([]json.RawMessage, error)
}

// Ledger records the outcome of watched runs
type Ledger interface {
	FinishRun(ctx context.Context, executionID string, status domain.ExecutionStatus, errMsg string) error
}

// Failure describes a run that needs recovery
type Failure struct {
	Handle    domain.RunHandle
	Reason    string
	Logs      []string
	Transport bool
}

// FailureHandler is invoked once per failed run that has a task id
type FailureHandler func(ctx context.Context, f Failure)

// Config configures a Monitor. Notifier, Ledger and OnFailure are optional.
type Config struct {
	PollInterval  time.Duration
	LogRetryDelay time.Duration
	ExcerptLimit  int
	Keywords      []string

	Notifier  notify.Notifier
	Ledger    Ledger
	OnFailure FailureHandler
}

// Validate checks the config is valid
func (c *Config) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.LogRetryDelay < 0 {
		return fmt.Errorf("log retry delay must not be negative")
	}
	if c.ExcerptLimit <= 0 {
		c.ExcerptLimit = 30
	}
	return nil
}

type watch struct {
	cancel  context.CancelFunc
	done    chan struct{}
	claimed bool
}

// Monitor polls runs. At most one watch is active per execution id.
type Monitor struct {
	api        API
	transcript *transcript.Transcript
	cfg        Config

	mu       sync.Mutex
	keywords []string
	watches  map[string]*watch
	reported map[string]domain.ExecutionSnapshot
	closed   bool

	wg sync.WaitGroup
}

// New creates a monitor that reports into tr
func New(api API, tr *transcript.Transcript, cfg Config) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Monitor{
		api:        api,
		transcript: tr,
		cfg:        cfg,
		keywords:   append([]string(nil), cfg.Keywords...),
		watches:    make(map[string]*watch),
		reported:   make(map[string]domain.ExecutionSnapshot),
	}, nil
}

// SetKeywords replaces the failure keyword set used for new excerpts
func (m *Monitor) SetKeywords(keywords []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keywords = append([]string(nil), keywords...)
}

// Keywords returns the current failure keyword set
func (m *Monitor) Keywords() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.keywords...)
}

// Watch starts polling the run and returns its snapshot stream. The stream
// carries exactly one terminal snapshot and is then closed. A watch that is
// superseded or cancelled closes its stream without a terminal snapshot.
// Watching an id that is already being watched replaces the earlier watch.
// A run is reported once: watching it after its outcome was reported, or
// while that report is in progress, replays the terminal snapshot without
// polling or reporting again.
func (m *Monitor) Watch(ctx context.Context, h domain.RunHandle) <-chan domain.ExecutionSnapshot {
	ch := make(chan domain.ExecutionSnapshot, snapshotBuffer)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		close(ch)
		return ch
	}
	if snap, ok := m.reported[h.ExecutionID]; ok {
		m.mu.Unlock()
		return replay(ch, snap)
	}
	prev := m.watches[h.ExecutionID]
	if prev != nil && prev.claimed {
		m.mu.Unlock()
		<-prev.done
		m.mu.Lock()
		snap, ok := m.reported[h.ExecutionID]
		m.mu.Unlock()
		if !ok {
			close(ch)
			return ch
		}
		return replay(ch, snap)
	}
	wctx, cancel := context.WithCancel(ctx)
	w := &watch{cancel: cancel, done: make(chan struct{})}
	m.watches[h.ExecutionID] = w
	if prev != nil {
		prev.cancel()
	}
	m.wg.Add(1)
	m.mu.Unlock()

	if prev != nil {
		log.Printf("[monitor] replacing watch for execution %s", h.ExecutionID)
		<-prev.done
	}

	go m.run(wctx, w, h, ch)
	return ch
}

func replay(ch chan domain.ExecutionSnapshot, snap domain.ExecutionSnapshot) <-chan domain.ExecutionSnapshot {
	ch <- snap
	close(ch)
	return ch
}

// Cancel stops the watch for the execution id, if any
func (m *Monitor) Cancel(executionID string) bool {
	m.mu.Lock()
	w, ok := m.watches[executionID]
	if ok && !w.claimed {
		delete(m.watches, executionID)
		w.cancel()
	}
	m.mu.Unlock()
	if ok {
		<-w.done
	}
	return ok
}

// Active returns the execution ids currently watched
func (m *Monitor) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.watches))
	for id := range m.watches {
		ids = append(ids, id)
	}
	return ids
}

// Close cancels every watch and waits for them to exit. No watch reports
// after Close returns.
func (m *Monitor) Close() {
	m.mu.Lock()
	m.closed = true
	for id, w := range m.watches {
		w.cancel()
		delete(m.watches, id)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// Wait blocks until every watch has finished
func (m *Monitor) Wait() {
	m.wg.Wait()
}

// claim marks w as the watch that reports the terminal outcome. It fails
// when w was superseded, cancelled, or the monitor closed.
func (m *Monitor) claim(ctx context.Context, id string, w *watch) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || ctx.Err() != nil || m.watches[id] != w {
		return false
	}
	w.claimed = true
	return true
}

func (m *Monitor) markReported(snap domain.ExecutionSnapshot) {
	m.mu.Lock()
	m.reported[snap.ExecutionID] = snap
	m.mu.Unlock()
}

func (m *Monitor) release(id string, w *watch) {
	m.mu.Lock()
	if m.watches[id] == w {
		delete(m.watches, id)
	}
	m.mu.Unlock()
	w.cancel()
	close(w.done)
	m.wg.Done()
}

func (m *Monitor) run(ctx context.Context, w *watch, h domain.RunHandle, ch chan domain.ExecutionSnapshot) {
	defer m.release(h.ExecutionID, w)
	defer close(ch)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		st, err := m.api.GetExecution(ctx, h.ExecutionID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.pollFailed(ctx, w, h, ch, err)
			return
		}

		snap := domain.ExecutionSnapshot{
			ExecutionID:  h.ExecutionID,
			Status:       st.Status,
			ErrorMessage: st.ErrorMessage,
			PolledAt:     time.Now(),
		}
		if !snap.Terminal() {
			// a slow reader misses intermediate snapshots, never the terminal one
			if len(ch) < cap(ch)-1 {
				ch <- snap
			}
			timer.Reset(m.cfg.PollInterval)
			continue
		}

		m.finish(ctx, w, h, ch, snap)
		return
	}
}

// finish fetches logs for a terminal run and reports it once
func (m *Monitor) finish(ctx context.Context, w *watch, h domain.RunHandle, ch chan domain.ExecutionSnapshot, snap domain.ExecutionSnapshot) {
	raw, fetchErr := m.fetchLogs(ctx, h.ExecutionID, snap.Status)
	if ctx.Err() != nil {
		return
	}
	if !m.claim(ctx, h.ExecutionID, w) {
		return
	}

	snap.LogEntries = NormalizeLogs(raw)
	snap.Excerpt = BuildExcerpt(snap.LogEntries, m.Keywords(), m.cfg.ExcerptLimit)
	m.markReported(snap)

	m.transcript.Append(transcript.Message{
		Role:    domain.RoleAssistant,
		Text:    statusMessage(h, snap),
		Label:   h.Label,
		Preview: snap.Excerpt,
	})
	if fetchErr != nil {
		m.transcript.Say(domain.RoleSystem, transportMessage("fetch logs for "+h.String(), fetchErr))
	}
	m.notify(h, snap)
	m.record(ctx, snap)

	ch <- snap

	switch {
	case fetchErr != nil && apiclient.StatusCode(fetchErr) >= 400:
		m.fail(ctx, Failure{Handle: h, Reason: fetchErr.Error(), Logs: snap.Excerpt, Transport: true})
	case snap.Status == domain.ExecFailed:
		reason := snap.ErrorMessage
		if reason == "" {
			reason = "the run failed without an error message"
		}
		m.fail(ctx, Failure{Handle: h, Reason: reason, Logs: snap.Excerpt})
	}
}

// pollFailed ends the watch after a transport error on the status poll
func (m *Monitor) pollFailed(ctx context.Context, w *watch, h domain.RunHandle, ch chan domain.ExecutionSnapshot, err error) {
	if !m.claim(ctx, h.ExecutionID, w) {
		return
	}
	log.Printf("[monitor] poll %s failed: %v", h, err)

	snap := domain.ExecutionSnapshot{
		ExecutionID:    h.ExecutionID,
		Status:         domain.ExecFailed,
		ErrorMessage:   err.Error(),
		TransportError: true,
		PolledAt:       time.Now(),
	}
	m.markReported(snap)
	m.transcript.Say(domain.RoleSystem, transportMessage("check "+h.String(), err))
	m.notify(h, snap)
	m.record(ctx, snap)

	ch <- snap

	if apiclient.StatusCode(err) >= 400 {
		m.fail(ctx, Failure{Handle: h, Reason: err.Error(), Transport: true})
	}
}

// fetchLogs performs one fetch, plus a single delayed retry when a finished
// run came back without any entries
func (m *Monitor) fetchLogs(ctx context.Context, id string, status domain.ExecutionStatus) ([]json.RawMessage, error) {
	raw, err := m.api.GetExecutionLogs(ctx, id)
	if err != nil || len(raw) > 0 {
		return raw, err
	}
	if status != domain.ExecFailed && status != domain.ExecCompleted {
		return raw, nil
	}

	timer := time.NewTimer(m.cfg.LogRetryDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}
	return m.api.GetExecutionLogs(ctx, id)
}

func (m *Monitor) fail(ctx context.Context, f Failure) {
	if f.Handle.TaskID == "" || m.cfg.OnFailure == nil {
		return
	}
	m.cfg.OnFailure(ctx, f)
}

func (m *Monitor) notify(h domain.RunHandle, snap domain.ExecutionSnapshot) {
	if m.cfg.Notifier == nil {
		return
	}
	n := notify.Notification{
		Type:        notify.TypeFor(snap.Status),
		TaskID:      h.TaskID,
		ExecutionID: h.ExecutionID,
		Label:       h.Label,
		Status:      snap.Status,
		Error:       snap.ErrorMessage,
		Excerpt:     snap.Excerpt,
	}
	if snap.Status == domain.ExecCompleted {
		n.Title = "Run completed"
		n.Message = h.String() + " completed"
	} else {
		n.Title = "Run " + string(snap.Status)
		n.Message = h.String() + " " + string(snap.Status)
		if snap.ErrorMessage != "" {
			n.Message += ": " + snap.ErrorMessage
		}
	}
	if err := m.cfg.Notifier.Send(n); err != nil {
		log.Printf("[monitor] notification for %s failed: %v", h, err)
	}
}

func (m *Monitor) record(ctx context.Context, snap domain.ExecutionSnapshot) {
	if m.cfg.Ledger == nil {
		return
	}
	if err := m.cfg.Ledger.FinishRun(ctx, snap.ExecutionID, snap.Status, snap.ErrorMessage); err != nil {
		log.Printf("[monitor] record run %s: %v", snap.ExecutionID, err)
	}
}

// statusMessage renders the transcript entry for a terminal run
func statusMessage(h domain.RunHandle, snap domain.ExecutionSnapshot) string {
	var b strings.Builder
	switch snap.Status {
	case domain.ExecCompleted:
		fmt.Fprintf(&b, "%s completed.", h)
	case domain.ExecStopped:
		fmt.Fprintf(&b, "%s was stopped.", h)
	default:
		fmt.Fprintf(&b, "%s failed.", h)
		if snap.ErrorMessage != "" {
			fmt.Fprintf(&b, "\nError: %s", snap.ErrorMessage)
		}
	}
	if len(snap.Excerpt) == 0 {
		b.WriteString("\nNo log output.")
		return b.String()
	}
	b.WriteString("\nLog excerpt:")
	for _, line := range snap.Excerpt {
		b.WriteString("\n  ")
		b.WriteString(line)
	}
	return b.String()
}

// transportMessage surfaces an API failure with its HTTP status and body
func transportMessage(what string, err error) string {
	if code := apiclient.StatusCode(err); code != 0 {
		return fmt.Sprintf("Could not %s (HTTP %d): %v", what, code, err)
	}
	return fmt.Sprintf("Could not %s: %v", what, err)
}
