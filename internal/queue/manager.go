package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/italolelis/discord_archiver/internal/logctx"
	"github.com/italolelis/discord_archiver/internal/notifier"
	"github.com/italolelis/discord_archiver/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

// completionCharBudget keeps the completion notification under the host
// platform's message-size limit.
const completionCharBudget = 1900

// activeDownload tracks the job currently executing for a user. It exists
// only while a job runs and is removed on every exit path.
type activeDownload struct {
	mu          sync.Mutex
	cancelled   bool
	channelName string
	state       State
}

func (a *activeDownload) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancelled = true
}

func (a *activeDownload) Cancelled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.cancelled
}

func (a *activeDownload) SetState(s State) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = s
}

func (a *activeDownload) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.state
}

// userState is one entry in the per-user state table. Each user owns an
// independent queue, drain flag and active record; there is no cross-user
// synchronization beyond the table mutex itself.
type userState struct {
	queue    []*Job
	draining bool
	active   *activeDownload
}

// Manager owns one FIFO queue per user and drains each with at most one
// background goroutine at a time, aggregating failures across a run and
// sending a single completion notification when the queue empties.
type Manager struct {
	mu    sync.Mutex
	users map[string]*userState

	exec        *Executor
	direct      notifier.DirectNotifier
	broadcast   notifier.Notifier // optional
	ownerID     string
	archiveRoot string
	tel         *telemetry.Telemetry

	// drains must outlive the request that triggered them, so they run on
	// the manager's own context rather than the caller's.
	baseCtx context.Context
}

func NewManager(
	ctx context.Context,
	exec *Executor,
	direct notifier.DirectNotifier,
	broadcast notifier.Notifier,
	ownerID string,
	archiveRoot string,
	tel *telemetry.Telemetry,
) *Manager {
	return &Manager{
		users:       make(map[string]*userState),
		exec:        exec,
		direct:      direct,
		broadcast:   broadcast,
		ownerID:     ownerID,
		archiveRoot: archiveRoot,
		tel:         tel,
		baseCtx:     ctx,
	}
}

// Enqueue appends a job to its user's queue, creating the queue if absent,
// and returns the job's 1-based queue position.
func (m *Manager) Enqueue(job *Job) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.users[job.UserID]
	if st == nil {
		st = &userState{}
		m.users[job.UserID] = st
	}

	st.queue = append(st.queue, job)
	m.tel.AddQueueDepth(1)

	return len(st.queue)
}

// StartDrain spawns the drain loop for a user unless one is already running.
// It reports whether a new drain was started.
func (m *Manager) StartDrain(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.users[userID]
	if st == nil || st.draining || len(st.queue) == 0 {
		return false
	}

	// Claimed under the table lock so a concurrent caller appends to the
	// live queue instead of spawning a second drain.
	st.draining = true

	go m.drain(m.baseCtx, userID)

	return true
}

// PendingCount returns the number of jobs waiting in a user's queue,
// excluding any in-flight job.
func (m *Manager) PendingCount(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.users[userID]
	if st == nil {
		return 0
	}

	return len(st.queue)
}

// Cancel flags the in-flight job for cancellation (if any) and clears the
// pending queue. It reports whether an active job was flagged and how many
// pending jobs were discarded.
func (m *Manager) Cancel(userID string) (stoppedActive bool, cleared int) {
	m.mu.Lock()
	st := m.users[userID]

	var active *activeDownload

	if st != nil {
		active = st.active
		cleared = len(st.queue)
		st.queue = nil
	}
	m.mu.Unlock()

	m.tel.AddQueueDepth(int64(-cleared))

	if active != nil {
		active.Cancel()
		stoppedActive = true
	}

	return stoppedActive, cleared
}

// ClearPending discards queued jobs without touching the in-flight job and
// returns how many were removed.
func (m *Manager) ClearPending(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.users[userID]
	if st == nil {
		return 0
	}

	cleared := len(st.queue)
	st.queue = nil
	m.tel.AddQueueDepth(int64(-cleared))

	return cleared
}

// Peek returns a read-only snapshot of a user's active and pending jobs.
func (m *Manager) Peek(userID string) Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	var snap Snapshot

	st := m.users[userID]
	if st == nil {
		return snap
	}

	if st.active != nil {
		snap.HasActive = true
		snap.ActiveChannel = st.active.channelName
		snap.ActiveState = st.active.State()
	}

	for _, job := range st.queue {
		snap.Pending = append(snap.Pending, job.DisplayName())
	}

	return snap
}

// dequeue pops the front job. When the queue is empty it releases the drain
// claim, removes the user's table entry and reports that the drain is done.
func (m *Manager) dequeue(userID string) (*Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.users[userID]
	if st == nil {
		return nil, false
	}

	if len(st.queue) == 0 {
		st.draining = false
		delete(m.users, userID)

		return nil, false
	}

	job := st.queue[0]
	st.queue = st.queue[1:]
	m.tel.AddQueueDepth(-1)

	return job, true
}

// drain executes jobs for one user until the queue empties, then sends the
// run's completion notification. Exactly one drain runs per user at a time.
func (m *Manager) drain(ctx context.Context, userID string) {
	logger := logctx.From(ctx).With("user_id", userID)

	logger.Info("drain started")

	var failures []Failure

	jobs := 0

	for {
		job, ok := m.dequeue(userID)
		if !ok {
			break
		}

		failures = append(failures, m.runJob(ctx, job)...)
		jobs++
	}

	logger.Info("drain finished", "jobs", jobs, "failures", len(failures))

	m.notifyRunComplete(ctx, userID, failures)
}

// runJob installs the active-download record, executes the job and removes
// the record on every exit path.
func (m *Manager) runJob(ctx context.Context, job *Job) []Failure {
	active := &activeDownload{channelName: job.DisplayName(), state: StateStarted}

	m.mu.Lock()
	st := m.users[job.UserID]
	if st == nil {
		st = &userState{draining: true}
		m.users[job.UserID] = st
	}
	st.active = active
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		if st := m.users[job.UserID]; st != nil {
			st.active = nil
		}
		m.mu.Unlock()
	}()

	ctx, span := m.tel.StartSpan(ctx, "archive_job")
	defer span.End()

	return m.exec.Execute(ctx, job, &jobControl{active: active, mgr: m, userID: job.UserID})
}

// notifyRunComplete sends one completion notice to the requesting user and
// the owner (deduplicated). Delivery failures are logged and swallowed.
func (m *Manager) notifyRunComplete(ctx context.Context, userID string, failures []Failure) {
	logger := logctx.From(ctx).With("user_id", userID)

	content := m.buildCompletionMessage(failures)

	targets := []string{m.ownerID}
	if userID != m.ownerID {
		targets = append(targets, userID)
	}

	var wg errgroup.Group

	for _, target := range targets {
		if target == "" {
			continue
		}

		target := target

		wg.Go(func() error {
			if err := m.direct.NotifyUser(ctx, target, content); err != nil {
				logger.Error("failed to notify user", "target", target, "err", err)
				m.tel.RecordNotificationError("dm")
			}

			return nil
		})
	}

	_ = wg.Wait()

	if m.broadcast != nil {
		if err := m.broadcast.Notify(ctx, content); err != nil {
			logger.Error("failed to send webhook notification", "err", err)
			m.tel.RecordNotificationError("webhook")
		}
	}
}

// buildCompletionMessage renders the run summary. Failed files are listed as
// link-style bullets; once a line no longer fits in the character budget the
// list ends with an "...and N more." marker. N counts from the first line
// that did not fit, so it includes the line displaced by the marker itself.
func (m *Manager) buildCompletionMessage(failures []Failure) string {
	msg := fmt.Sprintf("✅ **All queued downloads complete!**\n📂 Archive ready in: `%s`", m.archiveRoot)

	if len(failures) == 0 {
		return msg
	}

	msg += fmt.Sprintf("\n\n❌ **%d Failed Downloads:**", len(failures))

	var failureText strings.Builder

	for i, fail := range failures {
		line := fmt.Sprintf("\n• [%s](%s)", fail.Filename, fail.MessageLink)

		if len(msg)+failureText.Len()+len(line) < completionCharBudget {
			failureText.WriteString(line)

			continue
		}

		fmt.Fprintf(&failureText, "\n• ...and %d more.", len(failures)-i)

		break
	}

	return msg + failureText.String()
}

// jobControl adapts the manager's per-user state to the executor's control
// interface.
type jobControl struct {
	active *activeDownload
	mgr    *Manager
	userID string
}

func (c *jobControl) Cancelled() bool  { return c.active.Cancelled() }
func (c *jobControl) SetState(s State) { c.active.SetState(s) }
func (c *jobControl) Remaining() int   { return c.mgr.PendingCount(c.userID) }
