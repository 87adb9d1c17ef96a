package queue

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/italolelis/discord_archiver/internal/archive"
	"github.com/italolelis/discord_archiver/internal/fetch"
	"github.com/italolelis/discord_archiver/internal/notifier"
	"github.com/italolelis/discord_archiver/internal/platform"
	"github.com/italolelis/discord_archiver/internal/platform/platformtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testUserID  = "user-7"
	testOwnerID = "owner-1"
)

type recordingServer struct {
	*httptest.Server

	mu      sync.Mutex
	paths   []string
	failing map[string]bool
	block   chan struct{} // when set, /slow requests wait on it
}

func newRecordingServer() *recordingServer {
	rs := &recordingServer{failing: make(map[string]bool)}

	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rs.mu.Lock()
		rs.paths = append(rs.paths, r.URL.Path)
		failing := rs.failing[r.URL.Path]
		block := rs.block
		rs.mu.Unlock()

		if block != nil && r.URL.Path == "/slow" {
			<-block
		}

		if failing {
			w.WriteHeader(http.StatusInternalServerError)

			return
		}

		_, _ = w.Write([]byte("data"))
	}))

	return rs
}

func (rs *recordingServer) setBlock(block chan struct{}) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.block = block
}

func (rs *recordingServer) requested() []string {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	out := make([]string, len(rs.paths))
	copy(out, rs.paths)

	return out
}

func newTestManager(t *testing.T, server *recordingServer, messenger *platformtest.Messenger) *Manager {
	t.Helper()

	var client *http.Client
	if server != nil {
		client = server.Client()
	}

	exec := NewExecutor(archive.NewLayout(t.TempDir()), fetch.New(client), nil, nil, testBotID, 0)

	return NewManager(
		context.Background(),
		exec,
		&notifier.PlatformNotifier{Messenger: messenger},
		nil,
		testOwnerID,
		"/archive",
		nil,
	)
}

func jobWithAttachment(userID, channelName, path string, server *recordingServer) *Job {
	channel := &platformtest.Channel{
		ChanID:   channelName,
		ChanName: channelName,
		Messages: []*platform.Message{
			attachmentMsg("m-"+path, "u9", server.URL+"/"+path, path+".png"),
		},
	}

	job, _ := newTestJob(channel, false)
	job.UserID = userID
	job.ChannelName = channelName

	return job
}

func waitForNotification(t *testing.T, messenger *platformtest.Messenger, userID string) string {
	t.Helper()

	require.Eventually(t, func() bool {
		return len(messenger.Sent(userID)) > 0
	}, 5*time.Second, 10*time.Millisecond, "no completion notification for %s", userID)

	msgs := messenger.Sent(userID)

	return msgs[len(msgs)-1]
}

func TestManager_DrainsInFIFOOrder(t *testing.T) {
	server := newRecordingServer()
	defer server.Close()

	messenger := &platformtest.Messenger{}
	mgr := newTestManager(t, server, messenger)

	positions := []int{
		mgr.Enqueue(jobWithAttachment(testUserID, "first", "a", server)),
		mgr.Enqueue(jobWithAttachment(testUserID, "second", "b", server)),
		mgr.Enqueue(jobWithAttachment(testUserID, "third", "c", server)),
	}
	assert.Equal(t, []int{1, 2, 3}, positions)

	require.True(t, mgr.StartDrain(testUserID))

	content := waitForNotification(t, messenger, testUserID)
	assert.Contains(t, content, "All queued downloads complete!")
	assert.Contains(t, content, "/archive")

	// Jobs ran front to back.
	assert.Equal(t, []string{"/a", "/b", "/c"}, server.requested())

	// The owner got the same single notification; the user got exactly one.
	assert.Len(t, messenger.Sent(testUserID), 1)
	assert.Equal(t, []string{content}, messenger.Sent(testOwnerID))

	// The run is over; the state table entry is gone.
	assert.Zero(t, mgr.PendingCount(testUserID))
	assert.False(t, mgr.Peek(testUserID).HasActive)
}

func TestManager_SingleDrainPerUser(t *testing.T) {
	server := newRecordingServer()
	defer server.Close()

	release := make(chan struct{})
	server.setBlock(release)

	messenger := &platformtest.Messenger{}
	mgr := newTestManager(t, server, messenger)

	mgr.Enqueue(jobWithAttachment(testUserID, "first", "slow", server))
	require.True(t, mgr.StartDrain(testUserID))

	// Wait until the first job is actually in flight.
	require.Eventually(t, func() bool {
		return len(server.requested()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	// A second enqueue joins the live queue instead of spawning a new drain.
	mgr.Enqueue(jobWithAttachment(testUserID, "second", "b", server))
	assert.False(t, mgr.StartDrain(testUserID))

	close(release)

	content := waitForNotification(t, messenger, testUserID)
	assert.Contains(t, content, "All queued downloads complete!")
	assert.Len(t, messenger.Sent(testUserID), 1, "one run, one notification")
	assert.Equal(t, []string{"/slow", "/b"}, server.requested())
}

func TestManager_AggregatesFailuresAcrossRun(t *testing.T) {
	server := newRecordingServer()
	defer server.Close()

	server.failing["/broken"] = true

	messenger := &platformtest.Messenger{}
	mgr := newTestManager(t, server, messenger)

	// First job fails 1 of 3 attachments; the second succeeds fully.
	first := &platformtest.Channel{
		ChanID:   "first",
		ChanName: "first",
		Messages: []*platform.Message{
			attachmentMsg("m1", "u9", server.URL+"/ok1", "ok1.png"),
			attachmentMsg("m2", "u9", server.URL+"/broken", "broken.png"),
			attachmentMsg("m3", "u9", server.URL+"/ok2", "ok2.png"),
		},
	}

	job1, _ := newTestJob(first, false)
	job1.UserID = testUserID

	mgr.Enqueue(job1)
	mgr.Enqueue(jobWithAttachment(testUserID, "second", "fine", server))
	require.True(t, mgr.StartDrain(testUserID))

	content := waitForNotification(t, messenger, testUserID)
	assert.Contains(t, content, "1 Failed Downloads")
	assert.Contains(t, content, "[broken.png](https://chat.example/link/m2)")
	assert.NotContains(t, content, "ok1.png")
}

func TestManager_OwnerRequesterDeduplicated(t *testing.T) {
	server := newRecordingServer()
	defer server.Close()

	messenger := &platformtest.Messenger{}
	mgr := newTestManager(t, server, messenger)

	mgr.Enqueue(jobWithAttachment(testOwnerID, "chan", "a", server))
	require.True(t, mgr.StartDrain(testOwnerID))

	waitForNotification(t, messenger, testOwnerID)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, messenger.Sent(testOwnerID), 1, "owner == requester gets one DM")
}

func TestManager_NotificationFailureIsSwallowed(t *testing.T) {
	server := newRecordingServer()
	defer server.Close()

	messenger := &platformtest.Messenger{
		ErrFor: map[string]error{testUserID: platform.ErrForbidden},
	}
	mgr := newTestManager(t, server, messenger)

	mgr.Enqueue(jobWithAttachment(testUserID, "chan", "a", server))
	require.True(t, mgr.StartDrain(testUserID))

	// The user's DMs are closed; the owner still hears about the run.
	waitForNotification(t, messenger, testOwnerID)
	assert.Empty(t, messenger.Sent(testUserID))
}

func TestManager_CancelFlagsActiveAndClearsPending(t *testing.T) {
	mgr := newTestManager(t, nil, &platformtest.Messenger{})

	active := &activeDownload{channelName: "general", state: StateDownloading}
	mgr.users[testUserID] = &userState{draining: true, active: active}

	ch := &platformtest.Channel{ChanID: "c2", ChanName: "pending"}
	job, _ := newTestJob(ch, false)
	job.UserID = testUserID
	mgr.Enqueue(job)

	stopped, cleared := mgr.Cancel(testUserID)

	assert.True(t, stopped)
	assert.Equal(t, 1, cleared)
	assert.True(t, active.Cancelled())
	assert.Zero(t, mgr.PendingCount(testUserID))
}

func TestManager_ClearPendingKeepsActive(t *testing.T) {
	mgr := newTestManager(t, nil, &platformtest.Messenger{})

	active := &activeDownload{channelName: "general", state: StateDownloading}
	mgr.users[testUserID] = &userState{draining: true, active: active}

	ch := &platformtest.Channel{ChanID: "c2", ChanName: "pending"}
	job, _ := newTestJob(ch, false)
	job.UserID = testUserID
	mgr.Enqueue(job)

	cleared := mgr.ClearPending(testUserID)

	assert.Equal(t, 1, cleared)
	assert.False(t, active.Cancelled(), "in-flight job keeps running")

	snap := mgr.Peek(testUserID)
	assert.True(t, snap.HasActive)
	assert.Empty(t, snap.Pending)
}

func TestManager_PeekIsReadOnly(t *testing.T) {
	mgr := newTestManager(t, nil, &platformtest.Messenger{})

	ch := &platformtest.Channel{ChanID: "c2", ChanName: "media"}
	job, _ := newTestJob(ch, false)
	job.UserID = testUserID
	mgr.Enqueue(job)

	snap := mgr.Peek(testUserID)
	assert.False(t, snap.HasActive)
	assert.Equal(t, []string{"media"}, snap.Pending)

	assert.Equal(t, 1, mgr.PendingCount(testUserID), "peek must not consume jobs")
	assert.Equal(t, snap, mgr.Peek(testUserID))
}

func TestManager_CompletionMessageTruncation(t *testing.T) {
	mgr := newTestManager(t, nil, &platformtest.Messenger{})

	var failures []Failure
	for i := 0; i < 200; i++ {
		failures = append(failures, Failure{
			Filename:    fmt.Sprintf("very-long-attachment-name-%03d.png", i),
			MessageLink: fmt.Sprintf("https://chat.example/link/%03d", i),
		})
	}

	content := mgr.buildCompletionMessage(failures)

	assert.Less(t, len(content), 2000, "stays under the platform message limit")
	assert.Contains(t, content, "200 Failed Downloads")

	require.Contains(t, content, "more.")

	// The marker count runs from the first line that did not fit, so listed
	// bullets plus the marker count cover every failure exactly once.
	listed := strings.Count(content, "\n• [")

	var more int
	_, err := fmt.Sscanf(content[strings.LastIndex(content, "...and"):], "...and %d more.", &more)
	require.NoError(t, err)

	assert.Equal(t, len(failures), listed+more)
}

func TestManager_NoFailuresMeansNoFailureSection(t *testing.T) {
	mgr := newTestManager(t, nil, &platformtest.Messenger{})

	content := mgr.buildCompletionMessage(nil)
	assert.Contains(t, content, "All queued downloads complete!")
	assert.NotContains(t, content, "Failed Downloads")
}
