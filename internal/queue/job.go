// Package queue implements the per-user download pipeline: a FIFO queue of
// jobs per requesting user, drained sequentially by a single background
// goroutine, with cancellation and failure aggregation across a run.
package queue

import (
	"github.com/italolelis/discord_archiver/internal/platform"
	"github.com/italolelis/discord_archiver/internal/status"
)

// State is the execution state of a job.
type State string

const (
	StateStarted     State = "started"
	StateScanning    State = "scanning"
	StateDownloading State = "downloading"
	StateCompleted   State = "completed"
	StateCancelled   State = "cancelled"
	StateErrored     State = "errored"
)

// Job is one queued download task for a single channel or thread. It is
// immutable after creation and consumed exactly once by the executor.
type Job struct {
	UserID      string
	Channel     platform.Channel
	GuildName   string
	ChannelName string
	ThreadName  string // empty unless the job targets a thread

	// Status is the progress surface; one surface is shared by every job
	// spawned from the same command invocation.
	Status *status.Surface

	// Incremental makes the scan stop at the first message authored by the
	// bot itself (other than the status message).
	Incremental bool
}

// DisplayName is the channel name shown to users (the thread name for
// thread jobs).
func (j *Job) DisplayName() string {
	if j.ThreadName != "" {
		return j.ThreadName
	}

	return j.Channel.Name()
}

// Failure records one attachment that could not be fetched, with a link back
// to the message that carried it.
type Failure struct {
	Filename    string
	MessageLink string
}

// Snapshot is a read-only view of one user's queue for status display.
type Snapshot struct {
	HasActive     bool
	ActiveChannel string
	ActiveState   State
	Pending       []string // display names of queued jobs, front first
}
