package queue

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/discord_archiver/internal/archive"
	"github.com/italolelis/discord_archiver/internal/fetch"
	"github.com/italolelis/discord_archiver/internal/logctx"
	"github.com/italolelis/discord_archiver/internal/platform"
	"github.com/italolelis/discord_archiver/internal/sanitize"
	"github.com/italolelis/discord_archiver/internal/storage"
	"github.com/italolelis/discord_archiver/internal/telemetry"
)

// progressEvery is how many successful downloads pass between status updates.
const progressEvery = 10

// control is what the manager exposes to a running job: the shared
// cancellation flag, the state of the active-download record, and the number
// of jobs still pending behind this one.
type control interface {
	Cancelled() bool
	SetState(State)
	Remaining() int
}

// Executor runs one download job end to end: scan history, filter messages
// carrying attachments, download them sequentially, report progress, honor
// cancellation. It returns the failures accumulated during the job.
type Executor struct {
	layout  *archive.Layout
	fetcher *fetch.Fetcher
	ledger  storage.ArchiveWriteRepository // may be nil
	tel     *telemetry.Telemetry
	botID   string
	delay   time.Duration
}

func NewExecutor(
	layout *archive.Layout,
	fetcher *fetch.Fetcher,
	ledger storage.ArchiveWriteRepository,
	tel *telemetry.Telemetry,
	botID string,
	delay time.Duration,
) *Executor {
	return &Executor{
		layout:  layout,
		fetcher: fetcher,
		ledger:  ledger,
		tel:     tel,
		botID:   botID,
		delay:   delay,
	}
}

// Execute runs a single job. Early-exit paths (permission failure, scan
// error, empty result) return an empty failure list.
func (e *Executor) Execute(ctx context.Context, job *Job, ctrl control) []Failure {
	logger := logctx.From(ctx).With("user_id", job.UserID, "channel", job.DisplayName())

	ctrl.SetState(StateStarted)

	queuePosition := ctrl.Remaining() + 1
	job.Status.Update(ctx, fmt.Sprintf(
		"⚙️ **Processing download...** (Queue: %d remaining)\nChannel: **%s**",
		queuePosition, job.DisplayName(),
	))

	logger.Info("starting download job", "incremental", job.Incremental)

	dir, err := e.layout.Ensure(job.GuildName, job.ChannelName, job.ThreadName)
	if err != nil {
		logger.Error("failed to prepare archive directory", "err", err)
		job.Status.Update(ctx, "❌ Failed to prepare the archive directory: "+err.Error())
		ctrl.SetState(StateErrored)
		e.tel.RecordJob(string(StateErrored))

		return nil
	}

	ctrl.SetState(StateScanning)
	job.Status.Update(ctx, fmt.Sprintf("🔍 Scanning messages in **%s**...", job.DisplayName()))

	matched, totalMessages, err := e.scan(ctx, job)
	if err != nil {
		if errors.Is(err, platform.ErrForbidden) {
			logger.Warn("missing permission to read message history")
			job.Status.Update(ctx, "❌ I don't have permission to read message history in this channel!")
		} else {
			logger.Error("failed to read message history", "err", err)
			job.Status.Update(ctx, "❌ Error reading messages: "+err.Error())
		}

		ctrl.SetState(StateErrored)
		e.tel.RecordJob(string(StateErrored))

		return nil
	}

	totalAttachments := 0
	for _, msg := range matched {
		totalAttachments += len(msg.Attachments)
	}

	if totalAttachments == 0 {
		logger.Info("no attachments found", "scanned_messages", totalMessages)
		ctrl.SetState(StateCompleted)
		e.tel.RecordJob(string(StateCompleted))
		job.Status.Update(ctx, fmt.Sprintf(
			"📭 No attachments found in **%s** (scanned %d messages)",
			job.DisplayName(), totalMessages,
		))

		return nil
	}

	job.Status.Update(ctx, fmt.Sprintf(
		"📥 Found %d attachment(s) in %d message(s)\n⬇️ Starting download to: `%s`",
		totalAttachments, len(matched), dir,
	))

	ctrl.SetState(StateDownloading)

	return e.download(ctx, job, ctrl, matched, dir, totalAttachments)
}

// scan iterates history newest to oldest with no hard limit, keeping messages
// that carry attachments. In incremental mode it stops at the first message
// the bot itself authored, excluding the live status message.
func (e *Executor) scan(ctx context.Context, job *Job) ([]*platform.Message, int, error) {
	logger := logctx.From(ctx)

	it := job.Channel.History(ctx)

	var matched []*platform.Message

	total := 0

	for {
		msg, err := it.Next(ctx)
		if errors.Is(err, platform.ErrEndOfHistory) {
			break
		}

		if err != nil {
			return nil, 0, err
		}

		if job.Incremental && msg.AuthorID == e.botID && msg.ID != job.Status.MessageID() {
			logger.Info("reached own previous message, stopping scan", "cutoff_message_id", msg.ID)

			break
		}

		total++

		if msg.HasAttachments() {
			matched = append(matched, msg)
		}
	}

	return matched, total, nil
}

func (e *Executor) download(
	ctx context.Context,
	job *Job,
	ctrl control,
	matched []*platform.Message,
	dir string,
	totalAttachments int,
) []Failure {
	logger := logctx.From(ctx).With("user_id", job.UserID, "channel", job.DisplayName())

	absDir, err := filepath.Abs(dir)
	if err != nil {
		absDir = dir
	}

	var (
		failures   []Failure
		downloaded int
		failed     int
		totalBytes int64
	)

	for _, msg := range matched {
		if ctrl.Cancelled() {
			return e.cancel(ctx, job, ctrl, failures, downloaded, totalAttachments, absDir)
		}

		for _, att := range msg.Attachments {
			// The flag is re-checked before every single file, not only
			// before each message.
			if ctrl.Cancelled() {
				return e.cancel(ctx, job, ctrl, failures, downloaded, totalAttachments, absDir)
			}

			targetPath := archive.UniquePath(dir, sanitize.Filename(att.Filename))

			e.tel.IncrementActiveDownloads()
			start := time.Now()
			fetchErr := e.fetcher.Fetch(ctx, att.URL, targetPath)
			e.tel.DecrementActiveDownloads()

			if fetchErr != nil {
				failed++
				failures = append(failures, Failure{Filename: att.Filename, MessageLink: msg.JumpLink})
				logger.Error("failed to download attachment", "url", att.URL, "err", fetchErr)
				e.tel.RecordDownload("error", time.Since(start))
			} else {
				downloaded++
				totalBytes += att.Size
				logger.Info("downloaded attachment", "target", targetPath, "size", humanize.Bytes(uint64(att.Size)))
				e.tel.RecordDownload("success", time.Since(start))
				e.track(ctx, job, att, msg, targetPath)

				if downloaded%progressEvery == 0 {
					e.reportProgress(ctx, job, ctrl, downloaded, totalAttachments)
				}
			}

			// Fixed pause between files, regardless of outcome.
			e.pause(ctx)
		}
	}

	ctrl.SetState(StateCompleted)
	e.tel.RecordJob(string(StateCompleted))

	job.Status.Update(ctx, e.summary(ctrl, downloaded, failed, totalBytes, absDir))
	logger.Info("download job finished", "downloaded", downloaded, "failed", failed, "bytes", totalBytes)

	return failures
}

func (e *Executor) cancel(
	ctx context.Context,
	job *Job,
	ctrl control,
	failures []Failure,
	downloaded, totalAttachments int,
	absDir string,
) []Failure {
	logctx.From(ctx).Info("download cancelled", "user_id", job.UserID, "downloaded", downloaded)

	ctrl.SetState(StateCancelled)
	e.tel.RecordJob(string(StateCancelled))

	job.Status.Update(ctx, fmt.Sprintf(
		"🛑 **Download Cancelled!**\n\nDownloaded %d/%d files before cancellation.\nLocation: `%s`",
		downloaded, totalAttachments, absDir,
	))

	return failures
}

func (e *Executor) reportProgress(ctx context.Context, job *Job, ctrl control, downloaded, totalAttachments int) {
	queueText := ""
	if remaining := ctrl.Remaining(); remaining > 0 {
		queueText = fmt.Sprintf(" (%d in queue)", remaining)
	}

	job.Status.Update(ctx, fmt.Sprintf(
		"📥 Downloading... %d/%d files%s\n💡 Use `/stop` to cancel",
		downloaded, totalAttachments, queueText,
	))
}

func (e *Executor) summary(ctrl control, downloaded, failed int, totalBytes int64, absDir string) string {
	msg := fmt.Sprintf(
		"✅ **Download Complete!**\n\n📊 **Summary:**\n• Downloaded: %d file(s) (%s)",
		downloaded, humanize.Bytes(uint64(totalBytes)),
	)

	if failed > 0 {
		msg += fmt.Sprintf("\n• Failed: %d file(s)", failed)
	}

	msg += fmt.Sprintf("\n• Location: `%s`", absDir)

	if remaining := ctrl.Remaining(); remaining > 0 {
		msg += fmt.Sprintf("\n\n⏭️ Processing next download... (%d remaining in queue)", remaining)
	}

	return msg
}

// track records a successful download in the ledger. Best-effort: the file is
// already on disk, so a ledger failure is logged and ignored.
func (e *Executor) track(ctx context.Context, job *Job, att platform.Attachment, msg *platform.Message, targetPath string) {
	if e.ledger == nil {
		return
	}

	err := e.ledger.TrackDownload(storage.ArchiveRecord{
		UserID:      job.UserID,
		Guild:       job.GuildName,
		Channel:     job.ChannelName,
		Thread:      job.ThreadName,
		Filename:    att.Filename,
		FilePath:    targetPath,
		MessageLink: msg.JumpLink,
		SizeBytes:   att.Size,
	})
	if err != nil {
		logctx.From(ctx).Warn("failed to record download in ledger", "file", targetPath, "err", err)
	}
}

// pause is the fixed inter-file delay; it doubles as a cooperative yield
// point and returns early on shutdown.
func (e *Executor) pause(ctx context.Context) {
	if e.delay <= 0 {
		return
	}

	timer := time.NewTimer(e.delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
