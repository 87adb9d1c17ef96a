// Package command translates archive commands into queue operations. Callers
// (the REST layer or a gateway binding) provide the requesting user and the
// resolved channel; authorization and job construction happen here.
package command

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/italolelis/discord_archiver/internal/logctx"
	"github.com/italolelis/discord_archiver/internal/platform"
	"github.com/italolelis/discord_archiver/internal/queue"
	"github.com/italolelis/discord_archiver/internal/status"
)

// cutoffScanLimit bounds how far back the incremental command looks for its
// previous completion marker.
const cutoffScanLimit = 100

// ErrNotAuthorized is returned when the requesting user is neither the owner
// nor in the approved set.
var ErrNotAuthorized = errors.New("command: not authorized")

// Invocation carries the resolved context of one command call.
type Invocation struct {
	UserID  string
	Guild   platform.Guild
	Channel platform.Channel
}

// Handler implements the archiver's trigger commands on top of the queue
// manager.
type Handler struct {
	mgr      *queue.Manager
	botID    string
	ownerID  string
	approved map[string]struct{}
}

func NewHandler(mgr *queue.Manager, botID, ownerID string, approvedUsers []string) *Handler {
	approved := make(map[string]struct{}, len(approvedUsers))
	for _, id := range approvedUsers {
		approved[id] = struct{}{}
	}

	return &Handler{
		mgr:      mgr,
		botID:    botID,
		ownerID:  ownerID,
		approved: approved,
	}
}

// IsAuthorized reports whether the user may drive the archiver. Without a
// configured owner nobody is authorized.
func (h *Handler) IsAuthorized(userID string) bool {
	if h.ownerID == "" {
		return false
	}

	if userID == h.ownerID {
		return true
	}

	_, ok := h.approved[userID]

	return ok
}

// DownloadAll queues a full-history download of the channel plus all of its
// threads and returns the status text shown to the requester.
func (h *Handler) DownloadAll(ctx context.Context, inv Invocation) (string, error) {
	return h.queueDownload(ctx, inv, false)
}

// Download queues an incremental download: scans stop at the most recent
// prior bot message, and threads older than that cutoff are skipped.
func (h *Handler) Download(ctx context.Context, inv Invocation) (string, error) {
	return h.queueDownload(ctx, inv, true)
}

func (h *Handler) queueDownload(ctx context.Context, inv Invocation, incremental bool) (string, error) {
	if !h.IsAuthorized(inv.UserID) {
		return "", ErrNotAuthorized
	}

	logger := logctx.From(ctx).With("user_id", inv.UserID, "channel", inv.Channel.Name())

	channelName := inv.Channel.Name()
	threadName := ""

	if thread, ok := inv.Channel.(platform.Thread); ok {
		threadName = thread.Name()
		channelName = thread.ParentName()
	}

	// Only a hint for the initial text; Post and the cutoff scan below hit
	// the network, so the queue can move before the job actually lands.
	positionHint := h.mgr.PendingCount(inv.UserID) + 1

	statusMsg, err := inv.Channel.Post(ctx, queuedText(inv.Channel.Name(), positionHint, incremental))
	if err != nil {
		return "", fmt.Errorf("failed to post status message: %w", err)
	}

	surface := status.NewSurface(statusMsg, inv.Channel)

	cutoffID := ""

	if incremental {
		var cutoffLink string

		cutoffID, cutoffLink = h.findCutoff(ctx, inv.Channel, statusMsg.ID())

		if cutoffID != "" {
			surface.Update(ctx, "🔍 Found previous bot message. Incremental scan starting from: "+cutoffLink)
		} else {
			surface.Update(ctx, "ℹ️ No previous bot message found. Doing full scan.")
		}
	}

	position := h.mgr.Enqueue(&queue.Job{
		UserID:      inv.UserID,
		Channel:     inv.Channel,
		GuildName:   inv.Guild.Name(),
		ChannelName: channelName,
		ThreadName:  threadName,
		Status:      surface,
		Incremental: incremental,
	})

	threadCount, skippedThreads := h.queueThreads(ctx, inv, surface, channelName, incremental, cutoffID)

	content := queuedText(inv.Channel.Name(), position, incremental)
	if threadCount > 0 {
		content += fmt.Sprintf("\n➕ Also queued **%d** thread(s) from this channel!", threadCount)
	}

	if skippedThreads > 0 {
		content += fmt.Sprintf("\n⏩ Skipped **%d** old thread(s).", skippedThreads)
	}

	surface.Update(ctx, content)

	// StartDrain no-ops when a drain is already running. It must not be
	// gated on the position: a drain finishing during the round-trips
	// above would leave the job stranded in an idle queue.
	h.mgr.StartDrain(inv.UserID)

	logger.Info("queued download", "position", position, "threads", threadCount, "incremental", incremental)

	return content, nil
}

// queueThreads adds one job per thread of the invoked channel, sharing the
// invocation's status surface. Threads cannot nest, so a thread invocation
// queues nothing extra.
func (h *Handler) queueThreads(
	ctx context.Context,
	inv Invocation,
	surface *status.Surface,
	channelName string,
	incremental bool,
	cutoffID string,
) (queued, skipped int) {
	if _, isThread := inv.Channel.(platform.Thread); isThread {
		return 0, 0
	}

	lister, ok := inv.Channel.(platform.ThreadLister)
	if !ok {
		return 0, 0
	}

	threads, err := lister.Threads(ctx)
	if err != nil {
		logctx.From(ctx).Warn("failed to scan threads", "channel", inv.Channel.Name(), "err", err)

		return 0, 0
	}

	for _, thread := range threads {
		if cutoffID != "" && snowflakeLTE(thread.ID(), cutoffID) {
			skipped++

			continue
		}

		h.mgr.Enqueue(&queue.Job{
			UserID:      inv.UserID,
			Channel:     thread,
			GuildName:   inv.Guild.Name(),
			ChannelName: channelName,
			ThreadName:  thread.Name(),
			Status:      surface,
			Incremental: incremental,
		})

		queued++
	}

	return queued, skipped
}

// findCutoff locates the bot's most recent message other than the live
// status message, scanning a bounded window of recent history.
func (h *Handler) findCutoff(ctx context.Context, channel platform.Channel, statusMsgID string) (id, link string) {
	it := channel.History(ctx)

	for i := 0; i < cutoffScanLimit; i++ {
		msg, err := it.Next(ctx)
		if err != nil {
			return "", ""
		}

		if msg.AuthorID == h.botID && msg.ID != statusMsgID {
			return msg.ID, msg.JumpLink
		}
	}

	return "", ""
}

// Stop cancels the in-flight download and clears the pending queue.
func (h *Handler) Stop(ctx context.Context, userID string) (string, error) {
	if !h.IsAuthorized(userID) {
		return "", ErrNotAuthorized
	}

	stopped, cleared := h.mgr.Cancel(userID)
	if !stopped && cleared == 0 {
		return "❌ You don't have any active downloads or queued jobs.", nil
	}

	var parts []string
	if stopped {
		parts = append(parts, "🛑 Stopping current download...")
	}

	if cleared > 0 {
		parts = append(parts, fmt.Sprintf("🗑️ Cleared %d queued download(s)", cleared))
	}

	logctx.From(ctx).Info("stop requested", "user_id", userID, "stopped_active", stopped, "cleared", cleared)

	return strings.Join(parts, "\n"), nil
}

// QueueStatus returns a read-only description of the user's queue.
func (h *Handler) QueueStatus(_ context.Context, userID string) (string, error) {
	if !h.IsAuthorized(userID) {
		return "", ErrNotAuthorized
	}

	snap := h.mgr.Peek(userID)
	if !snap.HasActive && len(snap.Pending) == 0 {
		return "📭 You have no active downloads or queued jobs.", nil
	}

	lines := []string{"📊 **Your Download Queue**", ""}

	if snap.HasActive {
		lines = append(lines, fmt.Sprintf("⚙️ **Currently downloading:** #%s", snap.ActiveChannel))
	}

	if len(snap.Pending) > 0 {
		lines = append(lines, "", fmt.Sprintf("📋 **Queued downloads:** %d", len(snap.Pending)))
		for i, name := range snap.Pending {
			lines = append(lines, fmt.Sprintf("  %d. #%s", i+1, name))
		}
	}

	lines = append(lines, "", "💡 Use `/stop` to cancel all downloads")

	return strings.Join(lines, "\n"), nil
}

// ClearQueue removes pending jobs; the active download keeps running.
func (h *Handler) ClearQueue(ctx context.Context, userID string) (string, error) {
	if !h.IsAuthorized(userID) {
		return "", ErrNotAuthorized
	}

	cleared := h.mgr.ClearPending(userID)
	if cleared == 0 {
		return "📭 Your download queue is already empty.", nil
	}

	logctx.From(ctx).Info("queue cleared", "user_id", userID, "cleared", cleared)

	return fmt.Sprintf(
		"🗑️ Cleared **%d** items from your download queue.\nNote: The currently active download will continue.",
		cleared,
	), nil
}

func queuedText(channelName string, position int, incremental bool) string {
	kind := "download"
	if incremental {
		kind = "incremental download"
	}

	if position == 1 {
		return fmt.Sprintf("📥 **Queued %s for #%s**\nStarting immediately...", kind, channelName)
	}

	return fmt.Sprintf(
		"📥 **Download queued for #%s**\nPosition in queue: **%d**\nYour download will start automatically when ready.",
		channelName, position,
	)
}

// snowflakeLTE compares two snowflake IDs numerically. Unparseable IDs are
// never considered older than the cutoff.
func snowflakeLTE(a, b string) bool {
	left, err := strconv.ParseUint(a, 10, 64)
	if err != nil {
		return false
	}

	right, err := strconv.ParseUint(b, 10, 64)
	if err != nil {
		return false
	}

	return left <= right
}
