package rest_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/discord_archiver/internal/archive"
	"github.com/italolelis/discord_archiver/internal/command"
	"github.com/italolelis/discord_archiver/internal/fetch"
	"github.com/italolelis/discord_archiver/internal/http/rest"
	"github.com/italolelis/discord_archiver/internal/notifier"
	"github.com/italolelis/discord_archiver/internal/platform"
	"github.com/italolelis/discord_archiver/internal/platform/platformtest"
	"github.com/italolelis/discord_archiver/internal/queue"
	"github.com/italolelis/discord_archiver/internal/storage"
)

const (
	testUser  = "api"
	testPass  = "secret"
	ownerID   = "owner-1"
	userID    = "user-7"
	channelID = "c1"
)

type fakeResolver struct {
	channel platform.Channel
	guild   platform.Guild
	err     error
}

func (r *fakeResolver) Resolve(_ context.Context, _ string) (platform.Channel, platform.Guild, error) {
	if r.err != nil {
		return nil, nil, r.err
	}

	return r.channel, r.guild, nil
}

type fakeStats struct {
	totals storage.ArchiveTotals
	guilds []storage.GuildTotal
	err    error
}

func (s *fakeStats) Totals() (storage.ArchiveTotals, error) { return s.totals, s.err }

func (s *fakeStats) GuildTotals() ([]storage.GuildTotal, error) { return s.guilds, s.err }

type fixture struct {
	handler   http.Handler
	mgr       *queue.Manager
	messenger *platformtest.Messenger
	channel   *platformtest.Channel
}

func newFixture(t *testing.T, stats storage.ArchiveReadRepository) *fixture {
	t.Helper()

	root := t.TempDir()

	layout := archive.NewLayout(root)
	exec := queue.NewExecutor(layout, fetch.New(http.DefaultClient), dropLedger{}, nil, "bot-1", 0)

	messenger := &platformtest.Messenger{}
	direct := &notifier.PlatformNotifier{Messenger: messenger}
	mgr := queue.NewManager(context.Background(), exec, direct, nil, ownerID, root, nil)
	commands := command.NewHandler(mgr, "bot-1", ownerID, []string{userID})

	channel := &platformtest.Channel{ChanID: channelID, ChanName: "general"}
	resolver := &fakeResolver{
		channel: channel,
		guild:   &platformtest.Guild{GuildID: "g1", GuildName: "My Guild"},
	}

	handler := rest.NewArchiverHandler(testUser, testPass, resolver, commands, mgr, stats, nil)

	return &fixture{handler: handler.Routes(), mgr: mgr, messenger: messenger, channel: channel}
}

type dropLedger struct{}

func (dropLedger) TrackDownload(storage.ArchiveRecord) error { return nil }

func (f *fixture) request(t *testing.T, method, path, body string, authed bool) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if authed {
		req.SetBasicAuth(testUser, testPass)
	}

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	return rec
}

func TestArchiverHandler_RequiresBasicAuth(t *testing.T) {
	f := newFixture(t, &fakeStats{})

	rec := f.request(t, http.MethodGet, "/v1/stats", "", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	req.SetBasicAuth(testUser, "wrong")
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestArchiverHandler_HealthNeedsNoAuth(t *testing.T) {
	f := newFixture(t, &fakeStats{})

	rec := f.request(t, http.MethodGet, "/v1/healthz", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status": "ok"}`, rec.Body.String())
}

func TestArchiverHandler_Archive(t *testing.T) {
	f := newFixture(t, &fakeStats{})

	body := `{"user_id": "user-7", "channel_id": "c1"}`

	rec := f.request(t, http.MethodPost, "/v1/archive", body, true)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Message, "Queued download for #general")

	require.Eventually(t, func() bool {
		return len(f.messenger.Sent(userID)) > 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestArchiverHandler_ArchiveRejectsUnknownUser(t *testing.T) {
	f := newFixture(t, &fakeStats{})

	body := `{"user_id": "stranger", "channel_id": "c1"}`

	rec := f.request(t, http.MethodPost, "/v1/archive", body, true)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestArchiverHandler_ArchiveValidatesBody(t *testing.T) {
	f := newFixture(t, &fakeStats{})

	rec := f.request(t, http.MethodPost, "/v1/archive", `not json`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.request(t, http.MethodPost, "/v1/archive", `{"user_id": "user-7"}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestArchiverHandler_QueueSnapshot(t *testing.T) {
	f := newFixture(t, &fakeStats{})

	f.mgr.Enqueue(&queue.Job{UserID: userID, Channel: &platformtest.Channel{ChanName: "general"}, ChannelName: "general"})

	rec := f.request(t, http.MethodGet, "/v1/queue/"+userID, "", true)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Active  *struct{ Channel, State string } `json:"active"`
		Pending []string                         `json:"pending"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Nil(t, resp.Active)
	assert.Equal(t, []string{"general"}, resp.Pending)
}

func TestArchiverHandler_QueueRejectsUnknownUser(t *testing.T) {
	f := newFixture(t, &fakeStats{})

	rec := f.request(t, http.MethodGet, "/v1/queue/stranger", "", true)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestArchiverHandler_StopAndClear(t *testing.T) {
	f := newFixture(t, &fakeStats{})

	f.mgr.Enqueue(&queue.Job{UserID: userID, Channel: &platformtest.Channel{ChanName: "general"}, ChannelName: "general"})

	rec := f.request(t, http.MethodPost, "/v1/queue/"+userID+"/stop", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Cleared 1 queued download(s)")

	rec = f.request(t, http.MethodDelete, "/v1/queue/"+userID, "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "already empty")
}

func TestArchiverHandler_Stats(t *testing.T) {
	stats := &fakeStats{
		totals: storage.ArchiveTotals{Files: 12, Bytes: 34567},
		guilds: []storage.GuildTotal{{Guild: "My Guild", Files: 12, Bytes: 34567}},
	}

	f := newFixture(t, stats)

	rec := f.request(t, http.MethodGet, "/v1/stats", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"total_files": 12,
		"total_bytes": 34567,
		"guilds": [{"guild": "My Guild", "files": 12, "bytes": 34567}]
	}`, rec.Body.String())
}

func TestArchiverHandler_StatsFailure(t *testing.T) {
	f := newFixture(t, &fakeStats{err: context.DeadlineExceeded})

	rec := f.request(t, http.MethodGet, "/v1/stats", "", true)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
