// Package rest exposes the archiver over HTTP: archive triggers, queue
// inspection and control, ledger stats, health and metrics.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/italolelis/discord_archiver/internal/command"
	"github.com/italolelis/discord_archiver/internal/logctx"
	"github.com/italolelis/discord_archiver/internal/platform"
	"github.com/italolelis/discord_archiver/internal/queue"
	"github.com/italolelis/discord_archiver/internal/storage"
	"github.com/italolelis/discord_archiver/internal/telemetry"
)

// ChannelResolver turns a channel ID into the live channel and its guild.
type ChannelResolver interface {
	Resolve(ctx context.Context, channelID string) (platform.Channel, platform.Guild, error)
}

// ArchiverHandler serves the archiver API. All /v1 routes sit behind basic
// auth; /metrics and the health check do not.
type ArchiverHandler struct {
	username string
	password string

	resolver  ChannelResolver
	commands  *command.Handler
	mgr       *queue.Manager
	stats     storage.ArchiveReadRepository
	telemetry *telemetry.Telemetry
}

func NewArchiverHandler(
	username, password string,
	resolver ChannelResolver,
	commands *command.Handler,
	mgr *queue.Manager,
	stats storage.ArchiveReadRepository,
	t *telemetry.Telemetry,
) *ArchiverHandler {
	return &ArchiverHandler{
		username:  username,
		password:  password,
		resolver:  resolver,
		commands:  commands,
		mgr:       mgr,
		stats:     stats,
		telemetry: t,
	}
}

func (h *ArchiverHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(h.telemetry.Middleware)

	r.Get("/v1/healthz", h.HandleHealth)
	r.Method(http.MethodGet, "/metrics", h.telemetry.Handler())

	r.Group(func(r chi.Router) {
		r.Use(h.basicAuthMiddleware)

		r.Post("/v1/archive", h.handleArchive(false))
		r.Post("/v1/archive/incremental", h.handleArchive(true))
		r.Post("/v1/queue/{userID}/stop", h.HandleStop)
		r.Delete("/v1/queue/{userID}", h.HandleClear)
		r.Get("/v1/queue/{userID}", h.HandleQueue)
		r.Get("/v1/stats", h.HandleStats)
	})

	return r
}

type archiveRequest struct {
	UserID    string `json:"user_id"`
	ChannelID string `json:"channel_id"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (h *ArchiverHandler) handleArchive(incremental bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := logctx.From(r.Context())

		var req archiveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)

			return
		}

		if req.UserID == "" || req.ChannelID == "" {
			http.Error(w, "user_id and channel_id are required", http.StatusBadRequest)

			return
		}

		channel, guild, err := h.resolver.Resolve(r.Context(), req.ChannelID)
		if err != nil {
			logger.Error("failed to resolve channel", "channel_id", req.ChannelID, "err", err)
			http.Error(w, "failed to resolve channel", http.StatusBadGateway)

			return
		}

		inv := command.Invocation{UserID: req.UserID, Guild: guild, Channel: channel}

		var content string
		if incremental {
			content, err = h.commands.Download(r.Context(), inv)
		} else {
			content, err = h.commands.DownloadAll(r.Context(), inv)
		}

		if err != nil {
			h.writeCommandError(w, r, err)

			return
		}

		h.writeJSON(w, r, http.StatusAccepted, messageResponse{Message: content})
	}
}

func (h *ArchiverHandler) HandleStop(w http.ResponseWriter, r *http.Request) {
	content, err := h.commands.Stop(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.writeCommandError(w, r, err)

		return
	}

	h.writeJSON(w, r, http.StatusOK, messageResponse{Message: content})
}

func (h *ArchiverHandler) HandleClear(w http.ResponseWriter, r *http.Request) {
	content, err := h.commands.ClearQueue(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.writeCommandError(w, r, err)

		return
	}

	h.writeJSON(w, r, http.StatusOK, messageResponse{Message: content})
}

type queueResponse struct {
	Active  *activeResponse `json:"active,omitempty"`
	Pending []string        `json:"pending"`
}

type activeResponse struct {
	Channel string `json:"channel"`
	State   string `json:"state"`
}

func (h *ArchiverHandler) HandleQueue(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	if !h.commands.IsAuthorized(userID) {
		http.Error(w, "user not authorized", http.StatusForbidden)

		return
	}

	snap := h.mgr.Peek(userID)

	resp := queueResponse{Pending: snap.Pending}
	if resp.Pending == nil {
		resp.Pending = []string{}
	}

	if snap.HasActive {
		resp.Active = &activeResponse{Channel: snap.ActiveChannel, State: string(snap.ActiveState)}
	}

	h.writeJSON(w, r, http.StatusOK, resp)
}

type statsResponse struct {
	TotalFiles int64            `json:"total_files"`
	TotalBytes int64            `json:"total_bytes"`
	Guilds     []guildStatsItem `json:"guilds"`
}

type guildStatsItem struct {
	Guild string `json:"guild"`
	Files int64  `json:"files"`
	Bytes int64  `json:"bytes"`
}

func (h *ArchiverHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	logger := logctx.From(r.Context())

	totals, err := h.stats.Totals()
	if err != nil {
		logger.Error("failed to read ledger totals", "err", err)
		http.Error(w, "failed to read stats", http.StatusInternalServerError)

		return
	}

	guildTotals, err := h.stats.GuildTotals()
	if err != nil {
		logger.Error("failed to read guild totals", "err", err)
		http.Error(w, "failed to read stats", http.StatusInternalServerError)

		return
	}

	resp := statsResponse{TotalFiles: totals.Files, TotalBytes: totals.Bytes, Guilds: []guildStatsItem{}}
	for _, gt := range guildTotals {
		resp.Guilds = append(resp.Guilds, guildStatsItem{Guild: gt.Guild, Files: gt.Files, Bytes: gt.Bytes})
	}

	h.writeJSON(w, r, http.StatusOK, resp)
}

func (h *ArchiverHandler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status": "ok"}`))
}

func (h *ArchiverHandler) writeCommandError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, command.ErrNotAuthorized) {
		http.Error(w, "user not authorized", http.StatusForbidden)

		return
	}

	logctx.From(r.Context()).Error("command failed", "err", err)
	http.Error(w, "command failed", http.StatusBadGateway)
}

func (h *ArchiverHandler) writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		logctx.From(r.Context()).Error("failed to encode response", "err", err)
	}
}

func (h *ArchiverHandler) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			http.Error(w, "invalid authorization format", http.StatusUnauthorized)

			return
		}

		if username != h.username || password != h.password {
			http.Error(w, "invalid username or password", http.StatusUnauthorized)

			return
		}

		next.ServeHTTP(w, r)
	})
}
