// Package discord implements the platform interfaces against the Discord
// REST API (v10). Gateway events are out of scope; the archiver only needs
// channel history, message posting and direct messages.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/italolelis/discord_archiver/internal/platform"
)

const (
	defaultBaseURL = "https://discord.com/api/v10"
	historyPage    = 100
)

// Thread channel types as defined by the Discord API.
const (
	channelTypeAnnouncementThread = 10
	channelTypePublicThread       = 11
	channelTypePrivateThread      = 12
)

// APIError is a non-2xx response from the Discord API.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("discord: %s %s returned %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Unwrap maps permission failures onto the platform sentinel so callers can
// use errors.Is without knowing about HTTP.
func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusForbidden {
		return platform.ErrForbidden
	}

	return nil
}

// Client is a thin Discord REST client authenticated as a bot.
type Client struct {
	// BaseURL can be overridden for tests.
	BaseURL string

	token      string
	httpClient *http.Client
}

func NewClient(token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		BaseURL:    defaultBaseURL,
		token:      token,
		httpClient: httpClient,
	}
}

var _ platform.Messenger = (*Client)(nil)

type userPayload struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type guildPayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type channelPayload struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     int    `json:"type"`
	GuildID  string `json:"guild_id"`
	ParentID string `json:"parent_id"`
}

type attachmentPayload struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	URL      string `json:"url"`
	Size     int64  `json:"size"`
}

type messagePayload struct {
	ID          string              `json:"id"`
	ChannelID   string              `json:"channel_id"`
	Author      userPayload         `json:"author"`
	Attachments []attachmentPayload `json:"attachments"`
}

// BotUser returns the ID of the authenticated bot account.
func (c *Client) BotUser(ctx context.Context) (string, error) {
	var user userPayload
	if err := c.do(ctx, http.MethodGet, "/users/@me", nil, &user); err != nil {
		return "", fmt.Errorf("failed to fetch bot user: %w", err)
	}

	return user.ID, nil
}

// Resolve fetches a channel by ID together with its guild. Thread channels
// come back as platform.Thread with the parent channel's name attached.
func (c *Client) Resolve(ctx context.Context, channelID string) (platform.Channel, platform.Guild, error) {
	var payload channelPayload
	if err := c.do(ctx, http.MethodGet, "/channels/"+channelID, nil, &payload); err != nil {
		return nil, nil, fmt.Errorf("failed to fetch channel %s: %w", channelID, err)
	}

	var guild guildPayload
	if err := c.do(ctx, http.MethodGet, "/guilds/"+payload.GuildID, nil, &guild); err != nil {
		return nil, nil, fmt.Errorf("failed to fetch guild %s: %w", payload.GuildID, err)
	}

	base := Channel{client: c, id: payload.ID, name: payload.Name, guildID: payload.GuildID}

	if isThreadType(payload.Type) {
		var parent channelPayload
		if err := c.do(ctx, http.MethodGet, "/channels/"+payload.ParentID, nil, &parent); err != nil {
			return nil, nil, fmt.Errorf("failed to fetch parent channel %s: %w", payload.ParentID, err)
		}

		return &Thread{Channel: base, parentName: parent.Name}, &Guild{id: guild.ID, name: guild.Name}, nil
	}

	return &base, &Guild{id: guild.ID, name: guild.Name}, nil
}

// DirectMessage opens (or reuses) the DM channel with the user and posts the
// content there.
func (c *Client) DirectMessage(ctx context.Context, userID, content string) error {
	var dm channelPayload

	err := c.do(ctx, http.MethodPost, "/users/@me/channels", map[string]string{"recipient_id": userID}, &dm)
	if err != nil {
		return fmt.Errorf("failed to open DM channel with %s: %w", userID, err)
	}

	err = c.do(ctx, http.MethodPost, "/channels/"+dm.ID+"/messages", map[string]string{"content": content}, nil)
	if err != nil {
		return fmt.Errorf("failed to send DM to %s: %w", userID, err)
	}

	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader

	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}

		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bot "+c.token)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))

		return &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: string(b)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

func isThreadType(channelType int) bool {
	switch channelType {
	case channelTypeAnnouncementThread, channelTypePublicThread, channelTypePrivateThread:
		return true
	}

	return false
}

// Channel is a guild text channel.
type Channel struct {
	client  *Client
	id      string
	name    string
	guildID string
}

var (
	_ platform.Channel      = (*Channel)(nil)
	_ platform.ThreadLister = (*Channel)(nil)
	_ platform.Thread       = (*Thread)(nil)
)

func (ch *Channel) ID() string   { return ch.id }
func (ch *Channel) Name() string { return ch.name }

// History iterates the channel newest first, fetching pages lazily.
func (ch *Channel) History(_ context.Context) platform.HistoryIterator {
	return &historyIterator{channel: ch}
}

func (ch *Channel) Post(ctx context.Context, content string) (platform.StatusMessage, error) {
	var msg messagePayload

	err := ch.client.do(ctx, http.MethodPost, "/channels/"+ch.id+"/messages", map[string]string{"content": content}, &msg)
	if err != nil {
		return nil, fmt.Errorf("failed to post message to channel %s: %w", ch.id, err)
	}

	return &StatusMessage{client: ch.client, id: msg.ID, channelID: ch.id}, nil
}

// Threads lists the channel's threads: archived public threads plus the
// guild's active threads that belong to this channel.
func (ch *Channel) Threads(ctx context.Context) ([]platform.Thread, error) {
	var listing struct {
		Threads []channelPayload `json:"threads"`
	}

	err := ch.client.do(ctx, http.MethodGet, "/channels/"+ch.id+"/threads/archived/public", nil, &listing)
	if err != nil {
		return nil, fmt.Errorf("failed to list archived threads of %s: %w", ch.id, err)
	}

	seen := make(map[string]struct{}, len(listing.Threads))
	threads := make([]platform.Thread, 0, len(listing.Threads))

	for _, t := range listing.Threads {
		seen[t.ID] = struct{}{}
		threads = append(threads, ch.thread(t))
	}

	var active struct {
		Threads []channelPayload `json:"threads"`
	}

	err = ch.client.do(ctx, http.MethodGet, "/guilds/"+ch.guildID+"/threads/active", nil, &active)
	if err != nil {
		return nil, fmt.Errorf("failed to list active threads of guild %s: %w", ch.guildID, err)
	}

	for _, t := range active.Threads {
		if t.ParentID != ch.id {
			continue
		}

		if _, ok := seen[t.ID]; ok {
			continue
		}

		threads = append(threads, ch.thread(t))
	}

	return threads, nil
}

func (ch *Channel) thread(payload channelPayload) *Thread {
	return &Thread{
		Channel:    Channel{client: ch.client, id: payload.ID, name: payload.Name, guildID: ch.guildID},
		parentName: ch.name,
	}
}

// Thread is a thread channel; history and posting behave exactly like a
// regular channel.
type Thread struct {
	Channel
	parentName string
}

func (t *Thread) ParentName() string { return t.parentName }

// StatusMessage is a message the bot posted and can keep editing.
type StatusMessage struct {
	client    *Client
	id        string
	channelID string
}

var _ platform.StatusMessage = (*StatusMessage)(nil)

func (m *StatusMessage) ID() string        { return m.id }
func (m *StatusMessage) ChannelID() string { return m.channelID }

// Edit rewrites the message content. A deleted or inaccessible message
// surfaces as platform.ErrMessageGone so callers can post a replacement.
func (m *StatusMessage) Edit(ctx context.Context, content string) error {
	path := "/channels/" + m.channelID + "/messages/" + m.id

	err := m.client.do(ctx, http.MethodPatch, path, map[string]string{"content": content}, nil)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			switch apiErr.StatusCode {
			case http.StatusUnauthorized, http.StatusNotFound:
				return platform.ErrMessageGone
			}
		}

		return fmt.Errorf("failed to edit message %s: %w", m.id, err)
	}

	return nil
}

type historyIterator struct {
	channel *Channel
	before  string
	buf     []*platform.Message
	done    bool
}

func (it *historyIterator) Next(ctx context.Context) (*platform.Message, error) {
	if len(it.buf) == 0 {
		if it.done {
			return nil, platform.ErrEndOfHistory
		}

		if err := it.fetchPage(ctx); err != nil {
			return nil, err
		}

		if len(it.buf) == 0 {
			return nil, platform.ErrEndOfHistory
		}
	}

	msg := it.buf[0]
	it.buf = it.buf[1:]

	return msg, nil
}

func (it *historyIterator) fetchPage(ctx context.Context) error {
	path := fmt.Sprintf("/channels/%s/messages?limit=%d", it.channel.id, historyPage)
	if it.before != "" {
		path += "&before=" + it.before
	}

	var page []messagePayload
	if err := it.channel.client.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return fmt.Errorf("failed to fetch history of channel %s: %w", it.channel.id, err)
	}

	if len(page) == 0 {
		it.done = true

		return nil
	}

	if len(page) < historyPage {
		it.done = true
	}

	it.before = page[len(page)-1].ID

	for _, payload := range page {
		msg := &platform.Message{
			ID:        payload.ID,
			ChannelID: payload.ChannelID,
			AuthorID:  payload.Author.ID,
			JumpLink: fmt.Sprintf("https://discord.com/channels/%s/%s/%s",
				it.channel.guildID, it.channel.id, payload.ID),
		}

		for _, att := range payload.Attachments {
			msg.Attachments = append(msg.Attachments, platform.Attachment{
				ID:       att.ID,
				Filename: att.Filename,
				URL:      att.URL,
				Size:     att.Size,
			})
		}

		it.buf = append(it.buf, msg)
	}

	return nil
}

// Guild is the guild a resolved channel belongs to.
type Guild struct {
	id   string
	name string
}

var _ platform.Guild = (*Guild)(nil)

func (g *Guild) ID() string   { return g.id }
func (g *Guild) Name() string { return g.name }
