// Package chat wraps the Slack API for outbound operator notifications and
// the review queue's interactive approval surface.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	goslack "github.com/slack-go/slack"

	"github.com/medxprts/spacmon/pkg/config"
)

// Client is a thin wrapper around the slack-go SDK, scoped to one channel.
type Client struct {
	api       *goslack.Client
	channelID string
	chunkSize int
	log       *slog.Logger
}

// New creates a Client from a ChatConfig and a resolved bot token. Returns
// nil if cfg is disabled, mirroring the teacher's nil-safe service pattern:
// every method below tolerates a nil receiver.
func New(cfg *config.ChatConfig, token string) *Client {
	if cfg == nil || !cfg.Enabled || token == "" || cfg.Channel == "" {
		return nil
	}
	chunkSize := cfg.MessageChunkSize
	if chunkSize <= 0 {
		chunkSize = 3800
	}
	return &Client{
		api:       goslack.New(token),
		channelID: cfg.Channel,
		chunkSize: chunkSize,
		log:       slog.With("component", "chat.client"),
	}
}

// Send posts text to the configured channel, auto-chunking at the
// configured byte size so a single long message doesn't hit Slack's limit.
// No-op on a nil Client.
func (c *Client) Send(ctx context.Context, text string) error {
	if c == nil {
		return nil
	}
	for _, chunk := range chunkMessage(text, c.chunkSize) {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		_, _, err := c.api.PostMessageContext(ctx, c.channelID, goslack.MsgOptionText(chunk, false))
		cancel()
		if err != nil {
			return fmt.Errorf("chat.postMessage failed: %w", err)
		}
	}
	return nil
}

// Update represents one new message observed since a prior poll.
type Update struct {
	ID   string // Slack message timestamp, used as the cursor
	Text string
	User string
}

// PollUpdates returns channel messages posted after sinceID (a Slack
// message timestamp), oldest first. Pages through history with a bounded
// timeout. Returns an empty slice, not an error, on a nil Client.
func (c *Client) PollUpdates(ctx context.Context, sinceID string, timeout time.Duration) ([]Update, error) {
	if c == nil {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	params := &goslack.GetConversationHistoryParameters{
		ChannelID: c.channelID,
		Oldest:    sinceID,
		Limit:     200,
	}

	var updates []Update
	const maxPages = 5
	for page := 0; page < maxPages; page++ {
		history, err := c.api.GetConversationHistoryContext(ctx, params)
		if err != nil {
			return updates, fmt.Errorf("conversations.history failed: %w", err)
		}
		for i := len(history.Messages) - 1; i >= 0; i-- {
			msg := history.Messages[i]
			if msg.Timestamp == sinceID {
				continue
			}
			updates = append(updates, Update{ID: msg.Timestamp, Text: msg.Text, User: msg.User})
		}
		if !history.HasMore || history.ResponseMetaData.NextCursor == "" {
			break
		}
		params.Cursor = history.ResponseMetaData.NextCursor
	}
	return updates, nil
}

// chunkMessage splits text into chunks of at most maxBytes, preferring to
// break on a newline boundary near the limit.
func chunkMessage(text string, maxBytes int) []string {
	if len(text) <= maxBytes {
		return []string{text}
	}

	var chunks []string
	for len(text) > maxBytes {
		cut := strings.LastIndexByte(text[:maxBytes], '\n')
		if cut <= 0 {
			cut = maxBytes
		}
		chunks = append(chunks, text[:cut])
		text = strings.TrimPrefix(text[cut:], "\n")
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
