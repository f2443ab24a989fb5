package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"event-coordinator/core/config"
	"event-coordinator/core/gateway"
	"event-coordinator/core/logger"
	"event-coordinator/modules/integration/dto"
)

// Messenger posts coordination messages to the chat workspace: availability
// prompts as DMs, progress updates on the event thread and the final channel
// announcement.
type Messenger struct {
	cfg    config.ChatConfig
	gw     *gateway.Gateway
	client *http.Client
}

type MessengerInterface interface {
	SendParticipantPrompt(ctx context.Context, prompt dto.ParticipantPrompt) error
	PostThreadUpdate(ctx context.Context, channelID, threadTS, text string) (string, error)
	Announce(ctx context.Context, a dto.Announcement) (string, error)
	NotifyOrganizer(ctx context.Context, organizerRef, text string) error
}

func NewMessenger(cfg config.ChatConfig, gw *gateway.Gateway) *Messenger {
	return &Messenger{
		cfg:    cfg,
		gw:     gw,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

type postMessageRequest struct {
	Channel  string `json:"channel"`
	Text     string `json:"text"`
	ThreadTS string `json:"thread_ts,omitempty"`
}

type postMessageResponse struct {
	OK    bool   `json:"ok"`
	TS    string `json:"ts"`
	Error string `json:"error"`
}

func (m *Messenger) SendParticipantPrompt(ctx context.Context, prompt dto.ParticipantPrompt) error {
	text := fmt.Sprintf(
		"You are invited to %q (%s). Please reply with your availability between %s and %s by %s.",
		prompt.EventTitle, prompt.Purpose,
		prompt.WindowStart.Format("Jan 2"), prompt.WindowEnd.Format("Jan 2"),
		prompt.Deadline.Format(time.RFC1123))
	if prompt.ReplyHint != "" {
		text += " " + prompt.ReplyHint
	}

	_, err := m.postMessage(ctx, postMessageRequest{Channel: prompt.UserRef, Text: text})
	return err
}

func (m *Messenger) PostThreadUpdate(ctx context.Context, channelID, threadTS, text string) (string, error) {
	return m.postMessage(ctx, postMessageRequest{Channel: channelID, ThreadTS: threadTS, Text: text})
}

func (m *Messenger) Announce(ctx context.Context, a dto.Announcement) (string, error) {
	text := fmt.Sprintf("%s is confirmed for %s - %s",
		a.Title,
		a.Start.Format("Mon Jan 2 15:04"),
		a.End.Format("15:04"))
	if a.VenueName != "" {
		text += fmt.Sprintf(" at %s (%s)", a.VenueName, a.VenueAddress)
	}
	if a.MapURL != "" {
		text += " " + a.MapURL
	}

	return m.postMessage(ctx, postMessageRequest{Channel: a.ChannelID, ThreadTS: a.ThreadTS, Text: text})
}

func (m *Messenger) NotifyOrganizer(ctx context.Context, organizerRef, text string) error {
	_, err := m.postMessage(ctx, postMessageRequest{Channel: organizerRef, Text: text})
	return err
}

func (m *Messenger) postMessage(ctx context.Context, req postMessageRequest) (string, error) {
	var ts string

	err := m.gw.Invoke(ctx, gateway.CapabilityMessaging, func(ctx context.Context) error {
		body, err := json.Marshal(req)
		if err != nil {
			return err
		}

		httpReq, err := http.NewRequestWithContext(ctx, "POST", m.cfg.BaseURL+"/chat.postMessage", bytes.NewReader(body))
		if err != nil {
			return err
		}
		httpReq.Header.Set("Authorization", "Bearer "+m.cfg.BotToken)
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := m.client.Do(httpReq)
		if err != nil {
			return gateway.Transient(err)
		}
		defer resp.Body.Close()

		respBody, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("chat post failed: status %d: %s", resp.StatusCode, string(respBody))
			return gateway.FromHTTPStatus(resp.StatusCode, err)
		}

		var parsed postMessageResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return err
		}
		if !parsed.OK {
			// rate limits come back in-band as well
			if parsed.Error == "ratelimited" {
				return gateway.Transient(fmt.Errorf("chat post rate limited"))
			}
			return fmt.Errorf("chat post rejected: %s", parsed.Error)
		}

		ts = parsed.TS
		return nil
	})
	if err != nil {
		logger.Error("Messenger:postMessage", err)
		return "", err
	}
	return ts, nil
}
