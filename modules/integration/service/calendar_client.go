package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"event-coordinator/core/config"
	"event-coordinator/core/gateway"
	"event-coordinator/core/logger"
	"event-coordinator/modules/integration/dto"
)

// ErrNoRoomAvailable is returned when no meeting room with enough capacity
// is free for the requested window. Callers fall back to an unassigned room.
var ErrNoRoomAvailable = errors.New("no meeting room available")

// CalendarClient writes entries into participants' calendars and reserves
// meeting rooms through the calendar provider's resource API.
type CalendarClient struct {
	cfg    config.CalendarConfig
	gw     *gateway.Gateway
	client *http.Client
}

type CalendarClientInterface interface {
	CreateEntry(ctx context.Context, req dto.CalendarEntryRequest) (string, error)
	DeleteEntry(ctx context.Context, calendarEmail, providerEventID string) error
	ReserveRoom(ctx context.Context, start, end time.Time, capacity int) (string, error)
}

func NewCalendarClient(cfg config.CalendarConfig, gw *gateway.Gateway) *CalendarClient {
	return &CalendarClient{
		cfg:    cfg,
		gw:     gw,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

type calendarEventPayload struct {
	Summary     string             `json:"summary"`
	Description string             `json:"description,omitempty"`
	Location    string             `json:"location,omitempty"`
	Start       calendarEventTime  `json:"start"`
	End         calendarEventTime  `json:"end"`
	Attendees   []calendarAttendee `json:"attendees,omitempty"`
}

type calendarEventTime struct {
	DateTime string `json:"dateTime"`
}

type calendarAttendee struct {
	Email    string `json:"email"`
	Resource bool   `json:"resource,omitempty"`
}

type calendarEventResponse struct {
	ID string `json:"id"`
}

// CreateEntry writes one event into a participant's calendar and returns the
// provider event ID.
func (c *CalendarClient) CreateEntry(ctx context.Context, req dto.CalendarEntryRequest) (string, error) {
	payload := calendarEventPayload{
		Summary:     req.Title,
		Description: req.Description,
		Location:    req.Location,
		Start:       calendarEventTime{DateTime: req.Start.Format(time.RFC3339)},
		End:         calendarEventTime{DateTime: req.End.Format(time.RFC3339)},
	}
	if req.ResourceID != "" {
		payload.Attendees = append(payload.Attendees, calendarAttendee{Email: req.ResourceID, Resource: true})
	}

	endpoint := fmt.Sprintf("%s/calendars/%s/events", c.cfg.BaseURL, url.PathEscape(req.CalendarEmail))

	var providerEventID string
	err := c.gw.Invoke(ctx, gateway.CapabilityCalendar, func(ctx context.Context) error {
		body, err := json.Marshal(payload)
		if err != nil {
			return err
		}

		httpReq, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(body))
		if err != nil {
			return err
		}
		c.authorize(httpReq)
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(httpReq)
		if err != nil {
			return gateway.Transient(err)
		}
		defer resp.Body.Close()

		respBody, _ := io.ReadAll(resp.Body)
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			err := fmt.Errorf("calendar create failed: status %d: %s", resp.StatusCode, string(respBody))
			return gateway.FromHTTPStatus(resp.StatusCode, err)
		}

		var parsed calendarEventResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return err
		}
		providerEventID = parsed.ID
		return nil
	})
	if err != nil {
		logger.Error("CalendarClient:CreateEntry", err)
		return "", err
	}
	return providerEventID, nil
}

func (c *CalendarClient) DeleteEntry(ctx context.Context, calendarEmail, providerEventID string) error {
	endpoint := fmt.Sprintf("%s/calendars/%s/events/%s",
		c.cfg.BaseURL, url.PathEscape(calendarEmail), url.PathEscape(providerEventID))

	err := c.gw.Invoke(ctx, gateway.CapabilityCalendar, func(ctx context.Context) error {
		httpReq, err := http.NewRequestWithContext(ctx, "DELETE", endpoint, nil)
		if err != nil {
			return err
		}
		c.authorize(httpReq)

		resp, err := c.client.Do(httpReq)
		if err != nil {
			return gateway.Transient(err)
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		// a 404 means the entry is already gone, which is the desired state
		if resp.StatusCode == http.StatusNotFound {
			return nil
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			err := fmt.Errorf("calendar delete failed: status %d", resp.StatusCode)
			return gateway.FromHTTPStatus(resp.StatusCode, err)
		}
		return nil
	})
	if err != nil {
		logger.Error("CalendarClient:DeleteEntry", err)
		return err
	}
	return nil
}

type roomResource struct {
	ResourceID string `json:"resourceEmail"`
	Capacity   int    `json:"capacity"`
}

type roomListResponse struct {
	Items []roomResource `json:"items"`
}

// ReserveRoom finds the smallest free room that fits the party and returns
// its resource ID. The room entry itself is written by CreateEntry with the
// resource attached, so a crash between the two leaves no dangling booking.
func (c *CalendarClient) ReserveRoom(ctx context.Context, start, end time.Time, capacity int) (string, error) {
	endpoint := fmt.Sprintf("%s/resources/rooms?minCapacity=%d&start=%s&end=%s",
		c.cfg.BaseURL, capacity,
		url.QueryEscape(start.Format(time.RFC3339)),
		url.QueryEscape(end.Format(time.RFC3339)))

	var rooms []roomResource
	err := c.gw.Invoke(ctx, gateway.CapabilityCalendar, func(ctx context.Context) error {
		httpReq, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
		if err != nil {
			return err
		}
		c.authorize(httpReq)

		resp, err := c.client.Do(httpReq)
		if err != nil {
			return gateway.Transient(err)
		}
		defer resp.Body.Close()

		respBody, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("room lookup failed: status %d: %s", resp.StatusCode, string(respBody))
			return gateway.FromHTTPStatus(resp.StatusCode, err)
		}

		var parsed roomListResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return err
		}
		rooms = parsed.Items
		return nil
	})
	if err != nil {
		logger.Error("CalendarClient:ReserveRoom", err)
		return "", err
	}

	best := ""
	bestCapacity := 0
	for _, room := range rooms {
		if room.Capacity < capacity {
			continue
		}
		if best == "" || room.Capacity < bestCapacity {
			best = room.ResourceID
			bestCapacity = room.Capacity
		}
	}
	if best == "" {
		return "", ErrNoRoomAvailable
	}
	return best, nil
}

func (c *CalendarClient) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
}
