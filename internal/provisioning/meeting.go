package provisioning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tutoring-booking/internal/data/entity"
	"tutoring-booking/pkg/utils"

	"go.uber.org/zap"
)

type meetingRequest struct {
	ExternalID      string    `json:"external_id"`
	Topic           string    `json:"topic"`
	StartTime       time.Time `json:"start_time"`
	DurationMinutes int       `json:"duration_minutes"`
}

type meetingResponse struct {
	ID      string `json:"id"`
	JoinURL string `json:"join_url"`
}

// MeetingConnector schedules a video meeting for a confirmed lesson. The
// booking reference is sent as the meeting's external id and idempotency
// key, so provisioning the same booking twice yields one meeting.
type MeetingConnector struct {
	baseURL  string
	token    string
	duration time.Duration
	client   *http.Client
	log      *zap.Logger
}

func NewMeetingConnector(cfg utils.MeetingConfig, duration, timeout time.Duration, log *zap.Logger) *MeetingConnector {
	return &MeetingConnector{
		baseURL:  strings.TrimSuffix(cfg.BaseURL, "/"),
		token:    cfg.Token,
		duration: duration,
		client:   &http.Client{Timeout: timeout},
		log:      log.With(zap.String("connector", "meeting")),
	}
}

func (c *MeetingConnector) Provision(ctx context.Context, booking *entity.Booking) (string, error) {
	if c.baseURL == "" {
		return "", fmt.Errorf("%w: meeting service is not configured", entity.ErrProvisioningFailed)
	}
	if booking.SlotStart == nil {
		return "", fmt.Errorf("%w: lesson %s has no slot", entity.ErrProvisioningFailed, booking.Reference)
	}

	topic := "Lesson " + booking.Reference
	if booking.Topic != nil && *booking.Topic != "" {
		topic = *booking.Topic
	}

	body, err := json.Marshal(meetingRequest{
		ExternalID:      booking.Reference,
		Topic:           topic,
		StartTime:       booking.SlotStart.UTC(),
		DurationMinutes: int(c.duration / time.Minute),
	})
	if err != nil {
		return "", fmt.Errorf("%w: encode meeting request: %v", entity.ErrProvisioningFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/meetings", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: build meeting request: %v", entity.ErrProvisioningFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", booking.Reference)
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: schedule meeting for %s: %v", entity.ErrProvisioningFailed, booking.Reference, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: meeting service returned %d: %s",
			entity.ErrProvisioningFailed, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var meeting meetingResponse
	if err := json.NewDecoder(resp.Body).Decode(&meeting); err != nil {
		return "", fmt.Errorf("%w: decode meeting response: %v", entity.ErrProvisioningFailed, err)
	}
	if meeting.JoinURL == "" {
		return "", fmt.Errorf("%w: meeting service returned no join url", entity.ErrProvisioningFailed)
	}

	c.log.Info("Meeting scheduled",
		zap.String("booking_id", booking.ID.String()),
		zap.String("meeting_id", meeting.ID),
	)
	return meeting.JoinURL, nil
}

func (c *MeetingConnector) Release(ctx context.Context, booking *entity.Booking) error {
	if c.baseURL == "" {
		return errors.New("meeting service is not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		c.baseURL+"/meetings/"+url.PathEscape(booking.Reference), nil)
	if err != nil {
		return fmt.Errorf("build meeting delete: %w", err)
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("delete meeting for %s: %w", booking.Reference, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return fmt.Errorf("delete meeting for %s: meeting service returned %d", booking.Reference, resp.StatusCode)
	}
}

func (c *MeetingConnector) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
