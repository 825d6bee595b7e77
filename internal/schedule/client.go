package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client resolves schedules against the timetable microservice.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// NewClient creates a client. With skip set the client answers from a canned
// all-day occurrence instead of calling out, which keeps local dev working
// without a timetable service.
func NewClient(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Health pings the timetable service.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("timetable service unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("timetable service unhealthy: %s", resp.Status)
	}
	return nil
}

// Resolve fetches one occurrence by schedule id.
func (c *Client) Resolve(ctx context.Context, scheduleID string) (Occurrence, error) {
	if c.Skip {
		now := time.Now().UTC()
		day := now.Truncate(24 * time.Hour)
		return Occurrence{
			ScheduleID: scheduleID,
			Subject:    "dev-subject",
			TeacherID:  "dev-teacher",
			ClassID:    "dev-class",
			Date:       day.Format("2006-01-02"),
			Start:      day.Add(7 * time.Hour),
			End:        day.Add(17 * time.Hour),
		}, nil
	}
	if scheduleID == "" {
		return Occurrence{}, fmt.Errorf("schedule id required: %w", ErrNotFound)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.BaseURL+"/schedules/"+url.PathEscape(scheduleID), nil)
	if err != nil {
		return Occurrence{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Occurrence{}, fmt.Errorf("timetable service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Occurrence{}, fmt.Errorf("schedule %q: %w", scheduleID, ErrNotFound)
	}
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return Occurrence{}, fmt.Errorf("timetable service error %s: %s", resp.Status, string(body))
	}

	var occ Occurrence
	if err := json.NewDecoder(resp.Body).Decode(&occ); err != nil {
		return Occurrence{}, fmt.Errorf("failed to decode schedule: %w", err)
	}
	if occ.ScheduleID == "" {
		occ.ScheduleID = scheduleID
	}
	return occ, nil
}
