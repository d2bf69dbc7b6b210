package schedapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/unischedule/schedule-sync/internal/domain/schedule"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Requester is the transport the client needs; *Fetcher implements it.
type Requester interface {
	Do(ctx context.Context, method, path string, params url.Values, body any) (Body, error)
}

// ClientConfig contains configuration for the schedule source client.
type ClientConfig struct {
	// PageSize is the listing page size
	PageSize int

	// MaxPages guards against a source that never reports the last page
	MaxPages int

	// Logger for structured logging
	Logger *slog.Logger
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PageSize: 100,
		MaxPages: 1000,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client is the schedule source API client.
type Client struct {
	requester Requester
	mapper    *Mapper
	logger    *slog.Logger
	pageSize  int
	maxPages  int
}

// NewClient creates a new schedule source client on top of a requester.
func NewClient(requester Requester, config ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.PageSize <= 0 {
		config.PageSize = 100
	}
	if config.MaxPages <= 0 {
		config.MaxPages = 1000
	}

	return &Client{
		requester: requester,
		mapper:    NewMapper(),
		logger:    config.Logger,
		pageSize:  config.PageSize,
		maxPages:  config.MaxPages,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULE OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// ListSchedules pages through GET /schedules and returns every summary.
// A bare JSON array is accepted as a single, final page.
func (c *Client) ListSchedules(ctx context.Context) ([]schedule.ScheduleSummary, error) {
	var all []schedule.ScheduleSummary
	seen := make(map[int64]struct{})

	// collect добавляет только ещё не встреченные id и возвращает их число.
	collect := func(items []schedule.ScheduleSummary) int {
		added := 0
		for _, it := range items {
			if _, dup := seen[it.ID]; dup {
				continue
			}
			seen[it.ID] = struct{}{}
			all = append(all, it)
			added++
		}
		return added
	}

	for page := 0; page < c.maxPages; page++ {
		params := url.Values{}
		params.Set("page", strconv.Itoa(page))
		params.Set("size", strconv.Itoa(c.pageSize))

		body, err := c.requester.Do(ctx, http.MethodGet, "/schedules", params, nil)
		if err != nil {
			return nil, fmt.Errorf("list schedules page %d: %w", page, err)
		}
		if !body.IsJSON() {
			return nil, fmt.Errorf("list schedules page %d: %w: expected json", page, ErrUnexpectedPayload)
		}

		if isJSONArray(body.JSON) {
			var items []ScheduleSummaryDTO
			if err := body.Decode(&items); err != nil {
				return nil, fmt.Errorf("list schedules page %d: %w", page, err)
			}
			collect(c.mapper.SummariesFromDTO(items))
			return all, nil
		}

		var envelope PageDTO[ScheduleSummaryDTO]
		if err := body.Decode(&envelope); err != nil {
			return nil, fmt.Errorf("list schedules page %d: %w", page, err)
		}
		added := collect(c.mapper.SummariesFromDTO(envelope.Content))

		switch {
		case envelope.IsLastPage():
			return all, nil
		case envelope.TotalElements > 0 && len(all) >= envelope.TotalElements:
			return all, nil
		case added == 0:
			// источник игнорирует page и отдаёт ту же страницу
			c.logger.Warn("schedule listing repeats a page, stopping",
				"page", page, "collected", len(all))
			return all, nil
		}
	}

	c.logger.Warn("schedule listing hit the page limit", "max_pages", c.maxPages, "collected", len(all))
	return all, nil
}

// GetScheduleDetails fetches GET /schedules/{id}.
// Returns (nil, nil) when the payload cannot be mapped: empty 204, non-JSON
// body, malformed JSON or JSON of the wrong shape. Transport and API errors
// are returned.
func (c *Client) GetScheduleDetails(ctx context.Context, id int64) (*schedule.RawSchedule, error) {
	path := "/schedules/" + url.PathEscape(strconv.FormatInt(id, 10))

	body, err := c.requester.Do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		if errors.Is(err, ErrMalformedJSON) {
			c.logger.Warn("schedule payload is not valid json", "schedule_id", id, "error", err)
			return nil, nil
		}
		return nil, fmt.Errorf("get schedule %d: %w", id, err)
	}

	if !body.IsJSON() {
		c.logger.Warn("schedule payload is not json", "schedule_id", id, "empty", body.IsEmpty())
		return nil, nil
	}

	var dto ScheduleDetailDTO
	if err := body.Decode(&dto); err != nil {
		c.logger.Warn("schedule payload has unexpected shape", "schedule_id", id, "error", err)
		return nil, nil
	}

	return c.mapper.ScheduleFromDTO(&dto, id), nil
}

func isJSONArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}
