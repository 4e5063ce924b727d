// Package dashboard holds the fitness sync domain: pipeline and pending-input
// feeds and the consumers the dashboard widgets attach to them.
package dashboard

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/DeBrosOfficial/fitsync/pkg/feed"
)

// Channels served by the backend.
const (
	ChannelPipelines     = "pipelines"
	ChannelPendingInputs = "pending-inputs"
)

// Pipeline is one sync pipeline of a user, e.g. "Strava to Sheets".
type Pipeline struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Provider  string     `json:"provider,omitempty"`
	Status    string     `json:"status,omitempty"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
	// Trace is the lazily loaded run trace. Pushes do not carry it.
	Trace string `json:"trace,omitempty"`
}

// PendingInput is a question a pipeline run is waiting on.
type PendingInput struct {
	ID         string    `json:"id"`
	PipelineID string    `json:"pipeline_id"`
	Kind       string    `json:"kind,omitempty"`
	Prompt     string    `json:"prompt,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// DecodePipelines converts pushed rows into pipelines.
func DecodePipelines(rows feed.Rows) ([]Pipeline, error) {
	out := make([]Pipeline, 0, len(rows))
	for i, r := range rows {
		p := Pipeline{
			ID:       stringValue(r["id"]),
			Name:     stringValue(r["name"]),
			Provider: stringValue(r["provider"]),
			Status:   stringValue(r["status"]),
			Trace:    stringValue(r["trace"]),
		}
		if p.ID == "" {
			return nil, fmt.Errorf("pipeline row %d: missing id", i)
		}
		updated, ok, err := timeValue(r["updated_at"])
		if err != nil {
			return nil, fmt.Errorf("pipeline %s: updated_at: %w", p.ID, err)
		}
		if ok {
			p.UpdatedAt = updated
		}
		lastRun, ok, err := timeValue(r["last_run_at"])
		if err != nil {
			return nil, fmt.Errorf("pipeline %s: last_run_at: %w", p.ID, err)
		}
		if ok {
			p.LastRunAt = &lastRun
		}
		out = append(out, p)
	}
	return out, nil
}

// DecodePendingInputs converts pushed rows into pending inputs.
func DecodePendingInputs(rows feed.Rows) ([]PendingInput, error) {
	out := make([]PendingInput, 0, len(rows))
	for i, r := range rows {
		in := PendingInput{
			ID:         stringValue(r["id"]),
			PipelineID: stringValue(r["pipeline_id"]),
			Kind:       stringValue(r["kind"]),
			Prompt:     stringValue(r["prompt"]),
		}
		if in.ID == "" {
			return nil, fmt.Errorf("pending input row %d: missing id", i)
		}
		created, ok, err := timeValue(r["created_at"])
		if err != nil {
			return nil, fmt.Errorf("pending input %s: created_at: %w", in.ID, err)
		}
		if ok {
			in.CreatedAt = created
		}
		out = append(out, in)
	}
	return out, nil
}

func stringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// timeValue accepts driver times, RFC 3339 or SQLite text, and unix seconds.
func timeValue(v any) (time.Time, bool, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, false, nil
	case time.Time:
		return t.UTC(), true, nil
	case int64:
		return time.Unix(t, 0).UTC(), true, nil
	case int:
		return time.Unix(int64(t), 0).UTC(), true, nil
	case float64:
		sec := int64(t)
		return time.Unix(sec, int64((t-float64(sec))*1e9)).UTC(), true, nil
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return time.Time{}, false, err
		}
		return time.Unix(n, 0).UTC(), true, nil
	case []byte:
		return timeValue(string(t))
	case string:
		if t == "" {
			return time.Time{}, false, nil
		}
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, t); err == nil {
				return ts.UTC(), true, nil
			}
		}
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return time.Unix(n, 0).UTC(), true, nil
		}
		return time.Time{}, false, fmt.Errorf("unrecognized time %q", t)
	default:
		return time.Time{}, false, fmt.Errorf("unsupported time type %T", v)
	}
}
