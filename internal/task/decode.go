package task

import (
	"encoding/json"
	"fmt"
	"time"
)

// Decode converts loosely-typed external JSON into a strict Task.
//
// Payloads produced upstream (the mobile client, the WhatsApp ingest
// path) are not consistent about key casing or timestamp encoding:
// the same logical field may arrive as "localId" or "local_id", and
// timestamps may be RFC 3339 strings or unix epoch numbers. This is the
// single normalization boundary; everything past it handles only the
// strict Task type.
func Decode(data []byte) (*Task, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	return decodeRaw(raw)
}

// DecodeList decodes a JSON array of loose task objects.
func DecodeList(data []byte) ([]*Task, error) {
	var items []map[string]json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode task list: %w", err)
	}
	tasks := make([]*Task, 0, len(items))
	for i, raw := range items {
		t, err := decodeRaw(raw)
		if err != nil {
			return nil, fmt.Errorf("decode task list entry %d: %w", i, err)
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func decodeRaw(raw map[string]json.RawMessage) (*Task, error) {
	t := &Task{}

	t.LocalID = looseString(raw, "local_id", "localId")
	t.ServerID = looseString(raw, "id", "server_id", "serverId")
	t.Title = looseString(raw, "title")
	t.Description = looseString(raw, "description")
	t.Status = Status(looseString(raw, "status"))

	var err error
	if t.CreatedAt, err = looseTime(raw, "created_at", "createdAt"); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = looseTime(raw, "updated_at", "updatedAt"); err != nil {
		return nil, err
	}

	sched, err := looseTime(raw, "scheduled_at", "scheduledAt")
	if err != nil {
		return nil, err
	}
	if !sched.IsZero() {
		t.ScheduledAt = &sched
	}

	if v, ok := firstKey(raw, "synced"); ok {
		var b bool
		if err := json.Unmarshal(v, &b); err == nil {
			t.Synced = b
		}
	}

	return t, nil
}

func firstKey(raw map[string]json.RawMessage, keys ...string) (json.RawMessage, bool) {
	for _, k := range keys {
		if v, ok := raw[k]; ok && string(v) != "null" {
			return v, true
		}
	}
	return nil, false
}

// looseString accepts a JSON string or number for any of the given keys.
func looseString(raw map[string]json.RawMessage, keys ...string) string {
	v, ok := firstKey(raw, keys...)
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err == nil {
		return n.String()
	}
	return ""
}

// timeLayouts are tried in order when parsing string timestamps.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// looseTime accepts an RFC 3339 string (with a couple of fallback
// layouts) or a unix epoch number in seconds or milliseconds. A missing
// or unparseable value yields the zero time; the caller decides whether
// to substitute "now".
func looseTime(raw map[string]json.RawMessage, keys ...string) (time.Time, error) {
	v, ok := firstKey(raw, keys...)
	if !ok {
		return time.Time{}, nil
	}

	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		if s == "" {
			return time.Time{}, nil
		}
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("decode task: unparseable timestamp %q", s)
	}

	var n int64
	if err := json.Unmarshal(v, &n); err == nil {
		// Heuristic: values past the year 2286 in seconds are millis.
		if n > 1e10 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}

	return time.Time{}, fmt.Errorf("decode task: unsupported timestamp encoding %s", string(v))
}
