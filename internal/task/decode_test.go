package task

import (
	"testing"
	"time"
)

func TestDecodeSnakeCase(t *testing.T) {
	data := []byte(`{
		"local_id": "l1",
		"id": "srv-9",
		"title": "Water plants",
		"status": "pending",
		"created_at": "2025-06-01T10:00:00Z",
		"updated_at": "2025-06-01T10:05:00Z",
		"scheduled_at": "2025-06-02T08:00:00Z",
		"synced": true
	}`)

	tk, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if tk.LocalID != "l1" || tk.ServerID != "srv-9" {
		t.Errorf("ids not decoded: %+v", tk)
	}
	if tk.ScheduledAt == nil || tk.ScheduledAt.Hour() != 8 {
		t.Errorf("scheduled_at not decoded: %v", tk.ScheduledAt)
	}
	if !tk.Synced {
		t.Error("synced flag dropped")
	}
}

func TestDecodeCamelCase(t *testing.T) {
	data := []byte(`{
		"localId": "l2",
		"serverId": "srv-2",
		"title": "Call dentist",
		"status": "in_progress",
		"createdAt": "2025-06-01T10:00:00Z",
		"updatedAt": "2025-06-01T10:00:00Z"
	}`)

	tk, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if tk.LocalID != "l2" || tk.ServerID != "srv-2" {
		t.Errorf("camelCase keys not accepted: %+v", tk)
	}
	if tk.Status != StatusInProgress {
		t.Errorf("expected in_progress, got %q", tk.Status)
	}
}

func TestDecodeEpochTimestamps(t *testing.T) {
	// Seconds and milliseconds both show up in the wild.
	data := []byte(`{
		"title": "Epoch",
		"status": "pending",
		"created_at": 1748772000,
		"updated_at": 1748772000000
	}`)

	tk, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	want := time.Unix(1748772000, 0).UTC()
	if !tk.CreatedAt.Equal(want) {
		t.Errorf("seconds epoch: got %v, want %v", tk.CreatedAt, want)
	}
	if !tk.UpdatedAt.Equal(want) {
		t.Errorf("millis epoch: got %v, want %v", tk.UpdatedAt, want)
	}
}

func TestDecodeMissingTimestamps(t *testing.T) {
	tk, err := Decode([]byte(`{"title": "Bare", "status": "pending"}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !tk.CreatedAt.IsZero() || !tk.UpdatedAt.IsZero() {
		t.Error("missing timestamps should decode to zero, coercion is the store's job")
	}
}

func TestDecodeBadTimestamp(t *testing.T) {
	_, err := Decode([]byte(`{"title": "Bad", "created_at": "not-a-date"}`))
	if err == nil {
		t.Fatal("expected error for unparseable timestamp")
	}
}

func TestDecodeList(t *testing.T) {
	data := []byte(`[
		{"title": "One", "status": "pending", "createdAt": "2025-06-01T10:00:00Z", "updatedAt": "2025-06-01T10:00:00Z"},
		{"title": "Two", "status": "completed", "created_at": "2025-06-01T11:00:00Z", "updated_at": "2025-06-01T11:00:00Z"}
	]`)

	tasks, err := DecodeList(data)
	if err != nil {
		t.Fatalf("DecodeList failed: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
	if tasks[1].Status != StatusCompleted {
		t.Errorf("expected completed, got %q", tasks[1].Status)
	}
}
