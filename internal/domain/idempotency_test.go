package domain

import (
	"testing"
	"time"
)

func TestIdempotencyRecordFinished(t *testing.T) {
	cases := map[IdempotencyStatus]bool{
		IdempotencyStatusProcessing: false,
		IdempotencyStatusDone:       true,
		IdempotencyStatusFailed:     true,
		IdempotencyStatus("queued"): false,
	}
	for status, want := range cases {
		record := IdempotencyRecord{Key: "k", Status: status}
		if got := record.Finished(); got != want {
			t.Fatalf("status %q finished=%v, want %v", status, got, want)
		}
	}
}

func TestIdempotencyRecordExpired(t *testing.T) {
	ttl := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	record := IdempotencyRecord{Key: "k", TTLAt: ttl}

	if record.Expired(ttl.Add(-time.Nanosecond)) {
		t.Fatal("record must stay alive before its TTL")
	}
	if !record.Expired(ttl) {
		t.Fatal("record must expire exactly at its TTL")
	}
	if !record.Expired(ttl.Add(time.Hour)) {
		t.Fatal("record must stay expired after its TTL")
	}
	if (IdempotencyRecord{Key: "k"}).Expired(ttl.AddDate(10, 0, 0)) {
		t.Fatal("record without TTL must never expire")
	}
}

func TestIdempotencyStatusValid(t *testing.T) {
	for _, status := range []IdempotencyStatus{IdempotencyStatusProcessing, IdempotencyStatusDone, IdempotencyStatusFailed} {
		if !status.Valid() {
			t.Fatalf("status %q must be valid", status)
		}
	}
	for _, status := range []IdempotencyStatus{"", "DONE", "expired"} {
		if status.Valid() {
			t.Fatalf("status %q must be rejected", status)
		}
	}
}
