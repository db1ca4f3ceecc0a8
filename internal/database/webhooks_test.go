package database

import (
	"context"
	"testing"

	"bridge-wallet-go/internal/store"
)

func TestRecordWebhookEventDedup(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	params := store.RecordWebhookParams{
		ProviderEventId:       "notif-1",
		DedupeHash:            "hash-1",
		NotificationType:      "transactions.outbound",
		ProviderTransactionId: "ptx-1",
		RawPayload:            `{"notificationId":"notif-1"}`,
		MappedStatus:          "CONFIRMED",
		SignatureValid:        true,
	}

	duplicate, err := svc.RecordWebhookEvent(ctx, params)
	if err != nil {
		t.Fatalf("first record failed: %v", err)
	}
	if duplicate {
		t.Error("first delivery reported as duplicate")
	}

	// Byte-identical redelivery collides on the dedupe hash.
	duplicate, err = svc.RecordWebhookEvent(ctx, params)
	if err != nil {
		t.Fatalf("redelivery errored: %v", err)
	}
	if !duplicate {
		t.Error("redelivery not reported as duplicate")
	}

	// Same notification id with a different body collides on the event id.
	params.DedupeHash = "hash-2"
	duplicate, err = svc.RecordWebhookEvent(ctx, params)
	if err != nil {
		t.Fatalf("same-event redelivery errored: %v", err)
	}
	if !duplicate {
		t.Error("same notification id not reported as duplicate")
	}
}

func TestRecordWebhookEventRequiresHash(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.RecordWebhookEvent(context.Background(), store.RecordWebhookParams{
		NotificationType: "webhooks.test",
	})
	if err == nil {
		t.Error("expected error for missing dedupe hash")
	}
}
