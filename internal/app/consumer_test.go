package app

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"

	"github.com/CrysisFangz/TheFinalMarket-sub019/internal/domain"
)

func settlementBody(t *testing.T, event SettlementStatusEvent) []byte {
	t.Helper()
	body, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	return body
}

func TestSettlementConsumer_CompletesVerifiedTransaction(t *testing.T) {
	f := newProcessorFixture(t)
	consumer := NewSettlementConsumer(f.processor)
	ctx := context.Background()

	created, err := f.processor.SubmitTransaction(ctx, testActor, f.submitCommand(t))
	if err != nil {
		t.Fatalf("SubmitTransaction: %v", err)
	}
	if _, err := f.processor.SubmitVerification(ctx, testActor, created.TransactionID, f.verifyCommand(t, domain.VerificationFraudDetection)); err != nil {
		t.Fatalf("SubmitVerification: %v", err)
	}

	ack := consumer.HandleMessage(settlementBody(t, SettlementStatusEvent{
		TransactionID: created.TransactionID,
		Status:        "successful",
		SettledAmount: 5_000,
		CorrelationID: uuid.New(),
	}))
	if !ack {
		t.Fatal("settlement of a verified transaction must ack")
	}

	row, err := f.repo.GetProjection(ctx, created.TransactionID)
	if err != nil {
		t.Fatalf("GetProjection: %v", err)
	}
	if row.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed", row.Status)
	}

	// Redelivery finds a terminal transaction and acks without reapplying.
	if !consumer.HandleMessage(settlementBody(t, SettlementStatusEvent{
		TransactionID: created.TransactionID,
		Status:        "successful",
		SettledAmount: 5_000,
	})) {
		t.Fatal("redelivered settlement must ack")
	}
	row, _ = f.repo.GetProjection(ctx, created.TransactionID)
	if row.LastEventVersion != 3 {
		t.Fatalf("redelivery extended the stream: version %d", row.LastEventVersion)
	}
}

func TestSettlementConsumer_CancelsPendingTransaction(t *testing.T) {
	f := newProcessorFixture(t)
	consumer := NewSettlementConsumer(f.processor)
	ctx := context.Background()

	created, err := f.processor.SubmitTransaction(ctx, testActor, f.submitCommand(t))
	if err != nil {
		t.Fatalf("SubmitTransaction: %v", err)
	}

	if !consumer.HandleMessage(settlementBody(t, SettlementStatusEvent{
		TransactionID: created.TransactionID,
		Status:        "rejected",
	})) {
		t.Fatal("cancellation must ack")
	}

	row, err := f.repo.GetProjection(ctx, created.TransactionID)
	if err != nil {
		t.Fatalf("GetProjection: %v", err)
	}
	if row.Status != domain.StatusCancelled || row.FailureReason == nil || *row.FailureReason != "settlement cancelled" {
		t.Fatalf("unexpected projection: %+v", row)
	}
}

func TestSettlementConsumer_AcksUnactionableMessages(t *testing.T) {
	f := newProcessorFixture(t)
	consumer := NewSettlementConsumer(f.processor)

	if !consumer.HandleMessage([]byte("{not json")) {
		t.Fatal("malformed payloads must ack")
	}
	if !consumer.HandleMessage(settlementBody(t, SettlementStatusEvent{Status: "successful"})) {
		t.Fatal("missing transaction id must ack")
	}
	if !consumer.HandleMessage(settlementBody(t, SettlementStatusEvent{
		TransactionID: uuid.New(),
		Status:        "successful",
	})) {
		t.Fatal("unknown aggregate must ack")
	}
	if !consumer.HandleMessage(settlementBody(t, SettlementStatusEvent{
		TransactionID: uuid.New(),
		Status:        "processing",
	})) {
		t.Fatal("non-terminal status must ack")
	}
}

func TestSettlementConsumer_RequeuesOnInvalidTransition(t *testing.T) {
	f := newProcessorFixture(t)
	consumer := NewSettlementConsumer(f.processor)
	ctx := context.Background()

	created, err := f.processor.SubmitTransaction(ctx, testActor, f.submitCommand(t))
	if err != nil {
		t.Fatalf("SubmitTransaction: %v", err)
	}

	// A pending transaction cannot complete; the outcome is retried until the
	// verification catches up.
	if consumer.HandleMessage(settlementBody(t, SettlementStatusEvent{
		TransactionID: created.TransactionID,
		Status:        "successful",
		SettledAmount: 5_000,
	})) {
		t.Fatal("completion of an unverified transaction must requeue")
	}
}

func TestNormalizeSettlementStatus(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Successful", "completed"},
		{" settled ", "completed"},
		{"canceled", "cancelled"},
		{"EXPIRED", "cancelled"},
		{"processing", "processing"},
	}
	for _, tc := range cases {
		if got := normalizeSettlementStatus(tc.in); got != tc.want {
			t.Errorf("normalizeSettlementStatus(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
