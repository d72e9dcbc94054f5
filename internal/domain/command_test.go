package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func validParams() CommandParams {
	return CommandParams{
		BondID:          uuid.New(),
		TransactionType: TransactionPayment,
		Amount:          50_000,
		RequestID:       uuid.New(),
		CorrelationID:   uuid.New(),
	}
}

func TestNewCommand_RejectsInvalidInput(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*CommandParams)
		field   string
	}{
		{"missing bond", func(p *CommandParams) { p.BondID = uuid.Nil }, "bond_id"},
		{"zero amount", func(p *CommandParams) { p.Amount = 0 }, "amount"},
		{"negative amount", func(p *CommandParams) { p.Amount = -100 }, "amount"},
		{"unknown type", func(p *CommandParams) { p.TransactionType = "wire" }, "transaction_type"},
		{"missing correlation", func(p *CommandParams) { p.CorrelationID = uuid.Nil }, "correlation_id"},
		{"missing request id", func(p *CommandParams) { p.RequestID = uuid.Nil }, "request_id"},
		{"unknown priority", func(p *CommandParams) { p.Priority = "urgent" }, "priority"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			params := validParams()
			tc.mutate(&params)
			_, err := NewCommand(params)
			var validationErr *ValidationError
			if !errors.As(err, &validationErr) {
				t.Fatalf("expected *ValidationError, got %v", err)
			}
			if validationErr.Field != tc.field {
				t.Fatalf("expected field %q, got %q", tc.field, validationErr.Field)
			}
		})
	}
}

func TestNewCommand_Defaults(t *testing.T) {
	cmd, err := NewCommand(validParams())
	if err != nil {
		t.Fatalf("NewCommand returned error: %v", err)
	}
	if cmd.Priority != PriorityNormal {
		t.Fatalf("expected normal priority default, got %q", cmd.Priority)
	}
	if cmd.Timestamp.IsZero() {
		t.Fatal("expected timestamp to default to now")
	}
	if cmd.Timestamp.Location() != time.UTC {
		t.Fatalf("expected UTC timestamp, got %v", cmd.Timestamp.Location())
	}
}

func TestCommand_MetadataIsCopied(t *testing.T) {
	params := validParams()
	params.Metadata = map[string]string{"channel": "api"}
	cmd, err := NewCommand(params)
	if err != nil {
		t.Fatalf("NewCommand returned error: %v", err)
	}

	// Mutating the input map must not reach the command.
	params.Metadata["channel"] = "altered"
	if v, _ := cmd.MetadataValue("channel"); v != "api" {
		t.Fatalf("command metadata changed through the input map: %q", v)
	}

	// Mutating the returned copy must not reach the command either.
	out := cmd.Metadata()
	out["channel"] = "altered"
	if v, _ := cmd.MetadataValue("channel"); v != "api" {
		t.Fatalf("command metadata changed through the accessor copy: %q", v)
	}
}

func TestCommand_DeriveCarriesCorrelationForward(t *testing.T) {
	parent, err := NewCommand(validParams())
	if err != nil {
		t.Fatalf("NewCommand returned error: %v", err)
	}

	child, err := parent.Derive(TransactionRefund, 25_000)
	if err != nil {
		t.Fatalf("Derive returned error: %v", err)
	}
	if child.CorrelationID != parent.CorrelationID {
		t.Fatal("derived command dropped the correlation id")
	}
	if child.CausationID != parent.RequestID {
		t.Fatal("derived command should be caused by the parent's request id")
	}
	if child.RequestID == parent.RequestID {
		t.Fatal("derived command must carry a fresh request id")
	}
	if child.TransactionType != TransactionRefund || child.Amount != 25_000 {
		t.Fatalf("derived command has wrong type/amount: %s %d", child.TransactionType, child.Amount)
	}
}
