/**
 * @description
 * This file implements the integrity signer and the zero-trust perimeter
 * check. Every persisted event carries an HMAC-SHA256 signature over its
 * essential fields so tampering is detectable at read time; inbound commands
 * carry the same kind of signature, verified before any side effect together
 * with structural, correlation-chain, and temporal-freshness checks.
 *
 * @dependencies
 * - crypto/hmac, crypto/sha256, encoding/hex: Standard Go libraries.
 * - internal/domain: Command and event shapes.
 */

package app

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/CrysisFangz/TheFinalMarket-sub019/internal/domain"
)

// CommandFreshnessWindow is how old a command may be before the perimeter
// rejects it as stale.
const CommandFreshnessWindow = 5 * time.Minute

// allowedClockSkew tolerates small clock drift on command timestamps that
// appear to be from the future.
const allowedClockSkew = 30 * time.Second

var (
	ErrStaleCommand       = errors.New("command timestamp is outside the freshness window")
	ErrInvalidSignature   = errors.New("integrity signature mismatch")
	ErrBrokenCorrelation  = errors.New("correlation chain is inconsistent")
	ErrMissingRequestID   = errors.New("request id is required")
	ErrMissingCorrelation = errors.New("correlation id is required")
)

// Signer computes and verifies HMAC-SHA256 integrity signatures. An empty
// secret disables signing: Sign returns the empty string and Verify accepts
// any value, so local environments can run unsigned.
type Signer struct {
	secret []byte
}

// NewSigner creates a Signer with the given shared secret.
func NewSigner(secret string) *Signer {
	trimmed := strings.TrimSpace(secret)
	if trimmed == "" {
		return &Signer{}
	}
	return &Signer{secret: []byte(trimmed)}
}

// Enabled reports whether a signing secret is configured.
func (s *Signer) Enabled() bool {
	return s != nil && len(s.secret) > 0
}

func (s *Signer) sign(canonical string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(canonical))
	return hex.EncodeToString(mac.Sum(nil))
}

func eventCanonical(event domain.Event) string {
	return fmt.Sprintf("%s|%s|%s|%s|%d|%d|%s",
		event.EventID, event.AggregateID, event.AggregateType, event.EventType,
		event.Metadata.Version, event.Metadata.Timestamp.UTC().UnixNano(),
		event.Metadata.CorrelationID,
	)
}

func commandCanonical(cmd domain.Command) string {
	return fmt.Sprintf("%s|%s|%d|%s|%s|%d",
		cmd.BondID, cmd.TransactionType, cmd.Amount,
		cmd.RequestID, cmd.CorrelationID, cmd.Timestamp.UTC().UnixNano(),
	)
}

// SignEvent returns the integrity signature for an event. The version must
// already be assigned; the processor signs events after the store reports
// their versions and persists the signature alongside.
func (s *Signer) SignEvent(event domain.Event) string {
	if !s.Enabled() {
		return ""
	}
	return s.sign(eventCanonical(event))
}

// VerifyEvent checks an event's stored signature. Verification is a read-time
// concern; the store itself never enforces it.
func (s *Signer) VerifyEvent(event domain.Event) bool {
	if !s.Enabled() {
		return true
	}
	expected := s.sign(eventCanonical(event))
	return hmac.Equal([]byte(expected), []byte(event.Metadata.Signature))
}

// SignCommand returns the integrity signature callers attach to a command.
func (s *Signer) SignCommand(cmd domain.Command) string {
	if !s.Enabled() {
		return ""
	}
	return s.sign(commandCanonical(cmd))
}

// VerifyCommand checks a command's attached signature.
func (s *Signer) VerifyCommand(cmd domain.Command) bool {
	if !s.Enabled() {
		return true
	}
	expected := s.sign(commandCanonical(cmd))
	return hmac.Equal([]byte(expected), []byte(cmd.Signature))
}

// Perimeter performs the zero-trust admission check on inbound commands.
type Perimeter struct {
	signer    *Signer
	freshness time.Duration
	now       func() time.Time
}

// NewPerimeter creates a Perimeter. A non-positive freshness falls back to
// CommandFreshnessWindow.
func NewPerimeter(signer *Signer, freshness time.Duration) *Perimeter {
	if freshness <= 0 {
		freshness = CommandFreshnessWindow
	}
	return &Perimeter{signer: signer, freshness: freshness, now: time.Now}
}

// Check validates command structure, correlation-chain integrity, temporal
// freshness, and the integrity signature. Any failure rejects the command
// before it can reach the event store.
func (p *Perimeter) Check(cmd domain.Command) error {
	if cmd.RequestID == uuid.Nil {
		return ErrMissingRequestID
	}
	if cmd.CorrelationID == uuid.Nil {
		return ErrMissingCorrelation
	}
	// A command can never be caused by its own request.
	if cmd.CausationID != uuid.Nil && cmd.CausationID == cmd.RequestID {
		return ErrBrokenCorrelation
	}

	now := p.now().UTC()
	age := now.Sub(cmd.Timestamp.UTC())
	if age > p.freshness || age < -allowedClockSkew {
		return ErrStaleCommand
	}

	if !p.signer.VerifyCommand(cmd) {
		return ErrInvalidSignature
	}
	return nil
}
