// Package ledger implements the per-agent append-only event chain: the
// admission pipeline that verifies and links incoming signed events, and
// the verification walks that audit persisted chains.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wrentheai/trust-infra/internal/integrity"
	"github.com/wrentheai/trust-infra/internal/model"
	"github.com/wrentheai/trust-infra/internal/storage"
)

// Admission failure codes. Each maps onto one API error kind.
const (
	CodeAgentUnknown     = "AGENT_UNKNOWN"
	CodeAgentRevoked     = "AGENT_REVOKED"
	CodeHashMismatch     = "HASH_MISMATCH"
	CodeSignatureInvalid = "SIGNATURE_INVALID"
	CodeChainBroken      = "CHAIN_BROKEN"
	CodeDuplicateEvent   = "DUPLICATE_EVENT"
	CodeValidation       = "VALIDATION"
)

// AdmissionError is a verification failure in the admission pipeline.
// Admission failures are unrecoverable for the request; the code pins the
// precise reason.
type AdmissionError struct {
	Code    string
	Message string
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("ledger: %s: %s", e.Code, e.Message)
}

func admissionErr(code, format string, args ...any) *AdmissionError {
	return &AdmissionError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Service is the event ledger.
type Service struct {
	db     *storage.DB
	logger *slog.Logger
}

// New creates a ledger service.
func New(db *storage.DB, logger *slog.Logger) *Service {
	return &Service{db: db, logger: logger}
}

// Append runs the admission pipeline for one signed event and persists it.
//
// The whole pipeline executes inside a transaction that holds a row lock
// on the agent, so concurrent admissions for the same agent serialize and
// the chain check always sees the true head. Admissions for different
// agents proceed in parallel. A cancelled request rolls back and leaves no
// partial state.
func (s *Service) Append(ctx context.Context, req model.AppendEventRequest) (model.Event, error) {
	ts, tsStr, err := resolveTimestamp(req.Timestamp)
	if err != nil {
		return model.Event{}, admissionErr(CodeValidation, "invalid timestamp: %v", err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return model.Event{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Step 1: agent lookup under lock.
	agent, err := s.db.GetAgentForUpdate(ctx, tx, req.AgentID)
	if errors.Is(err, storage.ErrNotFound) {
		return model.Event{}, admissionErr(CodeAgentUnknown, "agent %s is not registered", req.AgentID)
	}
	if err != nil {
		return model.Event{}, err
	}
	if agent.Status != model.AgentActive {
		return model.Event{}, admissionErr(CodeAgentRevoked, "agent %s is revoked", req.AgentID)
	}

	// Step 2: link resolution — the true head of this agent's chain.
	var derivedPrev *string
	last, err := s.db.GetLastEventTx(ctx, tx, req.AgentID)
	switch {
	case err == nil:
		h := last.Hash
		derivedPrev = &h
	case errors.Is(err, storage.ErrNotFound):
		derivedPrev = nil
	default:
		return model.Event{}, err
	}

	// Step 3: canonical reconstruction over the client-declared prev_hash —
	// those are the bytes the client signed.
	unsigned := integrity.UnsignedEvent{
		AgentID:       req.AgentID,
		EventType:     req.EventType,
		Timestamp:     tsStr,
		PrevHash:      req.PrevHash,
		Payload:       req.Payload,
		CorrelationID: req.CorrelationID,
	}
	canonicalBytes, err := unsigned.CanonicalBytes()
	if err != nil {
		return model.Event{}, admissionErr(CodeValidation, "payload not canonicalizable: %v", err)
	}

	// Step 4: hash check.
	computed := integrity.SHA256Hex(canonicalBytes)
	if computed != req.Hash {
		return model.Event{}, admissionErr(CodeHashMismatch,
			"submitted hash %s does not match computed %s", req.Hash, computed)
	}

	// Step 5: signature check under the registered public key.
	if !integrity.VerifyHex(canonicalBytes, req.Signature, agent.PublicKey) {
		return model.Event{}, admissionErr(CodeSignatureInvalid,
			"signature does not verify under agent public key")
	}

	// Replays carry a hash we have already persisted; reject them as
	// duplicates before the chain comparison so a verbatim resubmission is
	// idempotently refused rather than reported as a broken chain.
	exists, err := s.db.EventHashExistsTx(ctx, tx, req.Hash)
	if err != nil {
		return model.Event{}, err
	}
	if exists {
		return model.Event{}, admissionErr(CodeDuplicateEvent,
			"event hash %s already recorded", req.Hash)
	}

	// Step 6: chain check — the client's view of the head must equal ours.
	if !hashPtrEqual(req.PrevHash, derivedPrev) {
		return model.Event{}, admissionErr(CodeChainBroken,
			"prev_hash mismatch: declared %s, head %s",
			hashPtrString(req.PrevHash), hashPtrString(derivedPrev))
	}

	// Step 7: persist. The unique hash index is the backstop for races the
	// row lock cannot see (a replay committed after our existence check).
	event := model.Event{
		AgentID:       req.AgentID,
		EventType:     req.EventType,
		Timestamp:     ts,
		PrevHash:      req.PrevHash,
		Hash:          req.Hash,
		Payload:       req.Payload,
		Signature:     req.Signature,
		CorrelationID: req.CorrelationID,
	}
	inserted, err := s.db.InsertEventTx(ctx, tx, event)
	if errors.Is(err, storage.ErrDuplicate) {
		return model.Event{}, admissionErr(CodeDuplicateEvent,
			"event hash %s already recorded", req.Hash)
	}
	if err != nil {
		return model.Event{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Event{}, fmt.Errorf("ledger: commit admission: %w", err)
	}

	s.logger.Debug("event admitted",
		"agent_id", inserted.AgentID, "event_id", inserted.ID,
		"event_type", inserted.EventType, "hash", inserted.Hash)
	return inserted, nil
}

// VerifyChain recanonicalizes, rehashes, re-verifies, and re-links every
// event of an agent's chain, accumulating all violations. An empty chain
// is vacuously valid.
func (s *Service) VerifyChain(ctx context.Context, agentID string) (model.VerifyChainResponse, error) {
	agent, err := s.db.GetAgent(ctx, agentID)
	if err != nil {
		return model.VerifyChainResponse{}, err
	}

	chain, err := s.db.GetAgentChain(ctx, agentID)
	if err != nil {
		return model.VerifyChainResponse{}, err
	}

	resp := model.VerifyChainResponse{
		Valid:       true,
		Errors:      []model.ChainError{},
		TotalEvents: len(chain),
	}
	addErr := func(i int, id int64, msg string) {
		resp.Valid = false
		resp.Errors = append(resp.Errors, model.ChainError{Index: i, EventID: id, Message: msg})
		if resp.FirstInvalidEvent == nil {
			idx := i
			resp.FirstInvalidEvent = &idx
		}
	}

	for i, e := range chain {
		unsigned := integrity.UnsignedFromEvent(e)
		canonicalBytes, cerr := unsigned.CanonicalBytes()
		if cerr != nil {
			addErr(i, e.ID, fmt.Sprintf("canonicalization failed: %v", cerr))
			continue
		}
		if computed := integrity.SHA256Hex(canonicalBytes); computed != e.Hash {
			addErr(i, e.ID, fmt.Sprintf("hash mismatch: stored %s, computed %s", e.Hash, computed))
		}
		if !integrity.VerifyHex(canonicalBytes, e.Signature, agent.PublicKey) {
			addErr(i, e.ID, "signature does not verify")
		}
		if i == 0 {
			if e.PrevHash != nil {
				addErr(i, e.ID, fmt.Sprintf("genesis event must have null prev_hash, got %s", *e.PrevHash))
			}
		} else {
			prior := chain[i-1]
			if e.PrevHash == nil || *e.PrevHash != prior.Hash {
				addErr(i, e.ID, fmt.Sprintf("chain broken: prev_hash %s, prior hash %s",
					hashPtrString(e.PrevHash), prior.Hash))
			}
		}
	}
	return resp, nil
}

// VerifyLinkage is the cheap integrity audit: it walks only the prev_hash
// pointers without any signature or hash recomputation.
func (s *Service) VerifyLinkage(ctx context.Context, agentID string) (model.VerifyChainResponse, error) {
	if _, err := s.db.GetAgent(ctx, agentID); err != nil {
		return model.VerifyChainResponse{}, err
	}
	chain, err := s.db.GetAgentChain(ctx, agentID)
	if err != nil {
		return model.VerifyChainResponse{}, err
	}

	resp := model.VerifyChainResponse{
		Valid:       true,
		Errors:      []model.ChainError{},
		TotalEvents: len(chain),
	}
	for i, e := range chain {
		var ok bool
		if i == 0 {
			ok = e.PrevHash == nil
		} else {
			ok = e.PrevHash != nil && *e.PrevHash == chain[i-1].Hash
		}
		if !ok {
			resp.Valid = false
			resp.Errors = append(resp.Errors, model.ChainError{
				Index: i, EventID: e.ID,
				Message: fmt.Sprintf("linkage broken at index %d", i),
			})
			if resp.FirstInvalidEvent == nil {
				idx := i
				resp.FirstInvalidEvent = &idx
			}
		}
	}
	return resp, nil
}

// LastHash returns the hash of the newest event for an agent, or nil for
// an empty chain.
func (s *Service) LastHash(ctx context.Context, agentID string) (*string, error) {
	if _, err := s.db.GetAgent(ctx, agentID); err != nil {
		return nil, err
	}
	last, err := s.db.GetLastEvent(ctx, agentID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	h := last.Hash
	return &h, nil
}

// resolveTimestamp parses the client timestamp, or substitutes the server
// clock when omitted. The returned string is the canonical form used for
// hashing and signing.
func resolveTimestamp(raw string) (time.Time, string, error) {
	if raw == "" {
		now := time.Now().UTC().Truncate(time.Microsecond)
		return now, model.CanonicalTimestamp(now), nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, "", err
	}
	t = t.UTC().Truncate(time.Microsecond)
	return t, model.CanonicalTimestamp(t), nil
}

func hashPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func hashPtrString(p *string) string {
	if p == nil {
		return "null"
	}
	return *p
}
