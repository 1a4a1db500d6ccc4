package cycle

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"time"

	"kairo/internal/integrity"
	"kairo/internal/logging"
	"kairo/internal/model"
	"kairo/internal/store"
)

// Vote reject codes, in the order the guards run.
const (
	RejectInvalidStance     = "INVALID_STANCE"
	RejectWalletRequired    = "WALLET_REQUIRED"
	RejectSignatureRequired = "SIGNATURE_REQUIRED"
	RejectInvalidSignature  = "INVALID_SIGNATURE"
	RejectNotEligible       = "NOT_ELIGIBLE"
	RejectWalletFlagged     = "WALLET_FLAGGED"
	RejectRateLimit         = "RATE_LIMIT"
	RejectNoCycle           = "NO_CYCLE"
	RejectLocked            = "LOCKED"
	RejectInvalidMessage    = "INVALID_MESSAGE"
	RejectCycleExpired      = "CYCLE_EXPIRED"
	RejectAlreadyVoted      = "ALREADY_VOTED"
	RejectStoreError        = "STORE_ERROR"
)

// BalanceChecker reads a wallet's gating token balance.
type BalanceChecker interface {
	TokenBalance(ctx context.Context, wallet string) (int64, error)
}

// SetBalanceChecker wires the token gate's balance source.
func (s *Service) SetBalanceChecker(c BalanceChecker) { s.balances = c }

// VoteRequest is one vote attempt as it arrived at the edge.
type VoteRequest struct {
	Stance    string
	Wallet    string
	Message   string
	Signature string
	ClientIP  string
	UserAgent string
}

// VoteResult is either an accepted vote or a coded rejection.
type VoteResult struct {
	OK           bool
	Code         string
	HTTPStatus   int
	Detail       string
	CycleID      string
	Locked       bool
	StanceCounts model.StanceCounts
	RateTier     string
}

func reject(code string, status int, detail string) *VoteResult {
	return &VoteResult{Code: code, HTTPStatus: status, Detail: detail}
}

var actorIDPattern = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// SanitizeActorID turns a wallet or client address into a storable actor
// key: wallet wins over IP, anonymous callers collapse onto "anon".
func SanitizeActorID(wallet, clientIP string) string {
	id := wallet
	if id == "" {
		id = clientIP
	}
	if id == "" {
		id = "anon"
	}
	if len(id) > 64 {
		id = id[:64]
	}
	return actorIDPattern.ReplaceAllString(id, "_")
}

// RecordVote runs the full guard chain and, when every guard passes,
// writes the stance and bumps the tally in one transaction. Rejections
// carry the HTTP status the edge should return.
func (s *Service) RecordVote(ctx context.Context, req VoteRequest) *VoteResult {
	if !model.ValidStance(req.Stance) {
		return reject(RejectInvalidStance, http.StatusBadRequest, "stance must be ALIGN, REJECT or WITHHOLD")
	}

	if s.cfg.Voting.RequireSignature {
		if req.Wallet == "" {
			return reject(RejectWalletRequired, http.StatusUnauthorized, "wallet is required")
		}
		if req.Message == "" || req.Signature == "" {
			return reject(RejectSignatureRequired, http.StatusUnauthorized, "signed message is required")
		}
		if !integrity.VerifyWalletSignature(req.Wallet, req.Message, req.Signature) {
			return reject(RejectInvalidSignature, http.StatusUnauthorized, "signature does not verify")
		}
	}

	if !s.eligible(ctx, req.Wallet) {
		return reject(RejectNotEligible, http.StatusForbidden, "wallet does not meet the token threshold")
	}

	var score float64
	if req.Wallet != "" {
		rep, err := s.integrity.Reputation(ctx, req.Wallet)
		if err != nil {
			logging.VotesWarn("reputation read for %s failed: %v", req.Wallet, err)
		} else {
			score = rep.ReputationScore
			if rep.Flagged {
				return reject(RejectWalletFlagged, http.StatusForbidden, "wallet is flagged for anomalous voting")
			}
		}
	}

	actorID := SanitizeActorID(req.Wallet, req.ClientIP)
	if allowed, tier := s.integrity.Allow(actorID, score); !allowed {
		res := reject(RejectRateLimit, http.StatusTooManyRequests, "too many votes, slow down")
		res.RateTier = tier.Name
		return res
	}

	state, err := s.LatestState(ctx)
	if err != nil {
		return reject(RejectStoreError, http.StatusInternalServerError, "vote storage unavailable")
	}
	if state == nil {
		return reject(RejectNoCycle, http.StatusServiceUnavailable, "no active cycle")
	}
	if state.Locked {
		return reject(RejectLocked, http.StatusConflict, "cycle is locked")
	}

	if s.cfg.Voting.RequireSignature {
		expected := integrity.BuildVoteMessage(state.CycleID, req.Stance, state.CycleEndsAt)
		if req.Message != expected {
			return reject(RejectInvalidMessage, http.StatusUnauthorized, "signed message does not match this cycle")
		}
	}
	if s.IsLocked(state) {
		return reject(RejectCycleExpired, http.StatusConflict, "cycle has ended")
	}

	now := s.now().UTC()
	result := &VoteResult{OK: true}
	txErr := s.store.Update(ctx, func(tx store.Tx) error {
		var live model.State
		if err := tx.Get(model.StateKey, &live); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				*result = *reject(RejectNoCycle, http.StatusServiceUnavailable, "no active cycle")
				return nil
			}
			return err
		}
		if live.Locked {
			*result = *reject(RejectLocked, http.StatusConflict, "cycle is locked")
			return nil
		}
		stanceKey := model.StanceKey(live.CycleID, actorID)
		var existing model.Stance
		err := tx.Get(stanceKey, &existing)
		if err == nil {
			res := reject(RejectAlreadyVoted, http.StatusConflict, "stance already recorded for this cycle")
			res.CycleID = live.CycleID
			res.StanceCounts = live.StanceCounts
			*result = *res
			return nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if err := tx.Set(stanceKey, model.Stance{
			CycleID:   live.CycleID,
			ActorID:   actorID,
			Stance:    req.Stance,
			At:        now.Format(time.RFC3339),
			UserAgent: req.UserAgent,
		}); err != nil {
			return err
		}
		live.StanceCounts.Inc(req.Stance)
		if err := tx.Set(model.StateKey, live); err != nil {
			return err
		}
		result.CycleID = live.CycleID
		result.StanceCounts = live.StanceCounts
		return nil
	})
	if txErr != nil {
		logging.VotesWarn("vote write for %s failed: %v", actorID, txErr)
		return reject(RejectStoreError, http.StatusInternalServerError, "vote storage unavailable")
	}
	if !result.OK {
		return result
	}

	s.afterVote(ctx, req.Wallet, actorID, result.CycleID, req.Stance, state.At, now)
	logging.Votes("%s voted %s on %s", actorID, req.Stance, result.CycleID)
	return result
}

// afterVote runs the bookkeeping that follows an accepted vote:
// reputation accrual, anomaly detection, and the audit event. None of it
// can retract the vote.
func (s *Service) afterVote(ctx context.Context, wallet, actorID, cycleID, stance, cycleAt string, now time.Time) {
	if wallet != "" {
		if _, err := s.integrity.RecordVote(ctx, wallet); err != nil {
			logging.VotesWarn("reputation update for %s failed: %v", wallet, err)
		}
		cycleStart, err := time.Parse(time.RFC3339, cycleAt)
		if err != nil {
			cycleStart = now
		}
		anomalies := s.integrity.RunDetection(ctx, wallet, cycleID, stance, cycleStart)
		for _, a := range anomalies {
			logging.VotesWarn("anomaly on %s: %s (%s)", cycleID, a.Type, wallet)
		}
	}
	s.recordEvent(ctx, model.Event{
		Type:    model.EventStanceRecorded,
		CycleID: cycleID,
		ActorID: actorID,
		At:      now.Format(time.RFC3339),
		Payload: map[string]interface{}{"stance": stance},
	})
}

// eligible applies the token gate. A disabled gate or a missing balance
// source admits everyone; balance lookups fail open.
func (s *Service) eligible(ctx context.Context, wallet string) bool {
	if !s.cfg.Voting.TokenGate || s.balances == nil || wallet == "" {
		return true
	}
	balance, err := s.balances.TokenBalance(ctx, wallet)
	if err != nil {
		logging.VotesWarn("token balance lookup for %s failed open: %v", wallet, err)
		return true
	}
	return balance >= s.cfg.Voting.MinTokenBalance
}
