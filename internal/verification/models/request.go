package models

import (
	"fmt"
	"time"

	id "tokenverif/pkg/domain"
)

// RequestStatus is the lifecycle state of a verification request.
type RequestStatus string

const (
	RequestStatusPending     RequestStatus = "PENDING"
	RequestStatusNeedsAction RequestStatus = "NEEDS_ACTION"
	RequestStatusInReview    RequestStatus = "IN_REVIEW"
	RequestStatusApproved    RequestStatus = "APPROVED"
	RequestStatusRejected    RequestStatus = "REJECTED"
	RequestStatusRevoked     RequestStatus = "REVOKED"
)

// requestTransitions lists the allowed next states for each state.
// APPROVED may only move to REVOKED; REJECTED and REVOKED are final.
var requestTransitions = map[RequestStatus][]RequestStatus{
	RequestStatusPending:     {RequestStatusPending, RequestStatusNeedsAction, RequestStatusInReview, RequestStatusApproved, RequestStatusRejected},
	RequestStatusNeedsAction: {RequestStatusPending, RequestStatusNeedsAction, RequestStatusInReview, RequestStatusApproved, RequestStatusRejected},
	RequestStatusInReview:    {RequestStatusPending, RequestStatusNeedsAction, RequestStatusInReview, RequestStatusApproved, RequestStatusRejected},
	RequestStatusApproved:    {RequestStatusRevoked},
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s RequestStatus) CanTransitionTo(next RequestStatus) bool {
	for _, allowed := range requestTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a new request is needed to re-attempt.
func (s RequestStatus) IsTerminal() bool {
	return s == RequestStatusApproved || s == RequestStatusRejected || s == RequestStatusRevoked
}

// Request is one verification attempt for one token. The nonce is embedded in
// every proof to prevent replay across requests.
type Request struct {
	ID               id.RequestID
	TokenID          id.TokenID
	Nonce            string
	Status           RequestStatus
	ReviewerNotes    string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	ReviewedAt       *time.Time
	RevokedAt        *time.Time
	RevocationReason string
}

func (r *Request) transition(next RequestStatus, now time.Time) error {
	if !r.Status.CanTransitionTo(next) {
		return fmt.Errorf("request %s cannot move from %s to %s", r.ID, r.Status, next)
	}
	r.Status = next
	r.UpdatedAt = now
	return nil
}

// Approve marks the request approved and stamps the review time.
func (r *Request) Approve(now time.Time) error {
	if err := r.transition(RequestStatusApproved, now); err != nil {
		return err
	}
	reviewedAt := now
	r.ReviewedAt = &reviewedAt
	return nil
}

// MarkNeedsAction records that at least one proof was rejected.
func (r *Request) MarkNeedsAction(now time.Time) error {
	return r.transition(RequestStatusNeedsAction, now)
}

// MarkPending records that the request is still awaiting proofs.
func (r *Request) MarkPending(now time.Time) error {
	return r.transition(RequestStatusPending, now)
}

// Reject closes a pre-approval request with reviewer notes.
func (r *Request) Reject(notes string, now time.Time) error {
	if err := r.transition(RequestStatusRejected, now); err != nil {
		return err
	}
	reviewedAt := now
	r.ReviewedAt = &reviewedAt
	r.ReviewerNotes = notes
	return nil
}

// Revoke withdraws an approval.
func (r *Request) Revoke(reason string, now time.Time) error {
	if err := r.transition(RequestStatusRevoked, now); err != nil {
		return err
	}
	revokedAt := now
	r.RevokedAt = &revokedAt
	r.RevocationReason = reason
	return nil
}
