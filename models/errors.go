package models

import "errors"

var (
	// ErrOwnership is returned when the caller does not own the referenced farmer.
	ErrOwnership = errors.New("farmer not found or access denied")
	// ErrNotFound is returned when a referenced record or image is missing.
	ErrNotFound = errors.New("record not found")
	// ErrNoEvidence is returned when credit generation finds no verified records in its window.
	ErrNoEvidence = errors.New("no verified records found for carbon credit generation")

	// ErrAlreadyResolved is returned by a conditional analysis patch when another
	// task already moved the record out of pending_analysis.
	ErrAlreadyResolved = errors.New("verification record already resolved")

	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlreadyMember     = errors.New("farmer is already a member of this node")
	ErrInvalidInput      = errors.New("invalid input")
)
