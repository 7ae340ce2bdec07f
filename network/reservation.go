package network

import "github.com/iti/qns/kernel"

// Reservation tracks one in-flight or completed network_manager.request
// (§4.9, §6.2).
type Reservation struct {
	ID             string
	Initiator      string
	Responder      string
	Start, End     kernel.Time
	MemorySize     int
	TargetFidelity float64
	Path           []string
	HopIndex       int
}

// ReservationRequest is forwarded hop by hop along Path (§4.9).
type ReservationRequest struct {
	ID             string
	Initiator      string
	Responder      string
	Start, End     kernel.Time
	MemorySize     int
	TargetFidelity float64
	Path           []string
	HopIndex       int
}

// ReservationApprove propagates back toward the initiator once every
// hop has reserved successfully.
type ReservationApprove struct {
	ID string
}

// ReservationReject propagates back toward the initiator, unwinding
// every hop's reservation as it passes (§4.9, §7).
type ReservationReject struct {
	ID string
}
