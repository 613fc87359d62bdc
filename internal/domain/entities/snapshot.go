package entities

import "time"

// Snapshot is owned by the external canonical-snapshot builder; this
// service only ever reads it, except for mirroring the verification verdict
// the Verifier records.
type Snapshot struct {
	Epoch              int64              `json:"epoch"`
	Hash               string             `json:"hash"`
	CanonicalJSON       []byte             `json:"-"`
	VerificationStatus VerificationStatus `json:"verificationStatus,omitempty"`
	VerifiedAt         *time.Time         `json:"verifiedAt,omitempty"`
}
