package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for plan fingerprints. The version suffix allows the
// rendering to change without colliding with older fingerprints.
const (
	DomainReadPlan  = "docrel/read-plan/v1"
	DomainWritePlan = "docrel/write-plan/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint returns a content hash of a read or write plan, computed over
// its canonical Extended JSON rendering.
func Fingerprint(plan any) (string, error) {
	var domain string
	switch plan.(type) {
	case *ReadPlan:
		domain = DomainReadPlan
	case *WritePlan:
		domain = DomainWritePlan
	default:
		return "", fmt.Errorf("Fingerprint: unsupported plan %T", plan)
	}
	data, err := renderCompact(plan, true)
	if err != nil {
		return "", fmt.Errorf("Fingerprint: %w", err)
	}
	return hashWithDomain(domain, data), nil
}

// MustFingerprint is like Fingerprint but panics on error.
// Use only in tests or when the plan is known to render.
func MustFingerprint(plan any) string {
	fp, err := Fingerprint(plan)
	if err != nil {
		panic(err)
	}
	return fp
}
