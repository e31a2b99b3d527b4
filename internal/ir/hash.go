package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainKeyframe prefixes keyframe digests.
// Version suffix enables future algorithm migration.
const DomainKeyframe = "tempograph/keyframe/v1"

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte (0x00) separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// KeyframeDigest computes the content digest of a keyframe's facts.
// The digest is independent of map iteration order and of the keyframe's
// time, so two branches holding identical state produce the same digest.
func KeyframeDigest(facts map[string]Object) (string, error) {
	obj := make(Object, len(facts))
	for ref, kv := range facts {
		obj[ref] = kv
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("KeyframeDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainKeyframe, canonical), nil
}

// NewKeyframe builds a keyframe at t and fills in its digest.
func NewKeyframe(t Time, facts map[string]Object) (Keyframe, error) {
	digest, err := KeyframeDigest(facts)
	if err != nil {
		return Keyframe{}, err
	}
	return Keyframe{Time: t, Facts: facts, Digest: digest}, nil
}
