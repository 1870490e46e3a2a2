package jobs

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// DedupeHash digests a job type and its normalized parameters into a
// 64-character hex key. Object keys are sorted before hashing, so two
// payloads that differ only in field order hash identically.
func DedupeHash(jobType string, params any) (string, error) {
	canonical, err := canonicalJSON(params)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(jobType))
	h.Write([]byte{'\n'})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// uniqueHash salts a dedupe hash so the job never collides with another.
func uniqueHash(hash, salt string) string {
	sum := sha256.Sum256([]byte(hash + "\n" + salt))
	return hex.EncodeToString(sum[:])
}

func canonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	// Maps marshal with sorted keys.
	return json.Marshal(generic)
}
