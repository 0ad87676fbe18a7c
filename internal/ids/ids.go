// Package ids computes the content-addressed identifiers that key every
// submission record. Identifiers are pure
// functions of their inputs - never timestamps, never random bytes.
package ids

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ParentID derives the 12-hex-character submission ID for a top-level
// upload from the raw file bytes. Reprocessing the same bytes always
// yields the same ID.
func ParentID(fileBytes []byte) string {
	sum := sha256.Sum256(fileBytes)
	return hex.EncodeToString(sum[:])[:12]
}

// PageChildID derives the deterministic child ID for one page of a
// BULK_SCANNED_BATCH split.
func PageChildID(parentID string, pageIndex int) string {
	return fmt.Sprintf("%s_p%d", parentID, pageIndex)
}

// EntryChildID derives the deterministic child ID for one entry of a
// multi-entry PDF split.
func EntryChildID(parentID string, entryIndex int) string {
	return fmt.Sprintf("%s_e%d", parentID, entryIndex)
}
