package aggregator

import (
	"sort"
	"strings"

	"github.com/akynaston/idmunit-connectors-sub001/pkg/models"
)

// sortCandidates orders entries oldest first. Entries sharing a modification
// time are ordered: the tracked temp file (under either name) first, then
// final files before temp files, then by name.
func sortCandidates(entries []models.FileSnapshot, isActive func(string) bool) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.ModTime.Equal(b.ModTime) {
			return a.ModTime.Before(b.ModTime)
		}
		if isActive != nil {
			if ai, bi := isActive(a.Name), isActive(b.Name); ai != bi {
				return ai
			}
		}
		if at, bt := a.HasSuffix(TempSuffix), b.HasSuffix(TempSuffix); at != bt {
			return !at
		}
		return a.Name < b.Name
	})
}

// rolledName returns the final name a temp file gets after rollover
func rolledName(tempName, outputSuffix string) string {
	return strings.TrimSuffix(tempName, TempSuffix) + outputSuffix
}
