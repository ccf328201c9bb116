package main

import (
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/lithammer/fuzzysearch/fuzzy"

	"fnmoded/internal/ipc"
)

// maxNameDistance is the fraction of the longer string that may differ
// before a match is rejected as a guess.
const maxNameDistance = 0.4

// resolveApp matches a user-supplied name or id against running apps.
// Exact id wins, then exact name, then the closest fuzzy match within
// the distance threshold.
func resolveApp(query string, apps []ipc.AppEntry) (ipc.AppEntry, bool) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" || len(apps) == 0 {
		return ipc.AppEntry{}, false
	}

	for _, app := range apps {
		if strings.EqualFold(app.ID, trimmed) {
			return app, true
		}
	}
	for _, app := range apps {
		if app.Name != "" && strings.EqualFold(app.Name, trimmed) {
			return app, true
		}
	}

	labels := make([]string, len(apps))
	for i, app := range apps {
		labels[i] = app.Name
	}

	best, bestDist := -1, 0
	for _, rank := range fuzzy.RankFindNormalizedFold(trimmed, labels) {
		if best == -1 || rank.Distance < bestDist {
			best, bestDist = rank.OriginalIndex, rank.Distance
		}
	}

	if best < 0 {
		// Transposition typos break the subsequence match, so fall back
		// to plain edit distance over all names.
		for i, app := range apps {
			if app.Name == "" {
				continue
			}
			dist := levenshtein.ComputeDistance(strings.ToLower(trimmed), strings.ToLower(app.Name))
			if best == -1 || dist < bestDist {
				best, bestDist = i, dist
			}
		}
	}
	if best < 0 || !closeEnough(trimmed, apps[best].Name) {
		return ipc.AppEntry{}, false
	}
	return apps[best], true
}

// closeEnough bounds the edit distance relative to the longer string.
// Substrings always qualify so "code" finds "Visual Studio Code".
func closeEnough(query, name string) bool {
	q, n := strings.ToLower(query), strings.ToLower(name)
	if q == "" || n == "" {
		return false
	}
	if strings.Contains(n, q) {
		return true
	}
	longest := len(q)
	if len(n) > longest {
		longest = len(n)
	}
	dist := levenshtein.ComputeDistance(q, n)
	return float64(dist)/float64(longest) < maxNameDistance
}

// closestApp names the nearest running app for a did-you-mean hint,
// with no distance cutoff.
func closestApp(query string, apps []ipc.AppEntry) string {
	trimmed := strings.ToLower(strings.TrimSpace(query))
	if trimmed == "" {
		return ""
	}
	best, bestDist := "", -1
	for _, app := range apps {
		if app.Name == "" {
			continue
		}
		dist := levenshtein.ComputeDistance(trimmed, strings.ToLower(app.Name))
		if bestDist == -1 || dist < bestDist {
			best, bestDist = app.Name, dist
		}
	}
	return best
}
