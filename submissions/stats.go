// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package submissions

import (
	"cmp"
	"slices"
)

// StatsConfig holds the visit accounting rules.
type StatsConfig struct {
	FormsPerVisit    int // submissions in one module that make up a completed visit
	ModulesPerFamily int // modules a family must cover to be complete
}

// DefaultStatsConfig returns 4 forms per visit and 16 modules per family.
func DefaultStatsConfig() StatsConfig {
	return StatsConfig{FormsPerVisit: 4, ModulesPerFamily: 16}
}

// FamilyStats is the visit progress of one family.
type FamilyStats struct {
	Family          string
	Submissions     int
	CompletedVisits int
	ModulesCovered  int
	Progress        int // percent of ModulesPerFamily covered, 0..100
	Pending         int
}

// ComputeFamilyStats groups submissions by family and module. Every
// FormsPerVisit submissions in a module count as one completed visit; a
// module with at least one completed visit is covered.
func ComputeFamilyStats(subs []SurveySubmission, cfg StatsConfig) []FamilyStats {
	if cfg.FormsPerVisit <= 0 {
		cfg.FormsPerVisit = 1
	}

	perModule := make(map[string]map[string]int)
	stats := make(map[string]*FamilyStats)
	for i := range subs {
		s := &subs[i]
		fam := s.FormData.Family
		if fam == "" {
			continue
		}
		st, ok := stats[fam]
		if !ok {
			st = &FamilyStats{Family: fam}
			stats[fam] = st
			perModule[fam] = make(map[string]int)
		}
		st.Submissions++
		if s.IsPending() {
			st.Pending++
		}
		module := s.FormData.ProjectModuleID
		if module == "" {
			module = s.FormData.SourceModuleID
		}
		perModule[fam][module]++
	}

	out := make([]FamilyStats, 0, len(stats))
	for fam, st := range stats {
		for _, n := range perModule[fam] {
			visits := n / cfg.FormsPerVisit
			st.CompletedVisits += visits
			if visits > 0 {
				st.ModulesCovered++
			}
		}
		if cfg.ModulesPerFamily > 0 {
			st.Progress = min(100, st.ModulesCovered*100/cfg.ModulesPerFamily)
		}
		out = append(out, *st)
	}
	slices.SortFunc(out, func(a, b FamilyStats) int { return cmp.Compare(a.Family, b.Family) })
	return out
}
