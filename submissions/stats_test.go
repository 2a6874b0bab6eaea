package submissions

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func statSub(family, module string, synced bool) SurveySubmission {
	s := SurveySubmission{
		FormData: FormData{Family: family, ProjectModuleID: module, UserID: "u1"},
		Sync:     Pending{},
	}
	if synced {
		s.Sync, _ = MarkSynced("srv", s.CreatedAt)
	}
	return s
}

func TestComputeFamilyStats(t *testing.T) {
	var subs []SurveySubmission
	for i := 0; i < 9; i++ {
		subs = append(subs, statSub("fam-a", "m1", true))
	}
	for i := 0; i < 4; i++ {
		subs = append(subs, statSub("fam-a", "m2", i%2 == 0))
	}
	subs = append(subs, statSub("fam-b", "m1", false))

	stats := ComputeFamilyStats(subs, DefaultStatsConfig())
	require.Len(t, stats, 2)

	a := stats[0]
	require.Equal(t, "fam-a", a.Family)
	require.Equal(t, 13, a.Submissions)
	require.Equal(t, 3, a.CompletedVisits)
	require.Equal(t, 2, a.ModulesCovered)
	require.Equal(t, 12, a.Progress)
	require.Equal(t, 2, a.Pending)

	b := stats[1]
	require.Equal(t, 0, b.CompletedVisits)
	require.Equal(t, 0, b.Progress)
	require.Equal(t, 1, b.Pending)
}

func TestComputeFamilyStatsCustomRules(t *testing.T) {
	subs := []SurveySubmission{statSub("fam", "m1", true), statSub("fam", "m2", true)}
	stats := ComputeFamilyStats(subs, StatsConfig{FormsPerVisit: 1, ModulesPerFamily: 2})
	require.Equal(t, 2, stats[0].CompletedVisits)
	require.Equal(t, 100, stats[0].Progress)
}
