package stats_test

import (
	"testing"
	"time"

	"orbit/internal/domain"
	"orbit/internal/stats"
)

func completedOn(t *testing.T, day string) domain.Mission {
	t.Helper()
	ts := day + "T12:00:00Z"
	if _, err := time.Parse(time.RFC3339, ts); err != nil {
		t.Fatalf("bad day %s: %v", day, err)
	}
	return domain.Mission{Status: domain.StatusComplete, CompletedAt: &ts}
}

func completedWithDuration(t *testing.T, day string, minutes int) domain.Mission {
	t.Helper()
	m := completedOn(t, day)
	m.ActualDuration = &minutes
	return m
}

func TestStreak(t *testing.T) {
	cases := []struct {
		name string
		days []string
		want int
	}{
		{"empty", nil, 0},
		{"single day", []string{"2024-03-10"}, 1},
		{"consecutive", []string{"2024-03-10", "2024-03-09", "2024-03-08"}, 3},
		{"gap breaks run", []string{"2024-03-10", "2024-03-09", "2024-03-07"}, 2},
		{"same day counts once", []string{"2024-03-10", "2024-03-10", "2024-03-09"}, 2},
		{"unsorted input", []string{"2024-03-08", "2024-03-10", "2024-03-09"}, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var missions []domain.Mission
			for _, day := range tc.days {
				missions = append(missions, completedOn(t, day))
			}
			if got := stats.Streak(missions, time.UTC); got != tc.want {
				t.Fatalf("streak = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestBestStreakAnywhereInHistory(t *testing.T) {
	// a long run in the past, then a short recent one
	var missions []domain.Mission
	for _, day := range []string{"2024-01-01", "2024-01-02", "2024-01-03", "2024-01-04", "2024-03-09", "2024-03-10"} {
		missions = append(missions, completedOn(t, day))
	}
	if got := stats.Streak(missions, time.UTC); got != 2 {
		t.Fatalf("current streak = %d, want 2", got)
	}
	if got := stats.BestStreak(missions, time.UTC); got != 4 {
		t.Fatalf("best streak = %d, want 4", got)
	}
}

func TestStreakRespectsTimezone(t *testing.T) {
	// 23:30 and 00:30 UTC straddle midnight in UTC but fall on
	// consecutive days, while in UTC+10 both land on the same day.
	late := "2024-03-09T23:30:00Z"
	early := "2024-03-10T00:30:00Z"
	missions := []domain.Mission{
		{Status: domain.StatusComplete, CompletedAt: &late},
		{Status: domain.StatusComplete, CompletedAt: &early},
	}
	if got := stats.Streak(missions, time.UTC); got != 2 {
		t.Fatalf("UTC streak = %d, want 2", got)
	}
	sydney := time.FixedZone("UTC+10", 10*3600)
	if got := stats.Streak(missions, sydney); got != 1 {
		t.Fatalf("UTC+10 streak = %d, want 1", got)
	}
}

func TestAchievementsExactCounts(t *testing.T) {
	labels := func(missions []domain.Mission) []string {
		var out []string
		for _, a := range stats.Achievements(missions, time.UTC) {
			out = append(out, a.Label)
		}
		return out
	}

	one := []domain.Mission{completedOn(t, "2024-03-10")}
	got := labels(one)
	if len(got) != 1 || got[0] != "First Mission Complete!" {
		t.Fatalf("one completion: %v", got)
	}

	// exactly five fires the milestone, six does not
	var five []domain.Mission
	for _, day := range []string{"2024-03-01", "2024-03-02", "2024-03-04", "2024-03-06", "2024-03-08"} {
		five = append(five, completedOn(t, day))
	}
	got = labels(five)
	if len(got) != 1 || got[0] != "5 Missions Complete!" {
		t.Fatalf("five completions: %v", got)
	}
	six := append(five, completedOn(t, "2024-03-10"))
	if got = labels(six); len(got) != 0 {
		t.Fatalf("six completions should earn nothing, got %v", got)
	}
}

func TestPerfectWeekAtExactlySeven(t *testing.T) {
	var week []domain.Mission
	for i := 1; i <= 7; i++ {
		week = append(week, completedOn(t, time.Date(2024, 3, i, 0, 0, 0, 0, time.UTC).Format("2006-01-02")))
	}
	found := false
	for _, a := range stats.Achievements(week, time.UTC) {
		if a.Label == "Perfect Week!" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected perfect week badge")
	}

	eight := append(week, completedOn(t, "2024-03-08"))
	for _, a := range stats.Achievements(eight, time.UTC) {
		if a.Label == "Perfect Week!" {
			t.Fatalf("eight-day streak should not re-earn perfect week")
		}
	}
}

func TestSpeedDemon(t *testing.T) {
	fast := []domain.Mission{completedWithDuration(t, "2024-03-10", 45)}
	found := false
	for _, a := range stats.Achievements(fast, time.UTC) {
		if a.Label == "Speed Demon!" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected speed demon under an hour")
	}

	slow := []domain.Mission{completedWithDuration(t, "2024-03-10", 60)}
	for _, a := range stats.Achievements(slow, time.UTC) {
		if a.Label == "Speed Demon!" {
			t.Fatalf("an hour exactly should not earn speed demon")
		}
	}
}

func TestRecentAchievementsWindow(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	missions := []domain.Mission{
		completedOn(t, "2024-01-01"), // outside the window
		completedOn(t, "2024-03-09"),
	}
	got := stats.RecentAchievements(missions, now, time.UTC)
	if len(got) != 1 || got[0].Label != "First Mission Complete!" {
		t.Fatalf("expected first-mission badge inside the window, got %v", got)
	}
}

func TestRevertedMissionDropsOut(t *testing.T) {
	// a reverted mission has no completed_at and never counts
	last := "2024-03-10T12:00:00Z"
	missions := []domain.Mission{
		{Status: domain.StatusPending, LastCompletedAt: &last},
	}
	if got := stats.Streak(missions, time.UTC); got != 0 {
		t.Fatalf("reverted mission should not count, got streak %d", got)
	}
	if got := stats.Achievements(missions, time.UTC); len(got) != 0 {
		t.Fatalf("reverted mission should earn nothing, got %v", got)
	}
}
