// Package stats derives streaks and achievements from completion history.
// Everything here is a pure function over mission snapshots; nothing is
// cached, so a revert or delete is reflected on the next computation.
package stats

import (
	"fmt"
	"sort"
	"time"

	"orbit/internal/domain"
)

var milestones = []int{5, 10, 25, 50, 100}

// Streak returns the current run of consecutive completion days, walking
// backward from the most recent completion. Multiple completions on the same
// day count once; a gap of more than one day breaks the run.
func Streak(missions []domain.Mission, loc *time.Location) int {
	days := completionDays(missions, loc)
	if len(days) == 0 {
		return 0
	}
	streak := 1
	current := days[0]
	for _, day := range days[1:] {
		diff := int(current.Sub(day).Hours() / 24)
		if diff == 1 {
			streak++
			current = day
		} else if diff > 1 {
			break
		}
	}
	return streak
}

// BestStreak returns the longest run of consecutive completion days anywhere
// in the history. It is recomputed from scratch each call so it always agrees
// with the missions actually present.
func BestStreak(missions []domain.Mission, loc *time.Location) int {
	days := completionDays(missions, loc)
	if len(days) == 0 {
		return 0
	}
	best, run := 1, 1
	for i := 1; i < len(days); i++ {
		diff := int(days[i-1].Sub(days[i]).Hours() / 24)
		if diff == 1 {
			run++
			if run > best {
				best = run
			}
		} else if diff > 1 {
			run = 1
		}
	}
	return best
}

// Achievements returns the badges earned by the given history. Milestone
// badges fire at exact counts, so a snapshot shows at most one of them.
func Achievements(missions []domain.Mission, loc *time.Location) []domain.Achievement {
	var out []domain.Achievement
	completed := completedMissions(missions)

	if len(completed) == 1 {
		out = append(out, domain.Achievement{Label: "First Mission Complete!", Icon: "🚀"})
	}
	for _, milestone := range milestones {
		if len(completed) == milestone {
			out = append(out, domain.Achievement{Label: fmt.Sprintf("%d Missions Complete!", milestone), Icon: "🎯"})
		}
	}
	if Streak(missions, loc) == 7 {
		out = append(out, domain.Achievement{Label: "Perfect Week!", Icon: "🌟"})
	}
	for _, m := range completed {
		if m.ActualDuration != nil && *m.ActualDuration < 60 {
			out = append(out, domain.Achievement{Label: "Speed Demon!", Icon: "⚡"})
			break
		}
	}
	return out
}

// RecentAchievements restricts the history to completions inside the trailing
// week before computing badges.
func RecentAchievements(missions []domain.Mission, now time.Time, loc *time.Location) []domain.Achievement {
	cutoff := now.AddDate(0, 0, -7)
	var recent []domain.Mission
	for _, m := range missions {
		ts, ok := completionTime(m)
		if ok && ts.After(cutoff) {
			recent = append(recent, m)
		}
	}
	return Achievements(recent, loc)
}

func completedMissions(missions []domain.Mission) []domain.Mission {
	var out []domain.Mission
	for _, m := range missions {
		if _, ok := completionTime(m); ok {
			out = append(out, m)
		}
	}
	return out
}

func completionTime(m domain.Mission) (time.Time, bool) {
	if m.CompletedAt == nil {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339, *m.CompletedAt)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// completionDays returns unique completion days at local midnight, newest
// first.
func completionDays(missions []domain.Mission, loc *time.Location) []time.Time {
	if loc == nil {
		loc = time.UTC
	}
	var days []time.Time
	seen := map[time.Time]bool{}
	for _, m := range completedMissions(missions) {
		ts, _ := completionTime(m)
		local := ts.In(loc)
		day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
		if !seen[day] {
			seen[day] = true
			days = append(days, day)
		}
	}
	sort.Slice(days, func(i, j int) bool { return days[i].After(days[j]) })
	return days
}
