package engine

import "orbit/internal/domain"

// Built-in mission presets. Order is the order they are listed in.
var templates = []domain.Template{
	{ID: "deep-focus", Name: "Deep Focus", Description: "One block of undisturbed work on a single thing", Duration: 45},
	{ID: "study-session", Name: "Study Session", Description: "Structured learning with notes", Duration: 30},
	{ID: "quick-task", Name: "Quick Task", Description: "Small win to build momentum", Duration: 15},
	{ID: "refresh", Name: "Refresh", Description: "Step away and reset", Duration: 15},
}

// Templates returns the built-in mission templates.
func Templates() []domain.Template {
	out := make([]domain.Template, len(templates))
	copy(out, templates)
	return out
}

func templateByID(id string) (domain.Template, bool) {
	for _, t := range templates {
		if t.ID == id {
			return t, true
		}
	}
	return domain.Template{}, false
}
