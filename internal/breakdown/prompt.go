package breakdown

import "fmt"

const promptTemplate = `Break down the following task into 3-6 concrete subtasks for someone who struggles to start big tasks. Keep each subtask small and specific.

Task: %s

Respond with JSON only, in this exact shape:
{
  "title": "a short name for the task",
  "subtasks": [
    {"title": "...", "estimatedDuration": 15, "difficulty": "easy|medium|hard"}
  ],
  "suggestions": ["short tips for staying on track"]
}`

func buildPrompt(task string) string {
	return fmt.Sprintf(promptTemplate, task)
}
