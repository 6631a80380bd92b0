package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ternarybob/eventjobs/internal/models"
)

const singleEventInstruction = "Extract the primary event only. Return at most one entry in events."

const multiEventInstruction = "The flyer may list several events (a festival programme, a season of shows). Return one entry per distinct event."

const flyerPromptTemplate = `You read event flyers and posters.

Decide whether the image advertises an event. If it does not, return {"isEventFlyer": false, "events": []}.

%s

Return JSON only, with this shape:
{
  "isEventFlyer": true,
  "events": [
    {
      "title": "event name",
      "description": "one or two sentences",
      "startDate": "YYYY-MM-DD",
      "startTime": "HH:MM (24 hour, empty if not shown)",
      "endDate": "YYYY-MM-DD (empty if single day)",
      "endTime": "HH:MM (empty if not shown)",
      "venue": "venue name",
      "address": "street address if printed",
      "category": "music | arts | community | sport | food | education | civic | other"
    }
  ]
}

When the year is missing, assume the next occurrence of that date. Never invent an address.`

const summarizePrompt = `Summarize this civic engagement notice for a community events listing.
Write two or three plain sentences covering what is proposed, who it affects and how to take part.
Do not use markdown.

%s`

// flyerPrompt returns the analysis prompt for single or multi event extraction
func flyerPrompt(multi bool) string {
	if multi {
		return fmt.Sprintf(flyerPromptTemplate, multiEventInstruction)
	}
	return fmt.Sprintf(flyerPromptTemplate, singleEventInstruction)
}

// parseFlyerAnalysis decodes a model response into a FlyerAnalysis.
// Code fences and leading prose are tolerated. Single mode keeps only the first event.
func parseFlyerAnalysis(response string, multi bool) (*models.FlyerAnalysis, error) {
	body := extractJSONObject(response)
	if body == "" {
		return nil, fmt.Errorf("no JSON object in model response")
	}

	var analysis models.FlyerAnalysis
	if err := json.Unmarshal([]byte(body), &analysis); err != nil {
		return nil, fmt.Errorf("failed to parse flyer analysis: %w", err)
	}

	if !analysis.IsEventFlyer {
		analysis.Events = nil
	}
	for i := range analysis.Events {
		e := &analysis.Events[i]
		e.Title = strings.TrimSpace(e.Title)
		e.StartDate = strings.TrimSpace(e.StartDate)
		e.StartTime = strings.TrimSpace(e.StartTime)
		e.EndDate = strings.TrimSpace(e.EndDate)
		e.EndTime = strings.TrimSpace(e.EndTime)
	}
	if !multi && len(analysis.Events) > 1 {
		analysis.Events = analysis.Events[:1]
	}

	return &analysis, nil
}

// extractJSONObject returns the outermost {...} span of s, or "" when there is none
func extractJSONObject(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}
