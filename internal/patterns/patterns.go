// Package patterns mines execution history for recurring commands,
// workflows, time clusters and tool preferences.
package patterns

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"zenus/internal/tracker"
)

// Pattern types.
const (
	TypeRecurring      = "recurring"
	TypeWorkflow       = "workflow"
	TypeTimeBased      = "time_based"
	TypeToolPreference = "tool_preference"
)

// Schedule is a cron-like suggestion derived from observed timestamps.
// A -1 field means "any".
type Schedule struct {
	Minute     int `json:"minute"`
	Hour       int `json:"hour"`
	DayOfMonth int `json:"day_of_month"`
	DayOfWeek  int `json:"day_of_week"`
}

// DetectedPattern is one mined regularity.
type DetectedPattern struct {
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Count       int       `json:"count"`
	Confidence  float64   `json:"confidence"`
	Schedule    *Schedule `json:"schedule,omitempty"`
	Commands    []string  `json:"commands,omitempty"`
	Tool        string    `json:"tool,omitempty"`
	Hour        int       `json:"hour,omitempty"`
}

const (
	minOccurrences  = 3
	workflowWindow  = 30 * time.Minute
	preferenceShare = 0.30
)

var (
	pathPattern = regexp.MustCompile(`(?:~|/)[\w@%+=:,.~-]*(?:/[\w@%+=:,.~-]+)+/?`)
	numPattern  = regexp.MustCompile(`\b\d+\b`)
)

// normalizeCommand collapses paths and numbers so repeated invocations of
// the same shape group together.
func normalizeCommand(tool, operation string, params map[string]any) string {
	var args []string
	for _, key := range sortedKeys(params) {
		if v, ok := params[key].(string); ok {
			v = pathPattern.ReplaceAllString(v, "<path>")
			v = numPattern.ReplaceAllString(v, "<num>")
			args = append(args, key+"="+strings.ToLower(v))
		}
	}
	return tool + "." + operation + "(" + strings.Join(args, ",") + ")"
}

// Detect mines the most recent actions from the store. Results are sorted
// by confidence descending.
func Detect(store *tracker.Store, limit int) ([]DetectedPattern, error) {
	actions, err := store.RecentActions(limit)
	if err != nil {
		return nil, err
	}

	var out []DetectedPattern
	out = append(out, detectRecurring(actions)...)
	out = append(out, detectWorkflows(actions)...)
	out = append(out, detectTimeBased(actions)...)
	out = append(out, detectToolPreference(actions)...)

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	return out, nil
}

func detectRecurring(actions []tracker.Action) []DetectedPattern {
	groups := make(map[string][]time.Time)
	for _, a := range actions {
		key := normalizeCommand(a.Tool, a.Operation, a.Params)
		groups[key] = append(groups[key], a.Timestamp)
	}

	var out []DetectedPattern
	for cmd, stamps := range groups {
		if len(stamps) < minOccurrences {
			continue
		}
		out = append(out, DetectedPattern{
			Type:        TypeRecurring,
			Description: fmt.Sprintf("%s recurs (%s)", cmd, classifyInterval(stamps)),
			Count:       len(stamps),
			Confidence:  capped(float64(len(stamps)) / 10),
			Schedule:    suggestSchedule(stamps),
			Commands:    []string{cmd},
		})
	}
	return out
}

func detectWorkflows(actions []tracker.Action) []DetectedPattern {
	// Collect command tuples emitted within a sliding window.
	tuples := make(map[string]int)
	for i := 0; i < len(actions); i++ {
		seq := []string{normalizeCommand(actions[i].Tool, actions[i].Operation, actions[i].Params)}
		for j := i + 1; j < len(actions); j++ {
			if actions[j].Timestamp.Sub(actions[i].Timestamp) > workflowWindow {
				break
			}
			seq = append(seq, normalizeCommand(actions[j].Tool, actions[j].Operation, actions[j].Params))
			if len(seq) >= 2 {
				tuples[strings.Join(seq, " -> ")]++
			}
		}
	}

	var out []DetectedPattern
	for tuple, count := range tuples {
		if count < minOccurrences {
			continue
		}
		out = append(out, DetectedPattern{
			Type:        TypeWorkflow,
			Description: "workflow: " + tuple,
			Count:       count,
			Confidence:  capped(float64(count) / 5),
			Commands:    strings.Split(tuple, " -> "),
		})
	}
	return out
}

func detectTimeBased(actions []tracker.Action) []DetectedPattern {
	byHour := make(map[int]map[string]int)
	for _, a := range actions {
		hour := a.Timestamp.Hour()
		if byHour[hour] == nil {
			byHour[hour] = make(map[string]int)
		}
		byHour[hour][normalizeCommand(a.Tool, a.Operation, a.Params)]++
	}

	var out []DetectedPattern
	for hour, cmds := range byHour {
		for cmd, count := range cmds {
			if count < minOccurrences {
				continue
			}
			out = append(out, DetectedPattern{
				Type:        TypeTimeBased,
				Description: fmt.Sprintf("%s clusters around %02d:00", cmd, hour),
				Count:       count,
				Confidence:  capped(float64(count) / 10),
				Commands:    []string{cmd},
				Hour:        hour,
			})
		}
	}
	return out
}

func detectToolPreference(actions []tracker.Action) []DetectedPattern {
	if len(actions) == 0 {
		return nil
	}
	byTool := make(map[string]int)
	for _, a := range actions {
		byTool[a.Tool]++
	}

	var out []DetectedPattern
	for tool, count := range byTool {
		share := float64(count) / float64(len(actions))
		if share <= preferenceShare {
			continue
		}
		out = append(out, DetectedPattern{
			Type:        TypeToolPreference,
			Description: fmt.Sprintf("%s accounts for %.0f%% of operations", tool, share*100),
			Count:       count,
			Confidence:  capped(share),
			Tool:        tool,
		})
	}
	return out
}

// classifyInterval buckets the average inter-arrival gap.
func classifyInterval(stamps []time.Time) string {
	if len(stamps) < 2 {
		return "unknown"
	}
	sorted := append([]time.Time(nil), stamps...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	total := sorted[len(sorted)-1].Sub(sorted[0])
	avg := total / time.Duration(len(sorted)-1)
	switch {
	case avg <= 36*time.Hour:
		return "daily"
	case avg <= 10*24*time.Hour:
		return "weekly"
	default:
		return "monthly"
	}
}

// suggestSchedule averages the observed timestamps into a schedule tuple.
func suggestSchedule(stamps []time.Time) *Schedule {
	if len(stamps) == 0 {
		return nil
	}
	var minuteSum, hourSum int
	for _, t := range stamps {
		minuteSum += t.Minute()
		hourSum += t.Hour()
	}
	s := &Schedule{
		Minute:     minuteSum / len(stamps),
		Hour:       hourSum / len(stamps),
		DayOfMonth: -1,
		DayOfWeek:  -1,
	}
	switch classifyInterval(stamps) {
	case "weekly":
		s.DayOfWeek = int(stamps[0].Weekday())
	case "monthly":
		s.DayOfMonth = stamps[0].Day()
	}
	return s
}

func capped(v float64) float64 {
	if v > 1 {
		return 1
	}
	return v
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
