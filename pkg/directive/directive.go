// Package directive assembles the natural-language instruction payload
// handed to the agent for one step. Assembly is a deterministic
// templating function over the step definition and the accumulated
// execution context; it performs no I/O and no model calls.
package directive

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/loomctl/loom/pkg/models"
)

// MaxResultChars bounds the serialized size of any single prior step
// result embedded in the directive, so prompts cannot grow without limit.
const MaxResultChars = 2000

// Build produces the task directive for a step. The current time is an
// explicit input to keep the function pure; it is rendered in the user's
// timezone, falling back to UTC when the timezone is invalid or empty.
func Build(step *models.Step, execCtx *models.ExecutionContext, now time.Time) string {
	var b strings.Builder

	b.WriteString("You are executing one step of an automated workflow.\n\n")

	fmt.Fprintf(&b, "## Step: %s\n", step.Name)

	if step.Config.Instruction != "" {
		fmt.Fprintf(&b, "Objective: %s\n", step.Config.Instruction)
	}

	if step.Config.ToolName != "" {
		fmt.Fprintf(&b, "\nRequired tool: %s\n", step.Config.ToolName)
		b.WriteString("You MUST call exactly this tool. Do not substitute a different tool.\n")
	}

	if len(step.Config.Parameters) > 0 {
		b.WriteString("Required parameters (use these values verbatim, do not substitute or invent your own):\n")
		b.WriteString(serializeParameters(step.Config.Parameters))
	}

	writePriorResults(&b, execCtx)
	writeTimeContext(&b, execCtx, now)

	b.WriteString("\n## Execution rules\n")
	b.WriteString("- Execute this step exactly once.\n")
	b.WriteString("- Do not ask for clarification; act on the information given.\n")
	b.WriteString("- Return immediately after the tool call completes.\n")

	return b.String()
}

func serializeParameters(parameters map[string]any) string {
	keys := make([]string, 0, len(parameters))
	for key := range parameters {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	var b strings.Builder

	for _, key := range keys {
		encoded, err := json.Marshal(parameters[key])
		if err != nil {
			encoded = []byte(fmt.Sprintf("%v", parameters[key]))
		}

		fmt.Fprintf(&b, "- %s: %s\n", key, encoded)
	}

	return b.String()
}

func writePriorResults(b *strings.Builder, execCtx *models.ExecutionContext) {
	if execCtx == nil || len(execCtx.Steps) == 0 {
		return
	}

	b.WriteString("\n## Results from previous steps\n")

	for _, stepID := range priorStepOrder(execCtx) {
		entry := execCtx.Steps[stepID]

		label := "succeeded"
		if !entry.Success {
			label = "failed"
		}

		fmt.Fprintf(b, "### Step %q (%s)\n", stepID, label)

		if entry.Error != "" {
			fmt.Fprintf(b, "Error: %s\n", truncate(entry.Error, MaxResultChars))

			continue
		}

		if entry.Result == nil {
			b.WriteString("(no result recorded)\n")

			continue
		}

		fmt.Fprintf(b, "Status: %s\n", entry.Result.Status)

		if entry.Result.Message != "" {
			fmt.Fprintf(b, "Message: %s\n", truncate(entry.Result.Message, MaxResultChars))
		}

		// The agent response is embedded raw so later steps see the exact
		// payload, JSON and all, without another layer of escaping.
		if entry.Result.AgentResponse != "" {
			fmt.Fprintf(b, "Response: %s\n", truncate(entry.Result.AgentResponse, MaxResultChars))
		}

		if len(entry.Result.ToolsUsed) > 0 {
			fmt.Fprintf(b, "Tools used: %s\n", strings.Join(entry.Result.ToolsUsed, ", "))
		}
	}
}

// priorStepOrder yields prior step ids in execution order when the
// execution record is present, falling back to a sorted order so the
// output stays deterministic either way.
func priorStepOrder(execCtx *models.ExecutionContext) []string {
	var ordered []string

	seen := make(map[string]bool, len(execCtx.Steps))

	if execCtx.Execution != nil {
		for _, record := range execCtx.Execution.Steps {
			if _, ok := execCtx.Steps[record.StepID]; ok && !seen[record.StepID] {
				ordered = append(ordered, record.StepID)
				seen[record.StepID] = true
			}
		}
	}

	var rest []string

	for stepID := range execCtx.Steps {
		if !seen[stepID] {
			rest = append(rest, stepID)
		}
	}

	sort.Strings(rest)

	return append(ordered, rest...)
}

func writeTimeContext(b *strings.Builder, execCtx *models.ExecutionContext, now time.Time) {
	location := time.UTC

	if execCtx != nil && execCtx.User.Timezone != "" {
		if loc, err := time.LoadLocation(execCtx.User.Timezone); err == nil {
			location = loc
		}
	}

	localized := now.In(location)

	fmt.Fprintf(b, "\nCurrent date and time: %s (%s)\n",
		localized.Format("Monday, January 2, 2006 at 15:04"), location.String())
}

// truncate cuts s to at most limit bytes, backing up to the nearest
// rune boundary so multi-byte characters are never split.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}

	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}

	return s[:cut] + fmt.Sprintf("... [truncated %d chars]", len(s)-cut)
}
