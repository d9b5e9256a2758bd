// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package runs

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/tombee/agentrun/internal/client"
	"github.com/tombee/agentrun/internal/commands/shared"
)

func readAll(r io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, 1<<20))
}

// renderRun prints a human-readable view of a run.
func renderRun(w io.Writer, run *client.Run) {
	fmt.Fprintln(w, shared.Header.Render("Run "+run.RunID))
	fmt.Fprintf(w, "  %s %s\n", shared.RenderLabel("Agent:    "), run.AgentType)
	fmt.Fprintf(w, "  %s %s\n", shared.RenderLabel("Status:   "), shared.RenderRunStatus(run.Status))
	fmt.Fprintf(w, "  %s %s\n", shared.RenderLabel("Progress: "), formatProgress(run.CurrentStep, run.TotalSteps))
	fmt.Fprintf(w, "  %s %s\n", shared.RenderLabel("Created:  "), formatTime(run.CreatedAt))
	if run.StartedAt != nil {
		fmt.Fprintf(w, "  %s %s\n", shared.RenderLabel("Started:  "), formatTime(*run.StartedAt))
	}
	if run.CompletedAt != nil {
		fmt.Fprintf(w, "  %s %s\n", shared.RenderLabel("Finished: "), formatTime(*run.CompletedAt))
		if run.StartedAt != nil {
			fmt.Fprintf(w, "  %s %s\n", shared.RenderLabel("Duration: "), run.CompletedAt.Sub(*run.StartedAt).Round(time.Millisecond))
		}
	}

	if run.Error != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, shared.RenderError(*run.Error))
	}

	if run.Output != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, shared.Bold.Render("Output"))
		fmt.Fprintln(w, indent(formatValue(run.Output), "  "))
	}

	if len(run.Messages) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, shared.Bold.Render("Messages"))
		for _, m := range run.Messages {
			fmt.Fprintln(w, "  "+formatMessage(m))
		}
	}
}

func formatProgress(current int, total *int) string {
	if total == nil {
		return fmt.Sprintf("step %d", current)
	}
	return fmt.Sprintf("step %d of %d", current, *total)
}

func formatMessage(m client.Message) string {
	var b strings.Builder
	b.WriteString(shared.Muted.Render(m.CreatedAt.Local().Format("15:04:05")))
	b.WriteString(" ")
	b.WriteString(formatLevel(m.Level))
	if m.StepNumber != nil {
		fmt.Fprintf(&b, " [step %d]", *m.StepNumber)
	}
	b.WriteString(" ")
	b.WriteString(m.Message)
	return b.String()
}

func formatLevel(level string) string {
	label := fmt.Sprintf("%-5s", strings.ToUpper(level))
	switch level {
	case "error":
		return shared.StatusError.Render(label)
	case "warn":
		return shared.StatusWarn.Render(label)
	case "debug":
		return shared.Muted.Render(label)
	default:
		return shared.StatusInfo.Render(label)
	}
}

func formatValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	// A single text field is the common shape of llm step output.
	if m, ok := v.(map[string]any); ok && len(m) == 1 {
		if text, ok := m["text"].(string); ok {
			return text
		}
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}

func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
