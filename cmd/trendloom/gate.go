// ABOUTME: Interactive gate handling: renders interrupt payloads and collects JSON resume values.
// ABOUTME: Also prints run outcomes and run listings with consistent terminal styling.
package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/trendloom/trendloom/graph"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	keyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	statusStyle = map[string]lipgloss.Style{
		graph.StatusCompleted:     lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		graph.StatusFailed:        lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		graph.StatusRejected:      lipgloss.NewStyle().Foreground(lipgloss.Color("208")),
		graph.StatusSkipped:       lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		graph.StatusEditRequested: lipgloss.NewStyle().Foreground(lipgloss.Color("220")),
	}
)

// errGateAborted signals the user closed stdin instead of answering a gate.
var errGateAborted = errors.New("gate aborted")

// promptGate renders an interrupt payload and reads one JSON object from
// stdin as the resume value. A blank line answers with an empty object.
func promptGate(pending *graph.PendingInterrupt) (map[string]any, error) {
	fmt.Println()
	fmt.Println(titleStyle.Render("⏸  " + pending.Node))
	printPayload(pending.Payload)
	fmt.Println(dimStyle.Render("Answer with a JSON object on one line (blank line = {}), Ctrl-D to leave the run suspended:"))
	fmt.Print("> ")

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			return map[string]any{}, nil
		}
		var value map[string]any
		if err := json.Unmarshal([]byte(line), &value); err != nil {
			fmt.Println(dimStyle.Render(fmt.Sprintf("not a JSON object (%v), try again:", err)))
			fmt.Print("> ")
			continue
		}
		return value, nil
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return nil, errGateAborted
}

// printPayload renders the gate payload, keeping the message and
// instructions keys prominent and pretty-printing the rest.
func printPayload(payload map[string]any) {
	if msg, ok := payload["message"].(string); ok {
		fmt.Println(msg)
	}
	if problem, ok := payload["problem"].(string); ok {
		fmt.Println(statusStyle[graph.StatusFailed].Render("Problem: " + problem))
	}

	keys := make([]string, 0, len(payload))
	for k := range payload {
		switch k {
		case "message", "problem", "instructions":
		default:
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		pretty, err := json.MarshalIndent(payload[k], "  ", "  ")
		if err != nil {
			continue
		}
		fmt.Printf("%s %s\n", keyStyle.Render(k+":"), pretty)
	}

	if instructions, ok := payload["instructions"].(string); ok {
		fmt.Println(dimStyle.Render(instructions))
	}
}

// readResumeValue reads a JSON object from a file, or from stdin when no
// path is given.
func readResumeValue(path string) (map[string]any, error) {
	var data []byte
	var err error
	if path == "" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read resume value: %w", err)
	}
	var value map[string]any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("parse resume value: %w", err)
	}
	return value, nil
}

func printOutcome(res *graph.RunResult) {
	fmt.Println()
	switch res.Status {
	case graph.RunCompleted:
		fmt.Println(titleStyle.Render("✓ run " + res.RunID + " completed"))
	case graph.RunStalled:
		fmt.Println(statusStyle[graph.StatusFailed].Render("✗ run " + res.RunID + " stalled"))
	default:
		fmt.Println(dimStyle.Render("run " + res.RunID + ": " + string(res.Status)))
	}

	statuses := res.ExecutionStatus()
	stages := make([]string, 0, len(statuses))
	for stage := range statuses {
		stages = append(stages, stage)
	}
	sort.Strings(stages)
	for _, stage := range stages {
		status := statuses[stage]
		style, ok := statusStyle[status]
		if !ok {
			style = dimStyle
		}
		fmt.Printf("  %-22s %s\n", stage, style.Render(status))
	}

	if errs := res.Errors(); len(errs) > 0 {
		fmt.Println()
		for stage, msg := range errs {
			fmt.Printf("  %s %s\n", statusStyle[graph.StatusFailed].Render(stage+":"), msg)
		}
	}
}

func printRuns(runs []graph.RunInfo) {
	if len(runs) == 0 {
		fmt.Println(dimStyle.Render("no runs yet"))
		return
	}
	fmt.Printf("%-38s %-10s %-10s %s\n", "RUN", "SUPERSTEP", "STATE", "UPDATED")
	for _, run := range runs {
		state := "idle"
		if run.Suspended {
			state = "waiting"
		}
		fmt.Printf("%-38s %-10d %-10s %s\n",
			run.RunID, run.Superstep, state, run.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
}
