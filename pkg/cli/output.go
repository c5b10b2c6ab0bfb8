// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-devsub.
//
// go-devsub is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package cli

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/jeremyhahn/go-devsub/pkg/common"
	"github.com/jeremyhahn/go-devsub/pkg/subscription"
)

// OutputFormat defines the output format type.
type OutputFormat string

const (
	FormatText  OutputFormat = "text"
	FormatJSON  OutputFormat = "json"
	FormatTable OutputFormat = "table"
)

// OperationResult holds the result of an operation.
type OperationResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// FormatOperationResult formats an operation result in the specified format.
func FormatOperationResult(result *OperationResult, format OutputFormat) string {
	switch format {
	case FormatJSON:
		return formatJSON(result)
	case FormatTable:
		return formatResultTable(result)
	default:
		return formatResultText(result)
	}
}

// FormatError formats an error message in the specified format.
func FormatError(err error, format OutputFormat) string {
	result := &OperationResult{
		Success: false,
		Error:   err.Error(),
	}
	return FormatOperationResult(result, format)
}

func formatResultText(result *OperationResult) string {
	if result.Success {
		if result.Message != "" {
			return result.Message + "\n"
		}
		return "Operation completed successfully\n"
	}
	return fmt.Sprintf("Error: %s\n", result.Error)
}

func formatResultTable(result *OperationResult) string {
	status, text := "SUCCESS", result.Message
	if !result.Success {
		status, text = "FAILED", result.Error
	}

	output := "┌────────────────────────────────────────────────────────┐\n"
	output += "│ Operation Result                                       │\n"
	output += "├────────────────────────────────────────────────────────┤\n"
	output += fmt.Sprintf("│ Status: %-47s │\n", status)
	if text != "" {
		for _, line := range wrapText(text, 54) {
			output += fmt.Sprintf("│ %-54s │\n", line)
		}
	}
	output += "└────────────────────────────────────────────────────────┘\n"
	return output
}

func formatJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("{\"error\": \"failed to marshal JSON: %s\"}\n", err)
	}
	return string(data) + "\n"
}

// FormatBatchResult formats a batch response, one line or row per device.
func FormatBatchResult(resp *subscription.Response, format OutputFormat) string {
	switch format {
	case FormatJSON:
		return formatJSON(resp)
	case FormatTable:
		return formatBatchTable(resp)
	default:
		return formatBatchText(resp)
	}
}

func formatBatchText(resp *subscription.Response) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (code %d)\n", resp.Message, resp.Code)
	for _, d := range resp.Devices {
		fmt.Fprintf(&b, "  %s: %d %s\n", d.DeviceID, d.ErrorCode, d.Message)
	}
	return b.String()
}

func formatBatchTable(resp *subscription.Response) string {
	var b strings.Builder
	b.WriteString("┌──────────────────────────┬────────┬──────────────────────────────┐\n")
	b.WriteString("│ Device                   │ Status │ Message                      │\n")
	b.WriteString("├──────────────────────────┼────────┼──────────────────────────────┤\n")
	for _, d := range resp.Devices {
		fmt.Fprintf(&b, "│ %-24s │ %6d │ %-28s │\n", truncate(d.DeviceID, 24), d.ErrorCode, truncate(d.Message, 28))
	}
	b.WriteString("└──────────────────────────┴────────┴──────────────────────────────┘\n")
	fmt.Fprintf(&b, "Result: %s (code %d)\n", resp.Message, resp.Code)
	return b.String()
}

// FormatServicesResult formats the registered log services.
func FormatServicesResult(services []common.ServiceRegistration, format OutputFormat) string {
	sorted := append([]common.ServiceRegistration(nil), services...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LogServiceID < sorted[j].LogServiceID })

	switch format {
	case FormatJSON:
		return formatJSON(sorted)
	case FormatTable:
		var b strings.Builder
		b.WriteString("┌────────────┬──────────────────────────┬──────┐\n")
		b.WriteString("│ Service    │ Device API Service       │ OIDs │\n")
		b.WriteString("├────────────┼──────────────────────────┼──────┤\n")
		for _, s := range sorted {
			fmt.Fprintf(&b, "│ %-10s │ %-24s │ %4d │\n", truncate(s.LogServiceID, 10), truncate(s.DeviceAPIServiceID, 24), len(s.ObjectIDs))
		}
		b.WriteString("└────────────┴──────────────────────────┴──────┘\n")
		return b.String()
	default:
		if len(sorted) == 0 {
			return "No services registered\n"
		}
		var b strings.Builder
		for _, s := range sorted {
			fmt.Fprintf(&b, "%s\t%s\t%d oids\t%s\n", s.LogServiceID, s.DeviceAPIServiceID, len(s.ObjectIDs), s.CallbackURL)
		}
		return b.String()
	}
}

// FormatHealthResult formats health check result.
func FormatHealthResult(health map[string]any, format OutputFormat) string {
	switch format {
	case FormatJSON:
		return formatJSON(health)
	case FormatTable:
		return formatPairsTable("Field", "Value", sortedPairs(health))
	default:
		var b strings.Builder
		for _, kv := range sortedPairs(health) {
			fmt.Fprintf(&b, "%s: %s\n", kv[0], kv[1])
		}
		return b.String()
	}
}

// FormatMetricsResult formats the metrics document. Text and table output
// flatten nested keys with dots.
func FormatMetricsResult(metrics map[string]any, format OutputFormat) string {
	if format == FormatJSON {
		return formatJSON(metrics)
	}
	flat := make(map[string]any)
	flatten("", metrics, flat)
	pairs := sortedPairs(flat)
	if format == FormatTable {
		return formatPairsTable("Metric", "Value", pairs)
	}
	var b strings.Builder
	for _, kv := range pairs {
		fmt.Fprintf(&b, "%s = %s\n", kv[0], kv[1])
	}
	return b.String()
}

func flatten(prefix string, in map[string]any, out map[string]any) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			flatten(key, nested, out)
			continue
		}
		out[key] = v
	}
}

func sortedPairs(m map[string]any) [][2]string {
	pairs := make([][2]string, 0, len(m))
	for k, v := range m {
		pairs = append(pairs, [2]string{k, fmt.Sprint(v)})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i][0] < pairs[j][0] })
	return pairs
}

func formatPairsTable(keyHeader, valueHeader string, pairs [][2]string) string {
	var b strings.Builder
	b.WriteString("┌────────────────────────────────────┬────────────────────────────────────────┐\n")
	fmt.Fprintf(&b, "│ %-34s │ %-38s │\n", keyHeader, valueHeader)
	b.WriteString("├────────────────────────────────────┼────────────────────────────────────────┤\n")
	for _, kv := range pairs {
		fmt.Fprintf(&b, "│ %-34s │ %-38s │\n", truncate(kv[0], 34), truncate(kv[1], 38))
	}
	b.WriteString("└────────────────────────────────────┴────────────────────────────────────────┘\n")
	return b.String()
}

// wrapText wraps text to maxWidth, at word boundaries when there are any.
func wrapText(text string, maxWidth int) []string {
	if len(text) <= maxWidth {
		return []string{text}
	}

	if !strings.Contains(text, " ") {
		var lines []string
		for len(text) > maxWidth {
			lines = append(lines, text[:maxWidth])
			text = text[maxWidth:]
		}
		if len(text) > 0 {
			lines = append(lines, text)
		}
		return lines
	}

	var lines []string
	var currentLine string
	for _, word := range strings.Fields(text) {
		switch {
		case currentLine == "":
			currentLine = word
		case len(currentLine)+1+len(word) <= maxWidth:
			currentLine += " " + word
		default:
			lines = append(lines, currentLine)
			currentLine = word
		}
	}
	if currentLine != "" {
		lines = append(lines, currentLine)
	}
	return lines
}
