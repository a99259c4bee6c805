package main

import (
	"fmt"
	"strconv"
	"strings"
)

func parsePositiveIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid job id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseJobID(arg string) (int64, error) {
	ids, err := parsePositiveIDs([]string{arg})
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

// formatStatusLabel turns "awaiting_operator" into "Awaiting Operator".
func formatStatusLabel(status string) string {
	parts := strings.Split(status, "_")
	for i, part := range parts {
		if part == "" {
			continue
		}
		parts[i] = strings.ToUpper(part[:1]) + part[1:]
	}
	return strings.Join(parts, " ")
}

func truncate(s string, limit int) string {
	if limit <= 3 || len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}

func formatPercent(pct float64) string {
	return strconv.FormatFloat(pct, 'f', 0, 64) + "%"
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
