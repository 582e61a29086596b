package detector

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sqlopt/engine/internal/model"
)

func formatSummary(total int, counts map[model.IssueType]int) string {
	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, string(t))
	}
	sort.Strings(types)

	parts := make([]string, 0, len(types))
	for _, t := range types {
		parts = append(parts, fmt.Sprintf("%s x%d", t, counts[model.IssueType(t)]))
	}
	return fmt.Sprintf("%d issue(s): %s", total, strings.Join(parts, ", "))
}
