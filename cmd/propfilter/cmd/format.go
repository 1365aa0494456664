package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/solatis/propfilter/internal/core/api"
	"github.com/solatis/propfilter/internal/filters"
)

// formatTable renders rows as a markdown table.
func formatTable(headers []string, rows [][]string) string {
	if len(rows) == 0 {
		return "_No rows_\n"
	}

	out := &strings.Builder{}

	alignment := make([]tw.Align, len(headers))
	for i := range alignment {
		alignment[i] = tw.AlignNone
	}

	table := tablewriter.NewTable(out,
		tablewriter.WithRenderer(renderer.NewMarkdown()),
		tablewriter.WithAlignment(alignment),
		tablewriter.WithHeaderAutoFormat(tw.Off),
	)
	table.Header(headers)
	for _, row := range rows {
		table.Append(row)
	}
	table.Render()

	return out.String()
}

// routeColor highlights leaves that leave the events table.
func routeColor(r filters.Route) string {
	switch r {
	case filters.RouteCohortSubquery:
		return color.YellowString(r.String())
	case filters.RoutePersonSubquery:
		return color.CyanString(r.String())
	default:
		return color.GreenString(r.String())
	}
}

// formatExplanation renders the leaf routing and entity tables.
func formatExplanation(e *api.Explanation) string {
	out := &strings.Builder{}
	heading := color.New(color.Bold)

	fmt.Fprintf(out, "%s person_on_events=%t ttl_days=%d\n\n",
		heading.Sprint("Context:"), e.PersonOnEvents, e.TTLDays)

	leaves := make([][]string, 0, len(e.Leaves))
	for _, leaf := range e.Leaves {
		leaves = append(leaves, []string{
			leaf.Path,
			string(leaf.Type),
			leaf.Key,
			string(leaf.Operator),
			leaf.Scope.String(),
			routeColor(leaf.Route),
			leaf.SQL,
		})
	}
	fmt.Fprintf(out, "%s\n\n", heading.Sprint("Properties"))
	out.WriteString(formatTable([]string{"path", "type", "key", "operator", "scope", "route", "sql"}, leaves))

	entities := make([][]string, 0, len(e.Entities))
	for _, entity := range e.Entities {
		entities = append(entities, []string{
			fmt.Sprintf("%d", entity.Index),
			string(entity.Kind),
			entity.Name,
			entity.SQL,
		})
	}
	fmt.Fprintf(out, "\n%s\n\n", heading.Sprint("Entities"))
	out.WriteString(formatTable([]string{"index", "type", "name", "sql"}, entities))

	return out.String()
}

// formatParams renders placeholder bindings in placeholder order.
func formatParams(params map[string]any) string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	// p2 before p10
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) < len(names[j])
		}
		return names[i] < names[j]
	})

	rows := make([][]string, 0, len(names))
	for _, name := range names {
		rows = append(rows, []string{name, fmt.Sprintf("%T", params[name]), fmt.Sprintf("%v", params[name])})
	}
	return formatTable([]string{"name", "type", "value"}, rows)
}
