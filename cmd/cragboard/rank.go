package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/abrezinsky/cragboard/internal/models"
	"github.com/abrezinsky/cragboard/internal/ranking"
)

type rankOptions struct {
	file   string
	asJSON bool
	podium int
}

// NewRankCommand ranks a results payload offline
func NewRankCommand() *cobra.Command {
	opts := &rankOptions{}

	cmd := &cobra.Command{
		Use:   "rank",
		Short: "Rank a results payload offline",
		Long: `Run the ranking engine on a results payload (the JSON a finalized box
sends to the results service) and print the overall table.`,
		Example: `  cragboard rank --file scores.json
  cragboard rank --file scores.json --podium 3
  cragboard rank --file - --json < scores.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRank(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "results payload JSON (- for stdin)")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print the ranking as JSON")
	cmd.Flags().IntVar(&opts.podium, "podium", 0, "only print the top N ranks")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func runRank(cmd *cobra.Command, opts *rankOptions) error {
	payload, err := readPayload(cmd.InOrStdin(), opts.file)
	if err != nil {
		return err
	}

	in := rankingInput(payload)
	result := ranking.Compute(in)
	rows := result.Rows
	if opts.podium > 0 {
		rows = ranking.Podium(rows, opts.podium)
	}

	out := cmd.OutOrStdout()
	if opts.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(ranking.Result{Rows: rows, NCompetitors: result.NCompetitors})
	}
	return writeTable(out, payload.Category, in.RouteCount, rows)
}

func readPayload(stdin io.Reader, path string) (models.ResultsPayload, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return models.ResultsPayload{}, fmt.Errorf("read payload: %w", err)
	}

	var payload models.ResultsPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return models.ResultsPayload{}, fmt.Errorf("parse payload: %w", err)
	}
	if payload.RouteCount <= 0 {
		return models.ResultsPayload{}, fmt.Errorf("parse payload: route_count must be positive")
	}
	return payload, nil
}

// rankingInput mirrors how a finalized box feeds the engine: times only
// count when the box had the time tiebreak enabled.
func rankingInput(p models.ResultsPayload) ranking.Input {
	in := ranking.Input{
		Scores:     ranking.Table(p.Scores),
		RouteCount: p.RouteCount,
		Clubs:      p.Clubs,
	}
	if p.UseTimeTiebreak {
		in.Times = ranking.Table(p.Times)
	}
	return in
}

func writeTable(w io.Writer, category string, routes int, rows []ranking.Row) error {
	if category != "" {
		fmt.Fprintf(w, "%s\n\n", category)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	header := []string{"RANK", "NAME", "CLUB"}
	for r := 1; r <= routes; r++ {
		header = append(header, fmt.Sprintf("R%d", r))
	}
	header = append(header, "TOTAL")
	fmt.Fprintln(tw, strings.Join(header, "\t"))

	for _, row := range rows {
		cols := []string{strconv.Itoa(row.Rank), row.Name, row.Club}
		for r := 0; r < routes; r++ {
			cols = append(cols, routeCell(row, r))
		}
		cols = append(cols, formatNumber(row.Total))
		fmt.Fprintln(tw, strings.Join(cols, "\t"))
	}
	return tw.Flush()
}

// routeCell shows the raw score with the rank points it earned
func routeCell(row ranking.Row, r int) string {
	if r >= len(row.Scores) || row.Scores[r] == nil {
		return "-"
	}
	cell := formatNumber(*row.Scores[r])
	if r < len(row.RankPoints) {
		cell += " (" + formatNumber(row.RankPoints[r]) + ")"
	}
	return cell
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
