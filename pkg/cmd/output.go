package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/blzsearch/blz/pkg/blz"
)

// writeResults renders search hits in the flag-selected format (json,
// jsonl, or text), following spec.md §6's BLZ_OUTPUT_FORMAT contract.
// Text is the default, colorized unless NoColor or NO_COLOR disables it.
func writeResults(w io.Writer, flags *cmdFlags, hits []blz.SearchHit, meta blz.SearchMeta) error {
	switch flags.OutputFormat {
	case "json":
		rounded := make([]blz.SearchHit, len(hits))
		for i, h := range hits {
			h.Score = roundScore(h.Score, flags.ScorePrecision)
			rounded[i] = h
		}

		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		return enc.Encode(struct {
			Hits []blz.SearchHit `json:"hits"`
			Meta blz.SearchMeta  `json:"meta"`
		}{rounded, meta})
	case "jsonl":
		enc := json.NewEncoder(w)
		for _, h := range hits {
			h.Score = roundScore(h.Score, flags.ScorePrecision)
			if err := enc.Encode(h); err != nil {
				return err
			}
		}

		return nil
	default:
		return writeResultsText(w, flags, hits)
	}
}

func writeResultsText(w io.Writer, flags *cmdFlags, hits []blz.SearchHit) error {
	for _, h := range hits {
		header := fmt.Sprintf("%s %s (%.*f)", h.Alias, h.Anchor, clampPrecision(flags.ScorePrecision), h.Score)
		if !flags.NoColor {
			header = "\x1b[1m" + header + "\x1b[0m"
		}

		if _, err := fmt.Fprintln(w, header); err != nil {
			return err
		}

		if _, err := fmt.Fprintln(w, indent(h.Snippet)); err != nil {
			return err
		}
	}

	return nil
}

// writeJSON renders any JSON-able value, used by get/toc/info/list/add/refresh.
func writeJSON(w io.Writer, flags *cmdFlags, v any) error {
	if flags.OutputFormat == "jsonl" {
		return json.NewEncoder(w).Encode(v)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

func roundScore(score float64, precision int) float64 {
	if precision <= 0 {
		precision = 4
	}

	mult := math.Pow(10, float64(precision))

	return math.Round(score*mult) / mult
}

func clampPrecision(p int) int {
	if p <= 0 {
		return 4
	}

	return p
}

func indent(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = "    " + l
	}

	return strings.Join(lines, "\n")
}
