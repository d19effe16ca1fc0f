package cli

import (
	"encoding/json"
	"flag"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/clipforge/pipeline/internal/config"
	"github.com/clipforge/pipeline/internal/manifest"
	"github.com/clipforge/pipeline/pkg/llm"
)

func (a *App) runCost(args []string) int {
	fs := flag.NewFlagSet("cost", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	configPath := fs.String("config", "clipforge.yaml", "path to clipforge.yaml")
	jsonOutput := fs.Bool("json", false, "output as JSON")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		a.errf("Error: %v\n", err)
		return 1
	}
	store := manifest.NewStore(cfg.StateRoot)

	if fs.NArg() == 0 {
		return a.listRunCosts(store, *jsonOutput)
	}

	runID := fs.Arg(0)
	b, err := store.Load(runID)
	if err != nil {
		a.errf("Error: %v\n", err)
		return 1
	}
	if b == nil {
		a.errf("Error: no manifest found for run %q\n", runID)
		return 1
	}

	if *jsonOutput {
		return a.costJSON(b)
	}
	a.renderCostTable(b)
	return 0
}

func (a *App) listRunCosts(store *manifest.Store, jsonOut bool) int {
	ids, err := store.List()
	if err != nil {
		a.errf("Error: %v\n", err)
		return 1
	}
	if len(ids) == 0 {
		a.outf("No runs found. Run 'clipforge run <source-url>' first.\n")
		return 0
	}

	type runSummary struct {
		RunID string  `json:"run_id"`
		Cost  float64 `json:"cost"`
		Calls int     `json:"calls"`
	}

	var summaries []runSummary
	for _, id := range ids {
		b, err := store.Load(id)
		if err != nil || b == nil {
			continue
		}
		var total float64
		for _, cr := range b.CostRecords {
			total += cr.Cost
		}
		summaries = append(summaries, runSummary{RunID: b.RunID, Cost: total, Calls: len(b.CostRecords)})
	}

	if jsonOut {
		data, _ := json.MarshalIndent(summaries, "", "  ")
		a.outf("%s\n", data)
		return 0
	}

	w := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RUN ID\tCALLS\tCOST")
	for _, s := range summaries {
		_, _ = fmt.Fprintf(w, "%s\t%d\t$%.6f\n", s.RunID, s.Calls, s.Cost)
	}
	_ = w.Flush()
	return 0
}

type modelCost struct {
	Model string    `json:"model"`
	Calls int       `json:"calls"`
	Usage llm.Usage `json:"usage"`
	Cost  float64   `json:"cost"`
}

func (a *App) costJSON(b *manifest.Bundle) int {
	models := aggregateByModel(b)
	data, err := json.MarshalIndent(models, "", "  ")
	if err != nil {
		a.errf("Error: %v\n", err)
		return 1
	}
	a.outf("%s\n", data)
	return 0
}

func (a *App) renderCostTable(b *manifest.Bundle) {
	a.outf("Run: %s\n\n", b.RunID)

	models := aggregateByModel(b)

	w := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "MODEL\tCALLS\tPROMPT\tCOMPLETION\tCOST")

	var totalCalls int
	var totalPrompt, totalCompletion int
	var totalCost float64
	for _, m := range models {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t$%.6f\n",
			m.Model, m.Calls, m.Usage.PromptTokens, m.Usage.CompletionTokens, m.Cost)
		totalCalls += m.Calls
		totalPrompt += m.Usage.PromptTokens
		totalCompletion += m.Usage.CompletionTokens
		totalCost += m.Cost
	}

	_, _ = fmt.Fprintln(w, strings.Repeat("─", 60)+"\t\t\t\t")
	_, _ = fmt.Fprintf(w, "TOTAL\t%d\t%d\t%d\t$%.6f\n",
		totalCalls, totalPrompt, totalCompletion, totalCost)
	_ = w.Flush()
}

func aggregateByModel(b *manifest.Bundle) []modelCost {
	byModel := make(map[string]*modelCost)

	for _, cr := range b.CostRecords {
		mc, ok := byModel[cr.Model]
		if !ok {
			mc = &modelCost{Model: cr.Model}
			byModel[cr.Model] = mc
		}
		mc.Calls++
		mc.Usage.PromptTokens += cr.Usage.PromptTokens
		mc.Usage.CompletionTokens += cr.Usage.CompletionTokens
		mc.Usage.TotalTokens += cr.Usage.TotalTokens
		mc.Cost += cr.Cost
	}

	names := make([]string, 0, len(byModel))
	for name := range byModel {
		names = append(names, name)
	}
	sort.Strings(names)

	result := make([]modelCost, 0, len(names))
	for _, name := range names {
		result = append(result, *byModel[name])
	}
	return result
}
