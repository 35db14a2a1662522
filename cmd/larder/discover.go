package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/larder-app/larder/pkg/models"
)

func newDiscoverCmd() *cobra.Command {
	var (
		user     string
		pantry   bool
		code     bool
		generate bool
		refresh  bool
		more     int
		asJSON   bool
		opts     models.SearchOptions
	)

	cmd := &cobra.Command{
		Use:   "discover [query]",
		Short: "Find recipes for a term, your pantry, or a product code",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if pantry && code {
				return errors.New("--pantry and --code are mutually exclusive")
			}
			req := models.DiscoverRequest{
				UserID:   user,
				Kind:     models.KindSearch,
				Options:  opts,
				Generate: generate || more > 0,
			}
			if len(args) == 1 {
				req.Query = args[0]
			}
			switch {
			case pantry:
				req.Kind = models.KindPantry
			case code:
				req.Kind = models.KindCode
			}
			if req.Kind != models.KindPantry && strings.TrimSpace(req.Query) == "" {
				return errors.New("a query is required")
			}

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			run := a.orch.Discover
			if refresh {
				run = a.orch.ForceRefresh
			}
			res, err := run(ctx, req)
			if err != nil {
				return err
			}
			results := []models.DiscoverResult{res}

			for i := 0; i < more && res.SessionID != ""; i++ {
				next, err := a.orch.GenerateAnother(ctx, res.SessionID)
				if errors.Is(err, models.ErrLimitReached) {
					break
				}
				if err != nil {
					return err
				}
				results = append(results, next)
				if next.Outcome != models.OutcomeOK {
					break
				}
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(results)
			}
			for _, r := range results {
				printResult(r)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&user, "user", "cli", "user id (selects the pantry)")
	f.BoolVar(&pantry, "pantry", false, "recommend from the user's pantry")
	f.BoolVar(&code, "code", false, "treat the query as a barcode or QR payload")
	f.BoolVar(&generate, "generate", false, "open a generation session when results are short")
	f.BoolVar(&refresh, "refresh", false, "bypass a fresh cache entry")
	f.IntVar(&more, "more", 0, "generate up to N additional recipes (implies --generate)")
	f.BoolVar(&asJSON, "json", false, "print results as JSON")
	f.StringSliceVar(&opts.Diet, "diet", nil, "diet labels, e.g. low-carb")
	f.StringSliceVar(&opts.Health, "health", nil, "health labels, e.g. vegan")
	f.StringSliceVar(&opts.Cuisine, "cuisine", nil, "cuisine types")
	f.StringSliceVar(&opts.MealType, "meal", nil, "meal types")
	f.IntVar(&opts.MaxCalories, "max-calories", 0, "upper calorie bound per serving")
	f.IntVar(&opts.Limit, "limit", 0, "max results per source")
	return cmd
}

func printResult(r models.DiscoverResult) {
	fmt.Printf("%s from %s", r.Outcome, r.Source)
	if r.Partial {
		fmt.Print(" (partial)")
	}
	if r.SessionID != "" {
		fmt.Printf("  session %s", r.SessionID)
	}
	fmt.Println()
	if r.Message != "" {
		fmt.Println(r.Message)
	}
	if len(r.Candidates) == 0 {
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TITLE\tSOURCE\tKCAL\tMIN\tID")
	for _, c := range r.Candidates {
		src := c.SourceName
		if c.Generated {
			src += "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%.0f\t%.0f\t%s\n", c.Title, src, c.Calories, c.TotalTime, c.Key())
	}
	_ = w.Flush()
}
