package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/solatis/autogift/internal/core/api"
	"github.com/solatis/autogift/internal/core/metrics"
	"github.com/solatis/autogift/internal/ports/inmem"
	"github.com/solatis/autogift/internal/rules"
	"github.com/solatis/autogift/internal/session"
	"github.com/solatis/autogift/internal/source"
	"github.com/solatis/autogift/internal/types"
)

// localShop keys file-based inputs in the in-memory catalog.
const localShop = "local"

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate a rule file against a cart file and print the intents",
	Long: `Evaluate runs one cycle of a rule file against a cart snapshot and prints
the resulting mutation intents as JSON. With --simulate the intents are
applied to an in-memory copy of the cart and cycles repeat until the cart
converges; the final cart is printed as well.`,
	Args: cobra.NoArgs,
	RunE: runEvaluate,
}

func init() {
	rootCmd.AddCommand(evaluateCmd)
	evaluateCmd.Flags().String("rules", "", "rule document (JSON or YAML)")
	evaluateCmd.Flags().String("cart", "", "cart snapshot (JSON or YAML)")
	evaluateCmd.Flags().String("index", "", "collection index document (optional)")
	evaluateCmd.Flags().Bool("simulate", false, "apply intents in memory until the cart converges")
	evaluateCmd.Flags().Int("max-cycles", 10, "cycle limit for --simulate")
	_ = evaluateCmd.MarkFlagRequired("rules")
	_ = evaluateCmd.MarkFlagRequired("cart")
}

type simulation struct {
	Cycles    [][]types.MutationIntent `json:"cycles"`
	Converged bool                     `json:"converged"`
	Cart      types.Cart               `json:"cart"`
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	rulesPath, _ := cmd.Flags().GetString("rules")
	cartPath, _ := cmd.Flags().GetString("cart")
	indexPath, _ := cmd.Flags().GetString("index")
	simulate, _ := cmd.Flags().GetBool("simulate")
	maxCycles, _ := cmd.Flags().GetInt("max-cycles")

	ruleSet, _, err := source.LoadRules(rulesPath, logger)
	if err != nil {
		return err
	}
	cart, err := source.LoadCart(cartPath)
	if err != nil {
		return err
	}
	index, err := source.NewIndexFile(indexPath).GetIndex(cmd.Context())
	if err != nil {
		return err
	}

	engine := rules.NewEngine(rules.WithLogger(logger))
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")

	if !simulate {
		catalog := inmem.NewCatalog()
		catalog.PutRules(localShop, ruleSet)
		catalog.PutIndex(localShop, index)
		svc, err := api.NewEvaluationService(catalog, engine, nil, logger)
		if err != nil {
			return err
		}
		resp, err := svc.Evaluate(cmd.Context(), metrics.CallerCLI, api.EvaluateRequest{ShopID: localShop, Cart: cart})
		if err != nil {
			return err
		}
		return enc.Encode(resp)
	}

	live := inmem.NewCart(cart)
	s := session.New(live, live, inmem.Rules(ruleSet), inmem.Index{Index: index},
		session.WithLogger(logger), session.WithEngine(engine))

	out := simulation{Cycles: [][]types.MutationIntent{}}
	for i := 0; i < maxCycles; i++ {
		res, err := s.RunCycle(cmd.Context())
		if err != nil {
			return fmt.Errorf("cycle %d: %w", i+1, err)
		}
		if len(res.Intents) == 0 || res.Skipped {
			out.Converged = true
			break
		}
		out.Cycles = append(out.Cycles, res.Intents)
	}
	out.Cart = live.Snapshot()
	if err := enc.Encode(out); err != nil {
		return err
	}
	if !out.Converged {
		return fmt.Errorf("cart did not converge within %d cycles", maxCycles)
	}
	return nil
}
