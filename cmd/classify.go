package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/altair-labs/salesagent/internal/agent"
	"github.com/altair-labs/salesagent/internal/ai"
	"github.com/altair-labs/salesagent/internal/config"
	"github.com/altair-labs/salesagent/internal/knowledge"
	"github.com/altair-labs/salesagent/internal/store"
	"github.com/altair-labs/salesagent/internal/store/pg"
	"github.com/altair-labs/salesagent/internal/timeutil"
)

// classifyCmd runs the moderator prompt against existing contacts outside
// the steady-state message path.
func classifyCmd() *cobra.Command {
	var allUnclassified bool
	cmd := &cobra.Command{
		Use:   "classify [phone]",
		Short: "Re-run contact classification",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !allUnclassified && len(args) == 0 {
				return fmt.Errorf("pass a phone number or --all-unclassified")
			}

			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			setupLogging(cfg.LogLevel)
			if err := cfg.Validate(); err != nil {
				return err
			}

			stores, err := pg.NewStores(cfg.Database.PostgresDSN, cfg.Database.MaxOpenConns)
			if err != nil {
				return fmt.Errorf("connect to postgres: %w", err)
			}
			defer stores.Close()

			biz, err := timeutil.NewBusiness(cfg.Hours.Timezone, cfg.Hours.Start, cfg.Hours.End)
			if err != nil {
				return err
			}

			inference := ai.NewClient(cfg.AI.APIKey, cfg.AI.Model, cfg.AI.APIBase)
			kb := knowledge.NewLoader(cfg.Knowledge.Dir, cfg.Knowledge.MaxChars)
			prompts := agent.LoadPrompts(cfg.Prompts.Dir)

			// No publisher: classification never sends messages.
			router := agent.NewRouter(stores, inference, nil, "",
				kb, prompts, biz, cfg.AI.MaxContextMessages)

			ctx := context.Background()
			if allUnclassified {
				return classifyAll(ctx, stores, router)
			}
			return classifyOne(ctx, stores, router, args[0])
		},
	}
	cmd.Flags().BoolVar(&allUnclassified, "all-unclassified", false, "classify every contact without a settled verdict")
	return cmd
}

func classifyOne(ctx context.Context, stores *store.Stores, router *agent.Router, phone string) error {
	contact, err := stores.Contacts.ByPhone(ctx, phone)
	if err != nil {
		return fmt.Errorf("lookup %s: %w", phone, err)
	}
	report(contact, router.Classify(ctx, contact))
	return nil
}

func classifyAll(ctx context.Context, stores *store.Stores, router *agent.Router) error {
	contacts, err := stores.Contacts.Unclassified(ctx)
	if err != nil {
		return fmt.Errorf("list unclassified: %w", err)
	}
	if len(contacts) == 0 {
		fmt.Println("no unclassified contacts")
		return nil
	}

	slog.Info("classifying contacts", "count", len(contacts))
	for _, c := range contacts {
		report(c, router.Classify(ctx, c))
	}
	return nil
}

func report(c *store.Contact, verdict *bool) {
	switch {
	case verdict == nil:
		fmt.Fprintf(os.Stdout, "%s: uncertain\n", c.PhoneNumber)
	case *verdict:
		fmt.Fprintf(os.Stdout, "%s: client (confidence %.2f)\n", c.PhoneNumber, c.Confidence)
	default:
		fmt.Fprintf(os.Stdout, "%s: non-client (confidence %.2f)\n", c.PhoneNumber, c.Confidence)
	}
}
