package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bookline/internal/domain"
	"bookline/internal/engine"
	"bookline/internal/repo"
)

func proposalCmd() *cobra.Command {
	pr := &cobra.Command{Use: "proposal", Short: "Negotiate credit proposals"}
	pr.AddCommand(proposalCreateCmd())
	pr.AddCommand(proposalSendCmd())
	pr.AddCommand(proposalRespondCmd())
	pr.AddCommand(proposalListCmd())
	return pr
}

func proposalCreateCmd() *cobra.Command {
	var opts engine.ProposalOptions
	var reais float64
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Draft a proposal offering credits to a client",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				opts.Actor = actor
				if opts.ProfessionalID == "" {
					opts.ProfessionalID = actor.ID
				}
				opts.AgreedValueCents = int64(reais*100 + 0.5)
				p, err := e.CreateProposal(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ProfessionalID, "professional", "", "professional id (defaults to the actor)")
	cmd.Flags().StringVar(&opts.ClientID, "client", "", "client id")
	cmd.Flags().IntVar(&opts.CreditsOffered, "credits", 0, "credits offered")
	cmd.Flags().Float64Var(&reais, "value", 0, "agreed value in reais")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().IntVar(&opts.MinNoticeHours, "min-notice-hours", 0, "notice shown to the client")
	cmd.Flags().IntVar(&opts.CancellationWindowHours, "cancel-window-hours", 0, "cancellation window shown to the client")
	cmd.Flags().BoolVar(&opts.Send, "send", false, "send immediately")
	_ = cmd.MarkFlagRequired("client")
	_ = cmd.MarkFlagRequired("credits")
	return cmd
}

func proposalSendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <proposal-id>",
		Short: "Send a draft proposal to its client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				p, err := e.SendProposal(ctx, args[0], actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func proposalRespondCmd() *cobra.Command {
	var reject bool
	cmd := &cobra.Command{
		Use:   "respond <proposal-id>",
		Short: "Accept (issuing the credits) or reject a proposal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				p, err := e.RespondProposal(ctx, args[0], !reject, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().BoolVar(&reject, "reject", false, "reject instead of accepting")
	return cmd
}

func proposalListCmd() *cobra.Command {
	var f repo.ProposalFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List proposals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListProposals(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Professional", "Client", "Credits", "Value", "Status")
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.ProfessionalID, p.ClientID, p.CreditsOffered, fmt.Sprintf("R$ %.2f", float64(p.AgreedValueCents)/100), p.Status})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.ProfessionalID, "professional", "", "professional id")
	cmd.Flags().StringVar(&f.ClientID, "client", "", "client id")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max rows")
	return cmd
}

func ledgerCmd() *cobra.Command {
	lg := &cobra.Command{Use: "ledger", Short: "Inspect Gcoin balances"}
	balance := &cobra.Command{
		Use:   "balance <professional-id> [client-id]",
		Short: "Show balances of a professional, optionally for one client",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				clientID := ""
				if len(args) == 2 {
					clientID = args[1]
				}
				items, err := e.ListBalances(ctx, args[0], clientID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("Professional", "Client", "Role", "Issued", "Consumed", "Available")
				for _, b := range items {
					tw.AppendRow(table.Row{b.ProfessionalID, b.ClientID, b.ClientRole, b.Issued, b.Consumed, b.Available})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
	canSchedule := &cobra.Command{
		Use:   "can-schedule <professional-id>",
		Short: "Report whether the actor may book with a professional",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				ok, err := e.CanSchedule(ctx, actor.ID, actor.Role, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]bool{"can_schedule": ok})
				}
				fmt.Println(ok)
				return nil
			})
		},
	}
	lg.AddCommand(balance, canSchedule)
	return lg
}

func apiKeyCmd() *cobra.Command {
	ak := &cobra.Command{Use: "apikey", Short: "Manage API keys for the HTTP server"}
	var actorID, role, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key; the secret is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := domain.ParseRole(role)
			if err != nil {
				return err
			}
			buf := make([]byte, 24)
			if _, err := rand.Read(buf); err != nil {
				return err
			}
			secret := "bk_" + hex.EncodeToString(buf)
			key := domain.APIKey{ID: uuid.NewString(), ActorID: actorID, Role: r, Name: name, KeyHash: repo.HashAPIKey(secret)}
			return withRepo(cmd.Context(), func(ctx context.Context, rp repo.Repo) error {
				if err := rp.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				return printJSON(map[string]string{"id": key.ID, "actor_id": actorID, "role": role, "key": secret})
			})
		},
	}
	create.Flags().StringVar(&actorID, "actor", "", "actor the key authenticates as")
	create.Flags().StringVar(&role, "role", string(domain.RoleProfessional), "role bound to the key")
	create.Flags().StringVar(&name, "name", "", "label")
	_ = create.MarkFlagRequired("actor")

	list := &cobra.Command{
		Use:   "list [actor-id]",
		Short: "List API keys",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := ""
			if len(args) == 1 {
				filter = args[0]
			}
			return withRepo(cmd.Context(), func(ctx context.Context, rp repo.Repo) error {
				keys, err := rp.ListAPIKeys(ctx, filter)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := newTable("ID", "Actor", "Role", "Name", "Created")
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Role, k.Name, k.CreatedAt})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
	del := &cobra.Command{
		Use:   "delete <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, rp repo.Repo) error {
				return rp.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	ak.AddCommand(create, list, del)
	return ak
}
