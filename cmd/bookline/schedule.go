package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bookline/internal/domain"
	"bookline/internal/engine"
	"bookline/internal/repo"
)

func blockCmd() *cobra.Command {
	blk := &cobra.Command{Use: "block", Short: "Manage schedule blocks"}
	blk.AddCommand(blockCreateCmd())
	blk.AddCommand(blockListCmd())
	blk.AddCommand(blockRemoveCmd())
	blk.AddCommand(blockDatesCmd())
	return blk
}

// parseRanges turns "09:00-12:00,14:00-15:00" into time ranges.
func parseRanges(raw []string) ([]domain.TimeRange, error) {
	var out []domain.TimeRange
	for _, r := range raw {
		start, end, ok := strings.Cut(strings.TrimSpace(r), "-")
		if !ok {
			return nil, fmt.Errorf("invalid range %q (want HH:MM-HH:MM)", r)
		}
		out = append(out, domain.TimeRange{Start: start, End: end})
	}
	return out, nil
}

func blockCreateCmd() *cobra.Command {
	var professional, start, end, reason string
	var ranges []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Block a day, a date range, or time ranges within them",
		RunE: func(cmd *cobra.Command, args []string) error {
			trs, err := parseRanges(ranges)
			if err != nil {
				return err
			}
			kind := domain.BlockSingleDay
			if end != "" && end != start {
				kind = domain.BlockDateRange
			}
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				if professional == "" {
					professional = actor.ID
				}
				b, err := e.CreateBlock(ctx, engine.BlockOptions{
					ProfessionalID: professional,
					Kind:           kind,
					StartDate:      start,
					EndDate:        end,
					TimeRanges:     trs,
					Reason:         reason,
					Actor:          actor,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	cmd.Flags().StringVar(&professional, "professional", "", "professional id (defaults to the actor)")
	cmd.Flags().StringVar(&start, "start", "", "start date YYYY-MM-DD")
	cmd.Flags().StringVar(&end, "end", "", "end date YYYY-MM-DD (date range)")
	cmd.Flags().StringSliceVar(&ranges, "range", nil, "time range HH:MM-HH:MM (repeatable)")
	cmd.Flags().StringVar(&reason, "reason", "", "reason")
	_ = cmd.MarkFlagRequired("start")
	return cmd
}

func blockListCmd() *cobra.Command {
	var professional string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List blocks of a professional",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListBlocks(ctx, professional)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Kind", "Start", "End", "Ranges", "Reason")
				for _, b := range items {
					var rs []string
					for _, r := range b.TimeRanges {
						rs = append(rs, r.Start+"-"+r.End)
					}
					ranges := strings.Join(rs, ",")
					if ranges == "" {
						ranges = "all day"
					}
					tw.AppendRow(table.Row{b.ID, b.Kind, b.StartDate, b.EndDate, ranges, b.Reason})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&professional, "professional", "", "professional id")
	_ = cmd.MarkFlagRequired("professional")
	return cmd
}

func blockRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <block-id>",
		Short: "Remove a block",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				if err := e.RemoveBlock(ctx, args[0], actor); err != nil {
					return err
				}
				fmt.Println("removed", args[0])
				return nil
			})
		},
	}
}

func blockDatesCmd() *cobra.Command {
	var professional, from, to string
	cmd := &cobra.Command{
		Use:   "dates",
		Short: "List blocked dates in a window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				days, err := e.BlockedDatesInRange(ctx, professional, from, to)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(days)
				}
				tw := newTable("Date", "Whole day")
				for _, d := range days {
					tw.AppendRow(table.Row{d.Date, d.WholeDay})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&professional, "professional", "", "professional id")
	cmd.Flags().StringVar(&from, "from", "", "first date YYYY-MM-DD")
	cmd.Flags().StringVar(&to, "to", "", "last date YYYY-MM-DD")
	_ = cmd.MarkFlagRequired("professional")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func slotCmd() *cobra.Command {
	slot := &cobra.Command{Use: "slot", Short: "Query availability"}
	var professional string
	status := &cobra.Command{
		Use:   "status <date> <time>",
		Short: "Classify one slot as available, blocked or occupied",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				st, err := e.SlotStatus(ctx, professional, args[0], args[1])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"date": args[0], "time": args[1], "status": st})
				}
				fmt.Println(st)
				return nil
			})
		},
	}
	day := &cobra.Command{
		Use:   "day <date>",
		Short: "Show the slot grid of a date",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				view, err := e.DaySlots(ctx, professional, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(view)
				}
				tw := newTable("Time", "Status")
				for _, s := range view.Slots {
					tw.AppendRow(table.Row{s.Time, s.Status})
				}
				if view.FullyBlocked {
					tw.SetTitle(view.Date + " (blocked)")
				} else {
					tw.SetTitle(view.Date)
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
	slot.PersistentFlags().StringVar(&professional, "professional", "", "professional id")
	_ = slot.MarkPersistentFlagRequired("professional")
	slot.AddCommand(status, day)
	return slot
}

func settingsCmd() *cobra.Command {
	st := &cobra.Command{Use: "settings", Short: "Professional scheduling settings"}
	show := &cobra.Command{
		Use:   "show <professional-id>",
		Short: "Show effective settings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.GetSettings(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	var notice, window int
	update := &cobra.Command{
		Use:   "update",
		Short: "Update the actor's settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				u := engine.SettingsUpdate{ProfessionalID: actor.ID, Actor: actor}
				if cmd.Flags().Changed("min-notice") {
					u.MinNoticeMinutesForBooking = &notice
				}
				if cmd.Flags().Changed("cancel-window") {
					u.NoPenaltyCancellationWindowMinutes = &window
				}
				s, err := e.UpdateSettings(ctx, u)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	update.Flags().IntVar(&notice, "min-notice", 0, "minimum booking notice in minutes")
	update.Flags().IntVar(&window, "cancel-window", 0, "no-penalty cancellation window in minutes")
	st.AddCommand(show, update)
	return st
}

func delegateCmd() *cobra.Command {
	dl := &cobra.Command{Use: "delegate", Short: "Manage secretary delegations"}
	grant := &cobra.Command{
		Use:   "grant <delegate-id> <permission>",
		Short: "Grant negociarProposta or gerenciarAgenda to a secretary",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				d, err := e.GrantDelegate(ctx, engine.DelegateOptions{
					ProfessionalID: actor.ID,
					Delegate:       domain.Actor{ID: args[0], Role: domain.RoleSecretary},
					Permission:     args[1],
					Actor:          actor,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	revoke := &cobra.Command{
		Use:   "revoke <delegate-id> <permission>",
		Short: "Revoke a delegation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				return e.RevokeDelegate(ctx, engine.DelegateOptions{
					ProfessionalID: actor.ID,
					Delegate:       domain.Actor{ID: args[0], Role: domain.RoleSecretary},
					Permission:     args[1],
					Actor:          actor,
				})
			})
		},
	}
	list := &cobra.Command{
		Use:   "list <professional-id>",
		Short: "List delegations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListDelegates(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("Delegate", "Permission", "Since")
				for _, d := range items {
					tw.AppendRow(table.Row{d.DelegateID, d.Permission, d.CreatedAt})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
	show := &cobra.Command{
		Use:   "show <professional-id> <delegate-id>",
		Short: "Show the permissions a delegate holds",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				perms, err := e.DelegatePermissions(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"professional_id": args[0], "delegate_id": args[1], "permissions": perms})
				}
				if len(perms) == 0 {
					fmt.Println("no permissions")
					return nil
				}
				fmt.Println(strings.Join(perms, "\n"))
				return nil
			})
		},
	}
	dl.AddCommand(grant, revoke, list, show)
	return dl
}

func appointmentCmd() *cobra.Command {
	ap := &cobra.Command{Use: "appointment", Short: "Book and manage appointments"}
	ap.AddCommand(appointmentBookCmd())
	ap.AddCommand(appointmentListCmd())
	ap.AddCommand(appointmentTransitionCmd("cancel", "Cancel an appointment (refunds inside the window)"))
	ap.AddCommand(appointmentTransitionCmd("confirm", "Confirm a scheduled appointment"))
	ap.AddCommand(appointmentTransitionCmd("complete", "Mark an appointment as completed"))
	return ap
}

func appointmentBookCmd() *cobra.Command {
	var professional, client, title string
	cmd := &cobra.Command{
		Use:   "book <date> <time>",
		Short: "Book a slot, consuming one credit",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				c := actor
				if client != "" && client != actor.ID {
					c = domain.Actor{ID: client}
				}
				a, err := e.Book(ctx, engine.BookOptions{
					ProfessionalID: professional,
					Client:         c,
					BookedBy:       actor,
					Date:           args[0],
					Time:           args[1],
					Title:          title,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&professional, "professional", "", "professional id")
	cmd.Flags().StringVar(&client, "client", "", "client id (defaults to the actor)")
	cmd.Flags().StringVar(&title, "title", "", "title")
	_ = cmd.MarkFlagRequired("professional")
	return cmd
}

func appointmentListCmd() *cobra.Command {
	var f repo.AppointmentFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List appointments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListAppointments(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Date", "Time", "Client", "Status", "Credit")
				for _, a := range items {
					tw.AppendRow(table.Row{a.ID, a.Date, a.Time, a.ClientID, a.Status, a.CreditConsumed})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.ProfessionalID, "professional", "", "professional id")
	cmd.Flags().StringVar(&f.ClientID, "client", "", "client id")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.From, "from", "", "first date")
	cmd.Flags().StringVar(&f.To, "to", "", "last date")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max rows")
	return cmd
}

func appointmentTransitionCmd(verb, short string) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <appointment-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				var out any
				var err error
				switch verb {
				case "cancel":
					out, err = e.Cancel(ctx, args[0], actor)
				case "confirm":
					out, err = e.Confirm(ctx, args[0], actor)
				default:
					out, err = e.Complete(ctx, args[0], actor)
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
}
