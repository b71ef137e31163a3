package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"guildbank/internal/auth"
	"guildbank/internal/catalog"
	cl "guildbank/internal/cli"
	"guildbank/internal/config"
	"guildbank/internal/economy"
	"guildbank/internal/syncq"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type app struct {
	configPath string
	apiBase    string
	output     string
	cfg        config.CLIConfig
}

func main() {
	a := &app{}
	root := &cobra.Command{
		Use:          "gbk",
		Short:        "Guild economy operator CLI",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadCLI(a.configPath)
			if err != nil {
				return err
			}
			if a.apiBase != "" {
				cfg.APIBaseURL = strings.TrimRight(a.apiBase, "/")
			}
			if a.output != "" {
				cfg.Output = a.output
			}
			a.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default ~/.gbk.yaml)")
	root.PersistentFlags().StringVar(&a.apiBase, "api", "", "API base URL")
	root.PersistentFlags().StringVarP(&a.output, "output", "o", "", "table or json")

	root.AddCommand(
		newTokenCmd(a),
		newMeCmd(a),
		newItemsCmd(a),
		newInventoryCmd(a),
		newBuyCmd(a),
		newSellCmd(a),
		newGiftCmd(a),
		newUseCmd(a),
		newPoolsCmd(a),
		newAdminCmd(a),
		newRetryCmd(a),
	)

	if err := root.Execute(); err != nil {
		if cl.IsFailure(err) {
			printWarn(err.Error())
		} else {
			printError(fmt.Sprintf("error: %v", err))
		}
		os.Exit(1)
	}
}

func (a *app) client() *cl.Client {
	return cl.NewClient(a.cfg.APIBaseURL, a.cfg.Token)
}

func (a *app) render(v any, table func()) error {
	if a.cfg.Output == "json" {
		return printJSON(v)
	}
	table()
	return nil
}

// queuePending records a mutation whose outcome is unknown so `gbk retry` can replay
// it under the same idempotency key.
func (a *app) queuePending(err error) error {
	var pending *cl.PendingError
	if !errors.As(err, &pending) {
		return err
	}
	q, qerr := syncq.Open(a.cfg.QueueDir)
	if qerr != nil {
		return errors.Join(err, qerr)
	}
	r := pending.Request
	if qerr := q.Push(syncq.Command{
		Method:         r.Method,
		Path:           r.Path,
		Body:           r.Body,
		IdempotencyKey: r.IdempotencyKey,
		LastError:      pending.Err.Error(),
	}); qerr != nil {
		return errors.Join(err, qerr)
	}
	return fmt.Errorf("%w (queued; run `gbk retry` to replay)", err)
}

func withTimeout(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), 30*time.Second)
}

func scopeFlag(cmd *cobra.Command, gang *bool) {
	cmd.Flags().BoolVar(gang, "gang", false, "act on gang items instead of user items")
}

func scopeOf(gang bool) economy.Scope {
	if gang {
		return economy.ScopeGang
	}
	return economy.ScopeUser
}

func newTokenCmd(a *app) *cobra.Command {
	var (
		admin bool
		save  bool
		ttl   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token USER_ID",
		Short: "Mint an actor token with the shared secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseID(args[0])
			if err != nil {
				return err
			}
			if a.cfg.JWTSecret == "" {
				return errors.New("jwt_secret is not configured (set GBK_JWT_SECRET)")
			}
			signer, err := auth.NewSigner(a.cfg.JWTSecret, ttl)
			if err != nil {
				return err
			}
			token, exp, err := signer.Issue(auth.Actor{UserID: userID, Admin: admin})
			if err != nil {
				return err
			}
			if !save {
				fmt.Println(token)
				return nil
			}
			path, err := config.SaveCLIToken(a.configPath, token)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Token for %d saved to %s (expires %s).", userID, path, exp.Format(time.RFC3339)))
			return nil
		},
	}
	cmd.Flags().BoolVar(&admin, "admin", false, "grant admin routes")
	cmd.Flags().BoolVar(&save, "save", false, "store the token in the config file")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func newMeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "me",
		Short: "Show your reputation and gang standing",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			me, err := a.client().Me(ctx)
			if err != nil {
				return err
			}
			return a.render(me, func() { renderMe(me) })
		},
	}
}

func newItemsCmd(a *app) *cobra.Command {
	var gang bool
	cmd := &cobra.Command{
		Use:   "items [NAME]",
		Short: "List the catalog or show one item",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			client := a.client()
			if len(args) == 1 {
				item, err := client.Item(ctx, scopeOf(gang), args[0])
				if err != nil {
					return err
				}
				return a.render(item, func() { renderItem(item) })
			}
			view, err := client.Catalog(ctx, scopeOf(gang))
			if err != nil {
				return err
			}
			return a.render(view, func() { renderCatalog(view) })
		},
	}
	cmd.PersistentFlags().BoolVar(&gang, "gang", false, "act on gang items instead of user items")
	var owned bool
	suggest := &cobra.Command{
		Use:   "suggest [PREFIX]",
		Short: "Autocomplete item names",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			out, err := a.client().ItemSuggestions(ctx, scopeOf(gang), prefix, owned)
			if err != nil {
				return err
			}
			return a.render(out, func() { renderSuggestions(out) })
		},
	}
	suggest.Flags().BoolVar(&owned, "owned", false, "suggest from your inventory")
	cmd.AddCommand(suggest)
	return cmd
}

func newInventoryCmd(a *app) *cobra.Command {
	var gang bool
	cmd := &cobra.Command{
		Use:   "inventory",
		Short: "Show your (or your gang's) inventory",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			view, err := a.client().Inventory(ctx, scopeOf(gang))
			if err != nil {
				return err
			}
			return a.render(view, func() { renderInventory(view) })
		},
	}
	scopeFlag(cmd, &gang)
	return cmd
}

func newBuyCmd(a *app) *cobra.Command {
	var gang bool
	cmd := &cobra.Command{
		Use:   "buy NAME",
		Short: "Buy one unit of an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			out, err := a.client().Buy(ctx, scopeOf(gang), args[0], uuid.NewString())
			if err != nil {
				return a.queuePending(err)
			}
			return a.render(out, func() {
				printSuccess(fmt.Sprintf("Bought %s for %d. You now own %d. Balance: %d.", out.Item, out.Amount, out.Quantity, out.Balance))
			})
		},
	}
	scopeFlag(cmd, &gang)
	return cmd
}

func newSellCmd(a *app) *cobra.Command {
	var gang bool
	cmd := &cobra.Command{
		Use:   "sell NAME",
		Short: "Sell one unit of an item for a tenth of its cost",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			out, err := a.client().Sell(ctx, scopeOf(gang), args[0], uuid.NewString())
			if err != nil {
				return a.queuePending(err)
			}
			return a.render(out, func() {
				printSuccess(fmt.Sprintf("Sold %s for %d. %d left. Balance: %d.", out.Item, out.Amount, out.Quantity, out.Balance))
			})
		},
	}
	scopeFlag(cmd, &gang)
	return cmd
}

func newGiftCmd(a *app) *cobra.Command {
	var to int64
	cmd := &cobra.Command{
		Use:   "gift NAME --to USER_ID",
		Short: "Give one unit of an item to another member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if to <= 0 {
				return errors.New("--to is required")
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			out, err := a.client().Gift(ctx, args[0], to, uuid.NewString())
			if err != nil {
				return a.queuePending(err)
			}
			return a.render(out, func() {
				printSuccess(fmt.Sprintf("Gifted %s to %d. You have %d left; they now have %d.", out.Item, out.Target, out.SenderQuantity, out.TargetQuantity))
			})
		},
	}
	cmd.Flags().Int64Var(&to, "to", 0, "recipient user id")
	return cmd
}

func newUseCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "use NAME",
		Short: "Use an item from your inventory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			out, err := a.client().Use(ctx, args[0], uuid.NewString())
			if err != nil {
				return a.queuePending(err)
			}
			return a.render(out, func() { renderUse(out) })
		},
	}
}

func newPoolsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "pools [NAME]",
		Short: "List pools or show one pool's status",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			client := a.client()
			if len(args) == 1 {
				pool, err := client.Pool(ctx, args[0])
				if err != nil {
					return err
				}
				return a.render(pool, func() { renderPool(pool) })
			}
			pools, err := client.Pools(ctx)
			if err != nil {
				return err
			}
			return a.render(pools, func() { renderPools(pools) })
		},
	}
}

func newRetryCmd(a *app) *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Replay queued mutations that were never confirmed",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := syncq.Open(a.cfg.QueueDir)
			if err != nil {
				return err
			}
			queue, err := q.Load()
			if err != nil {
				return err
			}
			if list {
				return a.render(queue, func() { renderQueue(queue) })
			}
			if len(queue) == 0 {
				printInfo("Nothing queued.")
				return nil
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			client := a.client()
			remaining := make([]syncq.Command, 0, len(queue))
			replayed, dropped := 0, 0
			for _, c := range queue {
				err := client.Replay(ctx, cl.Request{Method: c.Method, Path: c.Path, Body: c.Body, IdempotencyKey: c.IdempotencyKey})
				switch {
				case err == nil:
					replayed++
				case cl.IsFailure(err):
					dropped++
					printWarn(fmt.Sprintf("%s %s: %v", c.Method, c.Path, err))
				default:
					c.LastError = err.Error()
					remaining = append(remaining, c)
				}
			}
			if err := q.Save(remaining); err != nil {
				return err
			}
			printInfo(fmt.Sprintf("replayed=%d dropped=%d remaining=%d", replayed, dropped, len(remaining)))
			return nil
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "show the queue without replaying it")
	return cmd
}

func newAdminCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Administrative operations (requires an admin token)",
	}
	cmd.AddCommand(newAdminPoolCmd(a), newAdminPointsCmd(a), newAdminUserCmd(a), newAdminCatalogCmd(a))
	return cmd
}

func newAdminPoolCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "pool", Short: "Create, edit and delete pools"}

	var spec economy.PoolSpec
	var roles []string
	create := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec.Name = args[0]
			ids, err := parseIDs(roles)
			if err != nil {
				return err
			}
			spec.Roles = ids
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			out, err := a.client().CreatePool(ctx, spec)
			if err != nil {
				return err
			}
			return a.render(out, func() {
				printSuccess(fmt.Sprintf("Pool %s created with reward %s!", out.Name, out.Reward))
				renderPool(out)
			})
		},
	}
	create.Flags().Int64Var(&spec.Cap, "cap", 0, "capacity")
	create.Flags().StringVar(&spec.Reward, "reward", "", "reward description")
	create.Flags().Int64Var(&spec.Level, "level", 1, "level")
	create.Flags().Int64Var(&spec.Current, "current", 0, "current amount")
	create.Flags().Int64Var(&spec.Start, "start", 0, "base amount for this level")
	create.Flags().StringSliceVar(&roles, "role", nil, "required role id (repeatable)")

	edit := &cobra.Command{
		Use:   "edit NAME",
		Short: "Edit a pool; only the given flags change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch, err := patchFromFlags(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			out, err := a.client().EditPool(ctx, args[0], patch)
			if err != nil {
				return err
			}
			return a.render(out, func() {
				printSuccess(fmt.Sprintf("Pool %s edited.", out.Name))
				renderPool(out)
			})
		},
	}
	edit.Flags().String("name", "", "new name")
	edit.Flags().Int64("cap", 0, "capacity")
	edit.Flags().String("reward", "", "reward description")
	edit.Flags().Int64("level", 0, "level")
	edit.Flags().Int64("current", 0, "current amount")
	edit.Flags().Int64("start", 0, "base amount for this level")

	role := &cobra.Command{
		Use:   "role NAME ROLE_ID",
		Short: "Toggle a required role on a pool",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			roleID, err := parseID(args[1])
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			out, err := a.client().TogglePoolRole(ctx, args[0], roleID)
			if err != nil {
				return err
			}
			return a.render(out, func() {
				verb := "removed from"
				if out.Added {
					verb = "added to"
				}
				printSuccess(fmt.Sprintf("Role `%d` %s pool `%s`.", out.Role, verb, out.Pool.Name))
			})
		},
	}

	del := &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			if err := a.client().DeletePool(ctx, args[0]); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Pool %s deleted.", args[0]))
			return nil
		},
	}

	cmd.AddCommand(create, edit, role, del)
	return cmd
}

func patchFromFlags(cmd *cobra.Command) (economy.PoolPatch, error) {
	var p economy.PoolPatch
	flags := cmd.Flags()
	if flags.Changed("name") {
		v, _ := flags.GetString("name")
		p.Name = &v
	}
	if flags.Changed("reward") {
		v, _ := flags.GetString("reward")
		p.Reward = &v
	}
	for name, dst := range map[string]**int64{"cap": &p.Cap, "level": &p.Level, "current": &p.Current, "start": &p.Start} {
		if flags.Changed(name) {
			v, _ := flags.GetInt64(name)
			*dst = &v
		}
	}
	if p.Empty() {
		return p, errors.New("nothing to edit: pass at least one flag")
	}
	return p, nil
}

func newAdminPointsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "points USER_ID [DELTA]",
		Short: "Check a user's reputation, or add/remove reputation",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseID(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			client := a.client()
			if len(args) == 1 {
				points, err := client.Reputation(ctx, userID)
				if err != nil {
					return err
				}
				return a.render(map[string]any{"user_id": userID, "points": points}, func() {
					printInfo(fmt.Sprintf("User %d has %d reputation.", userID, points))
				})
			}
			delta, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil || delta == 0 {
				return fmt.Errorf("delta must be a non-zero whole number")
			}
			out, err := client.AdjustPoints(ctx, userID, delta, uuid.NewString())
			if err != nil {
				return a.queuePending(err)
			}
			return a.render(out, func() {
				printSuccess(fmt.Sprintf("User %d now has %d reputation (%+d applied).", out.UserID, out.Points, out.Applied))
				if out.Overflow > 0 {
					printWarn(fmt.Sprintf("%d could not be removed: balance is clamped at zero.", out.Overflow))
				}
			})
		},
	}
	return cmd
}

func newAdminUserCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "user USER_ID",
		Short: "Create a user's reputation record if missing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseID(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			created, err := a.client().EnsureUser(ctx, userID)
			if err != nil {
				return err
			}
			if created {
				printSuccess(fmt.Sprintf("User %d created.", userID))
			} else {
				printInfo(fmt.Sprintf("User %d already exists.", userID))
			}
			return nil
		},
	}
}

func newAdminCatalogCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "catalog FILE",
		Short: "Upsert both catalogs from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := catalog.Load(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			client := a.client()
			for _, scope := range []economy.Scope{economy.ScopeUser, economy.ScopeGang} {
				defs := file.For(scope)
				if len(defs) == 0 {
					continue
				}
				n, err := client.SyncCatalog(ctx, scope, defs)
				if err != nil {
					return fmt.Errorf("%s catalog: %w", scope, err)
				}
				printSuccess(fmt.Sprintf("Synced %d %s items.", n, scope))
			}
			return nil
		},
	}
}

func parseID(s string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return v, nil
}

func parseIDs(in []string) ([]int64, error) {
	out := make([]int64, 0, len(in))
	for _, s := range in {
		id, err := parseID(s)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}
