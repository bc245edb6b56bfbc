package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/asakaida/restree/internal/app"
	"github.com/asakaida/restree/internal/bootstrap"
	"github.com/asakaida/restree/internal/entities"
	"github.com/asakaida/restree/internal/handlers"
	"github.com/asakaida/restree/internal/infrastructure/config"
	"github.com/asakaida/restree/internal/infrastructure/logging"
	"github.com/asakaida/restree/internal/services/authorization"
)

const remoteTimeout = 10 * time.Second

type options struct {
	env string
	fs  afero.Fs
}

func newRootCmd(fs afero.Fs) *cobra.Command {
	opts := &options{fs: fs}

	root := &cobra.Command{
		Use:   "restreectl",
		Short: "Inspect and administer the resource tree",
		Long: `Inspect and administer the resource tree.
Local commands open the configured store directly; decide can also
ask a running server with --addr.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.env, "env", "e", "dev", "Environment to use (dev, test, prod)")

	root.AddCommand(
		newSeedCmd(opts),
		newTreeCmd(opts),
		newACLCmd(opts),
		newDecideCmd(opts),
		newInvalidateCmd(opts),
	)
	return root
}

// openApp loads the configuration and assembles the application.
// The memory store starts empty, so it is seeded with the default tree.
func openApp(ctx context.Context, opts *options) (*app.App, error) {
	if err := config.InitConfig(opts.env); err != nil {
		return nil, fmt.Errorf("failed to initialize config: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := logging.New(&cfg.Log)
	if err != nil {
		return nil, err
	}

	a, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		return nil, err
	}
	if a.Postgres == nil {
		if err := bootstrap.Apply(ctx, a.BootstrapDeps(), bootstrap.DefaultSeed()); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

func newSeedCmd(opts *options) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the built-in principals, permissions and resources",
		Long: `Create principals, the permission taxonomy and the resource tree.
Without --file the built-in seed is applied. Existing records are kept.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			seed := bootstrap.DefaultSeed()
			if file != "" {
				var err error
				if seed, err = bootstrap.LoadSeed(opts.fs, file); err != nil {
					return err
				}
			}

			ctx := cmd.Context()
			a, err := openApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := bootstrap.Apply(ctx, a.BootstrapDeps(), seed); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d users, %d groups, %d permissions, %d root resources\n",
				len(seed.Users), len(seed.Groups), len(seed.Permissions), len(seed.Resources))
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML seed file")
	return cmd
}

func newTreeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "tree <root> [path...]",
		Short: "Print the subtree below a node",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			node, err := a.Tree.Traverse(ctx, args[0], args[1:])
			if err != nil {
				return err
			}
			return a.Tree.Dump(ctx, cmd.OutOrStdout(), node)
		},
	}
}

func newACLCmd(opts *options) *cobra.Command {
	var effective bool
	cmd := &cobra.Command{
		Use:   "acl <resource_id>",
		Short: "Print the expanded ACL of a resource",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid resource id '%s'", args[0])
			}

			ctx := cmd.Context()
			a, err := openApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if !effective {
				if _, err := a.Tree.Load(ctx, id); err != nil {
					return err
				}
				acl, err := a.Resolver.NodeACL(ctx, id)
				if err != nil {
					return err
				}
				printEntries(out, "", acl)
				return nil
			}

			levels, err := a.Decider.EffectiveACL(ctx, id)
			if err != nil {
				return err
			}
			for _, level := range levels {
				fmt.Fprintf(out, "resource %d\n", level.NodeID)
				printEntries(out, "  ", level.Entries)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&effective, "effective", false, "Include the ACLs of all ancestors, nearest first")
	return cmd
}

func printEntries(w io.Writer, indent string, entries []entities.ACLEntry) {
	for _, e := range entries {
		fmt.Fprintf(w, "%s%s\n", indent, e)
	}
}

type decideFlags struct {
	user       string
	groups     []int64
	resource   int64
	permission string
	addr       string
}

func newDecideCmd(opts *options) *cobra.Command {
	f := &decideFlags{}
	cmd := &cobra.Command{
		Use:   "decide",
		Short: "Decide whether a principal holds a permission on a resource",
		Long: `Decide whether a principal holds a permission on a resource.
--user takes a user ID or principal name; without it the anonymous
principal is used. With --addr the decision is made by a running server.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.addr != "" {
				return decideRemote(cmd, f)
			}
			return decideLocal(cmd, opts, f)
		},
	}
	cmd.Flags().StringVarP(&f.user, "user", "u", "", "User ID or principal name")
	cmd.Flags().Int64SliceVarP(&f.groups, "group", "g", nil, "Additional group IDs")
	cmd.Flags().Int64VarP(&f.resource, "resource", "r", 0, "Resource ID")
	cmd.Flags().StringVarP(&f.permission, "permission", "p", "", "Permission name")
	cmd.Flags().StringVar(&f.addr, "addr", "", "Server address (host:port)")
	_ = cmd.MarkFlagRequired("resource")
	_ = cmd.MarkFlagRequired("permission")
	return cmd
}

func userRef(user string) entities.Ref {
	if id, err := strconv.ParseInt(user, 10, 64); err == nil {
		return entities.ByID(id)
	}
	return entities.ByName(user)
}

func decideLocal(cmd *cobra.Command, opts *options, f *decideFlags) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	principal := a.Principal.Anonymous()
	if f.user != "" {
		if principal, err = a.Principal.Resolve(ctx, userRef(f.user)); err != nil {
			return err
		}
	}
	principal.GroupIDs = append(principal.GroupIDs, f.groups...)

	decision, err := a.Decider.Decide(ctx, principal, f.resource, f.permission)
	if err != nil {
		return err
	}
	printDecision(cmd.OutOrStdout(), decision)
	return nil
}

func printDecision(w io.Writer, d *authorization.Decision) {
	if d.Entry == nil {
		fmt.Fprintf(w, "%s %s (no matching entry)\n", d.Effect, d.Permission)
		return
	}
	fmt.Fprintf(w, "%s %s (matched %s on resource %d)\n", d.Effect, d.Permission, d.Entry, d.NodeID)
}

func decideRemote(cmd *cobra.Command, f *decideFlags) error {
	conn, err := grpc.NewClient(f.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", f.addr, err)
	}
	defer conn.Close()

	req := map[string]interface{}{
		"resource_id": float64(f.resource),
		"permission":  f.permission,
	}
	if f.user != "" {
		if ref := userRef(f.user); ref.IsID() {
			req["user"] = float64(ref.ID)
		} else {
			req["user"] = ref.Name
		}
	}
	if len(f.groups) > 0 {
		groups := make([]interface{}, len(f.groups))
		for i, g := range f.groups {
			groups[i] = float64(g)
		}
		req["groups"] = groups
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), remoteTimeout)
	defer cancel()

	resp, err := handlers.NewClient(conn).Call(ctx, handlers.MethodDecide, req)
	if err != nil {
		return err
	}
	m := resp.AsMap()

	out := cmd.OutOrStdout()
	entry, _ := m["entry"].(map[string]interface{})
	if entry == nil {
		fmt.Fprintf(out, "%v %v (no matching entry)\n", m["effect"], m["permission"])
		return nil
	}
	fmt.Fprintf(out, "%v %v (matched (%v, %v, %v) on resource %.0f)\n",
		m["effect"], m["permission"], entry["effect"], entry["principal"], entry["permission"], m["node_id"])
	return nil
}

func newInvalidateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate [region]",
		Short: "Clear a cache region, or all of them",
		Long: `Clear a cache region, or all of them.
With PostgreSQL and CACHE_NOTIFY enabled the invalidation is broadcast
to every running server.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.Regions == nil {
				return fmt.Errorf("cache is disabled")
			}
			regions := a.Regions.Names()
			if len(args) == 1 {
				if _, ok := a.Regions.Backend(args[0]); !ok {
					return fmt.Errorf("unknown cache region '%s' (have %s)", args[0], strings.Join(regions, ", "))
				}
				regions = args
			}
			for _, name := range regions {
				if err := a.Regions.InvalidateRegion(ctx, name); err != nil {
					return err
				}
				a.Logger.WithFields(logrus.Fields{"region": name}).Info("region invalidated")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "invalidated %s\n", strings.Join(regions, ", "))
			return nil
		},
	}
}
