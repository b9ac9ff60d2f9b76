// Package kubemodule runs the kubernetes modules outside of Ansible. It reads an Ansible-style
// arguments file, reconciles the objects it describes, and prints the result the way an Ansible
// module does.
package kubemodule

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/datawire/dlib/dlog"

	"github.com/emissary-ingress/kubemodules/pkg/busy"
	"github.com/emissary-ingress/kubemodules/pkg/driver"
	"github.com/emissary-ingress/kubemodules/pkg/kates"
	"github.com/emissary-ingress/kubemodules/pkg/schema"
)

// newStore connects to the cluster a request names.
var newStore = func(opts kates.ClientOptions) (driver.Store, error) {
	return kates.NewClient(opts)
}

// Stores built from a kubeconfig also know its context's namespace and the server's version.
type (
	namespacer interface {
		CurrentNamespace() (string, error)
	}
	serverVersioner interface {
		ServerVersion() (string, error)
	}
)

var (
	_ namespacer      = (*kates.Client)(nil)
	_ serverVersioner = (*kates.Client)(nil)
)

func Main(ctx context.Context, version string, args ...string) error {
	cmd := NewCommand(version)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

// Run runs one module as a standalone program, for the multi-call binary's per-module names.
func Run(module string) func(ctx context.Context, version string, args ...string) error {
	return func(ctx context.Context, version string, args ...string) error {
		return Main(ctx, version, append([]string{module}, args...)...)
	}
}

func NewCommand(version string) *cobra.Command {
	cfg := viper.New()
	cfg.SetEnvPrefix("KUBEMODULE")
	cfg.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "kubemodule <module> [ARGS_FILE]",
		Short:         "reconcile kubernetes objects the way the Ansible kubernetes modules do",
		Version:       version,
		Args:          cobra.RangeArgs(1, 2),
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	sets := cmd.Flags().StringArray("set", nil, "set a module parameter (`key=value`, the value is parsed as YAML); may be repeated")
	cmd.Flags().Bool("watch", false, "keep running and reconcile again whenever the src file changes")
	cmd.Flags().Int("concurrency", 4, "how many objects to reconcile at once")
	if err := cfg.BindPFlags(cmd.Flags()); err != nil {
		panic(err)
	}

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		module := args[0]
		b, ok := schema.Lookup(module)
		if !ok {
			return errors.Errorf("unknown module %q (see %q)", module, cmd.Root().Name()+" list")
		}

		argsFile := ""
		if len(args) == 2 {
			argsFile = args[1]
		}
		load := func() (map[string]interface{}, error) {
			return loadParams(argsFile, *sets)
		}

		r := &runner{
			builder:     b,
			concurrency: cfg.GetInt("concurrency"),
			out:         cmd.OutOrStdout(),
		}
		if cfg.GetBool("watch") {
			return r.watch(ctx, load)
		}
		params, err := load()
		if err != nil {
			return r.fail(err)
		}
		return r.runOnce(ctx, params)
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "list the available modules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range schema.Modules() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "options <module>",
		Short: "list the parameters a module accepts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, ok := schema.Lookup(args[0])
			if !ok {
				return errors.Errorf("unknown module %q", args[0])
			}
			for _, name := range b.Options() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "show the version, and the cluster's if it can be reached",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "Version %s\n", version)
			store, err := newStore(kates.ClientOptions{})
			if err != nil {
				dlog.Debugf(cmd.Context(), "no cluster: %v", err)
				return nil
			}
			if sv, ok := store.(serverVersioner); ok {
				server, err := sv.ServerVersion()
				if err != nil {
					dlog.Debugf(cmd.Context(), "no server version: %v", err)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Server version %s\n", server)
			}
			return nil
		},
	})
	return cmd
}

type runner struct {
	builder     *schema.Builder
	concurrency int

	outMu sync.Mutex
	out   io.Writer
}

func (r *runner) runOnce(ctx context.Context, params map[string]interface{}) error {
	reqs, err := r.builder.BuildAll(params)
	if err != nil {
		return r.fail(err)
	}
	if reqs[0].Debug {
		busy.SetLogLevel(logrus.DebugLevel)
	}
	store, err := newStore(reqs[0].Connection)
	if err != nil {
		return r.fail(err)
	}
	if ns, ok := store.(namespacer); ok {
		current, err := ns.CurrentNamespace()
		if err != nil {
			return r.fail(err)
		}
		for i := range reqs {
			reqs[i].DefaultNamespace(current)
		}
	}
	results, err := driver.New(store).RunAll(ctx, reqs, r.concurrency)
	if err != nil {
		return r.fail(err)
	}
	dlog.Debugf(ctx, "%s: %d object(s) reconciled", r.builder.Schema().Module, len(results))
	return r.print(moduleResult(r.builder.Schema(), results))
}
