package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"gshare/internal/app"
	"gshare/internal/config"
	"gshare/internal/logging"
)

type cliEnv struct {
	cfg config.Config
}

// open starts the same runtime the server uses, against the configured data path.
func (e *cliEnv) open(ctx context.Context) (*app.App, error) {
	return app.Open(ctx, e.cfg)
}

func newRootCmd(env *cliEnv) *cobra.Command {
	var dataPath string
	root := &cobra.Command{
		Use:           "sharectl",
		Short:         "Administer a gshare data directory",
		SilenceUsage:  true,
		PersistentPreRun: func(*cobra.Command, []string) {
			if dataPath != "" {
				env.cfg.DataPath = dataPath
			}
		},
	}
	root.PersistentFlags().StringVar(&dataPath, "data", "", "data directory (overrides SHARE_DATA_PATH)")
	userAdd := newUserAddCmd(env)
	userAdd.Use = "user-add <username>"
	root.AddCommand(
		newUserCmd(env),
		userAdd,
		newHashCmd(),
		newImportCmd(env),
		newExportCmd(env),
		newSyncCmd(env),
		newDeleteCmd(env),
		newStatusCmd(env),
	)
	return root
}

func main() {
	opts := logging.OptionsFromEnv()
	opts.Pretty = true
	closeLog := logging.Setup(os.Stderr, opts)
	env := &cliEnv{cfg: config.Load()}
	err := newRootCmd(env).Execute()
	closeLog()
	if err != nil {
		os.Exit(1)
	}
}
