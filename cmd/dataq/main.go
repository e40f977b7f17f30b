package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/wbrunette/dataq"
	"github.com/wbrunette/dataq/dataservice/sqlstore"
	"github.com/wbrunette/dataq/host"
	"github.com/wbrunette/dataq/utils"
)

func main() {
	var (
		dbPath    string
		namespace string
		user      string
		verbose   bool
	)

	root := &cobra.Command{
		Use:   "dataq",
		Short: "Interactive shell over the dataq dispatch engine",
		Long: `dataq opens an embedded SQLite store, binds it to a dispatch
engine and drops into a shell that issues the engine's commands and
prints the response envelopes as they arrive.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			log := utils.NewDefaultLogger(level)

			store, err := sqlstore.OpenSQLite(context.Background(), dbPath, sqlstore.Options{
				Logger: log,
				User:   user,
				Roles:  []string{"ROLE_SUPER_USER_TABLES"},
			})
			if err != nil {
				return err
			}
			defer store.Shutdown()

			binding := host.New(namespace, host.WithLogger(log))
			binding.SetService(store)
			factory := dataq.NewFactory(dataq.Options{Logger: log})

			sh := &shell{
				store:   store,
				binding: binding,
				view:    dataq.NewView(factory, binding, "shell"),
			}
			return sh.run()
		},
	}

	root.Flags().StringVar(&dbPath, "db", "dataq.db", "path of the sqlite store")
	root.Flags().StringVar(&namespace, "namespace", "default", "application namespace")
	root.Flags().StringVar(&user, "user", "shell", "acting user id")
	root.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
