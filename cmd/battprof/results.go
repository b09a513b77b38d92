package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/battprof/pkg/lut"
	"github.com/charlie0129/battprof/pkg/version"
)

func NewResultsCommand() *cobra.Command {
	dbPath := ""
	asJSON := false

	cmd := &cobra.Command{
		Use:     "results [run-id]",
		Short:   "List profiling runs stored in SQLite, or print the look-up table of one",
		GroupID: gResults,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbPath == "" {
				c, err := resolveConfig(cmd, nil)
				if err != nil {
					return err
				}
				dbPath = c.SQLitePath
			}
			if dbPath == "" {
				return cmd.Help()
			}

			db, err := lut.NewSQLiteSink(dbPath)
			if err != nil {
				return err
			}
			defer func() {
				err := db.Close()
				if err != nil {
					logrus.WithError(err).Error("failed to close database")
				}
			}()

			if len(args) == 1 {
				entries, err := db.Entries(args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return printEntriesJSON(cmd, entries)
				}
				printEntries(cmd, entries)
				return nil
			}

			runs, err := db.Runs()
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				cmd.Println("no runs recorded")
				return nil
			}
			for _, id := range runs {
				cmd.Println(id)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "sqlite", "", "SQLite database (default: sqlitePath from the config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print entries as JSON")

	return cmd
}

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("%s %s\n", version.Version, version.GitCommit)
		},
	}
}
