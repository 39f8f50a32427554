// Command datamanager administers the data-manager database: loading the
// dataset catalog, inspecting and clearing jobs and tasks, and recovering
// after a restart.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/eocis-portal/data-manager/go/config"
	"github.com/eocis-portal/data-manager/go/manager"
	"github.com/eocis-portal/data-manager/go/skerr"
	"github.com/eocis-portal/data-manager/go/sklog"
	"github.com/eocis-portal/data-manager/go/sklog/sklogimpl"
	"github.com/eocis-portal/data-manager/go/sklog/stdlogging"
	"github.com/eocis-portal/data-manager/go/store"
)

type flagValues struct {
	DatabaseURL  string
	SchemaFolder string
	DataSetID    string
	EndDate      string
}

func main() {
	var flags flagValues

	databaseURLFlag := &cli.StringFlag{
		Destination: &flags.DatabaseURL,
		Name:        "database-url",
		Usage:       "Connection URL of the backing database. Overrides " + config.EnvDatabaseURL + ".",
	}

	cliApp := &cli.App{
		Name:  "datamanager",
		Usage: "Administers the EOCIS data-manager job database.",
		Before: func(c *cli.Context) error {
			// Log to stdout.
			sklogimpl.SetLogger(stdlogging.New(os.Stdout))
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "populate-schema",
				Usage: "Replaces the dataset catalog with the contents of a schema folder.",
				Flags: []cli.Flag{
					databaseURLFlag,
					&cli.StringFlag{
						Destination: &flags.SchemaFolder,
						Name:        "schema-folder",
						Required:    true,
						Usage:       "Folder containing datasets/ and bundles/ sub-folders of YAML files.",
					},
				},
				Action: func(c *cli.Context) error {
					return withStore(c.Context, &flags, func(ctx context.Context, cfg *config.Config, st *store.Store) error {
						return st.InTransaction(ctx, func(t *store.Transaction) error {
							return t.SchemaOperations().PopulateSchema(ctx, flags.SchemaFolder)
						})
					})
				},
			},
			{
				Name:  "update-end-date",
				Usage: "Records the date of the latest available data for one dataset.",
				Flags: []cli.Flag{
					databaseURLFlag,
					&cli.StringFlag{
						Destination: &flags.DataSetID,
						Name:        "dataset-id",
						Required:    true,
						Usage:       "The id of the dataset to update.",
					},
					&cli.StringFlag{
						Destination: &flags.EndDate,
						Name:        "end-date",
						Required:    true,
						Usage:       "The new end date, formatted " + store.DateFormat + ".",
					},
				},
				Action: func(c *cli.Context) error {
					endDate, err := store.DecodeDate(flags.EndDate)
					if err != nil {
						return skerr.Wrap(err)
					}
					return withStore(c.Context, &flags, func(ctx context.Context, cfg *config.Config, st *store.Store) error {
						return st.InTransaction(ctx, func(t *store.Transaction) error {
							return t.SchemaOperations().UpdateDataSetEndDate(ctx, flags.DataSetID, endDate)
						})
					})
				},
			},
			{
				Name:  "dump",
				Usage: "Prints the catalog, jobs, tasks and queue entries.",
				Flags: []cli.Flag{databaseURLFlag},
				Action: func(c *cli.Context) error {
					return withStore(c.Context, &flags, dump)
				},
			},
			{
				Name:  "summary",
				Usage: "Prints counts of jobs and tasks grouped by state.",
				Flags: []cli.Flag{databaseURLFlag},
				Action: func(c *cli.Context) error {
					return withStore(c.Context, &flags, summary)
				},
			},
			{
				Name:  "clear-activity",
				Usage: "Deletes all jobs, tasks and queue entries, leaving the catalog in place.",
				Flags: []cli.Flag{databaseURLFlag},
				Action: func(c *cli.Context) error {
					return withStore(c.Context, &flags, func(ctx context.Context, cfg *config.Config, st *store.Store) error {
						return st.InTransaction(ctx, func(t *store.Transaction) error {
							jo := t.JobOperations()
							if err := jo.ClearTaskQueue(ctx); err != nil {
								return skerr.Wrap(err)
							}
							if err := jo.RemoveAllTasks(ctx); err != nil {
								return skerr.Wrap(err)
							}
							return jo.RemoveAllJobs(ctx)
						})
					})
				},
			},
			{
				Name:  "wipe",
				Usage: "Deletes everything, including the catalog.",
				Flags: []cli.Flag{databaseURLFlag},
				Action: func(c *cli.Context) error {
					return withStore(c.Context, &flags, func(ctx context.Context, cfg *config.Config, st *store.Store) error {
						return st.InTransaction(ctx, func(t *store.Transaction) error {
							jo := t.JobOperations()
							if err := jo.ClearTaskQueue(ctx); err != nil {
								return skerr.Wrap(err)
							}
							if err := jo.RemoveAllTasks(ctx); err != nil {
								return skerr.Wrap(err)
							}
							if err := jo.RemoveAllJobs(ctx); err != nil {
								return skerr.Wrap(err)
							}
							return t.SchemaOperations().ClearSchema(ctx)
						})
					})
				},
			},
			{
				Name:  "reset-running",
				Usage: "Returns every RUNNING task to NEW. Run at service startup to recover tasks whose worker vanished.",
				Flags: []cli.Flag{databaseURLFlag},
				Action: func(c *cli.Context) error {
					return withStore(c.Context, &flags, func(ctx context.Context, cfg *config.Config, st *store.Store) error {
						reset, err := manager.New(st, cfg).ResetRunningTasks(ctx)
						if err != nil {
							return skerr.Wrap(err)
						}
						fmt.Printf("%d tasks reset\n", reset)
						return nil
					})
				},
			},
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		sklog.Fatal(err)
	}
}

// withStore loads the configuration, opens the store and runs fn against
// it, bounding the whole command by the configured transaction timeout.
func withStore(ctx context.Context, flags *flagValues, fn func(ctx context.Context, cfg *config.Config, st *store.Store) error) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return skerr.Wrap(err)
	}
	if flags.DatabaseURL != "" {
		cfg.DatabaseURL = flags.DatabaseURL
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.TransactionTimeout)
	defer cancel()
	st, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return skerr.Wrap(err)
	}
	defer st.Close()
	return fn(ctx, cfg, st)
}

func dump(ctx context.Context, cfg *config.Config, st *store.Store) error {
	return st.InTransaction(ctx, func(t *store.Transaction) error {
		so := t.SchemaOperations()
		jo := t.JobOperations()
		bundles, err := so.ListBundles(ctx)
		if err != nil {
			return skerr.Wrap(err)
		}
		datasets, err := so.ListDataSets(ctx)
		if err != nil {
			return skerr.Wrap(err)
		}
		fmt.Println("Schema:")
		fmt.Println("\tBundles:")
		for _, b := range bundles {
			fmt.Printf("\t\t%s (%s) datasets=%v\n", b.BundleID, b.BundleName, b.DataSetIDs)
		}
		fmt.Println("\tDatasets:")
		for _, ds := range datasets {
			fmt.Printf("\t\t%s (%s) %s/%s %s..%s\n", ds.DataSetID, ds.DataSetName,
				ds.TemporalResolution, ds.SpatialResolution,
				store.EncodeDate(ds.StartDate), store.EncodeDate(ds.EndDate))
		}
		jobs, err := jo.ListJobs(ctx)
		if err != nil {
			return skerr.Wrap(err)
		}
		tasks, err := jo.ListTasks(ctx)
		if err != nil {
			return skerr.Wrap(err)
		}
		queued, err := jo.QueuedTasks(ctx)
		if err != nil {
			return skerr.Wrap(err)
		}
		fmt.Println("Jobs/Tasks:")
		fmt.Println("\tJobs:")
		for _, job := range jobs {
			if job.Done() {
				fmt.Printf("\t\t%s expires=%s\n", job, store.EncodeDateTime(job.ExpiryTime(cfg.CleanupAfter)))
			} else {
				fmt.Printf("\t\t%s\n", job)
			}
		}
		fmt.Println("\tTasks:")
		for _, entry := range tasks {
			fmt.Printf("\t\t%s\n", entry.Task)
		}
		fmt.Println("\tTask Queue:")
		for _, entry := range queued {
			fmt.Printf("\t\t%s/%s\n", entry.JobID, entry.TaskName)
		}
		return nil
	})
}

func summary(ctx context.Context, cfg *config.Config, st *store.Store) error {
	return st.InTransaction(ctx, func(t *store.Transaction) error {
		entries, err := t.JobOperations().ComputeSummary(ctx)
		if err != nil {
			return skerr.Wrap(err)
		}
		for _, entry := range entries {
			fmt.Printf("%s\t%s\t%d\n", entry.Entity, entry.State, entry.Count)
		}
		return nil
	})
}
