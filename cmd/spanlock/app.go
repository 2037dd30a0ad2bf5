package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"pkt.systems/pslog"

	"pkt.systems/spanlock"
	"pkt.systems/spanlock/store"
	spannerstore "pkt.systems/spanlock/store/spanner"
)

func newRootCommand(logger pslog.Logger) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("SPANLOCK")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:           "spanlock",
		Short:         "Distributed mutex over a transactional row store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.String("store", "mem://", "store URL (mem:// or spanner://projects/<p>/instances/<i>/databases/<d>?table=<t>)")
	pf.String("mutex-uuid", "", "mutex row key (UUID, required)")
	pf.String("display-name", "", "human-readable mutex name")
	pf.Duration("ttl", spanlock.DefaultTTL, "critical section time budget")
	pf.Duration("staleness-window", spanlock.DefaultStalenessWindow, "age past which a STARTED row may be stolen")
	pf.Duration("wait-budget", spanlock.DefaultWaitBudget, "total time one run may spend retrying")
	pf.Int("max-retries", spanlock.DefaultMaxRetries, "retry passes beyond the first attempt")
	pf.Duration("wait-interval", spanlock.DefaultWaitInterval, "base backoff interval between passes")
	cobra.CheckErr(v.BindPFlags(pf))

	root.AddCommand(newRunCommand(v, logger))
	root.AddCommand(newRaceCommand(v, logger))
	root.AddCommand(newStatusCommand(v))
	root.AddCommand(newDDLCommand())
	return root
}

func mutexConfig(v *viper.Viper) spanlock.Config {
	return spanlock.Config{
		MutexUUID:       v.GetString("mutex-uuid"),
		DisplayName:     v.GetString("display-name"),
		TTL:             v.GetDuration("ttl"),
		StalenessWindow: v.GetDuration("staleness-window"),
		WaitBudget:      v.GetDuration("wait-budget"),
		MaxRetries:      v.GetInt("max-retries"),
		WaitInterval:    v.GetDuration("wait-interval"),
	}
}

func openStore(ctx context.Context, v *viper.Viper) (store.Store, error) {
	return spanlock.OpenStore(ctx, v.GetString("store"))
}

func newRunCommand(v *viper.Viper, logger pslog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one client against the mutex",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			target, _ := cmd.Flags().GetString("target")
			hold, _ := cmd.Flags().GetDuration("hold")
			st, err := openStore(ctx, v)
			if err != nil {
				return err
			}
			defer st.Close()
			m, err := spanlock.New(mutexConfig(v), st, newFileWorker(target, hold), spanlock.WithLogger(logger))
			if err != nil {
				return err
			}
			outcome, err := m.Start(ctx)
			if err != nil {
				return fmt.Errorf("%s (%s)", err, outcome)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", outcome)
			return nil
		},
	}
	addWorkerFlags(cmd)
	return cmd
}

func newRaceCommand(v *viper.Viper, logger pslog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "race",
		Short: "Race several clients against one mutex row",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			clients, _ := cmd.Flags().GetInt("clients")
			target, _ := cmd.Flags().GetString("target")
			hold, _ := cmd.Flags().GetDuration("hold")
			if clients < 1 {
				return fmt.Errorf("clients must be at least 1, got %d", clients)
			}
			st, err := openStore(ctx, v)
			if err != nil {
				return err
			}
			defer st.Close()

			worker := newFileWorker(target, hold)
			var (
				wg       sync.WaitGroup
				mu       sync.Mutex
				executed int
				failed   int
			)
			for i := 0; i < clients; i++ {
				m, err := spanlock.New(mutexConfig(v), st, worker, spanlock.WithLogger(logger))
				if err != nil {
					return err
				}
				wg.Add(1)
				go func() {
					defer wg.Done()
					outcome, err := m.Start(ctx)
					mu.Lock()
					defer mu.Unlock()
					if err != nil {
						failed++
						return
					}
					if outcome.Executed {
						executed++
					}
				}()
			}
			wg.Wait()
			fmt.Fprintf(cmd.OutOrStdout(), "clients=%d executed=%d failed=%d\n", clients, executed, failed)
			if executed != 1 {
				return fmt.Errorf("expected exactly one execution, got %d", executed)
			}
			return nil
		},
	}
	addWorkerFlags(cmd)
	cmd.Flags().Int("clients", 4, "number of concurrent clients")
	return cmd
}

func newStatusCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the current mutex row",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := openStore(ctx, v)
			if err != nil {
				return err
			}
			defer st.Close()
			rec, err := st.ReadRecord(ctx, v.GetString("mutex-uuid"))
			if errors.Is(err, store.ErrNotFound) {
				fmt.Fprintln(cmd.OutOrStdout(), "status=unspecified (no row)")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "status=%s owner=%s (%s) updated=%s (%s)\n",
				rec.Status, rec.ClientDisplayName, rec.ClientUUID,
				rec.UpdateTime.Format(time.RFC3339), humanize.Time(rec.UpdateTime))
			return nil
		},
	}
}

func newDDLCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ddl",
		Short: "Print the Spanner CREATE TABLE statement for the mutex table",
		RunE: func(cmd *cobra.Command, args []string) error {
			table, _ := cmd.Flags().GetString("table")
			fmt.Fprintln(cmd.OutOrStdout(), spannerstore.DDL(table))
			return nil
		},
	}
	cmd.Flags().String("table", spannerstore.DefaultTable, "mutex table name")
	return cmd
}

func addWorkerFlags(cmd *cobra.Command) {
	cmd.Flags().String("target", "", "file the demo critical section creates (work is needed while it is absent)")
	cmd.Flags().Duration("hold", 2*time.Second, "how long the demo critical section holds the mutex")
}
