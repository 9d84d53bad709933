package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"scanwatch/internal/app"
	"scanwatch/internal/config"
	"scanwatch/internal/scan/registry"
	"scanwatch/internal/storage"
	logx "scanwatch/pkg/logx"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scan engine until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		eng, err := app.New(cfgPath)
		if err != nil {
			return err
		}
		if err := eng.Start(ctx); err != nil {
			_ = eng.Stop(context.Background(), app.StopFatalError)
			return err
		}

		var reason app.StopReason
		select {
		case sig := <-sigCh:
			reason = app.StopSIGINT
			if sig == syscall.SIGTERM {
				reason = app.StopSIGTERM
			}
		case <-eng.Done():
			reason = app.StopFatalError
		}
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer stopCancel()
		if err := eng.Stop(stopCtx, reason); err != nil {
			return err
		}
		return eng.Err()
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Parse and validate a config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgm := config.NewConfigManager(cfgPath)
		cfg, err := cfgm.Load()
		if err != nil {
			return err
		}
		rt, err := config.Resolve(cfg)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "ok: %d searches, max_concurrent=%d, tick=%s\n",
			len(rt.Searches), rt.MaxConcurrent, rt.TickInterval)
		return nil
	},
}

var searchesCmd = &cobra.Command{
	Use:   "searches",
	Short: "List configured searches and their next run",
	Long: `List the searches declared in the config file. When storage is configured the
last checkpoint supplies run bookkeeping and searches added at runtime.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgm := config.NewConfigManager(cfgPath)
		cfg, err := cfgm.Load()
		if err != nil {
			return err
		}
		rt, err := config.Resolve(cfg)
		if err != nil {
			return err
		}

		now := time.Now()
		reg := registry.New()
		if cfg.Storage != nil {
			st, err := storage.Open(storage.Config{
				Driver:      cfg.Storage.Driver,
				Path:        cfg.Storage.Path,
				BusyTimeout: rt.StorageBusyTimeout,
			}, logx.Nop())
			if err != nil {
				return err
			}
			if st != nil {
				saved, err := st.LoadSearches(cmd.Context())
				_ = st.Close()
				if err != nil {
					return err
				}
				if err := reg.Restore(saved); err != nil {
					fmt.Fprintln(cmd.ErrOrStderr(), "warning:", err)
				}
			}
		}
		for _, s := range rt.Searches {
			if _, err := reg.Upsert(s); err != nil {
				return err
			}
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tKIND\tCADENCE\tENABLED\tLAST RUN\tNEXT RUN")
		for _, s := range reg.List() {
			last := "-"
			if s.LastRunAt != nil {
				last = s.LastRunAt.Local().Format(time.DateTime)
			}
			next := "now"
			switch {
			case !s.Enabled:
				next = "-"
			case s.Paused(now):
				next = "paused until " + s.PausedUntil.Local().Format(time.DateTime)
			case s.NextRunAt.After(now):
				next = s.NextRunAt.Local().Format(time.DateTime)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\t%s\n",
				s.ID, s.Name, s.Source.Kind, s.Cadence.String(), s.Enabled, last, next)
		}
		return w.Flush()
	},
}
