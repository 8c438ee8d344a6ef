// Command syncbase-server runs a Database as a long-lived process: it
// wires the configured persistence/search/auth backends together via
// syncbase.Open, exposes Prometheus metrics, and blocks until interrupted.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kartikbazzad/syncbase"
	"github.com/kartikbazzad/syncbase/auth"
	"github.com/kartikbazzad/syncbase/persistence"
	"github.com/kartikbazzad/syncbase/retention"
	"github.com/kartikbazzad/syncbase/searcher"
	"github.com/kartikbazzad/syncbase/synclog"
)

var (
	cfgFile string
	Version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "syncbase-server",
	Short:   "syncbase-server runs the syncbase document database as a standalone process",
	Version: Version,
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./syncbase.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().Bool("log-json", true, "emit logs as JSON instead of text")
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log-json", rootCmd.PersistentFlags().Lookup("log-json"))
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(bootstrapCmd)
	rootCmd.AddCommand(bumpRepeatableTSCmd)

	serveCmd.Flags().String("store", "memory", "persistence backend: memory or sqlite")
	serveCmd.Flags().String("sqlite-path", "./syncbase.db", "path to the SQLite file when --store=sqlite")
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9091", "address for the Prometheus /metrics endpoint")
	serveCmd.Flags().Uint64("retention-window", 0, "retention.Window size: timestamps a read may lag behind the newest timestamp given to Window.Advance before RetentionError (0 = unbounded); serve never calls Advance, so no read is rejected")
	serveCmd.Flags().String("jwt-secret", "", "HMAC secret for the built-in JWT auth.Provider (empty disables auth)")
	serveCmd.Flags().String("jwt-issuer", "syncbase", "expected issuer claim for the built-in JWT auth.Provider")

	bumpRepeatableTSCmd.Flags().String("store", "sqlite", "persistence backend: memory or sqlite")
	bumpRepeatableTSCmd.Flags().String("sqlite-path", "./syncbase.db", "path to the SQLite file when --store=sqlite")

	// serve and bump-repeatable-ts both define --store/--sqlite-path, so each
	// binds its own flags into viper only when it is the command being run.
	bindOwnFlags := func(cmd *cobra.Command, args []string) { viper.BindPFlags(cmd.Flags()) }
	serveCmd.PreRun = bindOwnFlags
	bumpRepeatableTSCmd.PreRun = bindOwnFlags
}

func initLogging() {
	synclog.Init(synclog.Config{
		Level: strings.ToUpper(viper.GetString("log-level")),
		JSON:  viper.GetBool("log-json"),
	})
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("syncbase")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}
	viper.SetEnvPrefix("SYNCBASE")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()
}

// openStore resolves the configured persistence.Store, the one piece of
// Options every subcommand that touches the database needs.
func openStore() (persistence.Store, error) {
	switch viper.GetString("store") {
	case "sqlite":
		return persistence.OpenSQLite(viper.GetString("sqlite-path"))
	case "memory", "":
		return persistence.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown --store %q (want memory or sqlite)", viper.GetString("store"))
	}
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start syncbase-server and block until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}

		var authProvider auth.Provider
		if secret := viper.GetString("jwt-secret"); secret != "" {
			authProvider = auth.NewJWT([]byte(secret), viper.GetString("jwt-issuer"))
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		db, err := syncbase.Open(ctx, syncbase.Options{
			Store:          store,
			SearchStorage:  searcher.NewMemoryStorage(),
			SearchProvider: searcher.NewMemory(),
			Auth:           authProvider,
			Retention:      retention.NewWindow(viper.GetUint64("retention-window")),
		})
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()

		metricsAddr := viper.GetString("metrics-addr")
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv := &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				fmt.Fprintf(os.Stderr, "metrics server error: %v\n", err)
			}
		}()
		fmt.Printf("✓ syncbase-server started, metrics at http://%s/metrics\n", metricsAddr)
		fmt.Printf("  latest timestamp: %d\n", db.LatestTimestamp())

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		fmt.Println("\nshutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = metricsSrv.Shutdown(shutdownCtx)

		return nil
	},
}

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Open the configured store once, replaying registries and search bootstrap, then exit",
	Long: `bootstrap runs the same registry/search replay syncbase.Open performs
at process start, without serving traffic. It is useful for verifying a
store's startup cost or warming its on-disk caches ahead of a real deploy.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		ctx := context.Background()
		db, err := syncbase.Open(ctx, syncbase.Options{
			Store:          store,
			SearchStorage:  searcher.NewMemoryStorage(),
			SearchProvider: searcher.NewMemory(),
		})
		if err != nil {
			return fmt.Errorf("bootstrap: %w", err)
		}
		defer db.Close()
		fmt.Printf("bootstrap complete, latest timestamp: %d\n", db.LatestTimestamp())
		return nil
	},
}

var bumpRepeatableTSCmd = &cobra.Command{
	Use:   "bump-repeatable-ts",
	Short: "Force-advance the store's persisted max-repeatable-timestamp global by one",
	Long: `bump-repeatable-ts opens the store directly (bypassing registry/search
bootstrap) and writes its current max_repeatable_timestamp global forward
by one. It exists for operators recovering a store whose last writer
crashed before advancing this global, which would otherwise make
syncbase.Open's registry replay appear to stop one commit short.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := context.Background()
		raw, ok, err := store.ReadPersistenceGlobal(ctx, persistence.GlobalMaxRepeatableTimestamp)
		if err != nil {
			return err
		}
		var ts uint64
		if ok {
			if _, err := fmt.Sscanf(string(raw), "ts(%d)", &ts); err != nil {
				return fmt.Errorf("parse max_repeatable_timestamp: %w", err)
			}
		}
		ts++
		next := []byte(fmt.Sprintf("ts(%d)", ts))
		if err := store.WritePersistenceGlobal(ctx, persistence.GlobalMaxRepeatableTimestamp, next); err != nil {
			return err
		}
		fmt.Printf("max_repeatable_timestamp: %d -> %d\n", ts-1, ts)
		return nil
	},
}
