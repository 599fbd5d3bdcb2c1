package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"vfsbridge/vfs"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "vfsbridge",
	Short: "Unified transfer and clipboard engine across storage backends",
	Long: `vfsbridge mounts local, S3, and in-memory storage sources behind one
virtual filesystem and exposes resumable transfers, copy/cut/paste with
OS-clipboard interop, storage tiering, and an operation ledger over HTTP.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	RunE:  runServe,
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.vfsbridge/config.yaml)")

	serveCmd.Flags().StringP("addr", "a", ":8478", "listen address")
	serveCmd.Flags().String("data-dir", "", "data directory (default ~/.vfsbridge)")
	serveCmd.Flags().String("log-dir", "", "log directory (empty = console only)")
	serveCmd.Flags().Int("per-source-limit", 4, "max concurrent transfers per source")
	viper.BindPFlag("addr", serveCmd.Flags().Lookup("addr"))                         //nolint:errcheck
	viper.BindPFlag("dataDir", serveCmd.Flags().Lookup("data-dir"))                  //nolint:errcheck
	viper.BindPFlag("logDir", serveCmd.Flags().Lookup("log-dir"))                    //nolint:errcheck
	viper.BindPFlag("perSourceLimit", serveCmd.Flags().Lookup("per-source-limit"))   //nolint:errcheck

	rootCmd.AddCommand(serveCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".vfsbridge"))
		}
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
	}
	viper.SetEnvPrefix("VFSBRIDGE")
	viper.AutomaticEnv()
	viper.ReadInConfig() //nolint:errcheck
}

func runServe(cmd *cobra.Command, args []string) error {
	dataDir := viper.GetString("dataDir")
	if dataDir == "" {
		home, err := homedir.Dir()
		if err != nil {
			return fmt.Errorf("resolve home dir: %w", err)
		}
		dataDir = filepath.Join(home, ".vfsbridge")
	}
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	vfs.InitLogger(viper.GetString("logDir"))

	store, err := vfs.OpenTransferStore(filepath.Join(dataDir, "transfers.db"))
	if err != nil {
		return fmt.Errorf("open transfer store: %w", err)
	}
	defer store.Close()

	ledger, err := vfs.OpenLedger(filepath.Join(dataDir, "ledger.db"))
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer ledger.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := vfs.NewRegistry()
	var sources []vfs.SourceConfig
	if err := viper.UnmarshalKey("sources", &sources); err != nil {
		return fmt.Errorf("parse sources config: %w", err)
	}
	for _, sc := range sources {
		if _, err := registry.Mount(ctx, sc); err != nil {
			// One unreachable backend must not keep the rest down.
			fmt.Fprintf(os.Stderr, "warning: mount %s failed: %v\n", sc.ID, err)
		}
	}

	bus := vfs.NewEventBus()
	tiering := vfs.NewCoordinator(registry, bus)
	defer tiering.Stop()
	engine := vfs.NewEngine(registry, store, tiering, bus, viper.GetInt("perSourceLimit"))
	ops := vfs.NewFileOps(registry, engine, tiering, ledger)
	clip := vfs.NewClipboard(registry, engine, ops)
	native := vfs.NewNativeBridge(registry, ops, clip, filepath.Join(dataDir, "staging"))
	transcode := vfs.NewTranscodeService(registry, bus)

	handlers := vfs.NewHandlers(registry, clip, native, ops, engine, tiering, transcode, ledger, bus)
	srv := &http.Server{
		Addr:    viper.GetString("addr"),
		Handler: handlers.Router(),
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx) //nolint:errcheck
		cancel()
	}()

	fmt.Printf("vfsbridge listening on %s (data: %s, sources: %d)\n",
		srv.Addr, dataDir, len(registry.List()))
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
