package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/getstubd/stubd/pkg/admin"
	"github.com/getstubd/stubd/pkg/config"
	"github.com/getstubd/stubd/pkg/engine"
	"github.com/getstubd/stubd/pkg/logging"
)

// serveFlags holds all flags for the serve command.
type serveFlags struct {
	file           string
	port           int
	adminPort      int
	host           string
	noAdmin        bool
	noMatchStatus  int
	strictQuery    bool
	printURL       bool
	logLevel       string
	logFormat      string
	consumer       string
	contractDir    string
	writeContracts bool
}

// serveFlagVals is the package-level instance bound to cobra flags.
var serveFlagVals serveFlags

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the mock server and its control API in the foreground",
	Long: `Run the stubd mock server in the foreground until SIGINT/SIGTERM.

Interactions are loaded from collection files (--file accepts a path or a
glob, ** matches recursively) and can be added at runtime through the
control API. Settings come from defaults, then STUBD_* environment
variables, then flags, most specific last.`,
	Example: `  # Serve a collection on a fixed port
  stubd serve --file stubs.yaml --port 4280

  # Auto-assign the port and print the URL for scripts
  stubd serve --file 'stubs/**/*.yaml' --port 0 --print-url

  # Record contracts and write pact files on shutdown
  stubd serve --file contracts.yaml --consumer checkout --write-contracts`,
	RunE: runServe,
}

func init() {
	f := &serveFlagVals

	serveCmd.Flags().StringVarP(&f.file, "file", "f", "", "Collection file or glob to load (YAML or JSON)")
	serveCmd.Flags().IntVarP(&f.port, "port", "p", 0, "Mock server port (0 = auto-assign)")
	serveCmd.Flags().IntVar(&f.adminPort, "admin-port", 0, "Control API port (0 = auto-assign)")
	serveCmd.Flags().StringVar(&f.host, "host", "127.0.0.1", "Bind address")
	serveCmd.Flags().BoolVar(&f.noAdmin, "no-admin", false, "Do not start the control API")
	serveCmd.Flags().IntVar(&f.noMatchStatus, "no-match-status", 404, "Status code served when no interaction matches")
	serveCmd.Flags().BoolVar(&f.strictQuery, "strict-query", false, "Reject requests carrying undeclared query parameters")
	serveCmd.Flags().BoolVar(&f.printURL, "print-url", false, "Print the mock server URL to stdout on startup")
	serveCmd.Flags().StringVar(&f.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	serveCmd.Flags().StringVar(&f.logFormat, "log-format", "text", "Log format (text, json)")
	serveCmd.Flags().StringVar(&f.consumer, "consumer", "", "Consumer name for recorded contracts")
	serveCmd.Flags().StringVar(&f.contractDir, "contract-dir", "", "Directory for written contract documents")
	serveCmd.Flags().BoolVar(&f.writeContracts, "write-contracts", false, "Write contract documents on shutdown")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	f := &serveFlagVals

	var col *config.Collection
	if f.file != "" {
		var err error
		col, err = config.LoadFromGlob(f.file)
		if err != nil {
			return fmt.Errorf("loading collection: %w", err)
		}
	}

	settings, err := buildSettings(cmd, col)
	if err != nil {
		return err
	}

	log := logging.New(settings.LoggingConfig())

	srv := engine.NewServer(settings, engine.WithLogger(log.With("component", "engine")))
	if col != nil {
		n, err := srv.LoadCollection(col)
		if err != nil {
			return fmt.Errorf("registering interactions: %w", err)
		}
		log.Info("collection loaded", "interactions", n, "file", f.file)
	}

	addr, err := srv.Start(settings.Port)
	if err != nil {
		if isAddrInUseError(err) {
			return fmt.Errorf("port %d is already in use, try --port 0 for auto-assign", settings.Port)
		}
		return fmt.Errorf("starting mock server: %w", err)
	}
	defer func() { _ = srv.Stop() }()

	var adminSrv *admin.Server
	if !f.noAdmin {
		adminSrv = admin.NewServer(srv, settings.Host, settings.AdminPort)
		adminSrv.SetLogger(log.With("component", "admin"))
		adminAddr, err := adminSrv.Start()
		if err != nil {
			if isAddrInUseError(err) {
				return fmt.Errorf("admin port %d is already in use, try --admin-port 0 for auto-assign", settings.AdminPort)
			}
			return fmt.Errorf("starting control API: %w", err)
		}
		log.Info("control API started", "addr", adminAddr)
	}

	if f.printURL {
		fmt.Fprintln(cmd.OutOrStdout(), srv.URL())
		if adminSrv != nil {
			fmt.Fprintln(cmd.OutOrStdout(), "admin: http://"+adminSrv.Addr())
		}
	}

	log.Info("stubd started",
		"addr", addr,
		"interactions", srv.CountInteractions(),
		"noMatchStatus", settings.NoMatchStatus,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info("shutting down")

	if f.writeContracts {
		paths, warnings, err := srv.WriteContracts(settings.ContractDir)
		if err != nil {
			log.Error("writing contracts failed", "error", err)
		}
		for _, w := range warnings {
			log.Warn(w)
		}
		for _, p := range paths {
			log.Info("contract written", "path", p)
		}
	}

	if adminSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(),
			time.Duration(settings.ShutdownGrace)*time.Second)
		defer cancel()
		if err := adminSrv.Stop(shutdownCtx); err != nil {
			log.Warn("control API shutdown", "error", err)
		}
	}
	return nil
}

// buildSettings layers configuration sources: defaults, then a settings
// block embedded in the collection, then STUBD_* environment variables,
// then explicitly set flags.
func buildSettings(cmd *cobra.Command, col *config.Collection) (*config.Settings, error) {
	f := &serveFlagVals

	settings := config.DefaultSettings()
	if col != nil && col.Settings != nil {
		settings = col.Settings
	}
	if err := settings.ApplyEnv(cmd.Context()); err != nil {
		return nil, err
	}

	flagOverrides := map[string]func(){
		"port":            func() { settings.Port = f.port },
		"admin-port":      func() { settings.AdminPort = f.adminPort },
		"host":            func() { settings.Host = f.host },
		"no-match-status": func() { settings.NoMatchStatus = f.noMatchStatus },
		"strict-query":    func() { settings.StrictQuery = f.strictQuery },
		"log-level":       func() { settings.LogLevel = f.logLevel },
		"log-format":      func() { settings.LogFormat = f.logFormat },
		"consumer":        func() { settings.Consumer = f.consumer },
		"contract-dir":    func() { settings.ContractDir = f.contractDir },
	}
	for name, apply := range flagOverrides {
		if cmd.Flags().Changed(name) {
			apply()
		}
	}

	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return settings, nil
}
