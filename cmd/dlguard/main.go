package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/zangezia/DLGuard/internal/bridge"
	"github.com/zangezia/DLGuard/internal/config"
	"github.com/zangezia/DLGuard/internal/diskinfo"
	"github.com/zangezia/DLGuard/internal/intercept"
	"github.com/zangezia/DLGuard/internal/logging"
	"github.com/zangezia/DLGuard/internal/monitor"
	"github.com/zangezia/DLGuard/internal/popup"
	"github.com/zangezia/DLGuard/internal/store"
	"github.com/zangezia/DLGuard/internal/web"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	cfgFile   string
	debug     bool
)

var rootCmd = &cobra.Command{
	Use:   "dlguard",
	Short: "DLGuard - hold downloads until there is room for them",
	Long: `DLGuard pauses every new browser download, asks for its expected size and
resumes it only when the target disk keeps enough free space afterwards.`,
	Version: fmt.Sprintf("%s (built: %s)", Version, BuildTime),
	Run:     runApp,
}

var nativeHostCmd = &cobra.Command{
	Use:   "native-host [origin]",
	Short: "Serve disk info over native messaging",
	Long:  "Answer info and check requests on stdin/stdout using the browser native messaging framing",
	Args:  cobra.ArbitraryArgs,

	// Chrome on Windows appends --parent-window
	FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
	Run:                runNativeHost,
}

var infoCmd = &cobra.Command{
	Use:   "info [path]",
	Short: "Show disk usage for a path",
	Args:  cobra.MaximumNArgs(1),
	Run:   runInfo,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check whether a download fits",
	Long:  "Check whether a download of the given size fits while keeping the reserved space free",
	Run:   runCheck,
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Register the native messaging host",
	Long:  "Write the launcher script and the native messaging manifest into the browser manifest directories",
	Run:   runInstall,
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Show or clear the download awaiting confirmation",
	Run:   runPending,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.Flags().String("host", "", "web server host")
	rootCmd.Flags().Int("port", 0, "web server port")
	rootCmd.Flags().String("backend", "", "disk info backend used by the popup (local, http, native)")

	infoCmd.Flags().String("backend", "", "disk info backend (local, http, native)")

	checkCmd.Flags().String("size", "", "download size, e.g. 700MB or 4.7GB (empty means unknown)")
	checkCmd.Flags().String("path", "", "download directory (default: home directory)")
	checkCmd.Flags().String("backend", "", "disk info backend (local, http, native)")

	installCmd.Flags().StringSlice("origin", nil, "allowed extension origin or ID (repeatable)")
	installCmd.Flags().StringSlice("dir", nil, "manifest directory (repeatable)")
	installCmd.Flags().String("launcher", "", "launcher script path (default: next to the config)")

	pendingCmd.Flags().Bool("clear", false, "forget the pending download")

	rootCmd.AddCommand(nativeHostCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(pendingCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration and sets up logging from it
func loadConfig() *config.Config {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		logging.Setup(config.Default().Logging, debug)
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Setup(cfg.Logging, debug)
	return cfg
}

func runApp(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	// Override config with command-line flags
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Web.Host = host
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.Web.Port = port
	}
	if backend, _ := cmd.Flags().GetString("backend"); backend != "" {
		cfg.Client.Backend = backend
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log.Info().
		Str("version", Version).
		Str("build_time", BuildTime).
		Msg("Starting DLGuard")

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Store.Path).Msg("Failed to open store")
	}
	defer st.Close()

	local := diskinfo.NewLocal(cfg.Service)

	disk, err := diskinfo.New(cfg.Client, local)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create disk info client")
	}

	if client, ok := disk.(*diskinfo.HTTPClient); ok {
		pingCtx, pingCancel := context.WithTimeout(context.Background(), cfg.Client.Timeout)
		if err := client.Ping(pingCtx); err != nil {
			log.Warn().Err(err).Str("url", cfg.Client.BaseURL).Msg("Disk info server not reachable yet")
		}
		pingCancel()
	}

	br := bridge.New(cfg.Bridge.CallTimeout)
	interceptor := intercept.New(br, br, st)
	br.OnDownloadCreated(interceptor.Handle)

	server := web.NewServer(cfg, local, br, monitor.New(local, cfg.Monitoring.UpdateInterval))
	server.AttachPopup(popup.New(st, br, br, disk, server, cfg.Popup))

	log.Info().
		Str("backend", cfg.Client.Backend).
		Str("reserved", formatBytes(local.Reserved())).
		Str("default_size", formatBytes(cfg.Service.DefaultMinSize)).
		Str("store", cfg.Store.Path).
		Msg("Admission rules")

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start(ctx)
	}()

	log.Info().
		Str("popup", fmt.Sprintf("http://%s:%d/", cfg.Web.Host, cfg.Web.Port)).
		Str("bridge", fmt.Sprintf("ws://%s:%d/bridge", cfg.Web.Host, cfg.Web.Port)).
		Msg("Server is ready, waiting for the browser extension")

	select {
	case <-sigChan:
		log.Info().Msg("Shutting down gracefully...")
		cancel()
		if err := <-errChan; err != nil {
			log.Error().Err(err).Msg("Shutdown error")
		}
	case err := <-errChan:
		if err != nil {
			log.Error().Err(err).Msg("Web server error")
			st.Close()
			os.Exit(1)
		}
	}
}
