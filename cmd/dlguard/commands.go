package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/zangezia/DLGuard/internal/config"
	"github.com/zangezia/DLGuard/internal/diskinfo"
	"github.com/zangezia/DLGuard/internal/nativehost"
	"github.com/zangezia/DLGuard/internal/store"
)

func runNativeHost(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	if len(args) > 0 {
		log.Debug().Str("origin", args[0]).Msg("Native host started")
	}

	host := nativehost.New(diskinfo.NewLocal(cfg.Service))
	if err := host.Serve(context.Background(), os.Stdin, os.Stdout); err != nil {
		log.Error().Err(err).Msg("Native host stopped")
		os.Exit(1)
	}
}

// diskService builds the client selected by the --backend flag or the config
func diskService(cmd *cobra.Command, cfg *config.Config) diskinfo.Service {
	if backend, _ := cmd.Flags().GetString("backend"); backend != "" {
		cfg.Client.Backend = backend
	}

	svc, err := diskinfo.New(cfg.Client, diskinfo.NewLocal(cfg.Service))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create disk info client")
	}
	return svc
}

func runInfo(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	svc := diskService(cmd, cfg)

	path := ""
	if len(args) > 0 {
		path = args[0]
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Client.Timeout)
	defer cancel()

	info, err := svc.Info(ctx, path)
	if err != nil {
		log.Fatal().Err(err).Str("path", path).Msg("Failed to get disk info")
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Path:  %s\n", info.Path)
	fmt.Fprintf(out, "Total: %s (%.2f GB)\n", humanize.Bytes(info.Total), info.TotalGB)
	fmt.Fprintf(out, "Used:  %s (%.2f%%)\n", humanize.Bytes(info.Used), info.PercentUsed)
	fmt.Fprintf(out, "Free:  %s (%.2f%%)\n", humanize.Bytes(info.Free), info.PercentFree())
}

func runCheck(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	svc := diskService(cmd, cfg)

	sizeFlag, _ := cmd.Flags().GetString("size")
	path, _ := cmd.Flags().GetString("path")

	size, err := parseSizeFlag(sizeFlag)
	if err != nil {
		log.Fatal().Err(err).Str("size", sizeFlag).Msg("Invalid size")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Client.Timeout)
	defer cancel()

	result, err := svc.Check(ctx, size, path)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to check disk space")
	}

	out := cmd.OutOrStdout()
	if !result.OK {
		fmt.Fprintf(out, "✗ %s\n", result.Error)
		os.Exit(2)
	}

	fmt.Fprintf(out, "✓ Download fits\n")
	if result.Required > 0 {
		fmt.Fprintf(out, "  Free:     %s\n", humanize.Bytes(result.Free))
		fmt.Fprintf(out, "  Required: %s (includes %s reserved)\n",
			formatBytes(result.Required), formatBytes(result.Reserved))
	}
}

func runInstall(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	origins, _ := cmd.Flags().GetStringSlice("origin")
	if len(origins) == 0 {
		origins = cfg.Native.AllowedOrigins
	}

	dirs, _ := cmd.Flags().GetStringSlice("dir")
	if len(dirs) == 0 {
		dirs = cfg.Native.ManifestDirs
	}
	if len(dirs) == 0 {
		home, err := os.UserHomeDir()
		if err != nil {
			log.Fatal().Err(err).Msg("Cannot locate home directory")
		}
		dirs = nativehost.DefaultManifestDirs(runtime.GOOS, home)
	}
	if len(dirs) == 0 {
		log.Fatal().Str("os", runtime.GOOS).Msg("No default manifest directory, pass --dir")
	}

	exe, err := os.Executable()
	if err != nil {
		log.Fatal().Err(err).Msg("Cannot locate executable")
	}

	launcher, _ := cmd.Flags().GetString("launcher")
	if launcher == "" {
		launcher = filepath.Join(filepath.Dir(cfg.Store.Path), "native-host.sh")
	}
	launcher, err = filepath.Abs(launcher)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid launcher path")
	}

	manifest, err := nativehost.NewManifest(cfg.Native.Name, cfg.Native.Description, launcher, origins)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid native host manifest")
	}

	configPath := ""
	if cfgFile != "" {
		if configPath, err = filepath.Abs(cfgFile); err != nil {
			log.Fatal().Err(err).Msg("Invalid config path")
		}
	}

	if err := os.MkdirAll(filepath.Dir(launcher), 0755); err != nil {
		log.Fatal().Err(err).Msg("Failed to create launcher directory")
	}
	if err := os.WriteFile(launcher, []byte(nativehost.LauncherScript(exe, configPath)), 0755); err != nil {
		log.Fatal().Err(err).Msg("Failed to write launcher script")
	}
	log.Info().Str("path", launcher).Msg("✓ Launcher script written")

	files, err := nativehost.Install(manifest, dirs)
	for _, file := range files {
		log.Info().Str("path", file).Msg("✓ Manifest written")
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to install manifest")
	}

	log.Info().Strs("origins", manifest.AllowedOrigins).Msg("Native host registered")
}

func runPending(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Store.Path).Msg("Failed to open store")
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out := cmd.OutOrStdout()

	if clearFlag, _ := cmd.Flags().GetBool("clear"); clearFlag {
		if err := st.ClearPending(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to clear pending download")
			return
		}
		fmt.Fprintln(out, "Pending download cleared")
		return
	}

	pending, err := st.LoadPending(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load pending download")
		return
	}
	if pending == nil {
		fmt.Fprintln(out, "No pending download.")
		return
	}

	data, err := json.MarshalIndent(pending, "", "  ")
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode pending download")
		return
	}
	fmt.Fprintln(out, string(data))
}

// parseSizeFlag reads a human size such as "4.7GB". Empty means unknown and
// sizes past the int64 range saturate.
func parseSizeFlag(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	parsed, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, err
	}
	return diskinfo.BytesFromUint64(parsed), nil
}

// formatBytes prints a byte count in decimal units, e.g. "5.0 GB"
func formatBytes(n int64) string {
	if n < 0 {
		return "-" + humanize.Bytes(uint64(-n))
	}
	return humanize.Bytes(uint64(n))
}
