package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MasterofNull/hybrid-coordinator/ai/observability/logging"
	"github.com/MasterofNull/hybrid-coordinator/internal/profile"
	"github.com/MasterofNull/hybrid-coordinator/internal/version"
	"github.com/MasterofNull/hybrid-coordinator/server"
	apiv1 "github.com/MasterofNull/hybrid-coordinator/server/router/api/v1"
)

var (
	rootCmd = &cobra.Command{
		Use:   "hybrid-coordinator",
		Short: `Routes queries between a local and a remote LLM, caches answers semantically, and learns reusable patterns from past interactions.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Systemd units provide their environment through EnvironmentFile.
			if !isRunningAsSystemdService() {
				_ = godotenv.Load()
			}
			level := logging.ParseLevel(viper.GetString("log-level"))
			slog.SetDefault(slog.New(logging.NewHandler(os.Stderr, viper.GetString("mode"), level)))
			return nil
		},
		Run: func(_ *cobra.Command, _ []string) {
			instanceProfile, err := loadProfile()
			if err != nil {
				slog.Error("invalid configuration", "error", err)
				os.Exit(1)
			}

			ctx, cancel := context.WithCancel(context.Background())
			inst, err := newInstance(ctx, instanceProfile)
			if err != nil {
				cancel()
				slog.Error("failed to initialize coordinator", "error", err)
				os.Exit(1)
			}

			apiV1Service := apiv1.NewAPIV1Service(instanceProfile, inst.coordinator, inst.ingester, inst.metrics)
			s, err := server.NewServer(ctx, instanceProfile, apiV1Service)
			if err != nil {
				cancel()
				inst.close(ctx)
				slog.Error("failed to create server", "error", err)
				os.Exit(1)
			}

			c := make(chan os.Signal, 1)
			// Trigger graceful shutdown on SIGINT or SIGTERM.
			signal.Notify(c, terminationSignals...)

			if err := s.Start(ctx); err != nil {
				if !errors.Is(err, http.ErrServerClosed) {
					slog.Error("failed to start server", "error", err)
					inst.close(ctx)
					cancel()
					os.Exit(1)
				}
			}

			printGreetings(instanceProfile, s.Addr())

			go func() {
				<-c
				s.Shutdown(ctx)
				inst.close(ctx)
				cancel()
			}()

			// Wait for CTRL-C.
			<-ctx.Done()
		},
	}
)

// loadProfile reads flags and HQC_* variables into a validated profile.
func loadProfile() (*profile.Profile, error) {
	instanceProfile := &profile.Profile{
		Mode:       viper.GetString("mode"),
		Addr:       viper.GetString("addr"),
		Port:       viper.GetInt("port"),
		Data:       viper.GetString("data"),
		Driver:     viper.GetString("driver"),
		DSN:        viper.GetString("dsn"),
		ConfigFile: viper.GetString("config"),
		JWTSecret:  viper.GetString("jwt-secret"),
		Version:    version.GetCurrentVersion(viper.GetString("mode")),
	}
	instanceProfile.FromEnv()
	if err := instanceProfile.Validate(); err != nil {
		return nil, err
	}
	return instanceProfile, nil
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("port", 8092)
	viper.SetDefault("log-level", "info")

	rootCmd.PersistentFlags().String("mode", "dev", `mode of server, can be "prod" or "dev"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 8092, "port of server")
	rootCmd.PersistentFlags().String("data", "", "data directory for the sqlite file and persisted vectors")
	rootCmd.PersistentFlags().String("driver", "sqlite", "database driver (sqlite, postgres, memory)")
	rootCmd.PersistentFlags().String("dsn", "", "database source name(aka. DSN)")
	rootCmd.PersistentFlags().String("config", "", "YAML file with hot-reloadable tunables")
	rootCmd.PersistentFlags().String("jwt-secret", "", "HS256 secret; when set API routes require a bearer token")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	for _, name := range []string{"mode", "addr", "port", "data", "driver", "dsn", "config", "jwt-secret", "log-level"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("hqc")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	rootCmd.AddCommand(gcCmd, seedCmd, tokenCmd)
}

func printGreetings(profile *profile.Profile, addr string) {
	fmt.Printf("Hybrid coordinator %s started successfully!\n", profile.Version)

	if profile.IsDev() {
		fmt.Fprint(os.Stderr, "Development mode is enabled\n")
		if profile.DSN != "" {
			fmt.Fprintf(os.Stderr, "Database: %s\n", profile.DSN)
		}
	}

	fmt.Printf("Data directory: %s\n", profile.Data)
	fmt.Printf("Database driver: %s\n", profile.Driver)
	fmt.Printf("Vector backend: %s\n", profile.VectorBackend)
	fmt.Printf("Local backend: %s (%s)\n", profile.LocalProvider, profile.LocalModel)
	fmt.Printf("Remote backend: %s (%s)\n", profile.RemoteProvider, profile.RemoteModel)
	fmt.Printf("Mode: %s\n", profile.Mode)
	fmt.Printf("Server running on %s\n", addr)
	if profile.IsAuthEnabled() {
		fmt.Println("API authentication: bearer token required")
	}
}

// isRunningAsSystemdService detects if the process is running under systemd
func isRunningAsSystemdService() bool {
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
