package main

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/VictoriaMetrics/metrics"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/dominickpastore/ruddr"
)

var flags = struct {
	ConfigFile  string
	Verbose     bool
	MetricsAddr string
}{}

func main() {
	cmd := &cobra.Command{
		Use:   "ruddrd",
		Short: "Dynamic DNS record synchronizer daemon",
		Long: `ruddrd watches the machine's current IP addresses through the
notifiers in its config file and keeps DNS records at one or more
providers pointed at them. SIGUSR1 triggers an immediate re-check.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}
	cmd.Flags().StringVarP(&flags.ConfigFile, "config", "c", "/etc/ruddr.yml", "path to config file")
	cmd.Flags().BoolVarP(&flags.Verbose, "verbose", "v", false, "enable debug logging")
	cmd.Flags().StringVar(&flags.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. 127.0.0.1:9464)")
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ruddrd:", err)
		os.Exit(1)
	}
}

func run() error {
	logger, err := buildLogger(flags.Verbose)
	if err != nil {
		return fmt.Errorf("setting up logging: %w", err)
	}
	defer logger.Sync()

	cfg, err := loadConfig(flags.ConfigFile)
	if err != nil {
		return err
	}

	manager, err := ruddr.BuildManager(cfg, logger)
	if err != nil {
		return fmt.Errorf("building from config: %w", err)
	}
	if flags.MetricsAddr != "" {
		srv := &http.Server{Addr: flags.MetricsAddr, Handler: metricsHandler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server", zap.Error(err))
			}
		}()
		defer srv.Close()
		logger.Info("serving metrics", zap.String("addr", flags.MetricsAddr))
	}

	if err := manager.Start(); err != nil {
		return err
	}
	logger.Info("started", zap.String("config", flags.ConfigFile))
	if err := sdNotify("READY=1"); err != nil {
		logger.Warn("notifying systemd of readiness", zap.Error(err))
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)
	for sig := range signals {
		if sig == syscall.SIGUSR1 {
			logger.Info("SIGUSR1 received; re-checking all notifiers")
			if err := manager.TriggerAll(); err != nil {
				logger.Warn("re-check", zap.Error(err))
			}
			continue
		}
		logger.Info("shutting down", zap.String("signal", sig.String()))
		break
	}
	if err := sdNotify("STOPPING=1"); err != nil {
		logger.Warn("notifying systemd of shutdown", zap.Error(err))
	}
	if err := manager.Stop(); err != nil {
		logger.Warn("shutdown finished with errors", zap.Error(err))
	}
	return nil
}

// metricsHandler serves the process's counters in Prometheus text format
// at /metrics.
func metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w, true)
	})
	return mux
}

func buildLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.DisableStacktrace = true
	return cfg.Build()
}

// loadConfig reads the YAML config file and resolves credential options:
// a value of "-" prompts on the terminal, and a value of "@<path>" reads
// the first line of the named file, which must not be world-readable.
func loadConfig(path string) (ruddr.Config, error) {
	var cfg ruddr.Config
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", path, err)
	}
	for name, options := range cfg.Updaters {
		for _, key := range []string{"password", "token"} {
			resolved, err := resolveSecret(name, key, options[key])
			if err != nil {
				return cfg, err
			}
			options[key] = resolved
		}
	}
	return cfg, nil
}

func resolveSecret(component, key, value string) (string, error) {
	switch {
	case value == "-":
		fmt.Printf("Enter %s for %s: \n", key, component)
		secret, err := term.ReadPassword(int(syscall.Stdin))
		if err != nil {
			return "", fmt.Errorf("reading %s for %s from stdin: %w", key, component, err)
		}
		return strings.TrimSpace(string(secret)), nil
	case strings.HasPrefix(value, "@"):
		return readSecretFile(value[1:])
	default:
		return value, nil
	}
}

func readSecretFile(path string) (string, error) {
	if err := verifyPermissions(path); err != nil {
		return "", err
	}
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("error reading secret: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	secret, _, err := r.ReadLine()
	if err != nil {
		return "", fmt.Errorf("error reading line: %w", err)
	}
	return string(secret), nil
}

func verifyPermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("error checking secret file permissions: %w", err)
	}

	perms := info.Mode().Perm()
	// Error messages will state that we want 0600,
	// but we'll also accept 0400 which is even more restricted.
	// The file might be provided by some secrets managing software as readonly.
	if perms != 0600 && perms != 0400 {
		return fmt.Errorf("invalid permissions for \"%s\": expected file permissions \"-rw-------\"; found \"%s\"", path, fs.FileMode(perms))
	}

	return nil
}
