package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"adhoc-backup/internal/app"
	"adhoc-backup/internal/backup"
	"adhoc-backup/internal/config"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer a.Close().
func newApp(cmd *cobra.Command) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	level := slog.LevelInfo
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	a, err := app.NewApp(cfg, app.WithConsole(cmd.ErrOrStderr(), level))
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// signalContext is canceled on SIGINT or SIGTERM so staging can stop between files.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

var rootCmd = &cobra.Command{
	Use:          "adhoc-backup",
	Short:        "Ad hoc backup of files, folders or a database",
	SilenceUsage: true,
}

// run command
var runCmd = &cobra.Command{
	Use:   "run PATH...",
	Short: "Back up the given paths",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, _ := cmd.Flags().GetString("mode")
		dest, _ := cmd.Flags().GetString("dest")
		encrypt, _ := cmd.Flags().GetBool("encrypt")
		return runBackup(cmd, app.RunParams{
			Mode:            mode,
			Sources:         absPaths(args),
			DestinationRoot: dest,
			Encrypt:         encrypt,
		})
	},
}

// interactive command
var interactiveCmd = &cobra.Command{
	Use:   "interactive",
	Short: "Choose what to back up from a menu",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := promptParams(bufio.NewReader(cmd.InOrStdin()), cmd.OutOrStdout())
		if err != nil {
			return err
		}
		return runBackup(cmd, p)
	},
}

func runBackup(cmd *cobra.Command, p app.RunParams) error {
	if p.Encrypt {
		secret, err := readSecret(cmd.ErrOrStderr(), true)
		if err != nil {
			return err
		}
		p.Secret = secret
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signalContext(cmd)
	defer stop()

	res, err := a.Run(ctx, p)
	if err != nil {
		if res != nil && res.Session.Folder != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "Partial output left in %s\n", res.Session.Folder)
		}
		return fmt.Errorf("backup failed: %w", err)
	}

	out := cmd.OutOrStdout()
	for _, s := range res.Skips {
		fmt.Fprintf(out, "skipped  %s  (%s)\n", s.Path, s.Reason)
	}
	if res.NotifyErr != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", res.NotifyErr)
	}
	fmt.Fprintf(out, "Backed up %d file(s), %d byte(s)\n", len(res.Items), res.TotalBytes())
	fmt.Fprintln(out, res.ArchivePath)
	return nil
}

// promptParams asks for a mode, the sources and an optional destination.
func promptParams(in *bufio.Reader, out io.Writer) (app.RunParams, error) {
	fmt.Fprintln(out, "What do you want to back up?")
	fmt.Fprintln(out, "  1) Files")
	fmt.Fprintln(out, "  2) Folders")
	fmt.Fprintln(out, "  3) Database")
	choice, err := prompt(in, out, "Choice: ")
	if err != nil {
		return app.RunParams{}, err
	}
	if _, err := backup.ParseMode(choice); err != nil {
		return app.RunParams{}, err
	}

	line, err := prompt(in, out, "Paths (comma separated): ")
	if err != nil {
		return app.RunParams{}, err
	}
	dest, err := prompt(in, out, "Destination (empty for default): ")
	if err != nil {
		return app.RunParams{}, err
	}
	enc, err := prompt(in, out, "Encrypt? [y/N]: ")
	if err != nil {
		return app.RunParams{}, err
	}

	return app.RunParams{
		Mode:            choice,
		Sources:         absPaths(splitPaths(line)),
		DestinationRoot: dest,
		Encrypt:         strings.EqualFold(enc, "y") || strings.EqualFold(enc, "yes"),
	}, nil
}

func prompt(in *bufio.Reader, out io.Writer, label string) (string, error) {
	fmt.Fprint(out, label)
	line, err := in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func splitPaths(line string) []string {
	var paths []string
	for _, p := range strings.Split(line, ",") {
		if p = strings.TrimSpace(p); p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

// absPaths makes relative paths absolute. Paths that cannot be resolved are
// passed through and reported by the stager.
func absPaths(paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		out[i] = abs
	}
	return out
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View recorded backup sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		sessions, err := a.History(limit)
		if err != nil {
			return err
		}

		if len(sessions) == 0 {
			fmt.Println("No backup sessions recorded.")
			return nil
		}

		for _, s := range sessions {
			duration := ""
			if !s.FinishedAt.IsZero() {
				duration = s.FinishedAt.Sub(s.StartedAt).Truncate(time.Millisecond).String()
			}
			enc := ""
			if s.Encrypted {
				enc = "  [encrypted]"
			}
			fmt.Printf("%-30s  %-8s  %s  %-6s  %5d files  %10d bytes  %s%s\n",
				s.Name,
				s.Mode,
				s.StartedAt.Local().Format("2006-01-02 15:04:05"),
				s.Status,
				s.ItemCount,
				s.TotalBytes,
				duration,
				enc,
			)
		}
		return nil
	},
}

// verify command
var verifyCmd = &cobra.Command{
	Use:   "verify SESSION",
	Short: "Re-check the checksums of a recorded session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		decrypt, _ := cmd.Flags().GetBool("decrypt")

		var secret string
		if decrypt {
			s, err := readSecret(cmd.ErrOrStderr(), false)
			if err != nil {
				return err
			}
			secret = s
		}

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signalContext(cmd)
		defer stop()

		report, err := a.Verify(ctx, args[0], secret)
		if err != nil {
			return err
		}

		for _, m := range report.Mismatches {
			fmt.Printf("MISMATCH  %s  %s\n", m.Path, m.Reason)
		}
		fmt.Printf("Checked %d file(s)", report.Checked)
		if report.ArchiveRead {
			fmt.Printf(", archive %s", report.Session.ArchivePath)
		}
		if report.PlainVerified > 0 {
			fmt.Printf(", %d decrypted", report.PlainVerified)
		}
		fmt.Println()
		if !report.OK() {
			return fmt.Errorf("%d problem(s) found in %s", len(report.Mismatches), args[0])
		}
		fmt.Println("OK")
		return nil
	},
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		hostID := uuid.New().String()
		cfg := config.NewConfig(hostID, defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Host ID:     %s\n", hostID)
		fmt.Printf("Base Dir:    %s\n", defaults["base_dir"])
		fmt.Printf("Destination: %s\n", cfg.DestinationRoot)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Host ID:     %s\n", cfg.HostID)
		fmt.Printf("Base Dir:    %s\n", cfg.BaseDir)
		fmt.Printf("Destination: %s\n", cfg.DestinationRoot)
		fmt.Printf("Workers:     %d\n", cfg.Workers)
		fmt.Printf("Archive:     %s\n", cfg.Archive.Format)
		fmt.Printf("Catalog:     %s\n", cfg.Catalog.Type)
		fmt.Printf("Notifier:    %s\n", cfg.Notifier.Type)
		if cfg.Metrics.PushgatewayURL != "" {
			fmt.Printf("Metrics:     %s\n", cfg.Metrics.PushgatewayURL)
		}
		return nil
	},
}

// catalog command
var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage the session catalog",
}

var catalogExportCmd = &cobra.Command{
	Use:   "export PATH",
	Short: "Write a copy of the catalog database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		dest, err := filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("resolving path: %w", err)
		}
		if err := a.ExportCatalog(cmd.Context(), dest); err != nil {
			return err
		}
		fmt.Printf("Catalog exported to %s\n", dest)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Also print debug messages")

	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringP("mode", "m", "files", "What to back up: files, folders or database")
	runCmd.Flags().StringP("dest", "d", "", "Destination root (default from config)")
	runCmd.Flags().BoolP("encrypt", "e", false, "Encrypt every file with a passphrase")

	rootCmd.AddCommand(interactiveCmd)

	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of sessions to show")

	rootCmd.AddCommand(verifyCmd)
	verifyCmd.Flags().Bool("decrypt", false, "Also decrypt encrypted files and check their content")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	rootCmd.AddCommand(configCmd)

	catalogCmd.AddCommand(catalogExportCmd)
	rootCmd.AddCommand(catalogCmd)
}
