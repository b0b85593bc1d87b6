// Package main provides the pgdiag command-line tool for PostgreSQL diagnostics.
//
// pgdiag connects to a PostgreSQL database, runs a fixed set of read-only
// introspection probes and prints their results as one JSON document.
//
// Usage:
//
//	pgdiag --host localhost --user app --password secret --dbname app
//	pgdiag --config pgdiag.yaml --extended --format yaml
//	pgdiag --host db --user app --dbname app --out report-{ts}.json
//
// Every flag can also be set in a YAML config file or through a PGDIAG_*
// environment variable (PGDIAG_PASSWORD, PGDIAG_CONNECT_TIMEOUT, ...).
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/koltyakov/pgdiag/internal/collect"
	"github.com/koltyakov/pgdiag/internal/conn"
	perrors "github.com/koltyakov/pgdiag/internal/errors"
	"github.com/koltyakov/pgdiag/internal/logging"
	"github.com/koltyakov/pgdiag/internal/report"
)

// version is the current application version, set at build time.
var version = "0.1.0"

// collectRun opens the session and collects the report; tests replace it.
var collectRun = collect.Run

// envPrefix prefixes every environment variable read by the tool.
const envPrefix = "PGDIAG"

// Exit codes for different error conditions.
const (
	exitSuccess     = 0
	exitConnError   = 1
	exitUsageError  = 2
	exitReportError = 3
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the command line and returns an exit code.
//
// EXIT CODES:
//   - 0: Success, report written
//   - 1: Connection failure, nothing written to stdout
//   - 2: Configuration/usage error
//   - 3: Report rendering or writing error
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return exitSuccess
	}

	var logged *loggedError
	if !errors.As(err, &logged) {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return exitCode(err)
}

// loggedError marks an error that was already written to the log.
type loggedError struct {
	err error
}

func (e *loggedError) Error() string { return e.err.Error() }
func (e *loggedError) Unwrap() error { return e.err }

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	var reportErr *perrors.ReportError
	switch {
	case err == nil:
		return exitSuccess
	case errors.Is(err, perrors.ErrConnectionFailed):
		return exitConnError
	case errors.As(err, &reportErr):
		return exitReportError
	default:
		return exitUsageError
	}
}

// options is the fully resolved configuration of one invocation.
type options struct {
	Conn      conn.Config
	Collect   collect.Config
	Format    report.Format
	Meta      bool
	Out       string
	LogLevel  string
	LogFormat string
}

// Validate reports every configuration problem at once.
func (o options) Validate() error {
	var errs perrors.MultiError
	addAll(&errs, o.Conn.Validate())
	errs.Add(o.Collect.Validate())
	switch strings.ToLower(o.LogFormat) {
	case "", "auto", "text", "json":
	default:
		errs.Add(perrors.NewValidationError("log-format", o.LogFormat, "must be one of auto, text, json"))
	}
	return errs.ErrorOrNil()
}

// addAll adds err to errs, flattening a nested MultiError.
func addAll(errs *perrors.MultiError, err error) {
	var multi *perrors.MultiError
	if errors.As(err, &multi) {
		for _, e := range multi.Errors {
			errs.Add(e)
		}
		return
	}
	errs.Add(err)
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	v := viper.New()
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "pgdiag",
		Short: "Collect read-only diagnostics from a PostgreSQL server",
		Long: `pgdiag opens one session to a PostgreSQL database, runs a fixed set of
introspection probes (server version, top statements by total execution
time, and more with --extended) and prints the results as JSON.

A probe that fails is reported as empty and never stops the others. Only a
failure to connect aborts the run.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return initConfig(v, cfgFile)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := resolveOptions(v)
			if err != nil {
				return err
			}
			return diagnose(cmd.Context(), opts, stdout, stderr)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	f := cmd.Flags()
	f.String("host", "", "database server host (required)")
	f.Int("port", conn.DefaultPort, "database server port")
	f.String("user", "", "database user (required)")
	f.String("password", "", "database password (required; prefer PGDIAG_PASSWORD)")
	f.String("dbname", "", "database name (required)")
	f.String("sslmode", conn.DefaultSSLMode, "SSL mode (disable, allow, prefer, require, verify-ca, verify-full)")
	f.String("driver", conn.DefaultDriver, "database/sql driver ("+strings.Join(conn.Drivers, ", ")+")")
	f.Duration("connect-timeout", conn.DefaultConnectTimeout, "timeout for establishing the session")
	f.Duration("probe-timeout", collect.DefaultProbeTimeout, "timeout for each probe (0 disables)")
	f.Bool("extended", false, "also collect connection, activity, databases and settings")
	f.Bool("meta", false, "add run metadata under the \"meta\" key")
	f.String("format", string(report.FormatJSON), "output format (json, yaml, table)")
	f.String("out", "", "write the report to this file instead of stdout (supports {ts} -> 2006-01-02_1504)")

	pf := cmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: ./pgdiag.yaml or $HOME/.config/pgdiag/pgdiag.yaml)")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("log-format", "auto", "log format (auto, text, json)")

	// Bind flags to viper (errors are nil when flag exists)
	_ = v.BindPFlags(f)
	_ = v.BindPFlags(pf)

	cmd.AddCommand(newVersionCmd(stdout))
	return cmd
}

func newVersionCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version and exit",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return nil
		},
		RunE: func(*cobra.Command, []string) error {
			_, err := fmt.Fprintln(stdout, version)
			return err
		},
	}
}

// initConfig wires the config file and environment into v.
func initConfig(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("pgdiag")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/pgdiag")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("reading config: %w", err)
		}
	}
	return nil
}

// resolveOptions reads the merged flag, env and file values from v and
// validates them.
func resolveOptions(v *viper.Viper) (options, error) {
	format, formatErr := report.ParseFormat(v.GetString("format"))

	opts := options{
		Conn: conn.Config{
			Host:           v.GetString("host"),
			Port:           v.GetInt("port"),
			User:           v.GetString("user"),
			Password:       v.GetString("password"),
			DBName:         v.GetString("dbname"),
			SSLMode:        v.GetString("sslmode"),
			Driver:         v.GetString("driver"),
			ConnectTimeout: v.GetDuration("connect-timeout"),
		}.WithDefaults(),
		Collect: collect.Config{
			Extended:     v.GetBool("extended"),
			ProbeTimeout: v.GetDuration("probe-timeout"),
			ToolVersion:  version,
		},
		Format:    format,
		Meta:      v.GetBool("meta"),
		Out:       v.GetString("out"),
		LogLevel:  v.GetString("log-level"),
		LogFormat: v.GetString("log-format"),
	}

	var errs perrors.MultiError
	errs.Add(formatErr)
	addAll(&errs, opts.Validate())
	return opts, errs.ErrorOrNil()
}

// diagnose runs the probes and writes the report.
func diagnose(ctx context.Context, opts options, stdout, stderr io.Writer) error {
	log := logging.New(logging.Config{
		Level:  opts.LogLevel,
		Format: opts.LogFormat,
		Output: stderr,
	})
	log.Redact(opts.Conn.Password)

	start := time.Now()
	log.Debug("starting diagnostics", "target", opts.Conn.String(), "extended", opts.Collect.Extended)

	rep, err := collectRun(ctx, opts.Conn, opts.Collect, log)
	switch {
	case errors.Is(err, perrors.ErrConnectionFailed):
		log.Error("cannot connect to database", "error", err)
		return &loggedError{err: err}
	case err != nil:
		// The report is complete; only releasing the session failed.
		log.Warn("session release failed", "error", err)
	}

	log.Debug("diagnostics finished", "failed", rep.Failed(), "duration", time.Since(start))

	ropts := report.Options{Format: opts.Format, Meta: opts.Meta}
	if opts.Out != "" {
		path := report.ExpandPath(opts.Out, start)
		if err := report.WriteFile(path, rep, ropts); err != nil {
			log.Error("failed to write report", "error", err)
			return &loggedError{err: err}
		}
		log.Info("report written", "path", path)
		return nil
	}

	// Render fully before writing so a failure leaves stdout empty.
	data, err := report.Render(rep, ropts)
	if err == nil {
		_, err = stdout.Write(data)
		if err != nil {
			err = perrors.NewReportError("write", "", err)
		}
	}
	if err != nil {
		log.Error("failed to write report", "error", err)
		return &loggedError{err: err}
	}
	return nil
}
