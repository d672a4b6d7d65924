package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/agent462/netmaint/internal/config"
	"github.com/agent462/netmaint/internal/interpreter"
	"github.com/agent462/netmaint/internal/logging"
	"github.com/agent462/netmaint/internal/maintenance"
	"github.com/agent462/netmaint/internal/orchestrator"
	"github.com/agent462/netmaint/internal/report"
	"github.com/agent462/netmaint/internal/ssh"
)

// passwordEnv lets unattended runs skip the password prompt.
const passwordEnv = "NETMAINT_PASSWORD"

var runCmd = &cobra.Command{
	Use:   "run <maintenance>",
	Short: "Run a maintenance",
	Long: `Play a maintenance file against its switches.

The file may be YAML, TOML, XML or JSON. Actions run one after another
unless the maintenance is marked mp_compat and more than one worker is
requested.

Examples:
  netmaint run uplinks.xml
  netmaint run core.yaml --workers 8 --user netops
  netmaint run core.yaml --report-dir reports/ --log-level debug`,
	Args: cobra.ExactArgs(1),
	RunE: runMaintenance,
}

func init() {
	runCmd.Flags().IntP("workers", "w", 1, "Number of parallel workers for mp_compat maintenances")
	runCmd.Flags().String("report-dir", "", "Directory for dump, transcript and spreadsheet")
	runCmd.Flags().Bool("insecure", false, "Skip host key verification")
	runCmd.Flags().StringP("user", "u", "", "Login (prompted when empty)")
	runCmd.Flags().Bool("json", false, "Print the summary as JSON")
	runCmd.Flags().Bool("errors-only", false, "Only list hosts with problems in the summary")
}

func runMaintenance(cmd *cobra.Command, args []string) error {
	path := args[0]

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	m, err := maintenance.Load(path)
	if err != nil {
		return fmt.Errorf("loading maintenance: %w", err)
	}

	stdin := bufio.NewReader(os.Stdin)
	user, _ := cmd.Flags().GetString("user")
	creds, err := promptCredentials(stdin, os.Stderr, user)
	if err != nil {
		return err
	}

	started := time.Now()
	runID := uuid.NewString()

	sink, err := logging.Open(logging.Config{
		Dir:     cfg.LogDir,
		Name:    path,
		Level:   cfg.Severity(),
		Console: os.Stderr,
		Now:     started,
	})
	if err != nil {
		return err
	}
	defer sink.Close()
	logger := sink.Logger.With(zap.String("run", runID))
	logger.Debug("log file opened", zap.String("path", sink.Path), zap.Stringer("user", creds))

	if err := os.MkdirAll(cfg.ReportDir, 0755); err != nil {
		return fmt.Errorf("create report directory: %w", err)
	}
	arts := report.NewArtifacts(cfg.ReportDir, path, started)
	if err := writeFile(arts.Maintenance, m.Dump); err != nil {
		return err
	}

	hs := &ssh.Handshaker{
		Client: ssh.ClientConfig{
			ConnectTimeout:     cfg.SSH.ConnectTimeout.Duration,
			AcceptUnknownHosts: cfg.SSH.Insecure,
			KnownHostsFile:     cfg.SSH.KnownHosts,
		},
		CommandTimeout: cfg.SSH.CommandTimeout.Duration,
		Resolve: func(host string) ssh.Target {
			t := config.ResolveTarget(cfg, host)
			return ssh.Target{Address: t.Address, Port: t.Port}
		},
		Logger: logger,
	}
	in := interpreter.New(interpreter.SSHConnector{Handshaker: hs},
		interpreter.WithLogger(logger),
		interpreter.WithConsole(os.Stdout),
		interpreter.WithPrompter(interpreter.NewLinePrompter(stdin, os.Stdout)),
	)
	orch := orchestrator.New(in,
		orchestrator.WithLogger(logger),
		orchestrator.WithDrivers(func(host string) string {
			return config.ResolveTarget(cfg, host).Driver
		}),
	)

	ctx, stop := interruptContext(logger)
	defer stop()

	results, runErr := orch.Execute(ctx, m, creds, cfg.Workers)
	if runErr != nil {
		logger.Error("maintenance stopped", zap.Error(runErr))
	}
	if results == nil {
		return runErr
	}

	if err := writeReports(arts, runID, results); err != nil {
		logger.Error("writing reports", zap.Error(err))
		return errors.Join(runErr, err)
	}

	jsonOut, _ := cmd.Flags().GetBool("json")
	errorsOnly, _ := cmd.Flags().GetBool("errors-only")
	f := report.NewFormatter(jsonOut, errorsOnly, useColor())
	summary, err := f.Render(report.Summarize(results))
	if err != nil {
		return errors.Join(runErr, err)
	}
	fmt.Fprint(cmd.OutOrStdout(), summary)
	fmt.Fprintf(cmd.OutOrStdout(), "Reports: %s, %s, %s\n", arts.Dump, arts.Transcript, arts.Summary)

	switch {
	case orchestrator.Abandoned(runErr):
		logger.Error("workers were abandoned, exiting")
	case orchestrator.Interrupted(runErr):
		fmt.Fprintln(cmd.ErrOrStderr(), "Run interrupted, reports hold partial results.")
	}
	return runErr
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("workers") {
		cfg.Workers, _ = flags.GetInt("workers")
	}
	if flags.Changed("report-dir") {
		cfg.ReportDir, _ = flags.GetString("report-dir")
	}
	if flags.Changed("insecure") {
		cfg.SSH.Insecure, _ = flags.GetBool("insecure")
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logDir != "" {
		cfg.LogDir = logDir
	}
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("%w: workers must be at least 1, got %d", orchestrator.ErrConfiguration, cfg.Workers)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// promptCredentials asks for the login and password. The password is
// read without echo when stdin is a terminal.
func promptCredentials(in *bufio.Reader, out io.Writer, user string) (orchestrator.Credentials, error) {
	if user == "" {
		fmt.Fprint(out, "Username: ")
		line, err := in.ReadString('\n')
		if err != nil && line == "" {
			return orchestrator.Credentials{}, fmt.Errorf("reading username: %w", err)
		}
		user = strings.TrimSpace(line)
	}

	if pw, ok := os.LookupEnv(passwordEnv); ok {
		return orchestrator.Credentials{Username: user, Password: pw}, nil
	}

	fmt.Fprint(out, "Password: ")
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		pw, err := term.ReadPassword(fd)
		fmt.Fprintln(out)
		if err != nil {
			return orchestrator.Credentials{}, fmt.Errorf("reading password: %w", err)
		}
		return orchestrator.Credentials{Username: user, Password: string(pw)}, nil
	}
	line, err := in.ReadString('\n')
	if err != nil && line == "" {
		return orchestrator.Credentials{}, fmt.Errorf("reading password: %w", err)
	}
	return orchestrator.Credentials{Username: user, Password: strings.TrimRight(line, "\r\n")}, nil
}

// interruptContext cancels on the first SIGINT/SIGTERM and exits the
// process on the second.
func interruptContext(logger *zap.Logger) (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		count := 0
		for range sigCh {
			count++
			if count == 1 {
				fmt.Fprintln(os.Stderr, "\nInterrupted, stopping workers (interrupt again to quit now)...")
				cancel()
				continue
			}
			logger.Error("second interrupt, exiting now")
			_ = logger.Sync()
			os.Exit(1)
		}
	}()
	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}

func writeReports(arts report.Artifacts, runID string, results orchestrator.ResultMap) error {
	if err := writeFile(arts.Dump, func(w io.Writer) error { return report.WriteDump(w, results) }); err != nil {
		return err
	}
	if err := writeFile(arts.Transcript, func(w io.Writer) error { return report.WriteTranscript(w, results) }); err != nil {
		return err
	}
	return report.WriteXLSX(arts.Summary, runID, report.Summarize(results))
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func useColor() bool {
	if noColor || os.Getenv("NO_COLOR") != "" {
		return false
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}
