package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/artpar/stackup/internal/core/compose"
	"github.com/artpar/stackup/internal/core/domain"
	"github.com/artpar/stackup/internal/shell/deployer"
	"github.com/artpar/stackup/internal/shell/docker"
	"github.com/artpar/stackup/internal/shell/store"
)

// =============================================================================
// Command Dispatch
// =============================================================================

const usageText = `Usage: stackup [flags] <command> [arguments]

Commands:
  validate -f <file>                       Validate a compose manifest
  build <name> [-f file] [-var k=v]        Build manifest images without starting
  up <name> [-f file] [-var k=v] [-wait]   Deploy a stack, or restart a stopped one
  stop <name>                              Stop a running stack
  down <name> [-volumes]                   Stop and remove a stack
  status <name>                            Show stack status and containers
  list                                     List all deployments
  history <name> [-limit n]                Show deployment events
  logs <name> <service> [-tail n]          Show container logs for a service
  serve                                    Run the status API server
  version                                  Print version and exit

Flags:
  -config <path>                           Path to config file
`

func printUsage() {
	fmt.Fprint(os.Stderr, usageText)
}

// dispatch runs the named subcommand and returns its exit code.
func dispatch(ctx context.Context, cfg *Config, logger *slog.Logger, args []string) int {
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "version":
		fmt.Printf("stackup %s (built %s)\n", Version, BuildTime)
		return ExitSuccess
	case "validate":
		return cmdValidate(rest)
	case "build":
		return cmdBuild(ctx, cfg, logger, rest)
	case "up":
		return cmdUp(ctx, cfg, logger, rest)
	case "stop":
		return cmdStop(ctx, cfg, logger, rest)
	case "down":
		return cmdDown(ctx, cfg, logger, rest)
	case "status":
		return cmdStatus(ctx, cfg, logger, rest)
	case "list":
		return cmdList(ctx, cfg, logger, rest)
	case "history":
		return cmdHistory(ctx, cfg, logger, rest)
	case "logs":
		return cmdLogs(ctx, cfg, logger, rest)
	case "serve":
		return cmdServe(ctx, cfg, logger)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		printUsage()
		return ExitUsageError
	}
}

// =============================================================================
// Runtime
// =============================================================================

// runtime bundles the connections a deployment command needs.
type runtime struct {
	store    store.Store
	docker   docker.Client
	deployer *deployer.Deployer
}

func openRuntime(cfg *Config, logger *slog.Logger) (*runtime, int, error) {
	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, ExitDatabaseError, fmt.Errorf("create data directory: %w", err)
		}
	}

	s, err := store.NewSQLiteStore(cfg.Database.DSN)
	if err != nil {
		return nil, ExitDatabaseError, err
	}

	d, err := docker.NewDockerClient(cfg.Docker.Host)
	if err != nil {
		s.Close()
		return nil, ExitDockerError, err
	}
	if err := d.Ping(); err != nil {
		s.Close()
		d.Close()
		return nil, ExitDockerError, err
	}

	return &runtime{
		store:    s,
		docker:   d,
		deployer: deployer.New(s, d, logger),
	}, ExitSuccess, nil
}

func (r *runtime) close() {
	r.docker.Close()
	r.store.Close()
}

// =============================================================================
// Flag Helpers
// =============================================================================

// varFlags collects repeated -var key=value flags.
type varFlags map[string]string

func (v varFlags) String() string {
	pairs := make([]string, 0, len(v))
	for k, val := range v {
		pairs = append(pairs, k+"="+val)
	}
	return strings.Join(pairs, ",")
}

func (v varFlags) Set(value string) error {
	key, val, ok := strings.Cut(value, "=")
	if !ok || key == "" {
		return fmt.Errorf("expected key=value, got %q", value)
	}
	v[key] = val
	return nil
}

func fail(err error) int {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	return ExitDeployError
}

// =============================================================================
// Commands
// =============================================================================

func cmdValidate(args []string) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	file := fs.String("f", "docker-compose.yml", "Manifest file to validate")
	if err := fs.Parse(args); err != nil {
		return ExitUsageError
	}

	content, err := os.ReadFile(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return ExitUsageError
	}

	manifest, err := compose.ParseManifest(string(content))
	if err != nil {
		fmt.Fprintf(os.Stderr, "manifest is invalid: %v\n", err)
		return ExitDeployError
	}

	if errs := compose.ValidateManifest(manifest); len(errs) > 0 {
		fmt.Fprintln(os.Stderr, "manifest is invalid:")
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "  - %v\n", e)
		}
		return ExitDeployError
	}

	fmt.Printf("manifest is valid: %d service(s)\n", len(manifest.Services))
	// Scan the raw YAML so placeholders outside converted fields are reported too
	if vars := compose.ExtractVariablesFromYAML(string(content)); len(vars) > 0 {
		fmt.Printf("variables: %s\n", strings.Join(vars, ", "))
	}
	return ExitSuccess
}

func cmdBuild(ctx context.Context, cfg *Config, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("build", flag.ContinueOnError)
	file := fs.String("f", "docker-compose.yml", "Manifest file to build")
	vars := varFlags{}
	fs.Var(vars, "var", "Variable as key=value (repeatable)")
	if err := fs.Parse(args); err != nil {
		return ExitUsageError
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: stackup build <name> [-f file] [-var k=v]")
		return ExitUsageError
	}
	name := fs.Arg(0)

	content, err := os.ReadFile(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return ExitUsageError
	}

	rt, code, err := openRuntime(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return code
	}
	defer rt.close()

	built, err := rt.deployer.Build(ctx, deployer.UpRequest{
		Name:      name,
		Manifest:  string(content),
		Variables: vars,
	})
	if err != nil {
		return fail(err)
	}

	fmt.Printf("built %d image(s)\n", built)
	return ExitSuccess
}

func cmdUp(ctx context.Context, cfg *Config, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("up", flag.ContinueOnError)
	file := fs.String("f", "docker-compose.yml", "Manifest file to deploy")
	wait := fs.Bool("wait", false, "Wait for containers to become healthy")
	vars := varFlags{}
	fs.Var(vars, "var", "Variable as key=value (repeatable)")
	if err := fs.Parse(args); err != nil {
		return ExitUsageError
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: stackup up <name> [-f file] [-var k=v] [-wait]")
		return ExitUsageError
	}
	name := fs.Arg(0)

	content, err := os.ReadFile(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return ExitUsageError
	}

	rt, code, err := openRuntime(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return code
	}
	defer rt.close()

	deployment, err := rt.deployer.Up(ctx, deployer.UpRequest{
		Name:        name,
		Manifest:    string(content),
		Variables:   vars,
		Wait:        *wait,
		WaitTimeout: cfg.Deploy.HealthWaitTimeout,
	})
	if err != nil {
		if errors.Is(err, deployer.ErrAlreadyRunning) {
			fmt.Fprintf(os.Stderr, "error: deployment %q is already running\n", name)
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		return ExitDeployError
	}

	fmt.Printf("deployment %s is %s\n", deployment.Name, deployment.Status)
	printContainers(deployment)
	return ExitSuccess
}

func cmdStop(ctx context.Context, cfg *Config, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("stop", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil || fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: stackup stop <name>")
		return ExitUsageError
	}
	name := fs.Arg(0)

	rt, code, err := openRuntime(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return code
	}
	defer rt.close()

	deployment, err := rt.deployer.Stop(ctx, name)
	if err != nil {
		return fail(err)
	}

	fmt.Printf("deployment %s is %s\n", deployment.Name, deployment.Status)
	return ExitSuccess
}

func cmdDown(ctx context.Context, cfg *Config, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("down", flag.ContinueOnError)
	removeVolumes := fs.Bool("volumes", false, "Also remove named volumes")
	if err := fs.Parse(args); err != nil || fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: stackup down <name> [-volumes]")
		return ExitUsageError
	}
	name := fs.Arg(0)

	rt, code, err := openRuntime(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return code
	}
	defer rt.close()

	deployment, err := rt.deployer.Down(ctx, name, *removeVolumes)
	if err != nil {
		return fail(err)
	}

	fmt.Printf("deployment %s removed\n", deployment.Name)
	return ExitSuccess
}

func cmdStatus(ctx context.Context, cfg *Config, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil || fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: stackup status <name>")
		return ExitUsageError
	}
	name := fs.Arg(0)

	rt, code, err := openRuntime(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return code
	}
	defer rt.close()

	deployment, err := rt.deployer.Status(ctx, name)
	if err != nil {
		return fail(err)
	}

	fmt.Printf("name:    %s\n", deployment.Name)
	fmt.Printf("id:      %s\n", deployment.ID)
	fmt.Printf("status:  %s\n", deployment.Status)
	if deployment.ErrorMessage != "" {
		fmt.Printf("error:   %s\n", deployment.ErrorMessage)
	}
	if deployment.StartedAt != nil {
		fmt.Printf("started: %s\n", deployment.StartedAt.Format("2006-01-02 15:04:05"))
	}
	printContainers(deployment)
	return ExitSuccess
}

func cmdList(ctx context.Context, cfg *Config, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return ExitUsageError
	}

	rt, code, err := openRuntime(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return code
	}
	defer rt.close()

	deployments, err := rt.deployer.List(ctx, store.DefaultListOptions())
	if err != nil {
		return fail(err)
	}

	if len(deployments) == 0 {
		fmt.Println("no deployments")
		return ExitSuccess
	}

	fmt.Printf("%-24s %-10s %-10s %s\n", "NAME", "STATUS", "SERVICES", "CREATED")
	for _, d := range deployments {
		fmt.Printf("%-24s %-10s %-10d %s\n",
			d.Name, d.Status, len(d.Containers), d.CreatedAt.Format("2006-01-02 15:04"))
	}
	return ExitSuccess
}

func cmdHistory(ctx context.Context, cfg *Config, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	limit := fs.Int("limit", 50, "Maximum number of events to show")
	if err := fs.Parse(args); err != nil || fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: stackup history <name> [-limit n]")
		return ExitUsageError
	}
	name := fs.Arg(0)

	rt, code, err := openRuntime(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return code
	}
	defer rt.close()

	events, err := rt.deployer.History(ctx, name, *limit)
	if err != nil {
		return fail(err)
	}

	for _, e := range events {
		line := fmt.Sprintf("%s  %-15s", e.CreatedAt.Format("2006-01-02 15:04:05"), e.Type)
		if e.ServiceName != "" {
			line += "  " + e.ServiceName
		}
		if e.Message != "" {
			line += "  " + e.Message
		}
		fmt.Println(line)
	}
	return ExitSuccess
}

func cmdLogs(ctx context.Context, cfg *Config, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("logs", flag.ContinueOnError)
	tail := fs.String("tail", "100", "Number of log lines to show")
	if err := fs.Parse(args); err != nil || fs.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "usage: stackup logs <name> <service> [-tail n]")
		return ExitUsageError
	}
	name, service := fs.Arg(0), fs.Arg(1)

	rt, code, err := openRuntime(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return code
	}
	defer rt.close()

	logs, err := rt.deployer.Logs(ctx, name, service, *tail)
	if err != nil {
		return fail(err)
	}

	fmt.Print(logs)
	return ExitSuccess
}

func cmdServe(ctx context.Context, cfg *Config, logger *slog.Logger) int {
	logger.Info("starting stackup",
		"version", Version,
	)

	server, err := NewServer(cfg, logger)
	if err != nil {
		var sErr *ServerError
		if errors.As(err, &sErr) {
			logger.Error("failed to create server",
				"error", sErr.Err,
				"operation", sErr.Op,
			)
			return sErr.ExitCode
		}
		logger.Error("failed to create server", "error", err)
		return ExitConfigError
	}

	if err := server.Start(ctx); err != nil {
		var sErr *ServerError
		if errors.As(err, &sErr) {
			logger.Error("server error",
				"error", sErr.Err,
				"operation", sErr.Op,
			)
			return sErr.ExitCode
		}
		logger.Error("server error", "error", err)
		return ExitHTTPServerError
	}

	return ExitSuccess
}

// printContainers prints the container table of a deployment.
func printContainers(d *domain.Deployment) {
	for _, c := range d.Containers {
		ports := make([]string, 0, len(c.Ports))
		for _, p := range c.Ports {
			ports = append(ports, fmt.Sprintf("%d->%d/%s", p.HostPort, p.ContainerPort, p.Protocol))
		}
		line := fmt.Sprintf("  %-20s %-12s %s", c.ServiceName, c.Status, c.Image)
		if len(ports) > 0 {
			line += "  " + strings.Join(ports, ",")
		}
		fmt.Println(line)
	}
}
