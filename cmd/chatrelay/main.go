package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/chatrelay/internal/app"
	"github.com/mattjoyce/chatrelay/internal/config"
	"github.com/mattjoyce/chatrelay/internal/doctor"
	"github.com/mattjoyce/chatrelay/internal/log"
	"github.com/mattjoyce/chatrelay/internal/thread"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	// --- NOUNS ---
	case "system":
		os.Exit(runSystemNoun(args))
	case "config":
		os.Exit(runConfigNoun(args))
	case "thread":
		os.Exit(runThreadNoun(args))

	// --- ROOT ALIASES ---
	case "start":
		os.Exit(runStart(args))
	case "version":
		fmt.Printf("chatrelay version %s\n", version)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage()
		os.Exit(0)

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`chatrelay - WhatsApp webhook relay to a language-model backend

Usage:
  chatrelay <noun> <action> [flags]

Core Resources (Nouns):
  system    Relay lifecycle
  config    Configuration inspection and checks
  thread    Stored conversation threads

System Commands:
  system start          Start the webhook server in foreground

Config Commands:
  config check          Validate configuration and report warnings
  config show           Print the resolved configuration (secrets redacted)

Thread Commands:
  thread show <user>    Show the stored thread for a WhatsApp user id

General:
  version               Show version information
  help                  Show this help message

Use 'chatrelay <noun> help' for resource-specific flags.
`)
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			printSystemStartHelp()
			return 0
		}
		return runStart(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "show":
		if hasHelpFlag(actionArgs) {
			printConfigShowHelp()
			return 0
		}
		return runConfigShow(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runThreadNoun(args []string) int {
	if len(args) < 1 {
		printThreadNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printThreadNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "show":
		if hasHelpFlag(actionArgs) {
			printThreadShowHelp()
			return 0
		}
		return runThreadShow(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown thread action: %s\n", action)
		return 1
	}
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printSystemNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: chatrelay system <action>")
	fmt.Fprintln(w, "Actions: start")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: chatrelay config <action> [flags]")
	fmt.Fprintln(w, "Actions: check, show")
}

func printThreadNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: chatrelay thread <action> [flags]")
	fmt.Fprintln(w, "Actions: show")
}

func printSystemStartHelp() {
	fmt.Println("Usage: chatrelay system start [--config PATH]")
	fmt.Println("Start the webhook server in the foreground.")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: chatrelay config check [--config PATH] [--format human|json] [--strict]")
	fmt.Println("Validate configuration and report warnings. Exit 1 on errors, 2 on warnings with --strict.")
}

func printConfigShowHelp() {
	fmt.Println("Usage: chatrelay config show [--config PATH] [--json]")
	fmt.Println("Print the configuration after defaults and interpolation, with secrets redacted.")
}

func printThreadShowHelp() {
	fmt.Println("Usage: chatrelay thread show <user-id> [--config PATH] [--json]")
	fmt.Println("Show the thread stored for a WhatsApp user id.")
}

// --- ACTION IMPLEMENTATIONS ---

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	path, err := resolveConfigPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return 1
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("chatrelay starting", "version", version, "config", path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	relay, err := app.Build(ctx, cfg)
	if err != nil {
		logger.Error("failed to start", "error", err)
		return 1
	}
	defer func() {
		if err := relay.Close(); err != nil {
			logger.Warn("shutdown cleanup failed", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- relay.Run(ctx)
	}()

	logger.Info("chatrelay running (press Ctrl+C to stop)", "listen", relay.Webhook.Listen, "path", relay.Webhook.Path)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("webhook server shutdown failed", "error", err)
			return 1
		}
	case err := <-errCh:
		logger.Error("webhook server failed", "error", err)
		return 1
	}

	logger.Info("chatrelay stopped")
	return 0
}

func runConfigCheck(args []string) int {
	var configPath, format string
	var strict bool

	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&strict, "strict", false, "Treat warnings as errors")
	fs.StringVar(&format, "format", "human", "Output format (human, json)")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if *jsonOut {
		format = "json"
	}

	path, err := resolveConfigPath(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return 1
	}

	// Unvalidated: the doctor reports validation failures itself.
	cfg, err := config.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	result := doctor.New(cfg).Validate()

	switch format {
	case "json":
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	default:
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	if strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}
	redactSecrets(cfg)

	if *jsonOut {
		data, _ := json.MarshalIndent(cfg, "", "  ")
		fmt.Println(string(data))
	} else {
		data, _ := yaml.Marshal(cfg)
		fmt.Print(string(data))
	}
	return 0
}

const redacted = "<redacted>"

// redactSecrets blanks literal secrets. ssm: references are kept since they
// only name a parameter.
func redactSecrets(cfg *config.Config) {
	for _, v := range cfg.Secrets() {
		if *v != "" && !isSSMRef(*v) {
			*v = redacted
		}
	}
}

func isSSMRef(v string) bool {
	return strings.HasPrefix(v, config.SSMPrefix)
}

func runThreadShow(args []string) int {
	var configPath string
	var jsonOut bool
	var userID string

	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration file or directory")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")

	// Allow flags after the user id: 'chatrelay thread show 1555... --json'.
	var rest []string
	for _, arg := range args {
		if userID == "" && !strings.HasPrefix(arg, "-") && (len(rest) == 0 || rest[len(rest)-1] != "--config") {
			userID = arg
			continue
		}
		rest = append(rest, arg)
	}
	if err := fs.Parse(rest); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if userID == "" {
		fmt.Fprintln(os.Stderr, "Usage: chatrelay thread show <user-id> [--config PATH] [--json]")
		return 1
	}

	cfg, err := loadConfigForTool(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := thread.Open(ctx, cfg.Threads)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open thread store: %v\n", err)
		return 1
	}
	defer store.Close()

	t, err := store.Get(ctx, userID)
	if errors.Is(err, thread.ErrNotFound) {
		fmt.Fprintf(os.Stderr, "No thread for user %s\n", userID)
		return 1
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Lookup failed: %v\n", err)
		return 1
	}

	if jsonOut {
		data, _ := json.MarshalIndent(t, "", "  ")
		fmt.Println(string(data))
		return 0
	}
	fmt.Printf("User:         %s\n", t.UserID)
	fmt.Printf("Thread:       %s\n", t.ThreadID)
	fmt.Printf("Last message: %s\n", t.LastMessage)
	if !t.CreatedAt.IsZero() {
		fmt.Printf("Created:      %s\n", t.CreatedAt.Format(time.RFC3339))
	}
	if !t.UpdatedAt.IsZero() {
		fmt.Printf("Updated:      %s\n", t.UpdatedAt.Format(time.RFC3339))
	}
	return 0
}

func resolveConfigPath(configPath string) (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	discovered, err := config.DiscoverConfigDir()
	if err != nil {
		return "", err
	}
	fmt.Fprintf(os.Stderr, "Using discovered config: %s\n", discovered)
	return discovered, nil
}

func loadConfigForTool(configPath string) (*config.Config, error) {
	path, err := resolveConfigPath(configPath)
	if err != nil {
		return nil, err
	}
	return config.Load(path)
}
