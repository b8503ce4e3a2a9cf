package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hearthlabs/agentloop/pkg/agenterr"
	"github.com/hearthlabs/agentloop/pkg/api"
	"github.com/hearthlabs/agentloop/pkg/config"
	modelpkg "github.com/hearthlabs/agentloop/pkg/model"
	"github.com/hearthlabs/agentloop/pkg/security"
	"github.com/hearthlabs/agentloop/pkg/session"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, agenterr.Sanitize(err.Error()))
		os.Exit(agenterr.ExitCode(err))
	}
}

func run(argv []string, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("agentsdk-cli", flag.ContinueOnError)
	flags.SetOutput(stderr)

	entry := flags.String("entry", "cli", "Entry point type (cli/ci/platform)")
	project := flags.String("project", ".", "Project root")
	claudeDir := flags.String("claude", "", "Optional path to .claude directory")
	modelName := flags.String("model", "claude-3-5-sonnet-20241022", "Anthropic model name")
	systemPrompt := flags.String("system-prompt", "", "System prompt override")
	sessionID := flags.String("session", "", "Session identifier override")
	promptFile := flags.String("prompt-file", "", "Read prompt from file (defaults to stdin/args)")
	promptLiteral := flags.String("prompt", "", "Prompt literal (overrides stdin)")
	stream := flags.Bool("stream", false, "Stream events instead of waiting for completion")
	printConfig := flags.Bool("print-config", false, "Print the resolved settings (secrets redacted) and exit")
	listSessions := flags.Bool("list-sessions", false, "List saved sessions and exit")
	resume := flags.Bool("resume", false, "Resume the most recently saved session before running")
	saveSession := flags.Bool("save-session", false, "Persist the session to the session store after running")
	permissionMode := flags.String("permission-mode", "default", "Permission mode: default, acceptEdits, plan, bypassPermissions")
	maxTurns := flags.Int("max-turns", 25, "Maximum model/tool turns per run (0 returns the first response regardless of stop reason)")
	maxBudgetUSD := flags.Float64("max-budget-usd", 0, "Terminate the run once estimated model spend reaches this amount (0 disables)")
	transport := flags.String("transport", "decoder", "Streaming transport: decoder (pkg/decode over raw SSE, default), sdk (vendor ssestream accumulator), raw-sse-proxy (pkg/decode against a bare Anthropic-compatible proxy URL)")
	baseURL := flags.String("base-url", "", "Override the Anthropic(-compatible) API base URL")

	var mcpServers multiValue
	flags.Var(&mcpServers, "mcp", "Register an MCP server (repeatable)")

	var tagFlags multiValue
	flags.Var(&tagFlags, "tag", "Attach tag key=value pairs (repeatable)")

	if err := flags.Parse(argv); err != nil {
		return agenterr.Wrap(agenterr.InvalidInput, err)
	}

	if *printConfig {
		return printResolvedConfig(*project, stdout)
	}

	if *listSessions {
		return listSavedSessions(*project, stdout)
	}

	prompt, err := resolvePrompt(*promptLiteral, *promptFile, flags.Args())
	if err != nil {
		return agenterr.Wrap(agenterr.InvalidInput, err)
	}
	if strings.TrimSpace(prompt) == "" {
		return agenterr.New(agenterr.InvalidInput, "prompt is empty")
	}

	provider, err := buildModelProvider(*transport, *modelName, *systemPrompt, *baseURL)
	if err != nil {
		return agenterr.Wrap(agenterr.InvalidInput, err)
	}
	settingsPath := ""
	if strings.TrimSpace(*claudeDir) != "" {
		settingsPath = filepath.Join(*claudeDir, "settings.json")
	}
	// -max-turns 0 still runs exactly one model call: the first response
	// comes back whatever its stop reason, rather than looping forever.
	iterations := *maxTurns
	if iterations <= 0 {
		iterations = 1
	}
	options := api.Options{
		EntryPoint:     api.EntryPoint(strings.ToLower(strings.TrimSpace(*entry))),
		ProjectRoot:    *project,
		SettingsPath:   settingsPath,
		ModelFactory:   provider,
		MCPServers:     mcpServers,
		PermissionMode: security.Mode(strings.TrimSpace(*permissionMode)),
		MaxIterations:  iterations,
		MaxBudgetUSD:   *maxBudgetUSD,
	}
	runtime, err := api.New(context.Background(), options)
	if err != nil {
		return fmt.Errorf("create runtime: %w", err)
	}
	defer runtime.Close()

	resumedID := strings.TrimSpace(*sessionID)
	if *resume {
		if resumed, rerr := runtime.ResumeSession(); rerr == nil && resumed != nil {
			resumedID = resumed.ID
			fmt.Fprintf(stderr, "resumed session %s\n", resumedID)
		} else if rerr != nil {
			fmt.Fprintf(stderr, "resume failed: %v\n", rerr)
		}
	}

	req := api.Request{
		Prompt:    prompt,
		SessionID: resumedID,
		Mode: api.ModeContext{
			EntryPoint: options.EntryPoint,
			CLI: &api.CLIContext{
				User:      os.Getenv("USER"),
				Workspace: *project,
				Args:      argv,
			},
		},
		Tags: parseTags(tagFlags),
	}
	if *stream {
		return streamRun(runtime, req, stdout)
	}
	resp, err := runtime.Run(context.Background(), req)
	if err != nil {
		return err
	}
	printResponse(resp, stdout)

	if *saveSession {
		if resumedID == "" {
			fmt.Fprintln(stderr, "save-session skipped: pass -session to name the session explicitly")
		} else if path, serr := runtime.SaveSession(resumedID); serr != nil {
			fmt.Fprintf(stderr, "save-session failed: %v\n", serr)
		} else {
			fmt.Fprintf(stderr, "session saved to %s\n", path)
		}
	}
	return nil
}

func claudeHomeDir() string {
	if dir := strings.TrimSpace(os.Getenv("CLAUDE_CONFIG_DIR")); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".claude"
	}
	return filepath.Join(home, ".claude")
}

func listSavedSessions(projectRoot string, out io.Writer) error {
	store := session.NewStore(filepath.Join(claudeHomeDir(), "sessions"))
	summaries, err := store.List()
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	if len(summaries) == 0 {
		fmt.Fprintln(out, "no saved sessions")
		return nil
	}
	for _, s := range summaries {
		fmt.Fprintf(out, "%s\t%s\t%s\n", s.ID, s.CWD, s.FirstPrompt)
	}
	return nil
}

func printResolvedConfig(projectRoot string, out io.Writer) error {
	loader := &config.SettingsLoader{ProjectRoot: projectRoot}
	settings, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	redacted, err := config.ExportRedacted(settings)
	if err != nil {
		return fmt.Errorf("redact settings: %w", err)
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, redacted, "", "  "); err != nil {
		_, werr := out.Write(redacted)
		return werr
	}
	_, werr := out.Write(pretty.Bytes())
	if werr != nil {
		return werr
	}
	_, werr = fmt.Fprintln(out)
	return werr
}

func resolvePrompt(literal, file string, tail []string) (string, error) {
	if strings.TrimSpace(literal) != "" {
		return literal, nil
	}
	if strings.TrimSpace(file) != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read prompt file: %w", err)
		}
		return string(data), nil
	}
	if len(tail) > 0 {
		return strings.Join(tail, " "), nil
	}
	info, err := os.Stdin.Stat()
	if err != nil {
		return "", err
	}
	if info.Mode()&os.ModeCharDevice != 0 {
		return "", errors.New("no prompt provided")
	}
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 4096), 1024*1024)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return strings.Join(lines, "\n"), nil
}

func streamRun(rt *api.Runtime, req api.Request, out io.Writer) error {
	ch, err := rt.RunStream(context.Background(), req)
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(out)
	for evt := range ch {
		if err := encoder.Encode(evt); err != nil {
			return err
		}
	}
	return nil
}

func printResponse(resp *api.Response, out io.Writer) {
	if resp == nil || out == nil {
		return
	}
	fmt.Fprintf(out, "# agentsdk run (%s)\n", resp.Mode.EntryPoint)
	if resp.Result != nil {
		fmt.Fprintf(out, "stop_reason: %s\n", resp.Result.StopReason)
		fmt.Fprintf(out, "output:\n%s\n", resp.Result.Output)
	}
}

// buildModelProvider selects the streaming transport: "decoder" (default)
// feeds raw SSE bytes from the standard Anthropic API through pkg/decode;
// "sdk" keeps the vendor ssestream accumulator for compatibility; "raw-sse-proxy"
// talks to a bare Anthropic-compatible endpoint (no CountTokens pre-flight,
// no cached client) entirely through pkg/decode, for proxies the vendor SDK's
// stricter ssestream reader rejects.
func buildModelProvider(transport, modelName, systemPrompt, baseURL string) (modelpkg.Provider, error) {
	switch strings.ToLower(strings.TrimSpace(transport)) {
	case "", "decoder":
		return &modelpkg.AnthropicProvider{
			ModelName: modelName,
			System:    systemPrompt,
			BaseURL:   baseURL,
		}, nil
	case "sdk":
		return &modelpkg.AnthropicProvider{
			ModelName:         modelName,
			System:            systemPrompt,
			BaseURL:           baseURL,
			DisableRawDecoder: true,
		}, nil
	case "raw-sse-proxy":
		mdl := modelpkg.NewRawSSE(modelpkg.RawSSEConfig{
			BaseURL: baseURL,
			Model:   modelName,
			System:  systemPrompt,
		})
		return modelpkg.ProviderFunc(func(context.Context) (modelpkg.Model, error) {
			return mdl, nil
		}), nil
	default:
		return nil, fmt.Errorf("unknown -transport %q (want decoder, sdk, or raw-sse-proxy)", transport)
	}
}

type multiValue []string

func (m *multiValue) String() string {
	return strings.Join(*m, ",")
}

func (m *multiValue) Set(value string) error {
	*m = append(*m, value)
	return nil
}

func parseTags(values multiValue) map[string]string {
	if len(values) == 0 {
		return nil
	}
	tags := map[string]string{}
	for _, value := range values {
		parts := strings.SplitN(value, "=", 2)
		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		val := "true"
		if len(parts) == 2 {
			val = strings.TrimSpace(parts[1])
		}
		tags[key] = val
	}
	return tags
}
