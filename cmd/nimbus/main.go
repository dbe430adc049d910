// Command nimbus is a chat assistant backed by MCP tool servers. It launches
// the configured servers, aggregates their tools, and relays a conversation
// between the user and the model, dispatching tool calls along the way.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
	"github.com/nimbus-ai/nimbus/assistants"
	"github.com/nimbus-ai/nimbus/llmfactory"
	"github.com/nimbus-ai/nimbus/manager"
	"github.com/nimbus-ai/nimbus/store"
	"github.com/nimbus-ai/nimbus/tools"
	"github.com/redis/go-redis/v9"
)

const defaultSystemPrompt = "You are a helpful assistant. Use the available tools to answer the user's questions, and answer in plain text."

type CLI struct {
	Config string `kong:"short='c',default='nimbus.yaml',help='Configuration file'"`
	Model  string `kong:"help='Override the configured model name'"`
	Debug  bool   `kong:"short='D',help='Enable debug logging to stderr'"`

	Prompt []string `kong:"arg,optional,help='One-shot question; omit for an interactive chat'"`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("nimbus"),
		kong.Description("Chat assistant backed by MCP tool servers"),
		kong.UsageOnError(),
	)
	kctx.FatalIfErrorf(run(&cli))
}

func run(cli *CLI) error {
	xlog.SetFormatter(xlog.NewStringFormatter(os.Stderr))
	if cli.Debug {
		xlog.SetGlobalLogLevel(xlog.DEBUG)
	} else {
		xlog.SetGlobalLogLevel(xlog.ERROR)
	}

	cfg, err := llmfactory.LoadConfig(cli.Config)
	if err != nil {
		return err
	}

	model, err := llmfactory.New(cfg).DefaultModel()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	registry := tools.NewRegistry()
	mgr := manager.New(registry)
	// Servers are subprocesses; they must not outlive this process on any
	// exit path.
	defer mgr.ShutdownAll()

	specs := make([]manager.ServerSpec, 0, len(cfg.MCPServers))
	for _, server := range cfg.MCPServers {
		specs = append(specs, manager.ServerSpec{
			Name:    server.Name,
			Command: server.Command,
			Args:    server.Args,
			Env:     server.Env,
		})
	}
	if err := mgr.ConnectAll(ctx, specs); err != nil {
		return err
	}

	opts := []assistants.Option{
		assistants.WithSystemPrompt(values.StringsCoalesce(cfg.Assistant.SystemPrompt, defaultSystemPrompt)),
	}
	if cfg.Assistant.MaxTokens > 0 {
		opts = append(opts, assistants.WithMaxTokens(cfg.Assistant.MaxTokens))
	}
	if cfg.Assistant.MaxRounds > 0 {
		opts = append(opts, assistants.WithMaxRounds(cfg.Assistant.MaxRounds))
	}
	if cli.Model != "" {
		opts = append(opts, assistants.WithModel(cli.Model))
	}
	if cfg.Storage.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Addr,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		opts = append(opts, assistants.WithStore(store.NewRedisStore(client, cfg.Storage.Redis.Prefix)))
	}

	assistant := assistants.New(model, registry, opts...)
	chatID := assistant.NewChatID()

	if len(cli.Prompt) > 0 {
		answer, err := assistant.Chat(ctx, chatID, strings.Join(cli.Prompt, " "))
		if err != nil {
			return err
		}
		fmt.Println(answer)
		return nil
	}

	fmt.Printf("Connected to %d tool servers, %d tools available. Type 'exit' to quit.\n",
		len(mgr.Sessions()), registry.Len())

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}

		answer, err := assistant.Chat(ctx, chatID, line)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(os.Stderr, "error: %s\n", err.Error())
			continue
		}
		fmt.Println(answer)
	}
	return scanner.Err()
}
