// Command chatcore is a terminal chat client over the workflow engine:
// streaming conversations with tool calling, persisted locally.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"chatcore/config"
	"chatcore/gateway"
	"chatcore/model"
	"chatcore/retry"
	"chatcore/store"
	"chatcore/tool"
	"chatcore/workflow"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	config.InitDebugLog(cfg.DataDir())

	sqlite, err := store.NewSQLiteStore(cfg.DataDir())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer sqlite.Close()

	st := store.NewStore(sqlite, cfg.Debounce())
	st.LoadAll(context.Background())
	defer st.Close()

	registry := tool.NewRegistry()
	if err := registerBuiltinTools(registry); err != nil {
		return fmt.Errorf("register tools: %w", err)
	}
	executor := tool.NewExecutor(registry, time.Duration(cfg.Workflow.ToolTimeoutSec)*time.Second)

	router, err := gateway.NewRouter(gateway.Config{
		AnthropicAPIKey:   config.AnthropicAPIKey(),
		OpenAIAPIKey:      config.OpenAIAPIKey(),
		OllamaHost:        cfg.Ollama.Host,
		RequestsPerSecond: cfg.RequestsPerSecond,
	})
	if err != nil {
		return err
	}

	policy := retry.DefaultPolicy()
	if cfg.Retry.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.Retry.MaxAttempts
		policy.BaseDelay = time.Duration(cfg.Retry.BaseDelayMS) * time.Millisecond
		policy.MaxDelay = time.Duration(cfg.Retry.MaxDelayMS) * time.Millisecond
	}

	engine := workflow.NewEngine(router, registry, executor, policy)

	desc := model.ModelDescriptor{
		Provider: model.ProviderOllama,
		ModelID:  cfg.Ollama.DefaultModel,
		Capabilities: model.Capabilities{
			Streaming:   true,
			ToolCalling: gateway.OllamaModelSupportsTools(cfg.Ollama.DefaultModel),
			MaxTokens:   4096,
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return repl(ctx, st, engine, cfg, desc)
}

func repl(ctx context.Context, st *store.Store, engine *workflow.Engine, cfg *config.Config, desc model.ModelDescriptor) error {
	conv := st.CreateConversation("New conversation", desc)
	fmt.Printf("chatcore [%s] (Ctrl+C or /quit to exit)\n", desc)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	firstTurn := true

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case line == "/quit" || line == "/exit":
			return nil
		case strings.HasPrefix(line, "/export"):
			if err := export(st, conv.ID, line); err != nil {
				fmt.Fprintf(os.Stderr, "export failed: %v\n", err)
			}
			continue
		}

		if firstTurn {
			title := store.TitleFromFirstMessage(line)
			_ = st.SetConversationMeta(conv.ID, store.MetaUpdate{Title: &title})
			firstTurn = false
		}

		run, err := engine.Chat(ctx, st, workflow.ChatSpec{
			ConversationID: conv.ID,
			Input:          line,
			SystemPrompt:   cfg.DefaultSystemPrompt,
			UseTools:       desc.Capabilities.ToolCalling,
			Limits: workflow.Limits{
				MaxSteps: cfg.Workflow.MaxSteps,
				Timeout:  time.Duration(cfg.Workflow.TimeoutSeconds) * time.Second,
			},
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}

		var streamed strings.Builder
		for ev := range run.Events() {
			if ev.Status == workflow.StepRunning && ev.PartialOutput != "" {
				fmt.Print(ev.PartialOutput)
				streamed.WriteString(ev.PartialOutput)
			}
		}
		fmt.Println()

		// The event channel drops tokens under backpressure; the store is
		// the read authority, so re-render when the live stream fell behind.
		if missed, ok := catchUp(streamed.String(), st.Messages(conv.ID)); ok {
			fmt.Println(missed)
		}

		if err := run.Wait(context.Background()); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			config.DebugLog("chat turn failed: %v", err)
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
}

// catchUp returns the authoritative assistant text when the live event
// stream delivered something different (or less) than the store settled on.
func catchUp(streamed string, msgs []model.Message) (string, bool) {
	if len(msgs) == 0 {
		return "", false
	}
	last := msgs[len(msgs)-1]
	if last.Role != model.RoleAssistant || last.Status != model.StatusCompleted {
		return "", false
	}
	if last.Content == streamed {
		return "", false
	}
	return last.Content, true
}

func export(st *store.Store, conversationID, line string) error {
	format := store.FormatMarkdown
	fields := strings.Fields(line)
	if len(fields) > 1 {
		format = store.ExportFormat(fields[1])
	}

	conv, _ := st.Conversation(conversationID)
	path := store.DefaultExportPath(conv.Title, format)
	if err := st.ExportToFile(conversationID, format, path); err != nil {
		return err
	}
	fmt.Printf("exported to %s\n", path)
	return nil
}
