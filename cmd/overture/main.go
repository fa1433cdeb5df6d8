// Command overture runs a single turn against a session from the terminal.
// It is a thin wire-up of the engine for local use; embedding applications
// construct the engine themselves.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nvoss/overture"
	"github.com/nvoss/overture/engine"
	"github.com/nvoss/overture/internal/config"
)

func main() {
	var (
		configPath = flag.String("config", os.Getenv("OVERTURE_CONFIG"), "path to overture.toml")
		sessionID  = flag.String("session", "", "existing session id (created when empty)")
		projectID  = flag.String("project", "local", "project id")
		userID     = flag.String("user", "local", "user id")
		agentName  = flag.String("agent", "", "agent override")
		vendor     = flag.String("vendor", "anthropic", "vendor for new sessions")
		model      = flag.String("model", "", "model override")
		exec       = flag.Bool("exec", false, "allow code-executing tools")
	)
	flag.Parse()

	prompt := flag.Arg(0)
	if prompt == "" {
		log.Fatal("usage: overture [flags] <prompt>")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Load config and assemble the engine.
	cfg := config.Load(*configPath)
	eng, err := engine.New(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer eng.Close(context.Background())

	// 2. Ensure a session exists.
	if *sessionID == "" {
		sess := &overture.Session{
			ID:        overture.NewID(),
			ProjectID: *projectID,
			UserID:    *userID,
			Title:     prompt,
			Vendor:    *vendor,
			CreatedAt: time.Now().UTC(),
		}
		if err := eng.Store.CreateSession(ctx, sess); err != nil {
			log.Fatal(err)
		}
		*sessionID = sess.ID
		fmt.Fprintf(os.Stderr, "session %s\n", sess.ID)
	}

	// 3. Run the turn, streaming assistant text to stdout.
	wd, _ := os.Getwd()
	res, err := eng.Orchestrator.Run(ctx, overture.TurnRequest{
		ProjectID:      *projectID,
		ProjectPath:    wd,
		SessionID:      *sessionID,
		UserID:         *userID,
		Prompt:         prompt,
		AgentName:      *agentName,
		Model:          *model,
		CanExecuteCode: *exec,
		Observer: func(ev overture.Event) {
			switch ev.Type {
			case overture.EventTextDelta:
				fmt.Print(ev.Content)
			case overture.EventToolCall:
				fmt.Fprintf(os.Stderr, "\n[tool %s]\n", ev.ToolName)
			case overture.EventError:
				fmt.Fprintf(os.Stderr, "\nerror: %s\n", ev.Content)
			}
		},
	})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("\n\n%s · %d in / %d out · $%.6f\n",
		res.FinishReason, res.Usage.InputTokens, res.Usage.OutputTokens, res.Cost)
}
