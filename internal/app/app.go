package app

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"EloquentChat/internal/engine"
	"EloquentChat/internal/identity"
	"EloquentChat/internal/session"
)

// App is the interactive shell over the reconciliation engine. Plain input
// is sent as a chat turn; lines starting with "/" are commands.
type App struct {
	engine   *engine.Engine
	identity *identity.Provider
	logger   *slog.Logger
}

// New creates the shell.
func New(eng *engine.Engine, id *identity.Provider, logger *slog.Logger) *App {
	return &App{engine: eng, identity: id, logger: logger}
}

// Run bootstraps the engine and enters the read loop.
func (a *App) Run() error {
	ctx := context.Background()

	a.engine.OnChange(func(v engine.View) {
		a.logger.Debug("view changed",
			"loading", v.Loading,
			"sending", v.Sending,
			"sessions", len(v.SessionList),
			"messages", len(v.Messages))
	})

	if err := a.engine.Bootstrap(ctx); err != nil {
		a.logger.Warn("initial bootstrap failed", "error", err)
		fmt.Printf("Warning: could not reach the chat service: %v\n", err)
	}

	fmt.Println("=== Eloquent ===")
	a.printStatus()
	fmt.Println("Type /help for commands, /quit to exit")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("You: ")
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			quit, err := a.handleCommand(ctx, input)
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				a.logger.Error("command error", "error", err)
			}
			if quit {
				break
			}
			continue
		}

		if err := a.sendTurn(ctx, input); err != nil {
			fmt.Printf("Error: %v\n", err)
			a.logger.Error("failed to send message", "error", err)
		}
	}

	fmt.Println("Goodbye!")
	return nil
}

func (a *App) sendTurn(ctx context.Context, text string) error {
	v := a.engine.View()
	if v.Sending {
		fmt.Println("Still waiting for the previous reply...")
		return nil
	}
	if v.CurrentSession == nil {
		// Mirror the sidebar's "new chat" affordance: start one on demand.
		if err := a.engine.NewSession(ctx, ""); err != nil {
			return err
		}
	}

	if err := a.engine.Send(ctx, text); err != nil {
		return err
	}

	v = a.engine.View()
	if len(v.Messages) > 0 {
		last := v.Messages[len(v.Messages)-1]
		if last.Role == session.RoleAssistant {
			fmt.Printf("Bot: %s\n\n", last.Content)
		}
	}
	return nil
}

func (a *App) handleCommand(ctx context.Context, cmd string) (bool, error) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return false, nil
	}

	switch parts[0] {
	case "/quit", "/exit":
		return true, nil

	case "/login":
		if len(parts) < 3 {
			return false, fmt.Errorf("usage: /login <email> <password>")
		}
		if err := a.engine.Login(ctx, parts[1], parts[2]); err != nil {
			return false, err
		}
		fmt.Println("Logged in. Reconciling sessions...")
		return false, nil

	case "/register":
		if len(parts) < 3 {
			return false, fmt.Errorf("usage: /register <email> <password>")
		}
		if err := a.engine.Register(ctx, parts[1], parts[2]); err != nil {
			return false, err
		}
		fmt.Println("Registered and logged in.")
		return false, nil

	case "/logout":
		a.engine.Logout()
		fmt.Println("Logged out.")
		return false, nil

	case "/whoami":
		if user := a.identity.CurrentUser(); user != nil {
			fmt.Printf("Logged in as %s (%s)\n", user.Email, user.ID)
		} else if a.identity.Authenticated() {
			fmt.Println("Token present, identity not resolved yet")
		} else {
			fmt.Println("Anonymous")
		}
		return false, nil

	case "/sessions":
		a.printSessions()
		return false, nil

	case "/open":
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: /open <session-id>")
		}
		if err := a.engine.Load(ctx, parts[1]); err != nil {
			return false, err
		}
		a.printTranscript()
		return false, nil

	case "/new":
		title := strings.TrimSpace(strings.TrimPrefix(cmd, "/new"))
		if err := a.engine.NewSession(ctx, title); err != nil {
			return false, err
		}
		a.printStatus()
		return false, nil

	case "/help":
		fmt.Println("Available commands:")
		fmt.Println("  /login <email> <password>    - Log in and claim this device's sessions")
		fmt.Println("  /register <email> <password> - Create an account and log in")
		fmt.Println("  /logout                      - Log out and clear conversation state")
		fmt.Println("  /whoami                      - Show the current identity")
		fmt.Println("  /sessions                    - List known sessions")
		fmt.Println("  /open <session-id>           - Switch to a session")
		fmt.Println("  /new [title]                 - Start a new session")
		fmt.Println("  /quit, /exit                 - Exit")
		return false, nil

	default:
		return false, fmt.Errorf("unknown command: %s", parts[0])
	}
}

func (a *App) printStatus() {
	v := a.engine.View()
	if v.CurrentSession != nil {
		fmt.Printf("Session: %s (%s)\n", v.CurrentSession.Title, v.CurrentSession.ID)
	} else {
		fmt.Println("Session: none (send a message or /new to start one)")
	}
}

func (a *App) printSessions() {
	v := a.engine.View()
	if len(v.SessionList) == 0 {
		fmt.Println("No sessions yet.")
		return
	}
	for _, s := range v.SessionList {
		marker := " "
		if v.CurrentSession != nil && v.CurrentSession.ID == s.ID {
			marker = "*"
		}
		fmt.Printf("%s %s  %s\n", marker, s.ID, s.Title)
	}
}

func (a *App) printTranscript() {
	v := a.engine.View()
	a.printStatus()
	for _, m := range v.Messages {
		switch m.Role {
		case session.RoleAssistant:
			fmt.Printf("Bot: %s\n", m.Content)
		default:
			fmt.Printf("You: %s\n", m.Content)
		}
	}
	fmt.Println()
}
