package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/ashureev/missiontalk/internal/agent"
	"github.com/ashureev/missiontalk/internal/domain"
	"github.com/ashureev/missiontalk/internal/session"
	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
)

var chatUser string

var chatCmd = &cobra.Command{
	Use:   "chat <scenario-id>",
	Short: "Start a session and chat with the bot from the terminal",
	Args:  cobra.ExactArgs(1),
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatUser, "user", "local-operator", "User id recorded on the session")
}

// chatService is the part of the session workflow the REPL uses.
type chatService interface {
	StartConversation(ctx context.Context, userID, scenarioID string) (*session.StartResult, error)
	SendMessage(ctx context.Context, userID, sessionID, message string) (*session.TurnResult, error)
}

// lineReader yields one line of user input per call.
type lineReader interface {
	Readline() (string, error)
}

func runChat(cmd *cobra.Command, args []string) error {
	repo, cfg, err := openStore()
	if err != nil {
		return err
	}
	defer repo.Close()

	ctx := cmd.Context()
	logger := slog.Default()

	agentSvc, err := agent.NewService(ctx, cfg.Agent(), logger)
	if err != nil {
		return fmt.Errorf("init generation backend: %w", err)
	}
	defer agentSvc.Close()
	if !agentSvc.Configured() {
		fmt.Fprintln(cmd.ErrOrStderr(), "warning: generation backend not configured, replies will be fallbacks")
	}

	orch := session.NewOrchestrator(agentSvc.Responder(), agentSvc.Analyzer(), cfg.Generation.Timeout, logger)
	svc := session.NewService(repo, orch, nil, logger)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "you> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "/quit",
	})
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	defer rl.Close()

	return chatLoop(ctx, svc, rl, cmd.OutOrStdout(), chatUser, args[0])
}

// chatLoop starts a session and relays lines until EOF, interrupt or /quit.
func chatLoop(ctx context.Context, svc chatService, in lineReader, out io.Writer, userID, scenarioID string) error {
	start, err := svc.StartConversation(ctx, userID, scenarioID)
	if err != nil {
		return fmt.Errorf("start conversation: %w", err)
	}
	sess := start.Session

	fmt.Fprintf(out, "%s (session %s)\n", sess.ScenarioName, start.SessionID)
	fmt.Fprintf(out, "%s\n", sess.ScenarioDescription)
	printMissions(out, sess.Missions)
	fmt.Fprintf(out, "\nbot> %s\n", sess.BotInitialMessage)

	for {
		line, err := in.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		}

		res, err := svc.SendMessage(ctx, userID, start.SessionID, line)
		if err != nil {
			return fmt.Errorf("send message: %w", err)
		}
		if res.BotMessage != "" {
			fmt.Fprintf(out, "bot> %s\n", res.BotMessage)
		}
		for _, id := range res.NewlyCompleted {
			fmt.Fprintf(out, "  ★ mission complete: %s\n", id)
		}
		if res.Ended {
			fmt.Fprintln(out, "  session ended")
		}
	}
}

func printMissions(out io.Writer, missions map[string]domain.Mission) {
	ids := make([]string, 0, len(missions))
	for id := range missions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(out, "  [ ] %s: %s\n", id, missions[id].Description)
	}
}
