package main

import (
	"fmt"
	"time"

	"github.com/ashureev/missiontalk/internal/domain"
	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect stored sessions",
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show the state and transcript of a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionShow,
}

type sessionDump struct {
	ID        string                 `json:"id" yaml:"id"`
	UserID    string                 `json:"userId" yaml:"userId"`
	Scenario  string                 `json:"scenario" yaml:"scenario"`
	Status    domain.Status          `json:"status" yaml:"status"`
	StartTime time.Time              `json:"startTime" yaml:"startTime"`
	EndTime   *time.Time             `json:"endTime,omitempty" yaml:"endTime,omitempty"`
	Missions  map[string]missionDump `json:"missions" yaml:"missions"`
	History   []turnDump             `json:"history" yaml:"history"`
}

type missionDump struct {
	Description string     `json:"description" yaml:"description"`
	Completed   bool       `json:"completed" yaml:"completed"`
	CompletedAt *time.Time `json:"completedAt,omitempty" yaml:"completedAt,omitempty"`
	StampID     string     `json:"stampId" yaml:"stampId"`
}

type turnDump struct {
	Role string `json:"role" yaml:"role"`
	Text string `json:"text" yaml:"text"`
}

func runSessionShow(cmd *cobra.Command, args []string) error {
	repo, _, err := openStore()
	if err != nil {
		return err
	}
	defer repo.Close()

	sess, err := repo.GetSession(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("read session %s: %w", args[0], err)
	}
	if sess == nil {
		return fmt.Errorf("session %s not found", args[0])
	}
	return printValue(cmd.OutOrStdout(), dumpSession(sess))
}

func dumpSession(sess *domain.Session) sessionDump {
	d := sessionDump{
		ID:        sess.ID,
		UserID:    sess.UserID,
		Scenario:  sess.ScenarioID,
		Status:    sess.Status,
		StartTime: sess.StartedAt,
		EndTime:   sess.EndedAt,
		Missions:  make(map[string]missionDump, len(sess.Missions)),
		History:   make([]turnDump, 0, len(sess.History)),
	}
	for id, m := range sess.Missions {
		d.Missions[id] = missionDump{
			Description: m.Description,
			Completed:   m.Completed,
			CompletedAt: m.CompletedAt,
			StampID:     m.StampID,
		}
	}
	for _, t := range sess.History {
		d.History = append(d.History, turnDump{Role: string(t.Role), Text: t.Text})
	}
	return d
}
