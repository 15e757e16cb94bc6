package main

import (
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/ashureev/missiontalk/internal/scenario"
	"github.com/spf13/cobra"
)

var scenarioCmd = &cobra.Command{
	Use:   "scenario",
	Short: "Import, list and validate scenarios",
}

// --- import ---

var scenarioImportCmd = &cobra.Command{
	Use:   "import <file-or-dir>...",
	Short: "Validate scenario YAML files and store them",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runScenarioImport,
}

func runScenarioImport(cmd *cobra.Command, args []string) error {
	repo, _, err := openStore()
	if err != nil {
		return err
	}
	defer repo.Close()

	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return fmt.Errorf("stat %s: %w", arg, err)
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}
		files, err := scenario.Files(arg)
		if err != nil {
			return err
		}
		paths = append(paths, files...)
	}

	imported, errs := scenario.ImportFiles(cmd.Context(), repo, paths, slog.Default())
	out := cmd.OutOrStdout()
	for _, id := range imported {
		fmt.Fprintf(out, "✓ imported %s\n", id)
	}
	for _, e := range errs {
		fmt.Fprintf(cmd.ErrOrStderr(), "✗ %v\n", e)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%d of %d scenario file(s) failed", len(errs), len(paths))
	}
	return nil
}

// --- list ---

var scenarioListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored scenarios",
	Args:  cobra.NoArgs,
	RunE:  runScenarioList,
}

type scenarioRow struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Missions    []string `json:"missions" yaml:"missions"`
}

func runScenarioList(cmd *cobra.Command, _ []string) error {
	repo, _, err := openStore()
	if err != nil {
		return err
	}
	defer repo.Close()

	scenarios, err := repo.ListScenarios(cmd.Context())
	if err != nil {
		return fmt.Errorf("list scenarios: %w", err)
	}

	rows := make([]scenarioRow, 0, len(scenarios))
	for _, sc := range scenarios {
		missions := make([]string, 0, len(sc.InitialMissions))
		for id := range sc.InitialMissions {
			missions = append(missions, id)
		}
		sort.Strings(missions)
		rows = append(rows, scenarioRow{
			ID:          sc.ID,
			Name:        sc.Name(),
			Description: sc.UserDescription(),
			Missions:    missions,
		})
	}
	return printValue(cmd.OutOrStdout(), rows)
}

// --- schema ---

var scenarioSchemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON Schema for scenario documents",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		data, err := scenario.GenerateJSONSchema()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return err
	},
}

// --- validate ---

var scenarioValidateCmd = &cobra.Command{
	Use:   "validate <file>...",
	Short: "Validate scenario YAML files without storing them",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runScenarioValidate,
}

func runScenarioValidate(cmd *cobra.Command, args []string) error {
	failed := 0
	for _, path := range args {
		sc, err := scenario.ParseFile(path)
		if err != nil {
			failed++
			fmt.Fprintf(cmd.ErrOrStderr(), "✗ %s\n", path)
			verrs := scenario.ValidationErrors(err)
			if len(verrs) == 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "    %v\n", err)
			}
			for i, e := range verrs {
				fmt.Fprintf(cmd.ErrOrStderr(), "  %d. [%s] %s\n", i+1, e.Phase, e.Message)
				if e.Path != "" {
					fmt.Fprintf(cmd.ErrOrStderr(), "     at: %s\n", e.Path)
				}
			}
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ %s is valid (%s, %d missions)\n", path, sc.ID, len(sc.InitialMissions))
	}
	if failed > 0 {
		return fmt.Errorf("validation failed for %d file(s)", failed)
	}
	return nil
}
