package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pi-runtime/agentteams/internal/config"
	"github.com/pi-runtime/agentteams/internal/team"
	"github.com/pi-runtime/agentteams/internal/util"
)

var teamsCmd = &cobra.Command{
	Use:   "teams",
	Short: "Manage agent team definitions",
	Long: `Commands for listing and configuring agent teams. Definitions are
markdown files with YAML frontmatter under .pi/agent-teams/definitions;
enabled state and the current team live in storage.json next to them.`,
}

var teamsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all teams",
	RunE:  runTeamsList,
}

var teamsShowCmd = &cobra.Command{
	Use:   "show <team-id>",
	Short: "Show one team's roster and tags",
	Args:  cobra.ExactArgs(1),
	RunE:  runTeamsShow,
}

var teamsEnableCmd = &cobra.Command{
	Use:   "enable <team-id>",
	Short: "Enable a team",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setTeamEnabled(args[0], true)
	},
}

var teamsDisableCmd = &cobra.Command{
	Use:   "disable <team-id>",
	Short: "Disable a team",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setTeamEnabled(args[0], false)
	},
}

var teamsWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the definitions directory and report changes",
	Long: `Watch re-reads the definitions directory whenever a definition file
changes and prints the resulting team list. Useful while hand-editing
definition files.`,
	RunE: runTeamsWatch,
}

func init() {
	rootCmd.AddCommand(teamsCmd)
	teamsCmd.AddCommand(teamsListCmd)
	teamsCmd.AddCommand(teamsShowCmd)
	teamsCmd.AddCommand(teamsEnableCmd)
	teamsCmd.AddCommand(teamsDisableCmd)
	teamsCmd.AddCommand(teamsWatchCmd)
}

// loadTeams reads definitions from disk and syncs them into storage so
// the list reflects both sources.
func loadTeams() ([]team.Definition, *team.Storage, error) {
	cfg := config.Get()
	storage := team.NewStorage(cfg.Paths.BaseDir, cfg.Runtime.MaxRunsToKeep)

	defs, err := team.LoadDefinitions(filepath.Join(cfg.Paths.BaseDir, "definitions"))
	if err != nil {
		return nil, nil, err
	}
	if err := storage.SyncTeams(defs); err != nil {
		return nil, nil, err
	}
	return defs, storage, nil
}

func runTeamsList(cmd *cobra.Command, args []string) error {
	defs, storage, err := loadTeams()
	if err != nil {
		return err
	}
	if len(defs) == 0 {
		fmt.Println("No teams defined.")
		return nil
	}

	current, err := storage.CurrentTeamID()
	if err != nil {
		return err
	}

	for _, def := range defs {
		marker := " "
		if def.ID == current {
			marker = "*"
		}
		state := "enabled"
		if !def.Enabled {
			state = "disabled"
		}
		fmt.Printf("%s %-20s %-8s %2d members  %s\n",
			marker, def.ID, state, len(def.Members), strings.Join(def.AllTags(), ","))
	}
	return nil
}

func runTeamsShow(cmd *cobra.Command, args []string) error {
	defs, _, err := loadTeams()
	if err != nil {
		return err
	}
	for _, def := range defs {
		if def.ID != args[0] {
			continue
		}
		fmt.Printf("%s (%s)\n", def.Name, def.ID)
		if def.Description != "" {
			fmt.Println(def.Description)
		}
		fmt.Printf("enabled: %v  tags: %s\n\n", def.Enabled, strings.Join(def.AllTags(), ","))
		for _, m := range def.Members {
			state := ""
			if !m.Enabled {
				state = " (disabled)"
			}
			model := m.Model
			if m.Provider != "" {
				model = m.Provider + "/" + model
			}
			fmt.Printf("  %-12s %-16s %s%s\n", m.ID, m.Role, model, state)
			if m.Description != "" {
				fmt.Printf("               %s\n", util.TruncateString(util.SingleLine(m.Description), 80))
			}
		}
		return nil
	}
	return fmt.Errorf("unknown team %q", args[0])
}

func runTeamsWatch(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	dir := filepath.Join(cfg.Paths.BaseDir, "definitions")

	watcher, err := team.NewWatcher(dir, func(defs []team.Definition, err error) {
		if err != nil {
			fmt.Printf("reload error: %v\n", err)
			return
		}
		fmt.Printf("definitions reloaded: %d teams\n", len(defs))
		for _, def := range defs {
			state := "enabled"
			if !def.Enabled {
				state = "disabled"
			}
			fmt.Printf("  %-20s %-8s %d members\n", def.ID, state, len(def.Members))
		}
	})
	if err != nil {
		return err
	}
	watcher.Start()
	defer watcher.Stop()

	fmt.Printf("Watching %s (ctrl+c to stop)\n", dir)
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	<-ctx.Done()
	return nil
}

func setTeamEnabled(teamID string, enabled bool) error {
	_, storage, err := loadTeams()
	if err != nil {
		return err
	}
	if err := storage.SetTeamEnabled(teamID, enabled); err != nil {
		return err
	}
	state := "enabled"
	if !enabled {
		state = "disabled"
	}
	fmt.Printf("Team %s %s.\n", teamID, state)
	return nil
}
