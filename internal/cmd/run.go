package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/pi-runtime/agentteams/internal/config"
	"github.com/pi-runtime/agentteams/internal/monitor"
	"github.com/pi-runtime/agentteams/internal/orchestrator"
	"github.com/pi-runtime/agentteams/internal/patterns"
	"github.com/pi-runtime/agentteams/internal/team"
)

var runCmd = &cobra.Command{
	Use:   "run <task...>",
	Short: "Dispatch a task to one or more agent teams",
	Long: `Run dispatches the task to every selected team. Teams are selected
with --team (by id) or --tags (glob-matched skill tags); with neither,
the current team from storage is used, falling back to all enabled teams.

Each teammate answers independently; --rounds adds communication rounds
where teammates see their partners' claims, and --retry-rounds re-runs
teammates that failed with recoverable errors.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

var (
	runTeams       []string
	runTags        []string
	runStrategy    string
	runParallel    int
	runRounds      int
	runRetryRounds int
	runTimeout     time.Duration
	runMonitor     bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringSliceVar(&runTeams, "team", nil, "team id to run (repeatable)")
	runCmd.Flags().StringSliceVar(&runTags, "tags", nil, "select teams by skill tag glob (repeatable)")
	runCmd.Flags().StringVar(&runStrategy, "strategy", "", "dispatch strategy: parallel or sequential")
	runCmd.Flags().IntVar(&runParallel, "parallel", 0, "max teams running concurrently (0 = all selected)")
	runCmd.Flags().IntVar(&runRounds, "rounds", -1, "communication rounds (-1 = configured default)")
	runCmd.Flags().IntVar(&runRetryRounds, "retry-rounds", -1, "failed-member retry rounds (-1 = configured default)")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "per-teammate timeout (0 = configured default)")
	runCmd.Flags().BoolVar(&runMonitor, "monitor", false, "render a live monitor (single team, interactive terminal)")
}

func runRun(cmd *cobra.Command, args []string) error {
	task := strings.Join(args, " ")

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	rt, err := orchestrator.NewRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()
	rt.Sinks = append(rt.Sinks, patterns.NewStore(cfg.Paths.PatternsFile, patterns.DefaultMaxPatterns))

	selected, err := selectTeams(rt)
	if err != nil {
		return err
	}

	strategy := team.Strategy(runStrategy)
	if runStrategy != "" && !strategy.IsValid() {
		return fmt.Errorf("unknown strategy %q (want parallel or sequential)", runStrategy)
	}

	commRounds := runRounds
	if commRounds < 0 {
		commRounds = cfg.Runtime.DefaultCommunicationRounds
	}
	retryRounds := runRetryRounds
	if retryRounds < 0 {
		retryRounds = cfg.Runtime.DefaultFailedMemberRetryRounds
	}

	reqs := make([]orchestrator.RunRequest, len(selected))
	for i, def := range selected {
		reqs[i] = orchestrator.RunRequest{
			Team:                    def,
			Task:                    task,
			Strategy:                strategy,
			CommunicationRounds:     commRounds,
			FailedMemberRetryRounds: retryRounds,
			Timeout:                 runTimeout,
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	preq := orchestrator.ParallelRequest{Teams: reqs, TeamParallelLimit: runParallel}

	useMonitor := runMonitor && len(selected) == 1 && isatty.IsTerminal(os.Stdout.Fd())
	var res *orchestrator.ParallelResult
	if useMonitor {
		mon := monitor.New()
		preq.Observers = []orchestrator.RunObserver{mon}
		var runErr error
		go func() {
			res, runErr = rt.RunTeams(ctx, preq)
			mon.Quit()
		}()
		if err := mon.Run(); err != nil {
			return err
		}
		if runErr != nil {
			return runErr
		}
	} else {
		preq.Observers = []orchestrator.RunObserver{monitor.NewLineSink(os.Stdout)}
		res, err = rt.RunTeams(ctx, preq)
		if err != nil {
			return err
		}
	}

	printRunSummary(os.Stdout, res)
	if res.Outcome.IsFailure() {
		return fmt.Errorf("run finished with outcome %s", res.Outcome)
	}
	return nil
}

// selectTeams resolves the --team/--tags flags against the loaded
// definitions. With neither flag the current team is used if set,
// otherwise all enabled teams.
func selectTeams(rt *orchestrator.Runtime) ([]team.Definition, error) {
	defs, err := team.LoadDefinitions(rt.DefinitionsDir())
	if err != nil {
		return nil, err
	}
	if err := rt.Storage.SyncTeams(defs); err != nil {
		return nil, err
	}

	if len(runTeams) > 0 {
		byID := make(map[string]team.Definition, len(defs))
		for _, def := range defs {
			byID[def.ID] = def
		}
		var selected []team.Definition
		for _, id := range runTeams {
			def, ok := byID[id]
			if !ok {
				return nil, fmt.Errorf("unknown team %q", id)
			}
			selected = append(selected, def)
		}
		return selected, nil
	}

	if len(runTags) > 0 {
		selected, err := team.Select(defs, runTags)
		if err != nil {
			return nil, err
		}
		if len(selected) == 0 {
			return nil, fmt.Errorf("no enabled teams match tags %v", runTags)
		}
		return selected, nil
	}

	if current, err := rt.Storage.CurrentTeamID(); err == nil && current != "" {
		for _, def := range defs {
			if def.ID == current && def.Enabled {
				return []team.Definition{def}, nil
			}
		}
	}

	var enabled []team.Definition
	for _, def := range defs {
		if def.Enabled {
			enabled = append(enabled, def)
		}
	}
	if len(enabled) == 0 {
		return nil, fmt.Errorf("no enabled teams under %s", rt.DefinitionsDir())
	}
	return enabled, nil
}

func printRunSummary(w io.Writer, res *orchestrator.ParallelResult) {
	teammates := 0
	for _, run := range res.Runs {
		teammates += run.Record.MemberCount
	}
	status := "completed"
	if res.Outcome.IsFailure() {
		status = "failed"
	}
	fmt.Fprintf(w, "Parallel agent team run %s (%d teams, %d teammates, outcome=%s)\n",
		status, len(res.Runs), teammates, res.Outcome)

	for _, run := range res.Runs {
		badge := "[ok]"
		if run.Record.Status == team.RunFailed {
			badge = "[failed]"
		}
		fmt.Fprintf(w, "  %s %s: verdict=%s confidence=%.2f outcome=%s run=%s\n",
			badge, run.Record.TeamID, run.Judge.Verdict, run.Judge.Confidence, run.Outcome, run.Record.RunID)
		if run.Record.Status == team.RunFailed {
			fmt.Fprintf(w, "      uncertainty: uIntra=%.2f uInter=%.2f uSys=%.2f\n",
				run.Judge.UIntra, run.Judge.UInter, run.Judge.USys)
			if len(run.Judge.CollapseSignals) > 0 {
				fmt.Fprintf(w, "      collapse: %s\n", strings.Join(run.Judge.CollapseSignals, ", "))
			}
			fmt.Fprintf(w, "      reason: %s\n", run.Judge.Reason)
			if run.Judge.NextStep != "" {
				fmt.Fprintf(w, "      next: %s\n", run.Judge.NextStep)
			}
		}
	}
	if res.RetryRecommended {
		fmt.Fprintln(w, "  retry recommended")
	}
}
