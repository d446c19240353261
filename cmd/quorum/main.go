// quorum is the command surface of the orchestrator: submit goals, approve
// plans and patches, query and index the vaults, rate results, and resume
// suspended tasks after a restart.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/term"

	"quorum/pkg/agents"
	"quorum/pkg/config"
	"quorum/pkg/exec"
	"quorum/pkg/ledger"
	"quorum/pkg/logx"
	"quorum/pkg/metrics"
	"quorum/pkg/patch"
	"quorum/pkg/planner"
	"quorum/pkg/proto"
	"quorum/pkg/provider"
	"quorum/pkg/synth"
	"quorum/pkg/vault"
)

const defaultConfigPath = "quorum.yaml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	verb := os.Args[1]
	args := os.Args[2:]

	var err error
	switch verb {
	case "submit":
		err = cmdSubmit(ctx, args)
	case "approve-plan":
		err = cmdApprovePlan(ctx, args)
	case "approve-patch":
		err = cmdApprovePatch(ctx, args)
	case "override":
		err = cmdOverride(args)
	case "cancel":
		err = cmdCancel(args)
	case "resume":
		err = cmdResume(args)
	case "pending":
		err = cmdPending(args)
	case "vault":
		err = cmdVault(ctx, args)
	case "feedback":
		err = cmdFeedback(args)
	case "usage":
		err = cmdUsage(ctx, args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", verb)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`usage: quorum <command> [flags]

  submit <goal>          plan a goal and park it for approval
  approve-plan           approve or reject a pending plan (-task, -reject)
  approve-patch          approve or reject a proposed diff (-patch, -reject)
  override               allow one task past the refinement cap (-task)
  cancel                 cancel a task (-task)
  resume                 rebuild a task's pending state (-task)
  pending                list all open approvals
  vault index            build or refresh a vault index (-vault, -mode, -cleanup)
  vault query            search the vaults directly (-scope, -k) <query>
  feedback               rate a task's handling (-task, -role, -rating, -comment)
  usage                  token usage for a task from Prometheus (-task)

Common flags: -config <path> (default quorum.yaml), -debug
`)
}

// app bundles the wired collaborators behind every verb.
type app struct {
	cfg     config.Config
	ledger  *ledger.Ledger
	manager *exec.Manager
	coord   *vault.Coordinator
	logger  *logx.Logger
}

func newApp(configPath string, debug bool) (*app, error) {
	logx.SetDebug(debug)
	if err := config.LoadConfig(configPath); err != nil {
		return nil, err
	}
	cfg, err := config.GetConfig()
	if err != nil {
		return nil, err
	}

	led, err := ledger.Open(cfg.LedgerPath)
	if err != nil {
		return nil, err
	}

	factory := provider.NewFactory(cfg.Providers, provider.NewPrometheusRecorder())
	chat, err := factory.ChatClient()
	if err != nil {
		return nil, err
	}
	fallbackChat, err := factory.FallbackChatClient()
	if err != nil {
		return nil, err
	}
	embedder, err := factory.EmbeddingClient()
	if err != nil {
		return nil, err
	}
	search := factory.SearchClient()

	tokens, err := provider.NewTokenCounter()
	if err != nil {
		return nil, err
	}

	coord := vault.NewCoordinator(cfg, embedder)
	plnr := planner.New(cfg.Vocabulary, led, coord)

	deps := agents.Deps{
		Chat:          chat,
		Search:        search,
		Tokens:        tokens,
		ContextBudget: cfg.Retrieval.ContextBudget,
	}
	executors := agents.NewExecutors(deps)
	var fallbackExecutors map[proto.AgentRole]agents.Executor
	if fallbackChat != nil {
		fbDeps := deps
		fbDeps.Chat = fallbackChat
		fallbackExecutors = agents.NewExecutors(fbDeps)
	}

	workDir, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	engine := patch.NewGitEngine(workDir)
	engine.Verify = patch.FileExistsVerifier

	manager := exec.NewManager(exec.Options{
		Ledger:            led,
		Planner:           plnr,
		Executors:         executors,
		FallbackExecutors: fallbackExecutors,
		Retriever:         coord,
		Engine:            engine,
		Config:            cfg,
	})

	return &app{
		cfg:     cfg,
		ledger:  led,
		manager: manager,
		coord:   coord,
		logger:  logx.NewLogger("cli"),
	}, nil
}

func (a *app) close() {
	if err := a.ledger.Close(); err != nil {
		a.logger.Warn("ledger close: %v", err)
	}
}

// commonFlags builds a verb's flag set with the shared -config and -debug.
func commonFlags(name string) (*flag.FlagSet, *string, *bool) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	return fs, configPath, debug
}

func cmdSubmit(ctx context.Context, args []string) error {
	fs, configPath, debug := commonFlags("submit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	goal := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if goal == "" {
		return fmt.Errorf("submit needs a goal")
	}

	a, err := newApp(*configPath, *debug)
	if err != nil {
		return err
	}
	defer a.close()

	task, plan, err := a.manager.SubmitGoal(goal)
	if err != nil {
		return err
	}

	fmt.Printf("task %s\n", task.ID)
	printPlan(plan)

	if !stdinIsTerminal() {
		fmt.Printf("\napprove with: quorum approve-plan -task %s\n", task.ID)
		return nil
	}
	approve, err := confirm("approve this plan?")
	if err != nil {
		return err
	}
	outcome, err := a.manager.ApprovePlan(ctx, task.ID, approve)
	if err != nil {
		return err
	}
	return a.reportOutcome(ctx, outcome)
}

func cmdApprovePlan(ctx context.Context, args []string) error {
	fs, configPath, debug := commonFlags("approve-plan")
	taskID := fs.String("task", "", "task ID")
	reject := fs.Bool("reject", false, "reject the plan")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *taskID == "" {
		return fmt.Errorf("-task is required")
	}

	a, err := newApp(*configPath, *debug)
	if err != nil {
		return err
	}
	defer a.close()

	outcome, err := a.manager.ApprovePlan(ctx, *taskID, !*reject)
	if err != nil {
		return err
	}
	return a.reportOutcome(ctx, outcome)
}

func cmdApprovePatch(ctx context.Context, args []string) error {
	fs, configPath, debug := commonFlags("approve-patch")
	patchID := fs.String("patch", "", "patch ID")
	reject := fs.Bool("reject", false, "reject the patch")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *patchID == "" {
		return fmt.Errorf("-patch is required")
	}

	a, err := newApp(*configPath, *debug)
	if err != nil {
		return err
	}
	defer a.close()

	outcome, err := a.manager.ApprovePatch(ctx, *patchID, !*reject)
	if err != nil {
		// An apply failure keeps the task running; report it and go on.
		fmt.Fprintf(os.Stderr, "patch did not apply: %v\n", err)
	}
	if outcome == nil {
		return err
	}
	return a.reportOutcome(ctx, outcome)
}

func cmdOverride(args []string) error {
	fs, configPath, debug := commonFlags("override")
	taskID := fs.String("task", "", "task ID")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *taskID == "" {
		return fmt.Errorf("-task is required")
	}

	a, err := newApp(*configPath, *debug)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.manager.OverrideIterationCap(*taskID); err != nil {
		return err
	}
	fmt.Printf("task %s may now exceed the refinement cap\n", *taskID)
	return nil
}

func cmdCancel(args []string) error {
	fs, configPath, debug := commonFlags("cancel")
	taskID := fs.String("task", "", "task ID")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *taskID == "" {
		return fmt.Errorf("-task is required")
	}

	a, err := newApp(*configPath, *debug)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.manager.Cancel(*taskID); err != nil {
		return err
	}
	fmt.Printf("task %s cancelled\n", *taskID)
	return nil
}

func cmdResume(args []string) error {
	fs, configPath, debug := commonFlags("resume")
	taskID := fs.String("task", "", "task ID")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *taskID == "" {
		return fmt.Errorf("-task is required")
	}

	a, err := newApp(*configPath, *debug)
	if err != nil {
		return err
	}
	defer a.close()

	state, err := a.manager.Resume(*taskID)
	if err != nil {
		return err
	}

	fmt.Printf("task %s: %s", state.Task.ID, state.Task.Status)
	if state.Task.FailReason != "" {
		fmt.Printf(" (%s)", state.Task.FailReason)
	}
	fmt.Println()

	switch {
	case state.AwaitingPlan:
		if state.Plan != nil {
			printPlan(state.Plan)
		}
		fmt.Printf("approve with: quorum approve-plan -task %s\n", state.Task.ID)
	case len(state.PendingPatches) > 0:
		for _, rec := range state.PendingPatches {
			printPatch(rec)
		}
	case state.CompletedResult != nil:
		printFinal(state.CompletedResult)
	}
	return nil
}

func cmdPending(args []string) error {
	fs, configPath, debug := commonFlags("pending")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp(*configPath, *debug)
	if err != nil {
		return err
	}
	defer a.close()

	tasks, patches, err := a.manager.PendingApprovals()
	if err != nil {
		return err
	}
	if len(tasks) == 0 && len(patches) == 0 {
		fmt.Println("nothing awaiting approval")
		return nil
	}
	for _, task := range tasks {
		fmt.Printf("plan   %s  %q\n", task.ID, task.UserQuery)
	}
	for _, rec := range patches {
		fmt.Printf("patch  %s  task %s  %s (iteration %d)\n", rec.ID, rec.TaskID, rec.TargetPath, rec.Iteration)
	}
	return nil
}

func cmdVault(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("vault needs a subcommand: index or query")
	}
	sub := args[0]
	args = args[1:]

	switch sub {
	case "index":
		fs, configPath, debug := commonFlags("vault index")
		name := fs.String("vault", "", "vault name (personal or project)")
		mode := fs.String("mode", string(vault.ModeUpdateNew), "rebuild, update-all, or update-new")
		cleanup := fs.Bool("cleanup", false, "drop chunks of deleted files")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if *name == "" {
			return fmt.Errorf("-vault is required")
		}

		a, err := newApp(*configPath, *debug)
		if err != nil {
			return err
		}
		defer a.close()

		count, err := a.coord.IndexVault(ctx, *name, vault.IndexOptions{
			Mode:           vault.IndexMode(*mode),
			MaxWords:       a.cfg.Retrieval.MaxWords,
			OverlapWords:   a.cfg.Retrieval.OverlapWords,
			BatchSize:      a.cfg.Retrieval.BatchSize,
			CleanupDeleted: *cleanup,
		})
		if err != nil {
			return err
		}
		fmt.Printf("indexed %d chunk(s) in vault %s\n", count, *name)
		return nil

	case "query":
		fs, configPath, debug := commonFlags("vault query")
		scope := fs.String("scope", string(proto.ScopeBoth), "personal, project, or both")
		topK := fs.Int("k", 0, "max results (default from config)")
		if err := fs.Parse(args); err != nil {
			return err
		}
		query := strings.TrimSpace(strings.Join(fs.Args(), " "))
		if query == "" {
			return fmt.Errorf("vault query needs a query")
		}

		a, err := newApp(*configPath, *debug)
		if err != nil {
			return err
		}
		defer a.close()

		chunks, err := a.manager.QueryVault(ctx, proto.RetrievalScope(*scope), query, *topK)
		if err != nil {
			return err
		}
		if len(chunks) == 0 {
			fmt.Println("no relevant context found")
			return nil
		}
		for i, chunk := range chunks {
			heading := chunk.HeadingPath
			if heading == "" {
				heading = "(top)"
			}
			fmt.Printf("[%d] %.3f %s %s :: %s\n    %s\n",
				i+1, chunk.Score, chunk.Vault, chunk.FilePath, heading, vault.CleanSnippet(chunk.Text))
		}
		return nil

	default:
		return fmt.Errorf("unknown vault subcommand %q", sub)
	}
}

func cmdFeedback(args []string) error {
	fs, configPath, debug := commonFlags("feedback")
	taskID := fs.String("task", "", "task ID")
	role := fs.String("role", "", "agent role being rated")
	rating := fs.Int("rating", 0, "rating 1-5")
	comment := fs.String("comment", "", "optional comment")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *taskID == "" || *role == "" {
		return fmt.Errorf("-task and -role are required")
	}

	a, err := newApp(*configPath, *debug)
	if err != nil {
		return err
	}
	defer a.close()

	fb, err := a.manager.SubmitFeedback(*taskID, proto.AgentRole(*role), *rating, *comment)
	if err != nil {
		return err
	}
	fmt.Printf("feedback %s recorded\n", fb.ID)
	return nil
}

func cmdUsage(ctx context.Context, args []string) error {
	fs, configPath, debug := commonFlags("usage")
	taskID := fs.String("task", "", "task ID")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *taskID == "" {
		return fmt.Errorf("-task is required")
	}
	logx.SetDebug(*debug)
	if err := config.LoadConfig(*configPath); err != nil {
		return err
	}
	cfg, err := config.GetConfig()
	if err != nil {
		return err
	}
	if cfg.PrometheusURL == "" {
		return fmt.Errorf("prometheus_url is not configured")
	}

	svc, err := metrics.NewQueryService(cfg.PrometheusURL)
	if err != nil {
		return err
	}
	usage, err := svc.GetTaskMetrics(ctx, *taskID)
	if err != nil {
		return err
	}
	fmt.Printf("task %s: %d requests, %d prompt + %d completion = %d tokens\n",
		usage.TaskID, usage.Requests, usage.PromptTokens, usage.CompletionTokens, usage.TotalTokens)

	byRole, err := svc.GetTaskMetricsByRole(ctx, *taskID)
	if err != nil {
		return err
	}
	for role, m := range byRole {
		fmt.Printf("  %-12s %d tokens\n", role, m.TotalTokens)
	}
	return nil
}

// reportOutcome prints the final answer or walks the user through pending
// patch approvals when running interactively.
func (a *app) reportOutcome(ctx context.Context, outcome *exec.Outcome) error {
	for {
		switch {
		case outcome.Final != nil:
			printFinal(outcome.Final)
			return nil
		case len(outcome.PendingPatches) > 0:
			for _, rec := range outcome.PendingPatches {
				printPatch(rec)
			}
			if !stdinIsTerminal() {
				fmt.Printf("approve with: quorum approve-patch -patch %s\n", outcome.PendingPatches[0].ID)
				return nil
			}
			rec := outcome.PendingPatches[0]
			approve, err := confirm(fmt.Sprintf("apply patch to %s?", rec.TargetPath))
			if err != nil {
				return err
			}
			next, err := a.manager.ApprovePatch(ctx, rec.ID, approve)
			if err != nil && next == nil {
				return err
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "patch did not apply: %v\n", err)
			}
			outcome = next
		default:
			fmt.Printf("task %s: %s", outcome.Task.ID, outcome.Task.Status)
			if outcome.Task.FailReason != "" {
				fmt.Printf(" (%s)", outcome.Task.FailReason)
			}
			fmt.Println()
			return nil
		}
	}
}

func printPlan(plan *proto.Plan) {
	fmt.Printf("plan (%d subtask(s)):\n", len(plan.Subtasks))
	for i, st := range plan.Subtasks {
		fmt.Printf("  %d. [%s] %s (scope %s", i+1, st.AgentRole, st.Goal, st.RetrievalScope)
		if st.RequiresSearch {
			fmt.Print(", search")
		}
		if len(st.DependsOn) > 0 {
			fmt.Printf(", after %v", st.DependsOn)
		}
		fmt.Println(")")
	}
}

func printPatch(rec *proto.PatchRecord) {
	fmt.Printf("patch %s (task %s, iteration %d) -> %s\n", rec.ID, rec.TaskID, rec.Iteration, rec.TargetPath)
	fmt.Println(rec.DiffText)
}

func printFinal(result *synth.Result) {
	fmt.Println(result.Text)
	if len(result.Sources) > 0 {
		fmt.Println("\nsources:")
		for _, src := range result.Sources {
			fmt.Printf("  - %s\n", src)
		}
	}
}

func stdinIsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

func confirm(prompt string) (bool, error) {
	fmt.Printf("%s [y/N] ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}
