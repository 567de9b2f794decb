package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"caseflow/internal/app"
	"caseflow/internal/config"
	"caseflow/internal/db"
	"caseflow/internal/domain"
	"caseflow/internal/engine"
	"caseflow/internal/metrics"
	"caseflow/internal/repo"
	"caseflow/internal/scheduler"
	"caseflow/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "caseflow",
	Short: "Caseflow CLI",
	Long: `Caseflow runs the supervision case workflow engine.
Core concepts:
- Workspace: the .caseflow directory holding the database; caseflow.yml next to it seeds rules, questions and templates.
- Automation rules: a date or event trigger plus optional conditions; a firing rule creates one task per episode and rule.
- Automation pass: the nightly sweep over every case, with a catch-up window for days the pass missed.
- Assessments: Draft sessions prefilled from the case and the latest completed assessment within the look-back window; submit scores them and stamps the risk level on the active episode.
- Workflows: documents move through the transfer state table or the generic Draft/Submitted/Approved flow; every attempt is audited.
- Event log: the history of changes, view with 'caseflow log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CASEFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().Int("busy-timeout", 5000, "sqlite busy timeout in milliseconds")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("busy-timeout", rootCmd.PersistentFlags().Lookup("busy-timeout"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(officerCmd())
	rootCmd.AddCommand(caseCmd())
	rootCmd.AddCommand(automationCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(assessmentCmd())
	rootCmd.AddCommand(workflowCmd())
	rootCmd.AddCommand(rbacCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(schedulerCmd())
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write caseflow.yml and seed the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rules, err := e.ListRules(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"config": path, "database": db.Path(viper.GetString("workspace")), "rules": len(rules)})
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing caseflow.yml")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "caseflow.yml holds runtime settings (catch-up window, look-back window, redis, webhooks, roles) and the catalog of rules, questions and templates. The catalog is copied into the database on first use or with 'config import'.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configImportCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate caseflow.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := file
			if path == "" {
				path = config.Path(viper.GetString("workspace"))
			}
			_, err := config.FromFile(path)
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "config file (defaults to the workspace caseflow.yml)")
	return cmd
}

func configImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Upsert the catalog of a config file into the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				cfg := e.Config
				if file != "" {
					loaded, err := config.FromFile(file)
					if err != nil {
						return err
					}
					cfg = loaded
				}
				summary, err := e.ImportCatalog(ctx, cfg, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(summary)
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "config file (defaults to the workspace caseflow.yml)")
	return cmd
}

func officerCmd() *cobra.Command {
	off := &cobra.Command{Use: "officer", Short: "Manage officer profiles"}
	var o engine.OfficerOptions
	add := &cobra.Command{
		Use:   "add",
		Short: "Register an officer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				created, err := e.CreateOfficer(ctx, o, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(created)
			})
		},
	}
	add.Flags().StringVar(&o.ID, "id", "", "officer id (generated when empty)")
	add.Flags().StringVar(&o.UserID, "user", "", "user account id")
	add.Flags().StringVar(&o.SupervisorID, "supervisor", "", "supervising officer id")
	add.Flags().StringVar(&o.BadgeNumber, "badge", "", "badge number")
	add.Flags().StringVar(&o.FirstName, "first-name", "", "first name")
	add.Flags().StringVar(&o.LastName, "last-name", "", "last name")
	add.Flags().StringVar(&o.Location, "location", "", "office location")
	_ = add.MarkFlagRequired("user")
	off.AddCommand(add)
	return off
}

func caseCmd() *cobra.Command {
	cs := &cobra.Command{Use: "case", Short: "Manage offenders and episodes"}
	var opts engine.CaseOptions
	add := &cobra.Command{
		Use:   "add",
		Short: "Register an offender and optionally open an episode",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.CreateCase(ctx, opts, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	add.Flags().StringVar(&opts.Offender.ID, "id", "", "offender id (generated when empty)")
	add.Flags().StringVar(&opts.Offender.BadgeID, "badge", "", "badge id")
	add.Flags().StringVar(&opts.Offender.FirstName, "first-name", "", "first name")
	add.Flags().StringVar(&opts.Offender.LastName, "last-name", "", "last name")
	add.Flags().StringVar(&opts.Offender.DOB, "dob", "", "date of birth (YYYY-MM-DD)")
	add.Flags().StringVar(&opts.Offender.Gender, "gender", "", "gender")
	add.Flags().StringVar(&opts.Offender.ReleaseDate, "release-date", "", "release date (YYYY-MM-DD)")
	add.Flags().StringVar(&opts.Offender.CSEDDate, "csed-date", "", "supervision expiration date (YYYY-MM-DD)")
	add.Flags().StringVar(&opts.Offender.EmploymentStatus, "employment", "", "employment status")
	add.Flags().StringVar(&opts.EpisodeStart, "episode-start", "", "open an Active episode starting on this date")
	add.Flags().StringVar(&opts.OfficerID, "officer", "", "assigned officer id")
	add.Flags().StringVar(&opts.RiskLevelAtStart, "risk", "", "risk level at start")
	cs.AddCommand(add)

	show := &cobra.Command{
		Use:   "show <offender-id>",
		Short: "Show an offender with its active episode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.GetCase(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cs.AddCommand(show)
	return cs
}

func automationCmd() *cobra.Command {
	auto := &cobra.Command{
		Use:   "automation",
		Short: "Run and manage automation rules",
		Long:  "A date rule fires when its anchor date plus offset falls inside the catch-up window ending today; an event rule fires when its event is reported for an offender. Firing twice for the same episode never creates a second task.",
	}
	auto.AddCommand(automationRunCmd())
	auto.AddCommand(automationEventCmd())
	auto.AddCommand(automationRulesCmd())
	auto.AddCommand(automationRuleSaveCmd())
	auto.AddCommand(automationRuleDeleteCmd())
	return auto
}

func automationRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the automation pass now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				report, err := e.RunAutomationPass(ctx)
				if err != nil {
					return err
				}
				return printReport(report)
			})
		},
	}
}

func automationEventCmd() *cobra.Command {
	var event, offender string
	cmd := &cobra.Command{
		Use:   "event",
		Short: "Fire event rules for one offender",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				report, err := e.RunEventAutomations(ctx, event, offender, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printReport(report)
			})
		},
	}
	cmd.Flags().StringVar(&event, "event", "", "event name (e.g. positive_ua)")
	cmd.Flags().StringVar(&offender, "offender", "", "offender id")
	_ = cmd.MarkFlagRequired("event")
	_ = cmd.MarkFlagRequired("offender")
	return cmd
}

func automationRulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "List automation rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				list, err := e.ListRules(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(list)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Name", "Trigger", "Offset", "Conditions", "Priority", "Active"})
				for _, r := range list {
					tw.AppendRow(table.Row{r.Name, r.TriggerField, fmt.Sprintf("%d %s", r.TriggerOffset, r.TriggerDirection), len(r.Conditions), r.TaskPriority, r.IsActive})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func automationRuleSaveCmd() *cobra.Command {
	var opts engine.RuleOptions
	var conditions []string
	var inactive bool
	cmd := &cobra.Command{
		Use:   "save",
		Short: "Create or replace a rule by name",
		Long:  "Conditions are field:operator:value, e.g. --condition risk_level:equals:High.",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, raw := range conditions {
				parts := strings.SplitN(raw, ":", 3)
				if len(parts) != 3 {
					return fmt.Errorf("condition %q: want field:operator:value", raw)
				}
				opts.Conditions = append(opts.Conditions, domain.Condition{Field: parts[0], Operator: parts[1], Value: parts[2]})
			}
			opts.Active = !inactive
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				r, err := e.SaveRule(ctx, opts, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "rule name")
	cmd.Flags().StringVar(&opts.TriggerField, "trigger", "", "trigger field or event name")
	cmd.Flags().IntVar(&opts.TriggerOffset, "offset", 0, "days from the anchor date")
	cmd.Flags().StringVar(&opts.TriggerDirection, "direction", "after", "before or after the anchor date")
	cmd.Flags().StringArrayVar(&conditions, "condition", nil, "condition field:operator:value (repeatable)")
	cmd.Flags().StringVar(&opts.TaskTitle, "title", "", "task title")
	cmd.Flags().StringVar(&opts.TaskDescription, "description", "", "task description")
	cmd.Flags().StringVar(&opts.TaskPriority, "priority", "Normal", "task priority")
	cmd.Flags().IntVar(&opts.DueOffset, "due-offset", 0, "days from the firing date to the due date")
	cmd.Flags().BoolVar(&inactive, "inactive", false, "save the rule disabled")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("trigger")
	return cmd
}

func automationRuleDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <rule-id>",
		Short: "Delete a rule; tasks it created are kept",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				r, err := e.DeleteRule(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(r)
				}
				fmt.Printf("deleted rule %s (%s)\n", r.Name, r.ID)
				return nil
			})
		},
	}
}

func taskCmd() *cobra.Command {
	tc := &cobra.Command{Use: "task", Short: "Inspect tasks"}
	var f repo.TaskFilters
	list := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.Repo.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Offender", "Due", "Priority", "Status", "Officer"})
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.ID, t.Title, t.OffenderID, t.DueDate, t.Priority, t.Status, t.AssignedOfficerID})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&f.EpisodeID, "episode", "", "episode filter")
	list.Flags().StringVar(&f.OffenderID, "offender", "", "offender filter")
	list.Flags().StringVar(&f.AssigneeID, "assignee", "", "assigned officer filter")
	list.Flags().StringVar(&f.Status, "status", "", "status filter")
	list.Flags().IntVar(&f.Limit, "limit", 100, "max rows")
	tc.AddCommand(list)
	return tc
}

func assessmentCmd() *cobra.Command {
	as := &cobra.Command{
		Use:   "assessment",
		Short: "Risk assessments",
		Long:  "init opens a Draft dated today, prefilled from the case record and the subject's most recent completed session (any tool) within the look-back window. submit scores the answers, applies an optional override and stamps the final level on the active episode.",
	}
	as.AddCommand(assessmentInitCmd())
	as.AddCommand(assessmentShowCmd())
	as.AddCommand(assessmentAnswerCmd())
	as.AddCommand(assessmentScoreCmd())
	as.AddCommand(assessmentSubmitCmd())
	as.AddCommand(assessmentQuestionsCmd())
	as.AddCommand(assessmentTypesCmd())
	return as
}

func assessmentInitCmd() *cobra.Command {
	var subject, tool string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Start a prefilled assessment",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				form, err := e.InitAssessment(ctx, subject, tool, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(form)
				}
				fmt.Printf("session %s (%s, %s)\n", form.Session.ID, form.Session.ToolName, form.Session.Date)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Tag", "Question", "Value", "Source"})
				for _, f := range form.Fields {
					value := ""
					if f.Value != nil {
						value = fmt.Sprint(f.Value)
					}
					tw.AppendRow(table.Row{f.Question.Tag, f.Question.Text, value, f.SourceNote})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "offender id")
	cmd.Flags().StringVar(&tool, "tool", "", "assessment tool name")
	_ = cmd.MarkFlagRequired("subject")
	_ = cmd.MarkFlagRequired("tool")
	return cmd
}

func assessmentShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a session and its answers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, answers, err := e.GetAssessment(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"session": s, "answers": answers})
			})
		},
	}
}

func assessmentAnswerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "answer <session-id> <tag> <value>",
		Short: "Save one answer",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.SaveAnswer(ctx, args[0], args[1], parseAnswer(args[2]), viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	return cmd
}

func assessmentScoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "score <session-id>",
		Short: "Preview the score of the current answers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.PreviewScore(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
}

func assessmentSubmitCmd() *cobra.Command {
	var level, reason string
	cmd := &cobra.Command{
		Use:   "submit <session-id>",
		Short: "Score and complete a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.SubmitAssessment(ctx, engine.SubmitOptions{
					SessionID:      args[0],
					FinalLevel:     level,
					OverrideReason: reason,
					ActorID:        viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&level, "override-level", "", "final level overriding the computed one")
	cmd.Flags().StringVar(&reason, "reason", "", "override reason")
	return cmd
}

func assessmentQuestionsCmd() *cobra.Command {
	qc := &cobra.Command{
		Use:   "questions",
		Short: "List the question bank",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				list, err := e.ListQuestions(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(list)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Tag", "Input", "Source", "Tools", "Options", "Text"})
				for _, q := range list {
					tw.AppendRow(table.Row{q.Tag, q.InputType, q.SourceType, strings.Join(q.ApplicableTools, ","), len(q.Options), q.Text})
				}
				tw.Render()
				return nil
			})
		},
	}
	qc.AddCommand(assessmentQuestionSaveCmd())
	return qc
}

func assessmentQuestionSaveCmd() *cobra.Command {
	var q domain.AssessmentQuestion
	var options []string
	cmd := &cobra.Command{
		Use:   "save",
		Short: "Create or replace a question by tag",
		Long:  "Options are label:score, e.g. --option Yes:1 --option No:0. A score of - leaves the option unscored.",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, raw := range options {
				label, score, ok := strings.Cut(raw, ":")
				if !ok {
					return fmt.Errorf("option %q: want label:score", raw)
				}
				opt := domain.QuestionOption{Label: label}
				if score != "-" {
					n, err := strconv.Atoi(score)
					if err != nil {
						return fmt.Errorf("option %q: %w", raw, err)
					}
					opt.Score = &n
				}
				q.Options = append(q.Options, opt)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				saved, err := e.SaveQuestion(ctx, q, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(saved)
			})
		},
	}
	cmd.Flags().StringVar(&q.Tag, "tag", "", "question tag")
	cmd.Flags().StringVar(&q.Text, "text", "", "question text")
	cmd.Flags().StringVar(&q.Category, "category", "", "scoring category")
	cmd.Flags().StringVar(&q.InputType, "input", "select", "boolean, integer, select, date, text or scale_0_3")
	cmd.Flags().StringVar(&q.SourceType, "source", "manual", "static, dynamic or manual")
	cmd.Flags().StringSliceVar(&q.ApplicableTools, "tool", nil, "assessment tool using the question (repeatable)")
	cmd.Flags().StringArrayVar(&options, "option", nil, "option label:score (repeatable)")
	cmd.Flags().StringVar(&q.ScoringNote, "note", "", "scoring note")
	_ = cmd.MarkFlagRequired("tag")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

func assessmentTypesCmd() *cobra.Command {
	tc := &cobra.Command{
		Use:   "types",
		Short: "List assessment tools and their scoring matrices",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				list, err := e.ListAssessmentTypes(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(list)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Tool", "Level", "Min", "Max"})
				for _, t := range list {
					for _, b := range t.ScoringMatrix {
						tw.AppendRow(table.Row{t.Name, b.Label, b.Min, b.Max})
					}
				}
				tw.Render()
				return nil
			})
		},
	}
	tc.AddCommand(assessmentTypeSaveCmd())
	return tc
}

func assessmentTypeSaveCmd() *cobra.Command {
	var t domain.AssessmentType
	var bands []string
	cmd := &cobra.Command{
		Use:   "save",
		Short: "Create or replace a tool's scoring matrix",
		Long:  "Bands are label:min:max, e.g. --band Low:0:14 --band Moderate:15:23.",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, raw := range bands {
				parts := strings.Split(raw, ":")
				if len(parts) != 3 {
					return fmt.Errorf("band %q: want label:min:max", raw)
				}
				lo, err := strconv.Atoi(parts[1])
				if err != nil {
					return fmt.Errorf("band %q: %w", raw, err)
				}
				hi, err := strconv.Atoi(parts[2])
				if err != nil {
					return fmt.Errorf("band %q: %w", raw, err)
				}
				t.ScoringMatrix = append(t.ScoringMatrix, domain.ScoreBand{Label: parts[0], Min: lo, Max: hi})
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				saved, err := e.SaveAssessmentType(ctx, t, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(saved)
			})
		},
	}
	cmd.Flags().StringVar(&t.Name, "name", "", "assessment tool name")
	cmd.Flags().StringArrayVar(&bands, "band", nil, "score band label:min:max (repeatable)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func workflowCmd() *cobra.Command {
	wf := &cobra.Command{
		Use:   "workflow",
		Short: "Workflow documents",
		Long:  "Transfer requests follow Draft -> Pending_Sup_Review -> Pending_Receiving_Sup -> Pending_New_Officer -> Completed, with Return sending the form back to its creator. Other templates use Draft/Submitted/Approved/Returned/Denied.",
	}
	wf.AddCommand(workflowTemplatesCmd())
	wf.AddCommand(workflowTemplateCmd())
	wf.AddCommand(workflowCreateCmd())
	wf.AddCommand(workflowListCmd())
	wf.AddCommand(workflowActCmd())
	wf.AddCommand(workflowLogCmd())
	return wf
}

func workflowTemplatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "templates",
		Short: "List form templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				list, err := e.ListTemplates(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(list)
			})
		},
	}
}

func workflowTemplateCmd() *cobra.Command {
	tc := &cobra.Command{Use: "template", Short: "Manage form templates"}
	var opts engine.TemplateOptions
	add := &cobra.Command{
		Use:   "add",
		Short: "Create a form template or change its kind",
		Long:  "Without --kind, a name containing Transfer gets the transfer_request table and anything else the generic one.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTemplate(ctx, opts, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	add.Flags().StringVar(&opts.Name, "name", "", "template name")
	add.Flags().StringVar(&opts.Kind, "kind", "", "transfer_request or generic")
	_ = add.MarkFlagRequired("name")
	tc.AddCommand(add)
	return tc
}

func workflowCreateCmd() *cobra.Command {
	var opts engine.DocumentOptions
	var data string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Start a Draft document",
		RunE: func(cmd *cobra.Command, args []string) error {
			if data != "" {
				if err := json.Unmarshal([]byte(data), &opts.FormData); err != nil {
					return fmt.Errorf("--data: %w", err)
				}
			}
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.CreateDocument(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Template, "template", "", "template name or id")
	cmd.Flags().StringVar(&opts.SubjectID, "subject", "", "offender id")
	cmd.Flags().StringVar(&opts.AssignedTo, "assign", "", "initial assignee (defaults to the creator)")
	cmd.Flags().StringVar(&data, "data", "", "form data as a JSON object")
	_ = cmd.MarkFlagRequired("template")
	return cmd
}

func workflowListCmd() *cobra.Command {
	var f repo.DocumentFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				docs, err := e.ListDocuments(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(docs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Kind", "Subject", "Status", "Step", "Assigned", "Locked"})
				for _, d := range docs {
					tw.AppendRow(table.Row{d.ID, d.TemplateKind, d.SubjectID, d.Status, d.CurrentStep, d.AssignedTo, d.IsLocked})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.AssignedTo, "assigned-to", "", "assignee filter")
	cmd.Flags().StringVar(&f.CreatedBy, "created-by", "", "creator filter")
	cmd.Flags().StringVar(&f.SubjectID, "subject", "", "offender filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 100, "max rows")
	return cmd
}

func workflowActCmd() *cobra.Command {
	var comment, target string
	cmd := &cobra.Command{
		Use:   "act <document-id> <action>",
		Short: "Apply Submit, Return, Approve, Accept or Deny",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.TransitionWorkflow(ctx, engine.TransitionOptions{
					DocumentID: args[0],
					Action:     args[1],
					ActorID:    viper.GetString("actor-id"),
					Comment:    comment,
					TargetUser: target,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&comment, "comment", "", "comment for the audit log")
	cmd.Flags().StringVar(&target, "target", "", "next assignee")
	return cmd
}

func workflowLogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "log <document-id>",
		Short: "Show the audit trail of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				entries, err := e.ListWorkflowLog(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "Actor", "Action", "From", "To", "Outcome", "Comment"})
				for _, l := range entries {
					note := l.Comment
					if l.Error != "" {
						note = l.Error
					}
					tw.AppendRow(table.Row{l.TS, l.ActorID, l.Action, l.FromStatus, l.ToStatus, l.Outcome, note})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func rbacCmd() *cobra.Command {
	rb := &cobra.Command{Use: "rbac", Short: "Roles and permissions"}
	rb.AddCommand(rbacWhoamiCmd())
	rb.AddCommand(rbacRoleCmd("grant", "Grant a role to an actor", func(ctx context.Context, e engine.Engine, actor, role string) error {
		return e.GrantRole(ctx, actor, role)
	}))
	rb.AddCommand(rbacRoleCmd("revoke", "Revoke a role from an actor", func(ctx context.Context, e engine.Engine, actor, role string) error {
		return e.RevokeRole(ctx, actor, role)
	}))
	return rb
}

func rbacWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show roles and permissions of --actor-id",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor := viper.GetString("actor-id")
				roles, err := e.Auth.ActorRoles(ctx, actor)
				if err != nil {
					return err
				}
				perms, err := e.Auth.ActorPermissions(ctx, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"actor_id": actor, "roles": roles, "permissions": perms})
			})
		},
	}
}

func rbacRoleCmd(use, short string, apply func(context.Context, engine.Engine, string, string) error) *cobra.Command {
	var target, role string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return apply(ctx, e, target, role)
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id")
	cmd.Flags().StringVar(&role, "role", "", "role id")
	_ = cmd.MarkFlagRequired("actor")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Event log"}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				evts, err := e.Repo.LatestEvents(ctx, f)
				if err != nil {
					return err
				}
				return printJSONOrTable(evts)
			})
		},
	}
	cmd.Flags().IntVarP(&f.Limit, "n", "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var withScheduler, devLogin bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			authCfg := server.AuthConfig{JWTSecret: viper.GetString("jwt_secret"), DevLogin: devLogin}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("CASEFLOW_JWT_SECRET is required for bearer auth")
			}
			metricsHandler, err := metrics.InitMeterProvider(ctx, "caseflow")
			if err != nil {
				return err
			}
			if err := metrics.InitMetrics(ctx); err != nil {
				return err
			}
			return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
				authCfg.Logger = e.Log
				handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg, Metrics: metricsHandler})
				if err != nil {
					return err
				}
				server.StartWebhooks(ctx, e)
				if withScheduler {
					go func() {
						_ = scheduler.Scheduler{Runner: e, Interval: e.Config.Interval(), Log: e.Log}.Run(ctx)
					}()
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				e.Log.Info("serving caseflow API", "addr", addr, "base_path", basePath, "docs", basePath+"/docs")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&withScheduler, "scheduler", false, "also run the automation pass on the configured interval")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "expose POST /auth/dev/login (never in production)")
	return cmd
}

func schedulerCmd() *cobra.Command {
	var runOnStart bool
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "scheduler",
		Short: "Run the automation pass on a fixed interval until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				every := interval
				if every <= 0 {
					every = e.Config.Interval()
				}
				return scheduler.Scheduler{
					Runner:     e,
					Interval:   every,
					RunOnStart: runOnStart,
					Log:        e.Log,
				}.Run(ctx)
			})
		},
	}
	cmd.Flags().BoolVar(&runOnStart, "run-now", true, "run one pass before the first tick")
	cmd.Flags().DurationVar(&interval, "interval", 0, "override automation.interval")
	return cmd
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	e, closeFn, err := app.Open(ctx, app.Options{
		Workspace:     viper.GetString("workspace"),
		BusyTimeoutMS: viper.GetInt("busy-timeout"),
		ActorID:       viper.GetString("actor-id"),
	})
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(ctx, e)
}

func printReport(report engine.Report) error {
	if viper.GetBool("json") {
		return printJSON(report)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Case", "Rule", "Outcome", "Due", "Task", "Error"})
	for _, r := range report.Results {
		tw.AppendRow(table.Row{r.CaseID, r.RuleName, r.Outcome, r.DueDate, r.TaskID, r.Error})
	}
	tw.AppendFooter(table.Row{fmt.Sprintf("%d cases", report.CasesScanned), fmt.Sprintf("%d rules", report.RulesEvaluated), fmt.Sprintf("%d created", report.TasksCreated), "", "", fmt.Sprintf("%d errors", report.Errors)})
	tw.Render()
	return nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseAnswer turns a command-line value into the type the question bank
// scores: integers, booleans, or the raw label.
func parseAnswer(raw string) any {
	if n, err := strconv.Atoi(raw); err == nil {
		return n
	}
	if b, err := strconv.ParseBool(raw); err == nil && (raw == "true" || raw == "false") {
		return b
	}
	return raw
}
