package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/QingMing-Bot/nlssh/internal/agent"
	"github.com/QingMing-Bot/nlssh/internal/domain"
)

func newResolveCommand(a *agent.Agent) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <utterance...>",
		Short: "只解析不執行，顯示命令計劃",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan := a.ResolveAndPlan(strings.Join(args, " "))
			printPlan(cmd, plan)
			return nil
		},
	}
}

func newRunCommand(a *agent.Agent) *cobra.Command {
	var (
		machineID string
		timeout   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "run <utterance...>",
		Short: "解析並在指定機器上執行",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			utterance := strings.Join(args, " ")
			plan, report, err := a.RunUtterance(ctx, machineID, utterance)
			printPlan(cmd, plan)
			if agent.IsNoMatch(plan) {
				fmt.Fprintln(cmd.OutOrStdout(), "未能理解該請求；可用 `nlssh intents` 查看支援的意圖")
				return nil
			}
			if err != nil {
				return err
			}
			printReport(cmd, report)
			return nil
		},
	}
	cmd.Flags().StringVarP(&machineID, "machine", "m", "", "目標機器 id")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "整體超時（如 10m）")
	_ = cmd.MarkFlagRequired("machine")
	return cmd
}

func newIntentsCommand(a *agent.Agent) *cobra.Command {
	return &cobra.Command{
		Use:   "intents",
		Short: "列出支援的意圖",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, it := range a.Intents() {
				fmt.Fprintf(cmd.OutOrStdout(), "%-20s %s\n", it.ID, it.Description)
			}
			return nil
		},
	}
}

func newHistoryCommand(a *agent.Agent) *cobra.Command {
	var (
		limit     int
		machineID string
		cmdLike   string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "查看執行歷史",
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := a.HistoryFor(limit, machineID, cmdLike)
			if err != nil {
				return err
			}
			for _, h := range rows {
				status := fmt.Sprintf("exit=%d", h.ExitCode)
				if h.Skipped {
					status = "skipped"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-12s %-40s %s  %dms\n",
					h.StartedAt.Format(time.DateTime), h.Intent, h.Command, status, h.DurationMs)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "最多顯示條數")
	cmd.Flags().StringVarP(&machineID, "machine", "m", "", "按機器 id 過濾")
	cmd.Flags().StringVar(&cmdLike, "command", "", "按命令關鍵字過濾")
	return cmd
}

func printPlan(cmd *cobra.Command, plan domain.CommandPlan) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "intent: %s", plan.Intent)
	if plan.Description != "" {
		fmt.Fprintf(out, " (%s)", plan.Description)
	}
	fmt.Fprintln(out)
	if plan.MatchBasis != "" {
		fmt.Fprintf(out, "match:  %s\n", plan.MatchBasis)
	}
	for i, c := range plan.Commands {
		flag := ""
		if c.NonFatal {
			flag = " [non-fatal]"
		}
		fmt.Fprintf(out, "  %d. %s%s\n", i+1, c.Command, flag)
	}
}

func printReport(cmd *cobra.Command, report domain.ExecutionReport) {
	out := cmd.OutOrStdout()
	for _, r := range report.Results {
		switch {
		case r.Skipped:
			fmt.Fprintf(out, "-- %s (skipped)\n", r.Command)
		case r.Succeeded:
			fmt.Fprintf(out, "ok %s (%dms)\n", r.Command, r.DurationMs)
		default:
			fmt.Fprintf(out, "!! %s exit=%d %s\n", r.Command, r.ExitCode, r.ErrorText)
		}
		if s := strings.TrimSpace(r.Stdout); s != "" {
			fmt.Fprintln(out, indent(s))
		}
		if s := strings.TrimSpace(r.Stderr); s != "" {
			fmt.Fprintln(out, indent(s))
		}
	}
	fmt.Fprintf(out, "outcome: %s\n", report.Outcome)
}

func indent(s string) string {
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = "   " + lines[i]
	}
	return strings.Join(lines, "\n")
}
