package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"TravelAgent-Chain/sdk/go/travelagent"
)

// 交互模式下保留的历史条数。
const historyWindow = 10

func newChatCmd(v *viper.Viper) *cobra.Command {
	var referrer string
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Talk to the agent; without a message starts an interactive session",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFrom(v)
			if err != nil {
				return err
			}
			if len(args) > 0 {
				out, err := client.Chat(cmd.Context(), strings.Join(args, " "), referrer, nil)
				if err != nil {
					return err
				}
				return render(v, cmd.OutOrStdout(), out, func(w io.Writer) error {
					printOutcome(w, out)
					return nil
				})
			}
			return chatLoop(cmd, client, referrer)
		},
	}
	cmd.Flags().StringVar(&referrer, "referrer", "", "referrer wallet address")
	return cmd
}

// chatLoop 逐行读取输入，保留最近的对话作为上下文，输入 exit 或 EOF 结束。
func chatLoop(cmd *cobra.Command, client *travelagent.Client, referrer string) error {
	in := bufio.NewScanner(cmd.InOrStdin())
	out := cmd.OutOrStdout()
	var history []string
	fmt.Fprintln(out, "Type a message, or 'exit' to quit.")
	for {
		fmt.Fprint(out, "> ")
		if !in.Scan() {
			fmt.Fprintln(out)
			return in.Err()
		}
		line := strings.TrimSpace(in.Text())
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}
		result, err := client.Chat(cmd.Context(), line, referrer, history)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		printOutcome(out, result)
		history = append(history, "user: "+line, "assistant: "+result.Response)
		if len(history) > historyWindow {
			history = history[len(history)-historyWindow:]
		}
	}
}

func printOutcome(w io.Writer, out travelagent.Outcome) {
	fmt.Fprintln(w, out.Response)
	if out.Tool != "" {
		fmt.Fprintf(w, "  tool: %s\n", out.Tool)
	}
	if out.IPFSHash != "" {
		fmt.Fprintf(w, "  ipfs: %s\n", out.IPFSHash)
	}
	if out.Error != "" {
		fmt.Fprintf(w, "  error: %s (%s)\n", out.Error, out.ErrorCode)
	}
	for _, warning := range out.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warning)
	}
}

func newHealthCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show server status and collaborator modes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := clientFrom(v)
			if err != nil {
				return err
			}
			h, err := client.Health(cmd.Context())
			if err != nil {
				return err
			}
			return render(v, cmd.OutOrStdout(), h, func(w io.Writer) error {
				fmt.Fprintln(w, h.Message)
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				for _, name := range sortedKeys(h.Modes) {
					fmt.Fprintf(tw, "%s\t%s\n", name, h.Modes[name])
				}
				return tw.Flush()
			})
		},
	}
}

func newBalanceCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Show the agent wallet balances",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := clientFrom(v)
			if err != nil {
				return err
			}
			report, err := client.WalletBalance(cmd.Context())
			if err != nil {
				return err
			}
			return render(v, cmd.OutOrStdout(), report, func(w io.Writer) error {
				fmt.Fprintf(w, "%s (%s)\n", report.Address, report.Mode)
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				for _, b := range report.Balances {
					fmt.Fprintf(tw, "%s\t%s\n", b.Symbol, b.Amount)
				}
				return tw.Flush()
			})
		},
	}
}

func newReferralsCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "referrals <wallet>",
		Short: "List referrals credited to a wallet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFrom(v)
			if err != nil {
				return err
			}
			records, err := client.Referrals(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return render(v, cmd.OutOrStdout(), records, func(w io.Writer) error {
				if len(records) == 0 {
					fmt.Fprintln(w, "No referrals found.")
					return nil
				}
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "TIMESTAMP\tREFEREE\tAMOUNT\tTX")
				for _, r := range records {
					fmt.Fprintf(tw, "%s\t%s\t%g %s\t%s\n", r.Timestamp, r.RefereeWallet, r.Amount, r.Token, r.TransactionID)
				}
				return tw.Flush()
			})
		},
	}
}

func newSpendCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "spend",
		Short: "Show the spend ledger summary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := clientFrom(v)
			if err != nil {
				return err
			}
			summary, err := client.Spend(cmd.Context())
			if err != nil {
				return err
			}
			return render(v, cmd.OutOrStdout(), summary, func(w io.Writer) error {
				printSummary(w, summary)
				return nil
			})
		},
	}

	cmd.AddCommand(newCapCmd(v))

	var limit int
	history := &cobra.Command{
		Use:   "history",
		Short: "List recent ledger entries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := clientFrom(v)
			if err != nil {
				return err
			}
			entries, err := client.SpendHistory(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return render(v, cmd.OutOrStdout(), entries, func(w io.Writer) error {
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "SEQ\tTIME\tCATEGORY\tAMOUNT")
				for _, e := range entries {
					fmt.Fprintf(tw, "%d\t%s\t%s\t$%.2f\n", e.Seq, e.Timestamp.Local().Format(time.RFC3339), e.Category, e.Amount)
				}
				return tw.Flush()
			})
		},
	}
	history.Flags().IntVar(&limit, "limit", 20, "maximum entries")
	cmd.AddCommand(history)
	return cmd
}

// newCapCmd 同时挂在根命令与 spend 下。
func newCapCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "cap <amount>",
		Short: "Replace the spend cap",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var amount float64
			if _, err := fmt.Sscanf(args[0], "%g", &amount); err != nil {
				return fmt.Errorf("invalid amount %q", args[0])
			}
			client, err := clientFrom(v)
			if err != nil {
				return err
			}
			summary, err := client.SetSpendCap(cmd.Context(), amount)
			if err != nil {
				return err
			}
			return render(v, cmd.OutOrStdout(), summary, func(w io.Writer) error {
				printSummary(w, summary)
				return nil
			})
		},
	}
}

func printSummary(w io.Writer, s travelagent.SpendSummary) {
	fmt.Fprintf(w, "cap:       $%.2f\n", s.Cap)
	fmt.Fprintf(w, "spent:     $%.2f (%d operations)\n", s.Total, s.Count)
	fmt.Fprintf(w, "remaining: $%.2f\n", s.Remaining)
}

func newRunsCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Manage asynchronous agent runs",
	}

	var referrer string
	var wait bool
	submit := &cobra.Command{
		Use:   "submit <message>",
		Short: "Queue a message for asynchronous processing",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFrom(v)
			if err != nil {
				return err
			}
			run, err := client.SubmitRun(cmd.Context(), travelagent.RunSubmission{
				Input:    strings.Join(args, " "),
				Referrer: referrer,
			})
			if err != nil {
				return err
			}
			if wait {
				if run, err = client.WaitRun(cmd.Context(), run.ID, time.Second); err != nil {
					return err
				}
			}
			return render(v, cmd.OutOrStdout(), run, func(w io.Writer) error {
				printRun(w, run)
				return nil
			})
		},
	}
	submit.Flags().StringVar(&referrer, "referrer", "", "referrer wallet address")
	submit.Flags().BoolVar(&wait, "wait", false, "poll until the run finishes")

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Show a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFrom(v)
			if err != nil {
				return err
			}
			run, err := client.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return render(v, cmd.OutOrStdout(), run, func(w io.Writer) error {
				printRun(w, run)
				return nil
			})
		},
	}

	var filter travelagent.RunFilter
	list := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := clientFrom(v)
			if err != nil {
				return err
			}
			runs, stats, err := client.ListRuns(cmd.Context(), filter)
			if err != nil {
				return err
			}
			payload := map[string]any{"runs": runs, "stats": stats}
			return render(v, cmd.OutOrStdout(), payload, func(w io.Writer) error {
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tSTATUS\tATTEMPTS\tUPDATED\tINPUT")
				for _, r := range runs {
					fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%s\t%s\n", r.ID, r.Status, r.Attempts, r.MaxRetries, formatUnix(r.UpdatedAt), truncate(r.Input, 40))
				}
				if err := tw.Flush(); err != nil {
					return err
				}
				fmt.Fprintf(w, "total=%d pending=%d running=%d succeeded=%d failed=%d\n",
					stats.Total, stats.Pending, stats.Running, stats.Succeeded, stats.Failed)
				return nil
			})
		},
	}
	list.Flags().StringSliceVar(&filter.Statuses, "status", nil, "filter by status (pending, running, succeeded, failed)")
	list.Flags().StringVar(&filter.Referrer, "referrer", "", "filter by referrer wallet")
	list.Flags().IntVar(&filter.Limit, "limit", 20, "page size")
	list.Flags().IntVar(&filter.Offset, "offset", 0, "page offset")

	cmd.AddCommand(submit, get, list)
	return cmd
}

func printRun(w io.Writer, run travelagent.Run) {
	fmt.Fprintf(w, "id:       %s\n", run.ID)
	fmt.Fprintf(w, "status:   %s\n", run.Status)
	fmt.Fprintf(w, "attempts: %d/%d\n", run.Attempts, run.MaxRetries)
	fmt.Fprintf(w, "updated:  %s\n", formatUnix(run.UpdatedAt))
	if run.LastError != "" {
		fmt.Fprintf(w, "error:    %s (%s)\n", run.LastError, run.ErrorCode)
	}
	if run.Result != nil {
		fmt.Fprintln(w, "result:")
		printOutcome(w, *run.Result)
	}
}

func newUploadCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <content>",
		Short: "Store content and print its content identifier",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFrom(v)
			if err != nil {
				return err
			}
			cid, err := client.Upload(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			return render(v, cmd.OutOrStdout(), map[string]string{"ipfs_hash": cid}, func(w io.Writer) error {
				_, err := fmt.Fprintln(w, cid)
				return err
			})
		},
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
