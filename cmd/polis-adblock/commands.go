package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/polisai/polis-adblock/pkg/config"
	"github.com/polisai/polis-adblock/pkg/domain"
	"github.com/polisai/polis-adblock/pkg/engine"
	"github.com/polisai/polis-adblock/pkg/policy/route"
	"github.com/polisai/polis-adblock/pkg/stats"
)

func newClassifyCmd(state *cliState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classify <url>",
		Short: "Classify a request URL as the capture path would",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := cmd.Flags().GetString("body")
			if err != nil {
				return fmt.Errorf("failed to get body flag: %w", err)
			}
			e, err := offlineEngine(state.cfg)
			if err != nil {
				return err
			}
			v := e.Capture(cmd.Context(), domain.Exchange{URL: args[0], RequestBody: []byte(body)})
			return printJSON(cmd.OutOrStdout(), v)
		},
	}
	cmd.Flags().String("body", "", "Request body to classify alongside the URL")
	return cmd
}

func newRewriteCmd(state *cliState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rewrite",
		Short: "Rewrite a captured response body offline",
		Long: `Runs one exchange through the rewrite engine and prints the resulting body.
The body is read from --file, or from stdin when --file is "-" or empty.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rawURL, _ := cmd.Flags().GetString("url")
			file, _ := cmd.Flags().GetString("file")
			app, _ := cmd.Flags().GetString("app")
			trace, _ := cmd.Flags().GetBool("trace")
			if rawURL == "" {
				return fmt.Errorf("--url is required")
			}

			body, err := readInput(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}
			e, err := offlineEngine(state.cfg)
			if err != nil {
				return err
			}
			if _, ok := e.Rules().App(app); app != "" && !ok {
				return fmt.Errorf("%w %q", domain.ErrUnknownApp, app)
			}

			res := e.Rewrite(cmd.Context(), domain.Exchange{App: app, URL: rawURL, ResponseBody: body})
			if trace {
				states := make([]string, len(res.Trail))
				for i, s := range res.Trail {
					states[i] = string(s)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "route=%s strategy=%s mutated=%t trail=%s\n",
					res.Route, res.Strategy, res.Mutated, strings.Join(states, ">"))
				if res.Err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "error=%v\n", res.Err)
				}
			}
			_, err = cmd.OutOrStdout().Write(res.Body)
			return err
		},
	}
	cmd.Flags().String("url", "", "Request URL of the exchange")
	cmd.Flags().StringP("file", "f", "", "Response body file, - for stdin")
	cmd.Flags().String("app", "", "Pin the exchange to an app id instead of identifying it by URL")
	cmd.Flags().Bool("trace", false, "Print the route and state trail to stderr")
	return cmd
}

func newStatsCmd(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print the persisted block counters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := buildStore(state.cfg.Store)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer func() { _ = store.Close() }()

			sink := stats.NewSink(stats.Options{Store: store, Key: state.cfg.Store.StatsKey, Logger: state.logger})
			return printJSON(cmd.OutOrStdout(), sink.Snapshot(cmd.Context()))
		},
	}
}

func newRulesCmd(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "List the compiled routes in match order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rs, err := config.LoadRules(state.cfg.Rules)
			if err != nil {
				return err
			}
			return printRules(cmd.OutOrStdout(), rs)
		},
	}
}

// offlineEngine builds an engine over the configured rules with no sink or gate.
func offlineEngine(cfg *config.Config) (*engine.Engine, error) {
	rs, err := config.LoadRules(cfg.Rules)
	if err != nil {
		return nil, err
	}
	return engine.New(engine.Options{Rules: route.NewRegistry(rs)})
}

func readInput(stdin io.Reader, file string) ([]byte, error) {
	if file == "" || file == "-" {
		return io.ReadAll(stdin)
	}
	//nolint:gosec // Path comes from the operator's command line
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", file, err)
	}
	return data, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func printRules(w io.Writer, rs *route.RuleSet) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "APP\tROUTE\tSTRATEGY\tPATTERN")
	for _, app := range rs.Apps() {
		for _, rule := range rs.Rules(app.ID) {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", rule.App, rule.Route, rule.Strategy, rule.Pattern)
		}
	}
	return tw.Flush()
}
