package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kirillkom/corpus-router/internal/core/domain"
	"github.com/kirillkom/corpus-router/internal/core/stream"
)

var (
	flagAskLLM       string
	flagAskRouterLLM string
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask one question and stream the routed answer",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().StringVar(&flagAskLLM, "llm", "", "Model that writes the answer")
	askCmd.Flags().StringVar(&flagAskRouterLLM, "router-llm", "", "Model that picks the pipeline")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	app, err := newApp(cmd.Context(), cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer app.Close()

	sessions, err := app.NewSessionManager(cmd.Context())
	if err != nil {
		return err
	}
	defer sessions.CloseAll()

	info, err := sessions.Open(cmd.Context())
	if err != nil {
		return err
	}

	updates := map[string]string{}
	if flagAskLLM != "" {
		updates[domain.SettingLLM] = flagAskLLM
	}
	if flagAskRouterLLM != "" {
		updates[domain.SettingRouterLLM] = flagAskRouterLLM
	}
	if len(updates) > 0 {
		update, err := sessions.UpdateSettings(cmd.Context(), info.ID, updates)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.ErrOrStderr(), update.Notice)
	}

	answer, err := sessions.Query(cmd.Context(), info.ID, strings.Join(args, " "))
	if err != nil {
		return err
	}
	defer answer.Stream.Close()

	fmt.Fprintf(cmd.ErrOrStderr(), "[%s]\n", answer.Decision.Pipeline)
	out := cmd.OutOrStdout()
	err = stream.Pipe(answer.Stream, func(token string) error {
		_, werr := fmt.Fprint(out, token)
		return werr
	})
	fmt.Fprintln(out)
	return err
}
