package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kirillkom/corpus-router/internal/adapters/tui"
)

var flagChatLogFile string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open an interactive session in the terminal",
	Args:  cobra.NoArgs,
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().StringVar(&flagChatLogFile, "log-file", "ragctl-chat.log", "File that receives logs while the terminal UI runs")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, _ []string) error {
	logFile, err := os.OpenFile(flagChatLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	cfg := loadConfig()
	app, err := newApp(cmd.Context(), cfg, logFile)
	if err != nil {
		return err
	}
	defer app.Close()

	sessions, err := app.NewSessionManager(cmd.Context())
	if err != nil {
		return err
	}
	defer sessions.CloseAll()

	return tui.Run(cmd.Context(), sessions)
}
