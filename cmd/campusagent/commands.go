package main

import (
	"github.com/spf13/cobra"

	"github.com/hupe1980/campusagent"
	"github.com/hupe1980/campusagent/config"
)

var (
	configPath string
	chatID     string

	rootCmd = &cobra.Command{
		Use:           "campusagent",
		Short:         "A tool-using campus assistant that streams its answers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat API over HTTP",
		Args:  cobra.NoArgs,
		RunE:  runServe, // cmd_serve.go
	}

	chatCmd = &cobra.Command{
		Use:   "chat [question]",
		Short: "Ask a question, or start an interactive chat without arguments",
		RunE:  runChat, // cmd_chat.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	chatCmd.Flags().StringVar(&chatID, "chat-id", "cli", "conversation to continue")

	rootCmd.AddCommand(serveCmd, chatCmd)
}

func loadRuntime() (*campusagent.Runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return campusagent.New(*cfg)
}
