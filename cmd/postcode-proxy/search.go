package main

import (
	"fmt"
	"os"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/webuildtrades/postcode-lookup/internal/client"
	"github.com/webuildtrades/postcode-lookup/internal/config"
)

func newSearchCmd() *cobra.Command {
	var baseURL, apiKey, origin string
	cmd := &cobra.Command{
		Use:   "search [postcode]",
		Short: "Search postcodes with live suggestions",
		Long: `Look up a postcode through the proxy. Without an argument an interactive
prompt opens: suggestions are fetched as you type and Tab completes them.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if apiKey == "" {
				apiKey = os.Getenv("POSTCODE_API_KEY")
			}
			if apiKey == "" {
				return fmt.Errorf("an API key is required (--api-key or POSTCODE_API_KEY)")
			}
			ctx := commandContext(cmd.Context())
			c := client.New(baseURL, apiKey, client.WithOrigin(origin))
			prompt := client.NewPrompt(ctx, c, cmd.OutOrStdout())

			if len(args) == 1 {
				return prompt.Select(ctx, args[0])
			}

			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "postcode> ",
				AutoComplete:    prompt,
				Listener:        prompt,
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
			})
			if err != nil {
				return fmt.Errorf("failed to start prompt: %w", err)
			}
			defer func() { _ = rl.Close() }()
			return prompt.Run(ctx, rl)
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", config.EnvOrDefault("POSTCODE_API_URL", "http://localhost:8080"), "Base URL of the lookup API")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key (default: POSTCODE_API_KEY)")
	cmd.Flags().StringVar(&origin, "origin", "", "Origin header to send")
	return cmd
}
