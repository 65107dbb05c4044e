package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/howard-nolan/codeshui/internal/gateway"
)

var (
	generateSystem string
	generateStream bool
)

var generateCmd = &cobra.Command{
	Use:   "generate <prompt>",
	Short: "Send a prompt with the active configuration",
	Long: `Generate sends a prompt to the active vendor and prints the reply.
A prompt of "-" is read from stdin.

Examples:
  codeshui generate "write a haiku about goroutines"
  git diff | codeshui generate --stream --system "Review this diff" -`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prompt := strings.Join(args, " ")
		if prompt == "-" {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("reading prompt: %w", err)
			}
			prompt = string(data)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		s, closeStore, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer closeStore()

		// Calls are refused until the connection check has finished.
		s.Load(ctx)
		s.Wait()

		session := &gateway.Session{Store: s, Gateway: newGateway()}
		out := cmd.OutOrStdout()

		if !generateStream {
			res, err := session.Generate(ctx, prompt, generateSystem)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, res.Content)
			if res.Usage != nil {
				logger.Debug("usage",
					"prompt_tokens", res.Usage.PromptTokens,
					"completion_tokens", res.Usage.CompletionTokens,
					"total_tokens", res.Usage.TotalTokens)
			}
			return nil
		}

		st, err := session.Stream(ctx, prompt, generateSystem)
		if err != nil {
			return err
		}
		defer st.Close()

		for st.Next() {
			fmt.Fprint(out, st.Chunk().Delta)
		}
		fmt.Fprintln(out)
		return st.Err()
	},
}

func init() {
	generateCmd.Flags().StringVarP(&generateSystem, "system", "s", "", "system prompt")
	generateCmd.Flags().BoolVar(&generateStream, "stream", false, "print the reply as it arrives")
	rootCmd.AddCommand(generateCmd)
}
