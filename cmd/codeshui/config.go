package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/howard-nolan/codeshui/internal/provider"
	"github.com/howard-nolan/codeshui/internal/store"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change the active LLM configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the active configuration and its connection status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, closeStore, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore()

		s.Load(cmd.Context())
		s.Wait()

		c, status := s.Snapshot()
		return printConfig(cmd.OutOrStdout(), c, status)
	},
}

var setFlags struct {
	provider    string
	url         string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
}

var configSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change fields of the active configuration",
	Long: `Set merges the given fields over the stored configuration, saves it
and re-runs the connection check.

Switching --provider without --url or --model moves both to the new
provider's defaults. The API key is kept.

Examples:
  codeshui config set --provider openai --api-key sk-...
  codeshui config set --model claude-3-haiku --temperature 0.3`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var p store.Patch
		flags := cmd.Flags()

		if flags.Changed("provider") {
			key, ok := provider.ParseKey(setFlags.provider)
			if !ok {
				return fmt.Errorf("unknown provider %q", setFlags.provider)
			}
			p.Provider = &key
		}
		if flags.Changed("url") {
			p.Endpoint = &setFlags.url
		}
		if flags.Changed("api-key") {
			p.Credential = &setFlags.apiKey
		}
		if flags.Changed("model") {
			p.Model = &setFlags.model
		}
		if flags.Changed("temperature") {
			p.Temperature = &setFlags.temperature
		}
		if flags.Changed("max-tokens") {
			p.MaxTokens = &setFlags.maxTokens
		}

		s, closeStore, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore()

		s.Load(cmd.Context())
		if _, err := s.Save(cmd.Context(), p); err != nil {
			return err
		}
		s.Wait()

		c, status := s.Snapshot()
		return printConfig(cmd.OutOrStdout(), c, status)
	},
}

func init() {
	f := configSetCmd.Flags()
	f.StringVar(&setFlags.provider, "provider", "", "vendor: ollama, openai, anthropic, google or custom")
	f.StringVar(&setFlags.url, "url", "", "endpoint base URL")
	f.StringVar(&setFlags.apiKey, "api-key", "", "vendor API key")
	f.StringVar(&setFlags.model, "model", "", "model name")
	f.Float64Var(&setFlags.temperature, "temperature", provider.DefaultTemperature, "sampling temperature (0-2)")
	f.IntVar(&setFlags.maxTokens, "max-tokens", provider.DefaultMaxTokens, "completion token limit")

	configCmd.AddCommand(configShowCmd, configSetCmd)
	rootCmd.AddCommand(configCmd)
}

// printConfig writes c and its status as indented JSON, with the API key
// masked.
func printConfig(w io.Writer, c provider.Config, status store.Status) error {
	c.Credential = maskKey(c.Credential)

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Config provider.Config `json:"config"`
		Status store.Status    `json:"status"`
	}{c, status})
}

// maskKey keeps the last four characters of a key, enough to tell keys apart.
func maskKey(key string) string {
	if len(key) <= 4 {
		return key
	}
	return "****" + key[len(key)-4:]
}
