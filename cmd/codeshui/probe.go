package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/howard-nolan/codeshui/internal/probe"
	"github.com/howard-nolan/codeshui/internal/provider"
)

var probeAll bool

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check that the active configuration can reach its vendor",
	Long: `Probe runs a connectivity check against the active configuration.

With direct access enabled (gateway.direct_access) the vendor is called;
otherwise only the key format and endpoint are checked.

With --all every vendor is probed with its default endpoint and model.
The active vendor uses the stored key; the others read theirs from
OPENAI_API_KEY, ANTHROPIC_API_KEY, GEMINI_API_KEY (or GOOGLE_API_KEY)
and CUSTOM_API_KEY.

Examples:
  codeshui probe
  codeshui probe --all`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, closeStore, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore()

		// Read leaves the store's own background probe out of it.
		active := s.Read(cmd.Context())
		prober := probe.New(httpClient())

		cfgs := []provider.Config{active}
		if probeAll {
			cfgs = allVendorConfigs(active)
		}

		results := prober.ProbeAll(cmd.Context(), cfgs, hostContext())
		printResults(cmd.OutOrStdout(), cfgs, results)

		if !probeAll && !results[0].Ready {
			return errors.New("active configuration is not ready")
		}
		return nil
	},
}

func init() {
	probeCmd.Flags().BoolVar(&probeAll, "all", false, "probe every vendor, not just the active one")
	rootCmd.AddCommand(probeCmd)
}

// allVendorConfigs returns one default configuration per vendor, with the
// active configuration standing in for its own vendor.
func allVendorConfigs(active provider.Config) []provider.Config {
	var cfgs []provider.Config
	for _, key := range provider.Keys() {
		if key == active.Provider {
			cfgs = append(cfgs, active)
			continue
		}
		c := provider.DefaultConfig()
		c.Provider = key
		d, _ := provider.Lookup(key)
		c.Endpoint = d.DefaultEndpoint
		c.Model = d.Models[0]
		c.Credential = vendorKeyFromEnv(key)
		cfgs = append(cfgs, c)
	}
	return cfgs
}

// vendorKeyFromEnv reads the conventional API key variable for key.
func vendorKeyFromEnv(key provider.Key) string {
	switch key {
	case provider.Ollama:
		return ""
	case provider.Google:
		if v := os.Getenv("GEMINI_API_KEY"); v != "" {
			return v
		}
		return os.Getenv("GOOGLE_API_KEY")
	default:
		return os.Getenv(strings.ToUpper(string(key)) + "_API_KEY")
	}
}

func printResults(w io.Writer, cfgs []provider.Config, results []probe.Result) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PROVIDER\tMODEL\tSTATUS\tDETAIL")
	for i, res := range results {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", cfgs[i].Provider, cfgs[i].Model, statusWord(res.Ready, res.Verified), res.Reason())
	}
	_ = tw.Flush()
}

func statusWord(ready, verified bool) string {
	switch {
	case verified:
		return "verified"
	case ready:
		return "ready"
	default:
		return "not ready"
	}
}
