package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	appversion "github.com/dantte-lp/goldp/internal/version"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print goldpctl build information",
		Long:  "Print the goldpctl build information in the selected --format. No daemon connection is made.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := formatVersion(appversion.Get(), outputFormat)
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), out)
			return err
		},
	}
}

// formatVersion renders build information in the requested format.
func formatVersion(info appversion.Info, format string) (string, error) {
	switch format {
	case formatJSON:
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal version to JSON: %w", err)
		}
		return string(data) + "\n", nil
	case formatYAML:
		data, err := yaml.Marshal(info)
		if err != nil {
			return "", fmt.Errorf("marshal version to YAML: %w", err)
		}
		return string(data), nil
	case formatTable:
		return info.Text("goldpctl") + "\n", nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}
