package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ambitlabs/ambit/internal/settings"
)

// NewValidateCommand creates the validate command, which checks a settings
// file against the embedded schema without starting anything.
func NewValidateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the settings file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Settings == "" {
				return fmt.Errorf("validate requires --settings")
			}
			_, err := settings.Load(opts.Settings)
			if opts.Format == "json" {
				result := map[string]any{"valid": err == nil}
				if err != nil {
					result["error"] = err.Error()
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(result); encErr != nil {
					return encErr
				}
				return err
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: settings valid\n", opts.Settings)
			return nil
		},
	}
}
