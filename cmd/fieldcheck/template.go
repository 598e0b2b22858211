package main

import (
	"fmt"
	"os"

	"github.com/creditfield/loan_backend/models"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newTemplateCmd(v *viper.Viper) *cobra.Command {
	templateCmd := &cobra.Command{
		Use:   "template",
		Short: "Work with section templates",
	}

	validateCmd := &cobra.Command{
		Use:   "validate [file.yaml]",
		Short: "Validate a template file, or the templates embedded in the binary",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var sets []*models.SectionTemplateSet
			if len(args) == 1 {
				data, err := os.ReadFile(args[0])
				if err != nil {
					return err
				}
				set, err := models.LoadTemplate(data)
				if err != nil {
					return fmt.Errorf("%s: %w", args[0], err)
				}
				sets = append(sets, set)
			} else {
				embedded, err := models.EmbeddedTemplates()
				if err != nil {
					return err
				}
				sets = embedded
			}
			// The registry rejects duplicate template keys.
			reg, err := models.NewTemplateRegistry(v.GetString("phone_region"), sets...)
			if err != nil {
				return err
			}
			for _, key := range reg.Keys() {
				set, err := reg.Lookup(key)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d sections, %d fields)\n", set.Key, len(set.Sections), set.FieldCount())
			}
			return nil
		},
	}

	templateCmd.AddCommand(validateCmd)
	return templateCmd
}
