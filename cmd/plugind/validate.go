package main

import (
	"fmt"
	"strings"

	"github.com/leeforge/lifecycle/config"
	"github.com/leeforge/lifecycle/hooks"
	"github.com/leeforge/lifecycle/plugin"
	"github.com/spf13/cobra"
)

func newValidateCmd(root *rootOptions) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate plugin manifests and resolve their hooks",
		Long: `Validate parses every manifest in the manifest directory, checks it and, for
plugins compiled into this binary, resolves every declared hook target.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				settings, _, err := config.Load(root.configOptions())
				if err != nil {
					return err
				}
				dir = settings.Plugins.ManifestDir
			}
			return validateDir(cmd, dir)
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "manifest directory (default plugins.manifest_dir)")
	return cmd
}

func validateDir(cmd *cobra.Command, dir string) error {
	manifests, err := plugin.LoadManifestDir(dir)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	resolver := hooks.NewResolver(nil)
	var problems []string

	for _, m := range manifests {
		factory, builtin := builtins[m.ID]
		status := "external"
		if builtin {
			status = "ok"
			instance, err := factory(m)
			if err != nil {
				problems = append(problems, fmt.Sprintf("%s: instantiate: %v", m.ID, err))
				continue
			}
			for _, kind := range m.DeclaredHooks() {
				if _, err := resolver.Resolve(m, kind, instance); err != nil {
					problems = append(problems, fmt.Sprintf("%s: %v", m.ID, err))
					status = "invalid"
				}
			}
		}
		fmt.Fprintf(out, "%-20s %-10s %-8s %s\n", m.ID, m.Version, status, strings.Join(hookNames(m), ","))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%d hook problem(s):\n  %s", len(problems), strings.Join(problems, "\n  "))
	}
	fmt.Fprintf(out, "%d manifest(s) valid\n", len(manifests))
	return nil
}

func hookNames(m *plugin.Manifest) []string {
	var names []string
	for _, k := range m.DeclaredHooks() {
		names = append(names, k.String())
	}
	return names
}
