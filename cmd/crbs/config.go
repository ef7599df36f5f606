package main

import (
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"crbs/internal/config"
	"crbs/internal/snapcache"
	"crbs/internal/toolchain"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show and change settings and extension associations",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective settings",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file path",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		path, err := cmd.Root().PersistentFlags().GetString("config")
		if err != nil {
			return err
		}
		if path == "" {
			path = config.Path()
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Known keys: manifest_url, storage_root, compat_layer, lsp.debounce_ms, lsp.workers.",
	Args:  cobra.ExactArgs(2),
	RunE:  runConfigSet,
}

var configSetAssociationCmd = &cobra.Command{
	Use:   "set-association <extension> <id>",
	Short: "Compile files with this extension using toolchain id",
	Args:  cobra.ExactArgs(2),
	RunE:  runConfigSetAssociation,
}

var configUnsetAssociationCmd = &cobra.Command{
	Use:   "unset-association <extension>",
	Short: "Remove the toolchain association of an extension",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigUnsetAssociation,
}

var configClearCacheCmd = &cobra.Command{
	Use:   "clear-cache",
	Short: "Delete cached manifest snapshots",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cache, err := snapcache.Open(config.CacheDir())
		if err != nil {
			return err
		}
		if err := cache.DropAll(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", cache.Dir())
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configPathCmd, configSetCmd, configSetAssociationCmd, configUnsetAssociationCmd, configClearCacheCmd)
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	reg, err := a.openRegistry()
	if err != nil {
		return err
	}
	s := a.settings
	out := cmd.OutOrStdout()
	compat := s.CompatLayer
	if compat == "" {
		compat = "(none)"
	}
	fmt.Fprintf(out, "Configuration (%s):\n", a.configPath)
	fmt.Fprintf(out, "  manifest_url     %s\n", s.ManifestURL)
	fmt.Fprintf(out, "  storage_root     %s\n", s.StorageRoot)
	fmt.Fprintf(out, "  compat_layer     %s\n", compat)
	fmt.Fprintf(out, "  lsp.debounce_ms  %d\n", s.LSP.DebounceMS)
	fmt.Fprintf(out, "  lsp.workers      %d\n", s.LSP.Workers)
	fmt.Fprintf(out, "Registry: %s\n", reg.Path())
	fmt.Fprintln(out, "File associations:")
	assoc := reg.Associations()
	if len(assoc) == 0 {
		fmt.Fprintln(out, "  (none)")
		return nil
	}
	for _, ext := range slices.Sorted(maps.Keys(assoc)) {
		id := assoc[ext]
		note := ""
		if _, ok := reg.Get(id); !ok {
			note = dimColor.Sprint(" (not installed)")
		}
		fmt.Fprintf(out, "  .%s -> %s%s\n", ext, id, note)
	}
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	// Save only what the file holds; environment overrides must not leak into it.
	file, err := config.LoadFile(a.configPath)
	if err != nil {
		return err
	}
	if err := file.Set(args[0], args[1]); err != nil {
		return err
	}
	if err := config.Save(a.configPath, file); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "set %s = %q\n", args[0], args[1])
	return nil
}

func runConfigSetAssociation(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	reg, err := a.openRegistry()
	if err != nil {
		return err
	}
	ext, err := toolchain.NormalizeExtension(args[0])
	if err != nil {
		return err
	}
	if err := reg.SetAssociation(ext, args[1]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "associated .%s with %s\n", ext, args[1])
	if _, ok := reg.Get(args[1]); !ok {
		a.logger.Warn("toolchain is not installed yet", "id", args[1])
	}
	return nil
}

func runConfigUnsetAssociation(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	reg, err := a.openRegistry()
	if err != nil {
		return err
	}
	ext, err := toolchain.NormalizeExtension(args[0])
	if err != nil {
		return err
	}
	removed, err := reg.UnsetAssociation(ext)
	if err != nil {
		return err
	}
	if removed {
		fmt.Fprintf(cmd.OutOrStdout(), "removed association for .%s\n", ext)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "no association for .%s\n", ext)
	}
	return nil
}
