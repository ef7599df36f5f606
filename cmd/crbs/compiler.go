package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"crbs/internal/installer"
	"crbs/internal/pipeline"
	"crbs/internal/toolchain"
	"crbs/internal/ui"
)

var compilerCmd = &cobra.Command{
	Use:   "compiler",
	Short: "Install, list and remove compiler toolchains",
}

var compilerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed toolchains",
	Args:  cobra.NoArgs,
	RunE:  runCompilerList,
}

var compilerListAvailableCmd = &cobra.Command{
	Use:   "list-available",
	Short: "List toolchains offered by the remote manifest",
	Args:  cobra.NoArgs,
	RunE:  runCompilerListAvailable,
}

var compilerInstallCmd = &cobra.Command{
	Use:   "install <id>",
	Short: "Download, verify and install a toolchain from the manifest",
	Args:  cobra.ExactArgs(1),
	RunE:  runCompilerInstall,
}

var compilerRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove an installed toolchain",
	Args:  cobra.ExactArgs(1),
	RunE:  runCompilerRemove,
}

func init() {
	compilerListAvailableCmd.Flags().Bool("offline", false, "use the cached manifest instead of fetching it")
	compilerInstallCmd.Flags().Bool("offline", false, "resolve the id against the cached manifest")
	compilerInstallCmd.Flags().Bool("force", false, "reinstall over an existing installation")

	compilerCmd.AddCommand(compilerListCmd, compilerListAvailableCmd, compilerInstallCmd, compilerRemoveCmd)
}

func runCompilerList(cmd *cobra.Command, _ []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	reg, err := a.openRegistry()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	installed := reg.List()
	fmt.Fprintln(out, "Installed toolchains:")
	if len(installed) == 0 {
		fmt.Fprintln(out, "  (none)")
		return nil
	}
	byID := make(map[string][]string)
	for ext, id := range reg.Associations() {
		byID[id] = append(byID[id], "."+ext)
	}
	rows := make([][]string, 0, len(installed))
	for _, inst := range installed {
		exts := byID[inst.ID]
		slices.Sort(exts)
		rows = append(rows, []string{
			inst.ID,
			inst.Version,
			shortChecksum(inst.Checksum),
			inst.InstalledAt.Local().Format("2006-01-02 15:04"),
			strings.Join(exts, " "),
		})
	}
	table(out, []string{"ID", "VERSION", "SHA256", "INSTALLED", "EXTENSIONS"}, rows)
	return nil
}

func runCompilerListAvailable(cmd *cobra.Command, _ []string) error {
	offline, err := cmd.Flags().GetBool("offline")
	if err != nil {
		return err
	}
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	snap, err := a.snapshot(cmd.Context(), offline)
	if err != nil {
		return err
	}
	reg, err := a.openRegistry()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	header := "Available toolchains"
	if snap.ManifestVersion != "" {
		header += " (manifest " + snap.ManifestVersion + ")"
	}
	if offline && !snap.FetchedAt.IsZero() {
		header += ", cached " + snap.FetchedAt.Local().Format("2006-01-02 15:04")
	}
	fmt.Fprintln(out, header+":")
	if len(snap.Toolchains) == 0 {
		fmt.Fprintln(out, "  (none)")
		return nil
	}
	rows := make([][]string, 0, len(snap.Toolchains))
	for _, desc := range snap.Toolchains {
		inst, ok := reg.Get(desc.ID)
		exts := make([]string, len(desc.Extensions))
		for i, ext := range desc.Extensions {
			exts[i] = "." + ext
		}
		rows = append(rows, []string{desc.ID, desc.Version, installState(inst, ok, desc), strings.Join(exts, " "), desc.Description})
	}
	table(out, []string{"ID", "VERSION", "STATUS", "EXTENSIONS", "DESCRIPTION"}, rows)
	return nil
}

func installState(inst toolchain.Installed, ok bool, desc toolchain.Descriptor) string {
	switch {
	case !ok:
		return ""
	case inst.Version != desc.Version || !strings.EqualFold(inst.Checksum, desc.Checksum):
		return "installed " + inst.Version + ", update available"
	default:
		return "installed"
	}
}

func runCompilerInstall(cmd *cobra.Command, args []string) error {
	id := args[0]
	offline, err := cmd.Flags().GetBool("offline")
	if err != nil {
		return err
	}
	force, err := cmd.Flags().GetBool("force")
	if err != nil {
		return err
	}
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	reg, err := a.openRegistry()
	if err != nil {
		return err
	}

	var inst toolchain.Installed
	work := func(sink pipeline.ProgressSink) error {
		done := pipeline.Step(sink, "", pipeline.StageResolve)
		snap, err := a.snapshot(cmd.Context(), offline)
		done(err)
		if err != nil {
			return err
		}
		mgr := a.installer(reg, sink)
		inst, err = mgr.InstallByID(cmd.Context(), snap, id, installer.InstallOptions{Overwrite: force})
		return err
	}
	if a.ui.live() {
		err = runWithUI("crbs compiler install", []string{id}, ui.InstallStages, work)
	} else {
		err = work(pipeline.NopSink{})
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s installed %s %s (sha256 %s)\n", okColor.Sprint("✓"), inst.ID, inst.Version, shortChecksum(inst.Checksum))
	return nil
}

func runCompilerRemove(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	reg, err := a.openRegistry()
	if err != nil {
		return err
	}
	if err := a.installer(reg, nil).Remove(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s removed %s\n", okColor.Sprint("✓"), args[0])
	return nil
}

func shortChecksum(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}
