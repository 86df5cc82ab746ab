package main

import (
	"fmt"
	"os"
	"os/exec"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/agentyes/agentyes/internal/config"
	"github.com/agentyes/agentyes/internal/toolprofile"
)

// runDoctor builds and executes the "doctor" subcommand against a
// cobra.Command, grounded on the teacher's doctorCmd: a plain-flag
// subcommand doesn't need the passthrough parsing the main run path
// requires, so it uses cobra like the rest of the pack.
func runDoctor(table *toolprofile.Table, args []string) int {
	cmd := doctorCmd(table)
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func doctorCmd(table *toolprofile.Table) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check that known assistant CLIs are on PATH and runnable",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("agent-yes doctor")
			fmt.Println()

			fmt.Println("Tools:")
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tBINARY\tSTATUS")
			for _, name := range table.Names() {
				profile, _ := table.Lookup(name)
				bin := profile.BinaryName()
				status := checkBinary(bin, profile)
				fmt.Fprintf(w, "%s\t%s\t%s\n", name, bin, status)
			}
			w.Flush()
			fmt.Println()

			userDir, err := config.UserDir()
			if err != nil {
				return fmt.Errorf("resolve config dir: %w", err)
			}
			fmt.Println("Config:")
			fmt.Printf("  user state dir:   %s\n", userDir)
			fmt.Printf("  verbose logging:  %v\n", os.Getenv("VERBOSE") != "")
			return nil
		},
	}
}

// checkBinary resolves bin on PATH and, if found, runs its --version
// (or --help, for tools whose CLI has no --version) so a misbehaving
// install that merely exists on PATH is still caught, reusing the
// same install-hint path the supervisor prints for ChildNotFound.
func checkBinary(bin string, profile toolprofile.Profile) string {
	path, err := exec.LookPath(bin)
	if err != nil {
		if profile.InstallHint != "" {
			return fmt.Sprintf("not found (install: %s)", profile.InstallHint)
		}
		return "not found"
	}

	probe := exec.Command(bin, "--version")
	if err := probe.Run(); err != nil {
		probe = exec.Command(bin, "--help")
		if err := probe.Run(); err != nil {
			return fmt.Sprintf("found at %s, but it did not run cleanly", path)
		}
	}
	return fmt.Sprintf("ok (%s)", path)
}
