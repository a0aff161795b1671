package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/zjrosen/axd/internal/ax"
	"github.com/zjrosen/axd/internal/traversal"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot <pid>",
	Short: "Print one passive element-tree snapshot as JSON",
	Long: `Capture a single passive accessibility snapshot of the given process
and print it to stdout. Never activates or focuses the target. A local
debugging aid; the daemon is the real surface.`,
	Args: cobra.ExactArgs(1),
	RunE: runSnapshot,
}

var windowsCmd = &cobra.Command{
	Use:   "windows",
	Short: "Print the on-screen window enumeration as JSON",
	Args:  cobra.NoArgs,
	RunE:  runWindows,
}

func init() {
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(windowsCmd)
}

func runSnapshot(_ *cobra.Command, args []string) error {
	pid, err := strconv.Atoi(args[0])
	if err != nil || pid <= 0 {
		return fmt.Errorf("pid must be a positive integer, got %q", args[0])
	}

	shim, err := ax.New()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	engine := traversal.NewEngine(shim)
	snap, err := engine.Traverse(ctx, pid, traversal.ModePassive, false)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}

func runWindows(_ *cobra.Command, _ []string) error {
	shim, err := ax.New()
	if err != nil {
		return err
	}
	infos, err := shim.ListWindows()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(infos)
}
