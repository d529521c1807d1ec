package main

import (
	"fmt"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/terencesc/hidsd/internal/config"
	"github.com/terencesc/hidsd/pkg/alertbus"
	"github.com/terencesc/hidsd/pkg/fileintegrity"
)

func newBaselineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "baseline",
		Short: "Manage the file integrity baseline",
	}
	cmd.AddCommand(newBaselineAddCmd())
	cmd.AddCommand(newBaselineListCmd())
	return cmd
}

func newBaselineAddCmd() *cobra.Command {
	var recursive bool
	cmd := &cobra.Command{
		Use:   "add <path>",
		Short: "Add a file or directory to the integrity baseline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mon, err := loadStandaloneMonitor()
			if err != nil {
				return err
			}
			path := args[0]
			if recursive {
				mon.AddDirectory(path, true)
			} else {
				mon.AddFile(path)
			}
			return printBaseline(mon)
		},
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "treat path as a directory and add it recursively")
	return cmd
}

func newBaselineListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the current integrity baseline",
		RunE: func(cmd *cobra.Command, args []string) error {
			mon, err := loadStandaloneMonitor()
			if err != nil {
				return err
			}
			return printBaseline(mon)
		},
	}
}

// loadStandaloneMonitor builds a bare file integrity monitor for
// offline baseline management, without starting the full daemon.
func loadStandaloneMonitor() (*fileintegrity.Monitor, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	bus := alertbus.New(log)
	mon := fileintegrity.New(bus, log)
	for _, p := range cfg.Integrity.Paths {
		mon.AddFile(p)
	}
	for _, dir := range cfg.Integrity.Directories {
		mon.AddDirectory(dir.Path, dir.Recursive)
	}
	return mon, nil
}

func printBaseline(mon *fileintegrity.Monitor) error {
	table := tablewriter.NewWriter(cmdOut())
	table.SetHeader([]string{"Path", "Hash", "Size", "Last Modified"})

	for _, f := range mon.Baseline() {
		hash := f.Hash
		if len(hash) > 16 {
			hash = hash[:16]
		}
		table.Append([]string{
			f.Path,
			hash,
			fmt.Sprintf("%d", f.Size),
			f.LastModified.Format("2006-01-02 15:04:05"),
		})
	}
	table.Render()
	return nil
}
