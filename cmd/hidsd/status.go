package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var (
	colorRed    = color.New(color.FgRed).SprintFunc()
	colorYellow = color.New(color.FgYellow).SprintFunc()
	colorCyan   = color.New(color.FgCyan).SprintFunc()
	colorWhite  = color.New(color.FgWhite).SprintFunc()
)

// statusAlert mirrors pkg/alertbus.Alert's JSON shape without
// importing the package, so the CLI can decode a remote daemon's
// response regardless of daemon version.
type statusAlert struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Severity  int    `json:"severity"`
}

func newStatusCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query a running daemon's recent alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8090", "base address of the daemon's status server")
	return cmd
}

func runStatus(addr string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(addr + "/api/v1/alerts")
	if err != nil {
		return fmt.Errorf("query daemon status: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read daemon response: %w", err)
	}

	var alerts []statusAlert
	if err := json.Unmarshal(body, &alerts); err != nil {
		return fmt.Errorf("parse daemon response: %w", err)
	}

	fmt.Println(colorCyan("hidsd recent alerts"))
	table := tablewriter.NewWriter(cmdOut())
	table.SetHeader([]string{"Time", "Severity", "Type", "Message"})

	for _, a := range alerts {
		table.Append([]string{a.Timestamp, severityColor(a.Severity), a.Type, a.Message})
	}
	table.Render()
	return nil
}

func severityColor(severity int) string {
	text := fmt.Sprintf("%d", severity)
	switch {
	case severity >= 4:
		return colorRed(text)
	case severity == 3:
		return colorYellow(text)
	default:
		return colorWhite(text)
	}
}

func cmdOut() io.Writer {
	return os.Stdout
}
