package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/bms-assistant/internal/dispatch"
	"github.com/ziadkadry99/bms-assistant/internal/format"
	"github.com/ziadkadry99/bms-assistant/internal/platform"
	"github.com/ziadkadry99/bms-assistant/internal/progress"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run a health check across every device",
	Long:  `Fetches recent telemetry for every device, applies the health and diagnostic rules, and prints the devices that need attention.`,
	RunE:  runScan,
}

func init() {
	scanCmd.Flags().String("type", "", "only scan devices of this type")
	scanCmd.Flags().String("name", "", "only scan devices whose name matches this glob, e.g. \"*thermostat*\"")
	scanCmd.Flags().Bool("all", false, "list healthy devices too")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deviceType, _ := cmd.Flags().GetString("type")
	nameGlob, _ := cmd.Flags().GetString("name")
	showAll, _ := cmd.Flags().GetBool("all")

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	devices, err := a.platform.ListDevices(ctx, platform.DeviceFilter{Type: deviceType, NameGlob: nameGlob})
	if err != nil {
		return fmt.Errorf("listing devices: %w", err)
	}
	out := cmd.OutOrStdout()
	if len(devices) == 0 {
		fmt.Fprintln(out, "No devices to scan.")
		return nil
	}

	reporter := progress.NewReporter("Scanning devices")
	reporter.Start(len(devices))
	reports, err := a.handlers.Scan(ctx, devices, func(r dispatch.DeviceReport) {
		reporter.Advance(r.Device.Name)
	})
	reporter.Finish()
	if err != nil {
		return fmt.Errorf("scan interrupted: %w", err)
	}

	var rows [][]string
	attention := 0
	for _, r := range reports {
		if !r.Healthy() {
			attention++
		} else if !showAll {
			continue
		}
		rows = append(rows, []string{r.Device.Name, r.Device.Status(), verdict(r)})
	}

	fmt.Fprintf(out, "Scanned %d devices, %d need attention.\n", len(reports), attention)
	if len(rows) > 0 {
		text, _ := format.Plain{}.Render(format.Table([]string{"Device", "Status", "Findings"}, rows))
		fmt.Fprintln(out, text)
	}
	return nil
}

func verdict(r dispatch.DeviceReport) string {
	switch {
	case r.Err != nil:
		return "telemetry unavailable: " + r.Err.Error()
	case r.Healthy():
		return "ok"
	}
	var findings []string
	findings = append(findings, r.Insights.Warnings...)
	for _, issue := range r.Diagnosis.Issues {
		findings = append(findings, issue.Description)
	}
	if r.Diagnosis.RequiresHumanIntervention {
		findings = append(findings, "needs a technician")
	}
	if len(findings) == 0 {
		return "warning"
	}
	return strings.Join(findings, "; ")
}
