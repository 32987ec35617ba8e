package main

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/fatih/color"
	"github.com/goodtune/idlewatch/internal/config"
	"github.com/goodtune/idlewatch/internal/inactivity"
	"github.com/spf13/cobra"
)

var (
	simulateWarning  int
	simulateExpiry   int
	simulateActivity []int
	simulateRealtime bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Simulate the inactivity timeline of one page",
	Long: `Run a single page monitor against the configured thresholds and print
each state change. Activity is injected at the given elapsed seconds.`,
	Example: `  idlewatch simulate
  idlewatch simulate --warning 5 --expiry 8 --activity-at 4,6
  idlewatch simulate --warning 3 --expiry 5 --realtime`,
	RunE: runSimulate,
}

func init() {
	simulateCmd.Flags().IntVar(&simulateWarning, "warning", 0, "Warning threshold in seconds (defaults to configuration)")
	simulateCmd.Flags().IntVar(&simulateExpiry, "expiry", 0, "Expiry threshold in seconds (defaults to configuration)")
	simulateCmd.Flags().IntSliceVar(&simulateActivity, "activity-at", nil, "Seconds since start at which the user is active")
	simulateCmd.Flags().BoolVar(&simulateRealtime, "realtime", false, "Tick on the configured interval instead of instantly")
	rootCmd.AddCommand(simulateCmd)
}

// consolePage prints panel and navigation side effects.
type consolePage struct {
	out    io.Writer
	second *int
}

func (c consolePage) Show() {
	_, _ = color.New(color.FgYellow, color.Bold).Fprintf(c.out, "%6ds  warning shown (#%s)\n", *c.second, inactivity.WarningElementID)
}

func (c consolePage) Hide() {
	_, _ = color.New(color.FgGreen).Fprintf(c.out, "%6ds  warning removed\n", *c.second)
}

func (c consolePage) Navigate(path string) {
	_, _ = color.New(color.FgRed, color.Bold).Fprintf(c.out, "%6ds  expired, navigating to %s\n", *c.second, path)
}

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg, err := loadSimulationConfig()
	if err != nil {
		return err
	}

	monitorCfg := inactivity.Config{
		WarningThresholdSeconds: cfg.Inactivity.WarningThresholdSeconds,
		ExpiryThresholdSeconds:  cfg.Inactivity.ExpiryThresholdSeconds,
		LogoutPath:              cfg.Inactivity.LogoutPath,
	}
	if simulateWarning > 0 {
		monitorCfg.WarningThresholdSeconds = simulateWarning
	}
	if simulateExpiry > 0 {
		monitorCfg.ExpiryThresholdSeconds = simulateExpiry
	}

	out := cmd.OutOrStdout()
	second := 0
	page := consolePage{out: out, second: &second}
	monitor, err := inactivity.NewMonitor(monitorCfg, page, page)
	if err != nil {
		return err
	}

	activity := make(map[int]bool, len(simulateActivity))
	for _, s := range simulateActivity {
		activity[s] = true
	}
	last := 0
	if len(simulateActivity) > 0 {
		sorted := append([]int(nil), simulateActivity...)
		sort.Ints(sorted)
		last = sorted[len(sorted)-1]
	}

	var ticker inactivity.Ticker
	if simulateRealtime {
		ticker = inactivity.NewRealTicker(cfg.Inactivity.TickIntervalDuration())
		defer ticker.Stop()
	}

	cyan := color.New(color.FgCyan, color.Bold)
	_, _ = cyan.Fprintf(out, "warning at %ds, logout at %ds\n", monitorCfg.WarningThresholdSeconds, monitorCfg.ExpiryThresholdSeconds)

	// Bound the run so a final activity cannot keep it going forever
	limit := last + monitorCfg.ExpiryThresholdSeconds
	for second = 1; second <= limit; second++ {
		if ticker != nil {
			<-ticker.C()
		}

		if monitor.Tick() == inactivity.TransitionExpired {
			break
		}

		if activity[second] {
			fmt.Fprintf(out, "%6ds  activity (idle %ds)\n", second, monitor.Elapsed())
			monitor.RecordActivity()
		}
	}

	_, _ = cyan.Fprintf(out, "final state: %s after %ds\n", monitor.State(), second)
	return nil
}

// loadSimulationConfig loads the configuration file when it exists and falls
// back to defaults otherwise.
func loadSimulationConfig() (*config.Config, error) {
	path := configPath
	if _, err := os.Stat(path); err != nil {
		path = ""
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}
