package main

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/voxbar/internal/config"
	"github.com/kalambet/voxbar/internal/focus"
	"github.com/kalambet/voxbar/internal/improve"
	"github.com/kalambet/voxbar/internal/interactions"
	"github.com/kalambet/voxbar/internal/profile"
)

// --- log ---

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Record or list interaction history",
}

var logAddCmd = &cobra.Command{
	Use:   "add <mode> <field=value>...",
	Short: "Record a completed operation",
	Long: `Record a completed operation and count it towards the next improvement.

Examples:
  voxbar log add dictation raw="so um send it tomorrow" cleaned="Send it tomorrow."
  voxbar log add prompt_mode instruction="make it formal" input="hey" output="Hello."`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := focus.ParseMode(args[0])
		if err != nil {
			return err
		}
		fields, err := parseFields(args[1:])
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/interactions", map[string]any{
			"mode":   mode,
			"fields": fields,
		})
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Logged %s operation %s", mode, result["id"])
		return nil
	},
}

// parseFields turns key=value arguments into a field map.
func parseFields(args []string) (map[string]string, error) {
	fields := make(map[string]string, len(args))
	for _, a := range args {
		k, v, ok := strings.Cut(a, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid field %q: want key=value", a)
		}
		fields[k] = v
	}
	return fields, nil
}

var logListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent operations, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, _ := cmd.Flags().GetString("mode")
		days, _ := cmd.Flags().GetInt("days")
		limit, _ := cmd.Flags().GetInt("limit")

		q := url.Values{}
		q.Set("days", fmt.Sprint(days))
		q.Set("limit", fmt.Sprint(limit))
		if mode != "" {
			if _, err := focus.ParseMode(mode); err != nil {
				return err
			}
			q.Set("mode", mode)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/interactions?"+q.Encode())
		if err != nil {
			return err
		}
		var records []interactions.Record
		if err := decodeJSON(resp, &records); err != nil {
			return err
		}

		if len(records) == 0 {
			fmt.Fprintln(stdout, "No interactions found.")
			return nil
		}
		for _, rec := range records {
			fmt.Fprintf(stdout, "%s  %s  %-16s %s\n",
				colorize(colorCyan, shortID(rec.ID)),
				rec.Timestamp.Local().Format(time.DateTime),
				rec.Mode,
				oneLine(fieldSummary(rec.Fields), 80),
			)
		}
		return nil
	},
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// fieldSummary renders fields in key order.
func fieldSummary(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + fields[k]
	}
	return strings.Join(parts, " ")
}

func init() {
	logListCmd.Flags().String("mode", "", "only this mode (dictation, prompt_mode, prompt_and_read, read_aloud)")
	logListCmd.Flags().Int("days", 7, "how many days back to look")
	logListCmd.Flags().Int("limit", 20, "maximum number of records")
	logCmd.AddCommand(logAddCmd)
	logCmd.AddCommand(logListCmd)
}

// --- focus ---

var focusCmd = &cobra.Command{
	Use:   "focus",
	Short: "Inspect and edit focus values",
}

var focusShowCmd = &cobra.Command{
	Use:   "show [area]",
	Short: "Show focus values",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var entries []profile.Entry
		if len(args) == 1 {
			area, err := focus.ParseArea(args[0])
			if err != nil {
				return err
			}
			resp, err := client.get(cmd.Context(), "/focus/"+string(area))
			if err != nil {
				return err
			}
			var e profile.Entry
			if err := decodeJSON(resp, &e); err != nil {
				return err
			}
			if asJSON {
				return printJSON(e)
			}
			printEntry(e, true)
			return nil
		}

		resp, err := client.get(cmd.Context(), "/focus")
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, &entries); err != nil {
			return err
		}
		if asJSON {
			return printJSON(entries)
		}
		for _, e := range entries {
			printEntry(e, false)
		}
		return nil
	},
}

func printEntry(e profile.Entry, full bool) {
	header := colorize(colorBold, e.Area.Label())
	switch {
	case e.IsDefault:
		header += " (default)"
	case e.HasPrevious:
		header += " (restorable)"
	}
	fmt.Fprintln(stdout, header)
	if full {
		fmt.Fprintln(stdout, e.Current)
		return
	}
	fmt.Fprintf(stdout, "  %s\n", oneLine(e.Current, 100))
}

var focusSetCmd = &cobra.Command{
	Use:   "set <area> [value]",
	Short: "Replace a focus value",
	Long: `Replace a focus value. The previous value is kept for one restore.

Examples:
  voxbar focus set dictation "Keep British spelling."
  voxbar focus set user_context --file ./about-me.md`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		area, err := focus.ParseArea(args[0])
		if err != nil {
			return err
		}
		file, _ := cmd.Flags().GetString("file")

		var value string
		switch {
		case len(args) == 2 && file != "":
			return fmt.Errorf("give either a value or --file, not both")
		case len(args) == 2:
			value = args[1]
		case file != "":
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			value = string(data)
		default:
			return fmt.Errorf("a value or --file is required")
		}
		return putFocus(cmd, area, value)
	},
}

func putFocus(cmd *cobra.Command, area focus.Area, value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return fmt.Errorf("value is empty")
	}
	client, err := newAPIClient()
	if err != nil {
		return err
	}
	resp, err := client.put(cmd.Context(), "/focus/"+string(area), map[string]string{"value": value})
	if err != nil {
		return err
	}
	if err := decodeJSON(resp, nil); err != nil {
		return err
	}
	printSuccess("Updated %s", area.Label())
	return nil
}

var focusRestoreCmd = &cobra.Command{
	Use:   "restore <area>",
	Short: "Swap a focus value back to its previous version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		area, err := focus.ParseArea(args[0])
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/focus/"+string(area)+"/restore", nil)
		if err != nil {
			return err
		}
		var result struct {
			Restored bool `json:"restored"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		if !result.Restored {
			printWarning("%s has no previous value", area.Label())
			return nil
		}
		printSuccess("Restored %s", area.Label())
		return nil
	},
}

var focusImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Load a focus value from a PDF, Markdown or text file",
	Long: `Load a focus value from a document. PDFs are converted to plain text.

Examples:
  voxbar focus import ./cv.pdf
  voxbar focus import ./style-guide.md --area dictation`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		areaName, _ := cmd.Flags().GetString("area")
		area, err := focus.ParseArea(areaName)
		if err != nil {
			return err
		}
		text, truncated, err := importDocument(args[0])
		if err != nil {
			return err
		}
		if truncated {
			printWarning("document truncated to %d characters", maxImportChars)
		}
		return putFocus(cmd, area, text)
	},
}

func init() {
	focusShowCmd.Flags().Bool("json", false, "print raw JSON")
	focusSetCmd.Flags().String("file", "", "read the value from a file")
	focusImportCmd.Flags().String("area", string(focus.AreaUserContext), "focus area to replace")
	focusCmd.AddCommand(focusShowCmd)
	focusCmd.AddCommand(focusSetCmd)
	focusCmd.AddCommand(focusRestoreCmd)
	focusCmd.AddCommand(focusImportCmd)
}

// --- improve ---

var improveCmd = &cobra.Command{
	Use:   "improve",
	Short: "Run or inspect focus improvement",
}

// sweepResult mirrors the JSON form of improve.Summary.
type sweepResult struct {
	ID         string                `json:"id"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at"`
	Applied    []focus.Area          `json:"applied"`
	Failed     map[focus.Area]string `json:"failed"`
	Manual     bool                  `json:"manual"`
}

var improveRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run an improvement now, ignoring the schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		printStep("Improving focus values...")
		resp, err := client.post(cmd.Context(), "/improve/run", nil)
		if err != nil {
			return err
		}
		var res sweepResult
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}
		printSweepResult(res)
		return nil
	},
}

func printSweepResult(res sweepResult) {
	if len(res.Applied) == 0 {
		printSuccess("No changes suggested")
	} else {
		labels := make([]string, len(res.Applied))
		for i, a := range res.Applied {
			labels[i] = a.Label()
		}
		printSuccess("Updated %s", strings.Join(labels, ", "))
	}
	for _, a := range focus.Areas() {
		if msg, ok := res.Failed[a]; ok {
			printError("%s: %s", a.Label(), msg)
		}
	}
}

var improveStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show scheduler state",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/improve/status")
		if err != nil {
			return err
		}
		var st improve.Status
		if err := decodeJSON(resp, &st); err != nil {
			return err
		}
		printImproveStatus(st)
		return nil
	},
}

var improveHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent sweeps",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/improve/history?limit=%d", limit))
		if err != nil {
			return err
		}
		var sweeps []sweepResult
		if err := decodeJSON(resp, &sweeps); err != nil {
			return err
		}
		if len(sweeps) == 0 {
			fmt.Fprintln(stdout, "No sweeps yet.")
			return nil
		}
		for _, sw := range sweeps {
			kind := "auto"
			if sw.Manual {
				kind = "manual"
			}
			fmt.Fprintf(stdout, "%s  %s  %-6s applied=%d failed=%d\n",
				colorize(colorCyan, shortID(sw.ID)),
				sw.FinishedAt.Local().Format(time.DateTime),
				kind,
				len(sw.Applied),
				len(sw.Failed),
			)
		}
		return nil
	},
}

func init() {
	improveHistoryCmd.Flags().Int("limit", 10, "maximum number of sweeps")
	improveCmd.AddCommand(improveRunCmd)
	improveCmd.AddCommand(improveStatusCmd)
	improveCmd.AddCommand(improveHistoryCmd)
}

// --- data ---

var dataCmd = &cobra.Command{
	Use:   "data",
	Short: "Manage stored data",
}

var dataPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete interaction logs, suggestions and learned focus values",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This will delete ALL interaction history and reset every focus value. Use --confirm to proceed.")
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		printStep("Deleting all data...")
		resp, err := client.delete(cmd.Context(), "/data")
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("All data purged")
		return nil
	},
}

func init() {
	dataPurgeCmd.Flags().Bool("confirm", false, "confirm data purge")
	dataCmd.AddCommand(dataPurgeCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
	Long: `Show or update configuration. Changes take effect on the next start.

Valid keys: ` + strings.Join(config.ValidKeys(), ", "),
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(stdout, "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetKey(key, value); err != nil {
			return err
		}
		if key == "llm.api_key" {
			printSuccess("Stored %s in the secret store", key)
			return nil
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configRotateTokenCmd = &cobra.Command{
	Use:   "rotate-token",
	Short: "Replace the local API bearer token",
	Long: `Replace the local API bearer token. A running daemon keeps accepting the
old token until it is restarted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := config.RotateAPIToken(config.NewKeychain()); err != nil {
			return err
		}
		printSuccess("API token rotated")
		printWarning("Restart voxbar and the menu-bar app to use the new token")
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configRotateTokenCmd)
}
