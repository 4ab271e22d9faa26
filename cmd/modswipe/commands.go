package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/modswipe/modswipe/internal/listing"
	"github.com/modswipe/modswipe/internal/supply"
)

// --- batch ---

var batchCmd = &cobra.Command{
	Use:   "batch <catalog>",
	Short: "Request a batch of unseen listings",
	Long: `Request a batch of unseen listings for a catalog.

Examples:
  modswipe batch skyrim
  modswipe batch fallout4 --count 20
  modswipe batch skyrim --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog := args[0]
		count, _ := cmd.Flags().GetInt("count")
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/batch", map[string]any{
			"catalog": catalog,
			"count":   count,
		})
		if err != nil {
			return err
		}

		var batch supply.Batch
		if err := decodeJSON(resp, &batch); err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(batch)
		}

		if batch.Exhausted {
			fmt.Println("No more unseen listings for this catalog.")
			return nil
		}
		for _, l := range batch.Listings {
			name := l.Name
			if len(name) > 60 {
				name = name[:60] + "..."
			}
			fmt.Printf("%s  %s\n", colorize(colorCyan, strconv.FormatInt(l.ModID, 10)), name)
		}
		if batch.FromCache {
			printStatus("Source", "cache")
		} else {
			printStatus("Source", "network")
		}
		if batch.RateLimit != nil {
			printStatus("Quota", "%d hourly / %d daily remaining",
				batch.RateLimit.HourlyRemaining, batch.RateLimit.DailyRemaining)
		}
		return nil
	},
}

func init() {
	batchCmd.Flags().Int("count", 15, "number of listings to request")
	batchCmd.Flags().Bool("json", false, "print the raw JSON response")
}

// --- seen ---

var seenCmd = &cobra.Command{
	Use:   "seen <catalog> <id>...",
	Short: "Mark listings as seen",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog := args[0]
		ids := make([]int64, 0, len(args)-1)
		for _, raw := range args[1:] {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid mod id %q: %w", raw, err)
			}
			ids = append(ids, id)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/seen", map[string]any{
			"catalog": catalog,
			"ids":     ids,
		})
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Marked %d listing(s) seen in %s", len(ids), catalog)
		return nil
	},
}

// --- stats ---

var statsCmd = &cobra.Command{
	Use:   "stats <catalog>",
	Short: "Show cache stats for a catalog",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog := args[0]

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/catalogs/"+url.PathEscape(catalog)+"/stats")
		if err != nil {
			return err
		}

		var stats struct {
			Count      int  `json:"count"`
			AgeMinutes *int `json:"age_minutes"`
		}
		if err := decodeJSON(resp, &stats); err != nil {
			return err
		}

		printStatus("Catalog", "%s", catalog)
		printStatus("Cached", "%d listing(s)", stats.Count)
		if stats.AgeMinutes != nil {
			printStatus("Age", "%d minute(s)", *stats.AgeMinutes)
		} else {
			printStatus("Age", "never fetched")
		}
		return nil
	},
}

// --- clear ---

var clearCmd = &cobra.Command{
	Use:   "clear <catalog>",
	Short: "Delete a catalog's cache, seen set, and approved list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog := args[0]
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This will delete all local data for %s. Use --confirm to proceed.", catalog)
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/catalogs/"+url.PathEscape(catalog)+"/cache")
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Cleared %s", catalog)
		return nil
	},
}

func init() {
	clearCmd.Flags().Bool("confirm", false, "confirm deletion")
}

// --- export ---

var exportCmd = &cobra.Command{
	Use:   "export <catalog>",
	Short: "Export a catalog's approved listings as JSONL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog := args[0]
		output, _ := cmd.Flags().GetString("output")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/approved?catalog="+url.QueryEscape(catalog))
		if err != nil {
			return err
		}

		var approved []listing.Listing
		if err := decodeJSON(resp, &approved); err != nil {
			return err
		}

		var writer *os.File
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()
			writer = f
		} else {
			writer = os.Stdout
		}

		enc := json.NewEncoder(writer)
		for _, l := range approved {
			if err := enc.Encode(l); err != nil {
				return fmt.Errorf("writing export: %w", err)
			}
		}

		if output != "" {
			printSuccess("Exported %d listing(s) to %s", len(approved), output)
		}
		return nil
	},
}

func init() {
	exportCmd.Flags().String("output", "", "output file path (default: stdout)")
}
