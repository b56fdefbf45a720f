package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mirekh/doppel/internal/config"
)

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Feed text or a document into an individual's memory",
	Long: `Feed text or a document into an individual's memory.

Examples:
  doppel ingest --individual mirek --text "Thanks for reaching out! Let's sync on Friday."
  doppel ingest --individual mirek --file ./resume.pdf
  doppel ingest --individual mirek --file ./notes.txt --source upload`,
	RunE: func(cmd *cobra.Command, args []string) error {
		individual, _ := cmd.Flags().GetString("individual")
		text, _ := cmd.Flags().GetString("text")
		file, _ := cmd.Flags().GetString("file")
		source, _ := cmd.Flags().GetString("source")

		if individual == "" {
			return fmt.Errorf("--individual is required")
		}
		if text == "" && file == "" {
			return fmt.Errorf("one of --text or --file is required")
		}

		req := map[string]any{}
		if source != "" {
			req["source"] = source
		}

		switch {
		case text != "":
			req["text"] = text
		case file != "":
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			req["filename"] = filepath.Base(file)
			req["file_content"] = base64.StdEncoding.EncodeToString(data)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/individuals/"+individual+"/ingest", req)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Queued consolidation job %s", result["job_id"])
		return nil
	},
}

func init() {
	ingestCmd.Flags().String("individual", "", "individual whose memory to update")
	ingestCmd.Flags().String("text", "", "raw text to ingest")
	ingestCmd.Flags().String("file", "", "file path to ingest (txt, md, pdf)")
	ingestCmd.Flags().String("source", "", "origin of the content (conversation, upload)")
}

// --- memory ---

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect or reset an individual's memory",
}

var memoryShowCmd = &cobra.Command{
	Use:   "show <individual>",
	Short: "Show everything known about an individual as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/individuals/"+args[0]+"/memory")
		if err != nil {
			return err
		}

		var snapshot any
		if err := decodeJSON(resp, &snapshot); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snapshot)
	},
}

var memoryResetCmd = &cobra.Command{
	Use:   "reset <individual>",
	Short: "Delete everything known about an individual",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This will delete ALL memory for %s. Use --confirm to proceed.", args[0])
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/individuals/"+args[0]+"/reset", map[string]any{"confirm": true})
		if err != nil {
			return err
		}

		var result struct {
			Status string `json:"status"`
			Total  int    `json:"total"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Deleted %d records for %s", result.Total, args[0])
		return nil
	},
}

func init() {
	memoryResetCmd.Flags().Bool("confirm", false, "confirm memory reset")
	memoryCmd.AddCommand(memoryShowCmd)
	memoryCmd.AddCommand(memoryResetCmd)
}

// --- timeline ---

var timelineCmd = &cobra.Command{
	Use:   "timeline <individual>",
	Short: "Show what was learned about an individual, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/individuals/"+args[0]+"/timeline")
		if err != nil {
			return err
		}

		var result struct {
			Individual string `json:"individual"`
			Events     []struct {
				Date        string `json:"date"`
				Type        string `json:"type"`
				Description string `json:"description"`
				Source      string `json:"source"`
				Grouped     bool   `json:"grouped"`
			} `json:"events"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Events) == 0 {
			fmt.Printf("Nothing learned about %s yet.\n", args[0])
			return nil
		}

		for _, ev := range result.Events {
			date := ev.Date
			if len(date) > 10 {
				date = date[:10]
			}
			label := ev.Type
			if ev.Grouped {
				label += " (consolidated)"
			}
			fmt.Printf("%s  %s  %s\n",
				colorize(colorCyan, date),
				colorize(colorBold, label),
				ev.Description,
			)
		}
		return nil
	},
}

// --- generate ---

var generateCmd = &cobra.Command{
	Use:   "generate <individual> <request...>",
	Short: "Generate content in an individual's voice",
	Long: `Generate content in an individual's voice.

Examples:
  doppel generate mirek "write a short bio for a conference page"
  doppel generate mirek "reply to this email declining politely"`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		individual := args[0]
		request := strings.Join(args[1:], " ")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/individuals/"+individual+"/generate", map[string]any{
			"request": request,
		})
		if err != nil {
			return err
		}

		var result struct {
			Individual string `json:"individual"`
			Content    string `json:"content"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		fmt.Println(result.Content)
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
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

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
