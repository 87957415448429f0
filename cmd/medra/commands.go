package main

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/medrahq/medra/internal/config"
)

// --- recall ---

var recallCmd = &cobra.Command{
	Use:   "recall <query>",
	Short: "Search past conversation turns by keyword overlap",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doctor, _ := cmd.Flags().GetString("doctor")
		patient, _ := cmd.Flags().GetString("patient")

		client, err := newAPIClient(doctor)
		if err != nil {
			return err
		}

		path := "/recall?q=" + url.QueryEscape(args[0])
		if patient != "" {
			path += "&patient_id=" + url.QueryEscape(patient)
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var citations []struct {
			Text      string    `json:"text"`
			Source    string    `json:"source"`
			Role      string    `json:"role"`
			Score     float64   `json:"score"`
			Timestamp time.Time `json:"timestamp"`
		}
		if err := decodeJSON(resp, &citations); err != nil {
			return err
		}

		if len(citations) == 0 {
			printWarning("No matching context found")
			return nil
		}
		for _, c := range citations {
			fmt.Fprintf(os.Stdout, "[%.2f] (%s, %s, %s)\n  %s\n",
				c.Score, c.Source, c.Role, c.Timestamp.Format("2006-01-02 15:04"), c.Text)
		}
		return nil
	},
}

// --- patients ---

var patientsCmd = &cobra.Command{
	Use:   "patients",
	Short: "Manage the patient roster",
}

var patientsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered patients",
	RunE: func(cmd *cobra.Command, args []string) error {
		doctor, _ := cmd.Flags().GetString("doctor")

		client, err := newAPIClient(doctor)
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/patients")
		if err != nil {
			return err
		}

		var patients []struct {
			ID   string
			Name string
			MRN  string
		}
		if err := decodeJSON(resp, &patients); err != nil {
			return err
		}
		if len(patients) == 0 {
			printWarning("No patients registered")
			return nil
		}
		for _, p := range patients {
			line := fmt.Sprintf("%s  %s", p.ID, p.Name)
			if p.MRN != "" {
				line += "  (" + p.MRN + ")"
			}
			fmt.Fprintln(os.Stdout, line)
		}
		return nil
	},
}

var patientsAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Register a patient",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doctor, _ := cmd.Flags().GetString("doctor")
		mrn, _ := cmd.Flags().GetString("mrn")

		client, err := newAPIClient(doctor)
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/patients", map[string]string{
			"name": args[0],
			"mrn":  mrn,
		})
		if err != nil {
			return err
		}

		var created struct{ ID string }
		if err := decodeJSON(resp, &created); err != nil {
			return err
		}
		printSuccess("Registered patient %s (%s)", args[0], created.ID)
		return nil
	},
}

// --- notes ---

var notesCmd = &cobra.Command{
	Use:   "notes <patient-id>",
	Short: "Set a patient's notes from text, a URL, or a PDF file",
	Long: `Set a patient's notes from text, a URL, or a PDF file.

Examples:
  medra notes <id> --text "allergic to penicillin"
  medra notes <id> --url https://hospital.example/discharge/123
  medra notes <id> --pdf ./discharge-summary.pdf`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doctor, _ := cmd.Flags().GetString("doctor")
		text, _ := cmd.Flags().GetString("text")
		pageURL, _ := cmd.Flags().GetString("url")
		pdfPath, _ := cmd.Flags().GetString("pdf")

		req := map[string]string{}
		switch {
		case text != "":
			req["text"] = text
		case pageURL != "":
			req["url"] = pageURL
		case pdfPath != "":
			data, err := os.ReadFile(pdfPath)
			if err != nil {
				return fmt.Errorf("reading pdf: %w", err)
			}
			req["pdf_base64"] = base64.StdEncoding.EncodeToString(data)
		default:
			return fmt.Errorf("one of --text, --url, or --pdf is required")
		}

		client, err := newAPIClient(doctor)
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/patients/"+url.PathEscape(args[0])+"/notes", req)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Notes updated for patient %s", args[0])
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or set configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		for _, ki := range config.ShowAll(cfg) {
			fmt.Fprintf(os.Stdout, "%-28s %-32s %s\n", ki.Key, ki.Value, ki.EnvVar)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetKey(args[0], args[1]); err != nil {
			return fmt.Errorf("%w\nvalid keys: %v", err, config.ValidKeys())
		}
		printSuccess("Set %s = %s", args[0], args[1])
		return nil
	},
}

func init() {
	recallCmd.Flags().String("doctor", "", "doctor id (default $MEDRA_DOCTOR_ID)")
	recallCmd.Flags().String("patient", "", "scope the search to one patient")

	patientsListCmd.Flags().String("doctor", "", "doctor id (default $MEDRA_DOCTOR_ID)")
	patientsAddCmd.Flags().String("doctor", "", "doctor id (default $MEDRA_DOCTOR_ID)")
	patientsAddCmd.Flags().String("mrn", "", "medical record number")
	patientsCmd.AddCommand(patientsListCmd)
	patientsCmd.AddCommand(patientsAddCmd)

	notesCmd.Flags().String("doctor", "", "doctor id (default $MEDRA_DOCTOR_ID)")
	notesCmd.Flags().String("text", "", "notes text")
	notesCmd.Flags().String("url", "", "URL to fetch and extract")
	notesCmd.Flags().String("pdf", "", "PDF file to extract")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
