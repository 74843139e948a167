package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"drcare/internal/report"
)

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect and export the consultation history",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every saved record, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepository()
			if err != nil {
				return err
			}
			defer repo.Close()

			records, err := repo.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("No history yet.")
				return nil
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tDATE\tTIME\tTYPE\tPATIENT\tSYMPTOMS")
			for _, r := range records {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", r.ID, r.Date, r.Time, r.RecordType, r.Patient.Name, truncate(r.Symptoms, 40))
			}
			return tw.Flush()
		},
	})

	var out string
	export := &cobra.Command{
		Use:   "export <id>",
		Short: "Write one record as a PDF report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepository()
			if err != nil {
				return err
			}
			defer repo.Close()

			rec, err := repo.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			doc, err := newReports().RecordPDF(rec)
			if err != nil {
				return err
			}
			return writeDocument(doc, out)
		},
	}
	export.Flags().StringVarP(&out, "out", "o", "", "output file (default: the report file name)")
	cmd.AddCommand(export)

	var sheetOut string
	sheet := &cobra.Command{
		Use:   "sheet",
		Short: "Write the whole history as a spreadsheet",
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepository()
			if err != nil {
				return err
			}
			defer repo.Close()

			records, err := repo.List(cmd.Context())
			if err != nil {
				return err
			}
			doc, err := newReports().HistorySheet(records)
			if err != nil {
				return err
			}
			return writeDocument(doc, sheetOut)
		},
	}
	sheet.Flags().StringVarP(&sheetOut, "out", "o", "", "output file (default: drcare_history.xlsx)")
	cmd.AddCommand(sheet)

	return cmd
}

func writeDocument(doc report.Document, path string) error {
	if path == "" {
		path = doc.Name
	}
	if err := os.WriteFile(path, doc.Data, 0o644); err != nil {
		return err
	}
	fmt.Printf("Wrote %s (%d bytes)\n", path, len(doc.Data))
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
