package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var validationsLimit int

var certsCmd = &cobra.Command{
	Use:   "certs",
	Short: "Inspect issued certificates",
}

var certsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List certificates, newest id first",
	RunE: func(cmd *cobra.Command, args []string) error {
		if CC == nil {
			return fmt.Errorf("app not initialized")
		}
		certs, err := CC.Repository.ListCertificates(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list certificates: %w", err)
		}
		out := cmd.OutOrStdout()
		if len(certs) == 0 {
			fmt.Fprintln(out, "No certificates issued yet.")
			return nil
		}

		table := tablewriter.NewTable(out)
		table.Header("ID", "Student", "Course", "Issued", "Hash", "File")
		rows := make([][]string, 0, len(certs))
		for _, c := range certs {
			file := "-"
			if c.FilePath != nil {
				file = *c.FilePath
			}
			hash := c.Hash
			if len(hash) > 16 {
				hash = hash[:16]
			}
			rows = append(rows, []string{
				strconv.FormatInt(c.ID, 10), c.StudentName, c.Course, c.IssueDate, hash, file,
			})
		}
		if err := table.Bulk(rows); err != nil {
			return err
		}
		return table.Render()
	},
}

var validationsCmd = &cobra.Command{
	Use:   "validations",
	Short: "Show the most recent validation attempts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if CC == nil {
			return fmt.Errorf("app not initialized")
		}
		recs, err := CC.Repository.RecentValidations(cmd.Context(), validationsLimit)
		if err != nil {
			return fmt.Errorf("failed to load validations: %w", err)
		}

		table := tablewriter.NewTable(cmd.OutOrStdout())
		table.Header("Time", "Certificate", "Authentic", "Reasons")
		rows := make([][]string, 0, len(recs))
		for _, r := range recs {
			rows = append(rows, []string{
				r.CreatedAt.Format(time.DateTime),
				strconv.FormatInt(r.CertificateID, 10),
				strconv.FormatBool(r.Authentic),
				string(r.Reasons),
			})
		}
		if err := table.Bulk(rows); err != nil {
			return err
		}
		return table.Render()
	},
}

func init() {
	validationsCmd.Flags().IntVarP(&validationsLimit, "limit", "n", 20, "number of records to show")
	certsCmd.AddCommand(certsListCmd, validationsCmd)
	rootCmd.AddCommand(certsCmd)
}
