package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ecobici-cdmx/dockarchive/internal/storage/query"
)

var sqlCmd = &cobra.Command{
	Use:   "sql <query>",
	Short: "Run a read-only SQL query over sealed partitions",
	Long: `Runs a DuckDB query over the sealed Parquet partitions. The table placeholder
` + query.SnapshotsTable + ` expands to every sealed partition, for example:

  dockarchive sql "SELECT station_id, count(*) FROM ` + query.SnapshotsTable + ` GROUP BY 1"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSQL,
}

func init() {
	rootCmd.AddCommand(sqlCmd)
}

func runSQL(cmd *cobra.Command, args []string) error {
	q, err := query.New(cfg.Storage)
	if err != nil {
		return err
	}
	defer q.Close()

	res, err := q.ExecuteSQL(cmd.Context(), strings.Join(args, " "))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, strings.Join(res.Columns, "\t"))
	for _, row := range res.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			if v == nil {
				cells[i] = "NULL"
				continue
			}
			cells[i] = fmt.Sprint(v)
		}
		fmt.Fprintln(out, strings.Join(cells, "\t"))
	}
	if res.Truncated {
		fmt.Fprintln(out, "(truncated)")
	}
	fmt.Fprintf(out, "%d rows\n", len(res.Rows))
	return nil
}
