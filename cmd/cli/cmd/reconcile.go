package cmd

import (
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
)

var reconcileScheduled bool

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Trigger a reconciliation sweep",
	Long:  `Trigger the reconciliation loop's sweeps out of band, rather than waiting for the next scheduled tick.`,
}

var reconcileRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run sweeps A/B/C now, optionally Sweep D too",
	RunE:  runReconcileRun,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
	reconcileCmd.AddCommand(reconcileRunCmd)

	reconcileRunCmd.Flags().BoolVar(&reconcileScheduled, "scheduled", false, "Also run Sweep D (scheduled-booking redispatch)")
}

func runReconcileRun(cmd *cobra.Command, args []string) error {
	reqURL := fmt.Sprintf("%s/api/v1/admin/reconcile", serverURL)
	if reconcileScheduled {
		reqURL += "?scheduled=true"
	}

	req, err := http.NewRequest(http.MethodPost, reqURL, nil)
	if err != nil {
		return err
	}
	if adminToken != "" {
		req.Header.Set("Authorization", "Bearer "+adminToken)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("reconciliation sweep failed: %s", string(body))
	}

	fmt.Println("Reconciliation sweep completed.")
	return nil
}
