package cmd

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// provider mirrors the admin provider listing's JSON shape.
type provider struct {
	ID              string   `json:"id"`
	UserID          string   `json:"user_id"`
	BusinessName    string   `json:"business_name"`
	Rating          *float64 `json:"rating"`
	IsAvailable     bool     `json:"is_available"`
	ExperienceYears int      `json:"experience_years"`
}

var (
	providersSkip  int
	providersLimit int
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List and inspect providers",
	Long:  `List and inspect registered providers via the admin API.`,
}

var providersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List providers",
	RunE:  runProvidersList,
}

func init() {
	rootCmd.AddCommand(providersCmd)
	providersCmd.AddCommand(providersListCmd)

	providersListCmd.Flags().IntVar(&providersSkip, "skip", 0, "Number of results to skip")
	providersListCmd.Flags().IntVar(&providersLimit, "limit", 20, "Maximum number of results")
}

func runProvidersList(cmd *cobra.Command, args []string) error {
	params := url.Values{}
	params.Set("skip", fmt.Sprintf("%d", providersSkip))
	params.Set("limit", fmt.Sprintf("%d", providersLimit))

	reqURL := fmt.Sprintf("%s/api/v1/admin/providers?%s", serverURL, params.Encode())
	var result struct {
		Providers []provider `json:"providers"`
		Count     int        `json:"count"`
	}
	if err := adminGet(reqURL, &result); err != nil {
		return err
	}

	if outputFormat == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(result)
	}

	if len(result.Providers) == 0 {
		fmt.Println("No providers found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tBUSINESS NAME\tRATING\tAVAILABLE\tEXPERIENCE")
	fmt.Fprintln(w, "--\t-------------\t------\t---------\t----------")
	for _, p := range result.Providers {
		rating := "-"
		if p.Rating != nil {
			rating = fmt.Sprintf("%.1f", *p.Rating)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%d yrs\n", p.ID, p.BusinessName, rating, p.IsAvailable, p.ExperienceYears)
	}
	w.Flush()

	fmt.Printf("\nTotal: %d providers\n", result.Count)
	return nil
}
