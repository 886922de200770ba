// backportctl is a small client for the backport service HTTP API.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var serverURL string

var rootCmd = &cobra.Command{
	Use:   "backportctl",
	Short: "Submit and inspect backport jobs",
	Long: `backportctl talks to a running backport service.

The server address comes from --server or the BACKPORT_SERVER environment
variable (default http://localhost:8080).

Examples:
  backportctl submit -r org/app -b release/2.1 -q "label:backport"
  backportctl status 6f1c9a2e-...
  backportctl health`,
	SilenceUsage: true,
}

var (
	submitRepo     string
	submitBranch   string
	submitQuery    string
	submitCallback string
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a backport job",
	RunE:  runSubmit,
}

var statusCmd = &cobra.Command{
	Use:   "status <jobId>",
	Short: "Show the state of a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the server is up",
	RunE:  runHealth,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaultServer(), "server base URL")

	submitCmd.Flags().StringVarP(&submitRepo, "repo", "r", "", "repository in owner/name form (required)")
	submitCmd.Flags().StringVarP(&submitBranch, "branch", "b", "", "target branch (required)")
	submitCmd.Flags().StringVarP(&submitQuery, "query", "q", "", "pull request filter query (required)")
	submitCmd.Flags().StringVar(&submitCallback, "callback", "", "callback URL notified on completion")
	_ = submitCmd.MarkFlagRequired("repo")
	_ = submitCmd.MarkFlagRequired("branch")
	_ = submitCmd.MarkFlagRequired("query")

	rootCmd.AddCommand(submitCmd, statusCmd, healthCmd)
}

func defaultServer() string {
	if v := os.Getenv("BACKPORT_SERVER"); v != "" {
		return v
	}
	return "http://localhost:8080"
}

func runSubmit(cmd *cobra.Command, args []string) error {
	body, err := json.Marshal(map[string]string{
		"repository":    submitRepo,
		"targetBranch":  submitBranch,
		"prFilterQuery": submitQuery,
		"callbackUrl":   submitCallback,
	})
	if err != nil {
		return err
	}
	resp, err := httpClient().Post(serverURL+"/jobs", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	return printResponse(resp, http.StatusAccepted)
}

func runStatus(cmd *cobra.Command, args []string) error {
	resp, err := httpClient().Get(serverURL + "/jobs/" + args[0])
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}
	return printResponse(resp, http.StatusOK)
}

func runHealth(cmd *cobra.Command, args []string) error {
	resp, err := httpClient().Get(serverURL + "/health")
	if err != nil {
		return fmt.Errorf("health: %w", err)
	}
	return printResponse(resp, http.StatusOK)
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 15 * time.Second}
}

// printResponse pretty-prints the JSON body and returns an error when the
// status differs from want, so the process exits nonzero.
func printResponse(resp *http.Response, want int) error {
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		pretty.Write(raw)
	}
	fmt.Println(pretty.String())
	if resp.StatusCode != want {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
