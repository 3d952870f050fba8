// Package client contains Cobra CLI commands for Courier.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// BaseURLFunc provides the base HTTP API URL (e.g., from env or flag).
type BaseURLFunc func() string

// NewJobCommand constructs the `job` command group and subcommands.
func NewJobCommand(baseURL BaseURLFunc) *cobra.Command {
	jobCmd := &cobra.Command{Use: "job", Short: "Job queue operations"}
	jobCmd.AddCommand(
		newJobEnqueueCommand(baseURL),
		newJobGetCommand(baseURL),
		newJobStatsCommand(baseURL),
	)
	return jobCmd
}

func newJobEnqueueCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Enqueue a job",
		RunE: func(cmd *cobra.Command, _ []string) error {
			queue, _ := cmd.Flags().GetString("queue")
			jobType, _ := cmd.Flags().GetString("type")
			payload, _ := cmd.Flags().GetString("payload")
			maxAttempts, _ := cmd.Flags().GetInt("max-attempts")
			baseDelayMs, _ := cmd.Flags().GetInt64("base-delay-ms")
			removeOnComplete, _ := cmd.Flags().GetBool("remove-on-complete")
			removeOnFail, _ := cmd.Flags().GetBool("remove-on-fail")

			body := map[string]any{
				"queue":              queue,
				"type":               jobType,
				"payload":            json.RawMessage(payload),
				"max_attempts":       maxAttempts,
				"base_delay_ms":      baseDelayMs,
				"remove_on_complete": removeOnComplete,
				"remove_on_fail":     removeOnFail,
			}
			b, err := json.Marshal(body)
			if err != nil {
				return fmt.Errorf("invalid payload: %w", err)
			}
			resp, err := http.Post(baseURL()+"/v1/jobs/enqueue", "application/json", bytes.NewReader(b))
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			out, _ := io.ReadAll(resp.Body)
			fmt.Printf("status: %s %s", resp.Status, out)
			return nil
		},
	}
	cmd.Flags().String("queue", "email", "Queue name")
	cmd.Flags().String("type", "email", "Job type")
	cmd.Flags().String("payload", "{}", "Job payload (JSON)")
	cmd.Flags().Int("max-attempts", 0, "Max attempts (0 = queue default)")
	cmd.Flags().Int64("base-delay-ms", 0, "Base retry delay in ms (0 = queue default)")
	cmd.Flags().Bool("remove-on-complete", false, "Purge the job on success")
	cmd.Flags().Bool("remove-on-fail", false, "Purge the job on terminal failure")
	return cmd
}

func newJobGetCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Fetch a job by id",
		RunE: func(cmd *cobra.Command, _ []string) error {
			queue, _ := cmd.Flags().GetString("queue")
			id, _ := cmd.Flags().GetString("id")
			return getJSON(baseURL()+"/v1/jobs/get?queue="+queue+"&id="+id, 10*time.Second)
		},
	}
	cmd.Flags().String("queue", "email", "Queue name")
	cmd.Flags().String("id", "", "Job id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newJobStatsCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show queue stats",
		RunE: func(cmd *cobra.Command, _ []string) error {
			queue, _ := cmd.Flags().GetString("queue")
			return getJSON(baseURL()+"/v1/jobs/stats?queue="+queue, 10*time.Second)
		},
	}
	cmd.Flags().String("queue", "email", "Queue name")
	return cmd
}

func getJSON(url string, timeout time.Duration) error {
	client := &http.Client{Timeout: timeout}
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	fmt.Printf("%s", out)
	return nil
}
