package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
)

// NewNotifyCommand constructs the `notify` command: publish a real-time event
// to a user's live connections.
func NewNotifyCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Publish a real-time event to a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, _ := cmd.Flags().GetString("user")
			data, _ := cmd.Flags().GetString("data")

			body := map[string]any{"user_id": user, "data": json.RawMessage(data)}
			b, err := json.Marshal(body)
			if err != nil {
				return fmt.Errorf("invalid data: %w", err)
			}
			resp, err := http.Post(baseURL()+"/v1/notify", "application/json", bytes.NewReader(b))
			if err != nil {
				return err
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			fmt.Println("status:", resp.Status)
			return nil
		},
	}
	cmd.Flags().String("user", "", "Target user id")
	cmd.Flags().String("data", "{}", "Event payload (JSON)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
