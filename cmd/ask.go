package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/bms-assistant/internal/dispatch"
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask the assistant a single question",
	Long:  `Runs one turn and prints the answer. With --explain, prints the routed intent, the rule that matched and the extracted entities without contacting the platform.`,
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().String("user", dispatch.DefaultUserID, "conversation owner")
	askCmd.Flags().String("device", "", "device ID or name the question is about")
	askCmd.Flags().String("intent", "", "skip routing and force this intent")
	askCmd.Flags().Bool("explain", false, "show routing instead of answering")
	askCmd.Flags().Bool("json", false, "output the full reply as JSON")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	text := strings.Join(args, " ")

	user, _ := cmd.Flags().GetString("user")
	device, _ := cmd.Flags().GetString("device")
	forced, _ := cmd.Flags().GetString("intent")
	explain, _ := cmd.Flags().GetBool("explain")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	if explain {
		ents, in, rule := a.engine.Route(ctx, user, text)
		fmt.Fprintf(out, "Intent: %s\nRule:   %s\n", in, rule)
		data, err := json.MarshalIndent(ents, "", "  ")
		if err != nil {
			return fmt.Errorf("marshalling entities: %w", err)
		}
		fmt.Fprintf(out, "Entities: %s\n", data)
		return nil
	}

	reply, err := a.engine.Handle(ctx, dispatch.Request{UserID: user, Text: text, Device: device, Intent: forced})
	if err != nil {
		return err
	}
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(reply)
	}
	printReply(out, reply)
	return nil
}
