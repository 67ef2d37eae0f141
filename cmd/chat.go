package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/ziadkadry99/bms-assistant/internal/dispatch"
	"github.com/ziadkadry99/bms-assistant/internal/format"
	"github.com/ziadkadry99/bms-assistant/internal/session"
)

var chatUser string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the assistant in the terminal",
	Long:  `Starts an interactive conversation. Follow-up questions such as "give the details" or "ack number 1" refer to earlier turns. Type "exit" to quit.`,
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatUser, "user", os.Getenv("USER"), "conversation owner")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "bmsassist %s (%s building). Ask about devices, alarms or comfort; \"exit\" quits.\n\n", Version, a.cfg.Platform.Mode)

	prompt := promptui.Prompt{Label: chatUser}
	for {
		text, err := prompt.Run()
		if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading input: %w", err)
		}
		text = strings.TrimSpace(text)
		switch strings.ToLower(text) {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		reply, err := a.engine.Handle(ctx, dispatch.Request{UserID: chatUser, Text: text})
		if err != nil {
			fmt.Fprintf(out, "Error: %v\n\n", err)
			continue
		}
		printReply(out, reply)
	}
}

func printReply(w io.Writer, reply *dispatch.Reply) {
	text, _ := format.Plain{}.Render(reply.Result)
	fmt.Fprintln(w, text)
	for _, n := range reply.Notifications {
		if msg := notificationMessage(n); msg != "" {
			fmt.Fprintf(w, "[notification] %s\n", msg)
		}
	}
	fmt.Fprintln(w)
}

// notificationMessage extracts the role-formatted message the dispatcher
// queues with every notification.
func notificationMessage(n session.Notification) string {
	if m, ok := n.Payload.(map[string]any); ok {
		if s, ok := m["message"].(string); ok {
			return s
		}
	}
	return fmt.Sprint(n.Payload)
}
