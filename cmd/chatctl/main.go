// Package main provides chatctl, a terminal client for the tutoring chat.
//
// Mint a development token (requires JWT_SECRET):
//
//	chatctl token --id tutor-1 --name Tess --role tutor
//
// Chat with a student:
//
//	chatctl chat student-1 --id tutor-1 --name Tess --role tutor
//
// Inside a chat, every line is sent as a message. "/file <path>" uploads
// and sends a file and "/quit" leaves.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"tutor-chat/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := buildRootCmd().ExecuteContext(ctx); err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "chatctl",
		Short:         "Terminal client for tutor/student chat",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		buildTokenCmd(),
		buildConversationsCmd(),
		buildChatCmd(),
	)
	return root
}
