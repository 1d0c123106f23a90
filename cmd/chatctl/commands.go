package main

import (
	"github.com/spf13/cobra"

	"tutor-chat/internal/models"
)

// identityFlags identify the local user and how to authenticate as them.
type identityFlags struct {
	id    string
	name  string
	role  string
	token string
}

func (f *identityFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.id, "id", "", "Your user id")
	cmd.Flags().StringVar(&f.name, "name", "", "Your display name")
	cmd.Flags().StringVar(&f.role, "role", string(models.RoleStudent), "Your role (tutor or student)")
	cmd.Flags().StringVar(&f.token, "token", "", "Bearer token (default: $CHAT_TOKEN, or signed locally with JWT_SECRET)")
	cmd.MarkFlagRequired("id")
}

func (f *identityFlags) participant() models.Participant {
	name := f.name
	if name == "" {
		name = f.id
	}
	return models.Participant{ID: f.id, Name: name, Role: models.Role(f.role)}
}

func buildTokenCmd() *cobra.Command {
	var ident identityFlags
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a token for a user with the configured JWT_SECRET",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(cmd, ident)
		},
	}
	ident.register(cmd)
	return cmd
}

func buildConversationsCmd() *cobra.Command {
	var ident identityFlags
	cmd := &cobra.Command{
		Use:   "conversations",
		Short: "List your conversations, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConversations(cmd, ident)
		},
	}
	ident.register(cmd)
	return cmd
}

func buildChatCmd() *cobra.Command {
	var (
		ident    identityFlags
		peerName string
		peerRole string
	)
	cmd := &cobra.Command{
		Use:   "chat [participant-id]",
		Short: "Open a live conversation with another participant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			peer := models.Participant{ID: args[0], Name: peerName, Role: models.Role(peerRole)}
			if peer.Name == "" {
				peer.Name = peer.ID
			}
			return runChat(cmd, ident, peer)
		},
	}
	ident.register(cmd)
	cmd.Flags().StringVar(&peerName, "peer-name", "", "Display name of the other participant")
	cmd.Flags().StringVar(&peerRole, "peer-role", string(models.RoleTutor), "Role of the other participant")
	return cmd
}
