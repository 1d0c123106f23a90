package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"tutor-chat/internal/auth"
	"tutor-chat/internal/client"
	"tutor-chat/internal/config"
	"tutor-chat/internal/models"
	"tutor-chat/pkg/logger"
)

func loadConfig() (*config.Config, error) {
	_ = godotenv.Load()
	cfg, err := config.Read(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger.GlobalLogger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	return cfg, nil
}

// resolveToken prefers --token, then $CHAT_TOKEN, then a token signed with
// the local JWT secret.
func resolveToken(cfg *config.Config, ident identityFlags) (string, error) {
	if ident.token != "" {
		return ident.token, nil
	}
	if token := os.Getenv("CHAT_TOKEN"); token != "" {
		return token, nil
	}
	if err := cfg.RequireJWTSecret(); err != nil {
		return "", fmt.Errorf("no token: pass --token, set CHAT_TOKEN or configure JWT_SECRET")
	}
	return auth.NewService([]byte(cfg.JWT.Secret), cfg.JWT.ExpiresIn).IssueToken(ident.participant())
}

func runToken(cmd *cobra.Command, ident identityFlags) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.RequireJWTSecret(); err != nil {
		return err
	}
	token, err := auth.NewService([]byte(cfg.JWT.Secret), cfg.JWT.ExpiresIn).IssueToken(ident.participant())
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

func runConversations(cmd *cobra.Command, ident identityFlags) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	token, err := resolveToken(cfg, ident)
	if err != nil {
		return err
	}

	convs, err := client.NewAPIClient(cfg.Client.APIURL, token).ListConversations(cmd.Context())
	if err != nil {
		return fmt.Errorf("list conversations: %w", err)
	}
	if len(convs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No conversations yet.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tWITH\tROLE\tUNREAD\tLAST MESSAGE\tUPDATED")
	for _, c := range convs {
		last := "-"
		if c.LastMessage != nil {
			last = preview(*c.LastMessage, 40)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			c.ID, c.Participant.Name, c.Participant.Role, c.UnreadCount, last, c.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func runChat(cmd *cobra.Command, ident identityFlags, peer models.Participant) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	token, err := resolveToken(cfg, ident)
	if err != nil {
		return err
	}
	self := ident.participant()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	c := client.New(client.OptionsFromConfig(cfg.Client, self, token))
	defer c.Close()

	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(ctx) }()

	conv, err := c.StartConversation(ctx, peer)
	if err != nil {
		return fmt.Errorf("start conversation: %w", err)
	}
	if err := c.OpenConversation(ctx, conv.ID); err != nil {
		return fmt.Errorf("open conversation: %w", err)
	}

	view := newChatView(cmd.OutOrStdout(), self, peer)
	updates, unsubscribe := c.Subscribe()
	defer unsubscribe()
	go func() {
		for s := range updates {
			view.render(s)
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-runErr:
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleLine(ctx, c, view, line); quit {
				return nil
			}
		}
	}
}

func handleLine(ctx context.Context, c *client.Client, view *chatView, line string) bool {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return false
	case line == "/quit":
		return true
	case strings.HasPrefix(line, "/file "):
		path := strings.TrimSpace(strings.TrimPrefix(line, "/file "))
		f, err := os.Open(path)
		if err != nil {
			view.printf("! %v\n", err)
			return false
		}
		defer f.Close()
		if _, err := c.SendFile(ctx, fileKind(path), filepath.Base(path), f); err != nil {
			view.printf("! not sent: %v\n", err)
		}
	default:
		if _, err := c.SendMessage(ctx, line); err != nil {
			view.printf("! not sent: %v\n", err)
		}
	}
	return false
}

func fileKind(path string) models.MessageType {
	if strings.HasPrefix(mime.TypeByExtension(strings.ToLower(filepath.Ext(path))), "image/") {
		return models.MessageTypeImage
	}
	return models.MessageTypeFile
}

func preview(m models.Message, limit int) string {
	text := m.Content
	if m.File != nil {
		text = "[" + string(m.Type) + "] " + m.File.Name
	}
	if len(text) > limit {
		text = text[:limit-3] + "..."
	}
	return text
}

// chatView prints what changed between successive client states.
type chatView struct {
	mu      sync.Mutex
	out     io.Writer
	self    models.Participant
	peer    models.Participant
	printed map[string]struct{}
	status  client.Status
	online  bool
	typing  string
	lastErr string
}

func newChatView(out io.Writer, self, peer models.Participant) *chatView {
	return &chatView{out: out, self: self, peer: peer, printed: make(map[string]struct{})}
}

func (v *chatView) printf(format string, args ...any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintf(v.out, format, args...)
}

func (v *chatView) render(s client.State) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if s.Status != "" && s.Status != v.status {
		v.status = s.Status
		fmt.Fprintf(v.out, "* %s\n", s.Status)
	}
	if online := s.IsOnline(v.peer.ID); online != v.online {
		v.online = online
		state := "offline"
		if online {
			state = "online"
		}
		fmt.Fprintf(v.out, "* %s is %s\n", v.peer.Name, state)
	}

	for _, m := range s.Messages {
		if m.Pending {
			continue
		}
		if _, ok := v.printed[m.ID]; ok {
			continue
		}
		v.printed[m.ID] = struct{}{}
		body := m.Content
		if m.File != nil {
			body = fmt.Sprintf("[%s] %s %s", m.Type, m.File.Name, m.File.URL)
		}
		fmt.Fprintf(v.out, "[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04"), m.SenderName, body)
	}

	typing := strings.Join(s.Typing(), ", ")
	if typing != v.typing {
		v.typing = typing
		if typing != "" {
			fmt.Fprintf(v.out, "* %s typing...\n", typing)
		}
	}

	if s.Err != nil && s.Err.Error() != v.lastErr {
		v.lastErr = s.Err.Error()
		fmt.Fprintf(v.out, "! %v\n", s.Err)
	} else if s.Err == nil {
		v.lastErr = ""
	}
}
