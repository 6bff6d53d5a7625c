package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/tildaslashalef/murmur/internal/app"
	"github.com/tildaslashalef/murmur/internal/chat"
	"github.com/tildaslashalef/murmur/internal/llm"
	"github.com/tildaslashalef/murmur/internal/loggy"
	"github.com/tildaslashalef/murmur/internal/persona"
	"github.com/tildaslashalef/murmur/internal/utils"
)

// ChatCommand returns the CLI command for chat sessions
func ChatCommand() *cli.Command {
	return &cli.Command{
		Name:  "chat",
		Usage: "Start and manage chat sessions",
		Subcommands: []*cli.Command{
			{
				Name:      "new",
				Usage:     "Start a new chat with an opening message",
				ArgsUsage: "<message>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "title",
						Usage: "Title for the chat (defaults to the opening words)",
					},
					&cli.StringFlag{
						Name:  "persona",
						Usage: "Persona ID to use for this chat",
					},
				},
				Action: newChatAction,
			},
			{
				Name:      "send",
				Usage:     "Send a message to an existing chat",
				ArgsUsage: "<chat-id> <message>",
				Action:    sendAction,
			},
			{
				Name:   "list",
				Usage:  "List chats",
				Action: listChatsAction,
			},
			{
				Name:      "show",
				Usage:     "Show a chat's history",
				ArgsUsage: "<chat-id>",
				Action:    showChatAction,
			},
			{
				Name:      "rename",
				Usage:     "Rename a chat",
				ArgsUsage: "<chat-id> <title>",
				Action:    renameChatAction,
			},
			{
				Name:      "delete",
				Usage:     "Delete a chat and its messages",
				ArgsUsage: "<chat-id>",
				Action:    deleteChatAction,
			},
		},
	}
}

func newChatAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	content := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if content == "" {
		return fmt.Errorf("an opening message is required")
	}

	title := c.String("title")
	if title == "" {
		title = utils.Truncate(content, 48)
	}

	personaID := c.String("persona")
	if personaID == "" {
		if def, err := application.Personas.GetDefault(c.Context); err == nil {
			personaID = def.ID
		}
	}

	// The chat and its opening message are created through the gate: the
	// message is only written once the chat row exists
	session, userMsg, err := application.Chat.StartChat(c.Context, title, personaID, chat.RoleUser, content)
	if err != nil {
		return err
	}

	utils.PrintKeyValueWithColor("Chat", session.ID, utils.Theme.Accent)
	return converse(c.Context, application, session, userMsg)
}

func sendAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	if c.NArg() < 2 {
		return fmt.Errorf("usage: murmur chat send <chat-id> <message>")
	}
	chatID := c.Args().First()
	content := strings.TrimSpace(strings.Join(c.Args().Tail(), " "))
	if content == "" {
		return fmt.Errorf("a message is required")
	}

	session, err := application.Chat.GetChat(c.Context, chatID)
	if err != nil {
		return err
	}

	userMsg, err := application.Chat.SendMessage(c.Context, chatID, chat.RoleUser, content)
	if err != nil {
		return err
	}

	return converse(c.Context, application, session, userMsg)
}

// converse streams the model's reply to the user's message, stores it, and
// remembers the exchange for later recall
func converse(ctx context.Context, application *app.App, session *chat.Chat, userMsg *chat.Message) error {
	stopEngine := startEngine(ctx, application, session.ID)
	defer stopEngine()

	application.Chat.Focus(session.ID)

	messages, err := buildPrompt(ctx, application, session, userMsg)
	if err != nil {
		return err
	}

	stream, err := application.LLM.GenerateChatStream(ctx, llm.ChatRequest{Messages: messages})
	if err != nil {
		return fmt.Errorf("starting completion: %w", err)
	}

	var reply strings.Builder
	for chunk := range stream {
		if chunk.Error != "" {
			fmt.Println()
			return fmt.Errorf("model error: %s", chunk.Error)
		}
		fmt.Print(chunk.Message.Content)
		reply.WriteString(chunk.Message.Content)
	}
	fmt.Println()

	if reply.Len() > 0 {
		if _, err := application.Chat.SendMessage(ctx, session.ID, chat.RoleAssistant, reply.String()); err != nil {
			return fmt.Errorf("storing reply: %w", err)
		}
		if _, err := application.Memory.Remember(ctx, session.ID, userMsg.Content+"\n"+reply.String()); err != nil {
			loggy.Debug("remembering exchange failed", "chat_id", session.ID, "error", err)
		}
	}
	return nil
}

// buildPrompt assembles the persona instructions, remembered context, and
// chat history for the model. Context recall is deadline-bound and degrades
// to nothing rather than stalling the prompt.
func buildPrompt(ctx context.Context, application *app.App, session *chat.Chat, userMsg *chat.Message) ([]llm.Message, error) {
	var messages []llm.Message

	var system []string
	if session.PersonaID != "" {
		if p, err := application.Personas.Get(ctx, session.PersonaID); err == nil {
			system = append(system, p.SystemPrompt)
		} else if !isNotFound(err) {
			return nil, err
		}
	}
	if remembered := application.Memory.BuildContext(ctx, userMsg.Content); remembered != "" {
		system = append(system, remembered)
	}
	if len(system) > 0 {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: strings.Join(system, "\n\n")})
	}

	history, err := application.Chat.History(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	for _, msg := range history {
		messages = append(messages, llm.Message{Role: string(msg.Role), Content: msg.Content})
	}
	// StartChat stores the user message before history is read; guard anyway
	if len(history) == 0 || history[len(history)-1].ID != userMsg.ID {
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: userMsg.Content})
	}
	return messages, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, persona.ErrPersonaNotFound) || errors.Is(err, chat.ErrChatNotFound)
}

// startEngine brings the sync engine up for the duration of a command,
// subscribed to the given topics. A nil engine means offline mode.
func startEngine(ctx context.Context, application *app.App, topics ...string) func() {
	if application.Sync == nil {
		return func() {}
	}
	if err := application.Sync.Start(ctx, topics...); err != nil {
		loggy.Warn("sync engine failed to start, continuing offline", "error", err)
		return func() {}
	}
	return func() { application.Sync.Stop() }
}

func listChatsAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	chats, err := application.Chat.ListChats(c.Context, 50, 0)
	if err != nil {
		return err
	}

	rows := make([][]string, 0, len(chats))
	for _, session := range chats {
		synced := "✓"
		if session.NeedsSync() {
			synced = "…"
		}
		rows = append(rows, []string{
			session.ID,
			utils.Truncate(session.Title, 48),
			session.UpdatedAt.Format("Jan 02 15:04"),
			synced,
		})
	}

	opts := utils.DefaultTableOptions()
	opts.Title = "Chats"
	utils.PrintTable([]string{"ID", "Title", "Updated", "Synced"}, rows, opts)
	return nil
}

func showChatAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	chatID := c.Args().First()
	if chatID == "" {
		return fmt.Errorf("a chat id is required")
	}

	session, err := application.Chat.GetChat(c.Context, chatID)
	if err != nil {
		return err
	}
	history, err := application.Chat.History(c.Context, chatID)
	if err != nil {
		return err
	}

	utils.PrintHeading(session.Title)
	for _, msg := range history {
		label := fmt.Sprintf("[%s] %s", msg.Role, msg.CreatedAt.Format(time.Kitchen))
		switch msg.Role {
		case chat.RoleUser:
			utils.PrintKeyValueWithColor(label, msg.Content, utils.Theme.Info)
		default:
			utils.PrintKeyValueWithColor(label, msg.Content, utils.Theme.TableRow)
		}
	}
	return nil
}

func renameChatAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	if c.NArg() < 2 {
		return fmt.Errorf("usage: murmur chat rename <chat-id> <title>")
	}
	title := strings.Join(c.Args().Tail(), " ")

	if _, err := application.Chat.RenameChat(c.Context, c.Args().First(), title); err != nil {
		return err
	}
	utils.PrintSuccess("Chat renamed")
	return nil
}

func deleteChatAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	chatID := c.Args().First()
	if chatID == "" {
		return fmt.Errorf("a chat id is required")
	}
	if err := application.Chat.DeleteChat(c.Context, chatID); err != nil {
		return err
	}
	utils.PrintSuccess("Chat deleted")
	return nil
}
