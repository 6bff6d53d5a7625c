package commands

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/tildaslashalef/murmur/internal/app"
	"github.com/tildaslashalef/murmur/internal/utils"
)

// VaultCommand returns the CLI command for the snippet vault
func VaultCommand() *cli.Command {
	return &cli.Command{
		Name:  "vault",
		Usage: "Save and retrieve snippets",
		Subcommands: []*cli.Command{
			{
				Name:      "save",
				Usage:     "Save a snippet",
				ArgsUsage: "<title> <content>",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:  "tag",
						Usage: "Tag for the snippet (repeatable)",
					},
					&cli.StringFlag{
						Name:  "chat",
						Usage: "Chat ID this snippet came from",
					},
					&cli.StringFlag{
						Name:  "message",
						Usage: "Message ID this snippet came from",
					},
				},
				Action: saveSnippetAction,
			},
			{
				Name:  "list",
				Usage: "List snippets",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "tag",
						Usage: "Only show snippets with this tag",
					},
				},
				Action: listSnippetsAction,
			},
			{
				Name:      "show",
				Usage:     "Show a snippet",
				ArgsUsage: "<snippet-id>",
				Action:    showSnippetAction,
			},
			{
				Name:      "copy",
				Usage:     "Copy a snippet's content to the clipboard",
				ArgsUsage: "<snippet-id>",
				Action:    copySnippetAction,
			},
			{
				Name:      "retag",
				Usage:     "Replace a snippet's tags",
				ArgsUsage: "<snippet-id> <tag>...",
				Action:    retagSnippetAction,
			},
			{
				Name:      "delete",
				Usage:     "Delete a snippet",
				ArgsUsage: "<snippet-id>",
				Action:    deleteSnippetAction,
			},
		},
	}
}

func saveSnippetAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	if c.NArg() < 2 {
		return fmt.Errorf("usage: murmur vault save <title> <content>")
	}
	title := c.Args().First()
	content := strings.Join(c.Args().Tail(), " ")

	snip, err := application.Vault.Save(c.Context, title, content, c.StringSlice("tag"), c.String("chat"), c.String("message"))
	if err != nil {
		return err
	}

	utils.PrintSuccess("Snippet saved")
	utils.PrintKeyValueWithColor("ID", snip.ID, utils.Theme.Accent)
	return nil
}

func listSnippetsAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	snippets, err := application.Vault.List(c.Context, c.String("tag"), 50, 0)
	if err != nil {
		return err
	}

	rows := make([][]string, 0, len(snippets))
	for _, snip := range snippets {
		rows = append(rows, []string{
			snip.ID,
			utils.Truncate(snip.Title, 40),
			strings.Join(snip.Tags, ", "),
			snip.UpdatedAt.Format("Jan 02 15:04"),
		})
	}

	opts := utils.DefaultTableOptions()
	opts.Title = "Vault"
	utils.PrintTable([]string{"ID", "Title", "Tags", "Updated"}, rows, opts)
	return nil
}

func showSnippetAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	id := c.Args().First()
	if id == "" {
		return fmt.Errorf("a snippet id is required")
	}
	snip, err := application.Vault.Get(c.Context, id)
	if err != nil {
		return err
	}

	utils.PrintHeading(snip.Title)
	if len(snip.Tags) > 0 {
		utils.PrintKeyValue("Tags", strings.Join(snip.Tags, ", "))
	}
	if snip.ChatID != "" {
		utils.PrintKeyValue("From chat", snip.ChatID)
	}
	utils.PrintDivider()
	fmt.Println(snip.Content)
	return nil
}

func copySnippetAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	id := c.Args().First()
	if id == "" {
		return fmt.Errorf("a snippet id is required")
	}
	snip, err := application.Vault.Get(c.Context, id)
	if err != nil {
		return err
	}
	if err := utils.CopyToClipboard(snip.Content); err != nil {
		return fmt.Errorf("copying to clipboard: %w", err)
	}
	utils.PrintSuccess("Snippet copied to clipboard")
	return nil
}

func retagSnippetAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	if c.NArg() < 2 {
		return fmt.Errorf("usage: murmur vault retag <snippet-id> <tag>...")
	}
	if _, err := application.Vault.Retag(c.Context, c.Args().First(), c.Args().Tail()); err != nil {
		return err
	}
	utils.PrintSuccess("Snippet retagged")
	return nil
}

func deleteSnippetAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	id := c.Args().First()
	if id == "" {
		return fmt.Errorf("a snippet id is required")
	}
	if err := application.Vault.Delete(c.Context, id); err != nil {
		return err
	}
	utils.PrintSuccess("Snippet deleted")
	return nil
}
