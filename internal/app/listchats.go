package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"reminderbot/internal/apperr"
	"reminderbot/internal/config"
	"reminderbot/internal/storage"
	"reminderbot/pkg/logx"
)

// ListChats prints the chat registry filled by poll mode, followed by a
// ready-to-paste CHAT_IDS line. It needs the settings file but not the token.
func ListChats(ctx context.Context, opts Options) error {
	opts = opts.withDefaults()
	const op = "app.ListChats"

	path, err := config.SettingsPath(opts.Env, opts.SettingsPath)
	if err != nil {
		return err
	}
	log := logx.NewConsole("warn")
	settings, err := config.NewManager(path, log).Load()
	if err != nil {
		return err
	}
	sc, enabled, err := mapStorageConfig(settings)
	if err != nil {
		return apperr.Wrap(apperr.KindConfigInvalid, op, err)
	}
	if !enabled {
		return apperr.New(apperr.KindConfigMissing, op, "no chat registry configured; set storage.driver and storage.path in the settings file")
	}

	store, err := storage.Open(sc, log)
	if err != nil {
		return apperr.Wrap(apperr.KindConfigInvalid, op, err)
	}
	defer store.Close()

	chats, err := store.ListChats(ctx)
	if err != nil {
		return err
	}
	return writeChats(opts, chats)
}

func writeChats(opts Options, chats []storage.ChatRecord) error {
	if len(chats) == 0 {
		_, err := fmt.Fprintln(opts.Stdout, "No chats recorded yet. Send /start to the bot while it runs with -poll.")
		return err
	}
	tw := tabwriter.NewWriter(opts.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHAT_ID\tUSER_ID\tUSERNAME\tGROUP\tLAST_COMMAND\tLAST_SEEN\tSEEN")
	ids := make([]string, 0, len(chats))
	for _, c := range chats {
		user := c.Username
		if user != "" {
			user = "@" + user
		}
		fmt.Fprintf(tw, "%d\t%d\t%s\t%t\t/%s\t%s\t%d\n",
			c.ChatID, c.UserID, user, c.IsGroup, c.LastCommand, c.LastSeen.Local().Format(time.RFC3339), c.SeenCount)
		ids = append(ids, strconv.FormatInt(c.ChatID, 10))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(opts.Stdout, "\nCHAT_IDS=%s\n", strings.Join(ids, ","))
	return err
}
