package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"reminderbot/internal/app"
	"reminderbot/internal/apperr"
	"reminderbot/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	var (
		sendReminder bool
		poll         bool
		listChats    bool
		showVersion  bool
		settingsPath string
	)
	flag.BoolVar(&sendReminder, "send-reminder", false, "send the reminder once to every CHAT_IDS entry and exit (default mode)")
	flag.BoolVar(&poll, "poll", false, "run long polling to answer /start and /id (wins over -send-reminder)")
	flag.BoolVar(&listChats, "list-chats", false, "print chats recorded by -poll and exit")
	flag.BoolVar(&showVersion, "version", false, "print version and exit")
	flag.StringVar(&settingsPath, "settings", "", "optional YAML/JSON settings file (overrides SETTINGS_FILE)")
	flag.Parse()

	if showVersion {
		fmt.Println("reminderbot", version)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	opts := app.Options{
		Env:          config.EnvOptions{DotEnvPath: ".env"},
		SettingsPath: settingsPath,
	}

	var err error
	switch pickMode(sendReminder, poll, listChats) {
	case modeList:
		err = app.ListChats(ctx, opts)
	case modePoll:
		err = app.RunPoll(ctx, opts)
	default:
		_, err = app.SendOnce(ctx, opts)
	}
	if err != nil {
		prefix, code := exitStatus(err)
		fmt.Fprintln(os.Stderr, prefix, err)
		if code != 0 {
			cancel()
			os.Exit(code)
		}
	}
}

// exitStatus maps a run error to its stderr prefix and exit code. Recoverable
// kinds are reported but never fail the process.
func exitStatus(err error) (string, int) {
	switch {
	case apperr.IsFatal(err):
		return "fatal:", 1
	case apperr.KindOf(err) != "":
		return "warning:", 0
	default:
		return "error:", 1
	}
}

type mode int

const (
	modeSend mode = iota
	modePoll
	modeList
)

// pickMode: -list-chats first, then -poll (even with -send-reminder), else send.
func pickMode(sendReminder, poll, listChats bool) mode {
	switch {
	case listChats:
		return modeList
	case poll:
		if sendReminder {
			fmt.Fprintln(os.Stderr, "both -send-reminder and -poll given; running -poll")
		}
		return modePoll
	default:
		return modeSend
	}
}
