package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/i5heu/cipherroom/pkg/apiClient"
	"github.com/i5heu/cipherroom/pkg/identityStore"
	"github.com/i5heu/cipherroom/pkg/logging"
)

const (
	logKeyServer = "server"
	logKeyUser   = "user"
	logKeyRoom   = "room"
	logKeyError  = "error"
)

type chatFlags struct { // A
	server      string
	user        string
	password    string
	nickname    string
	identityDir string
	minFreeGB   int
	debug       bool
}

func (f chatFlags) level() slog.Level {
	if f.debug {
		return slog.LevelDebug
	}
	return slog.LevelWarn
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: chat [flags] <command> [arguments]")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  register                              create an account and a device identity")
	fmt.Fprintln(os.Stderr, "  restore                               recover the identity from the server backup")
	fmt.Fprintln(os.Stderr, "  create-room <name> <room-password>    create a room")
	fmt.Fprintln(os.Stderr, "  invite <room-id> <room-password> <user>")
	fmt.Fprintln(os.Stderr, "  join <room-id> [room-password]        chat; without a password the invite is used")
	fmt.Fprintln(os.Stderr, "Flags:")
	flag.PrintDefaults()
}

func parseFlags() chatFlags { // A
	f := chatFlags{}
	home, _ := os.UserHomeDir()

	flag.StringVar(&f.server, "server", "http://localhost:4242", "Server base URL")
	flag.StringVar(&f.user, "user", "", "Username")
	flag.StringVar(&f.password, "password", os.Getenv("CIPHERROOM_PASSWORD"),
		"Login password (default $CIPHERROOM_PASSWORD)")
	flag.StringVar(&f.nickname, "nick", "", "Nickname shown to others (default: username)")
	flag.StringVar(&f.identityDir, "identity", filepath.Join(home, ".cipherroom", "identity"),
		"Directory of the local identity store")
	flag.IntVar(&f.minFreeGB, "min-free-gb", 0, "Refuse to open the identity store with less free disk space (GB, 0 disables)")
	flag.BoolVar(&f.debug, "debug", false, "Enable debug logging")
	flag.Usage = usage
	flag.Parse()
	return f
}

func main() { // A
	f := parseFlags()
	if flag.NArg() < 1 || f.user == "" {
		usage()
		os.Exit(2)
	}

	logger := logging.New(os.Stderr, f.level(), false)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := run(ctx, f, flag.Args(), logger); err != nil {
		logger.ErrorContext(context.Background(), "chat failed",
			logKeyServer, f.server, logKeyUser, f.user, logKeyError, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, f chatFlags, args []string, logger *slog.Logger) error { // A
	ids, err := identityStore.Open(identityStore.Config{
		Path:             f.identityDir,
		MinimumFreeSpace: f.minFreeGB,
		Logger:           logging.Logrus(os.Stderr, f.level()),
	})
	if err != nil {
		return err
	}
	defer ids.Close()

	app := &app{
		flags:  f,
		api:    apiClient.New(f.server, nil),
		ids:    ids,
		log:    logger,
		stdin:  os.Stdin,
		stdout: os.Stdout,
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "register":
		return app.register(ctx)
	case "restore":
		return app.restore(ctx)
	case "create-room":
		if len(rest) != 2 {
			return fmt.Errorf("create-room needs <name> <room-password>")
		}
		return app.createRoom(ctx, rest[0], rest[1])
	case "invite":
		if len(rest) != 3 {
			return fmt.Errorf("invite needs <room-id> <room-password> <user>")
		}
		return app.invite(ctx, rest[0], rest[1], rest[2])
	case "join":
		if len(rest) < 1 || len(rest) > 2 {
			return fmt.Errorf("join needs <room-id> [room-password]")
		}
		password := ""
		if len(rest) == 2 {
			password = rest[1]
		}
		return app.join(ctx, rest[0], password)
	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}
