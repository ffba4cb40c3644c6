package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/ligochat/internal/config"
	"github.com/zhouzirui/ligochat/internal/model/chat"
	"github.com/zhouzirui/ligochat/internal/model/view"
	"github.com/zhouzirui/ligochat/internal/service/session"
	"github.com/zhouzirui/ligochat/internal/service/transport"
	pkglog "github.com/zhouzirui/ligochat/pkg/log"
)

func main() {
	mode := flag.String("mode", "chat", "test mode: chat, grammar, bot or listen")
	user := flag.String("user", fmt.Sprintf("tester-%d", time.Now().Unix()%10000), "username to join as")
	text := flag.String("text", "", "message, grammar input or bot question")
	translate := flag.String("translate", "none", "translation mode for chat: none, ko, en, vi")
	wait := flag.Duration("wait", 20*time.Second, "how long to wait for replies")
	cfgFile := flag.String("config", "", "config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("[WARN] failed to load .env: %v", err)
	}

	cfg, err := config.Load(config.NewViper(), *cfgFile)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	closer, err := pkglog.Init(cfg.Log)
	if err != nil {
		log.Fatalf("failed to initialise logging: %v", err)
	}
	defer closer.Close()

	if *mode != "listen" && *text == "" {
		flag.Usage()
		log.Fatalf("-text is required for mode %s", *mode)
	}

	client := transport.New(cfg.TransportOptions(), pkglog.L())
	ctrl, err := session.NewController(*user, client, append(cfg.SessionOptions(), session.WithLogger(pkglog.L()))...)
	if err != nil {
		log.Fatalf("failed to create session: %v", err)
	}
	defer ctrl.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Session.ConnectTimeout+*wait)
	defer cancel()

	changes, stop := ctrl.Watch()
	defer stop()

	log.Printf("connecting to %s as %s", cfg.Server.URL, *user)
	if err := ctrl.Start(ctx); err != nil {
		log.Fatalf("connect failed: %v", err)
	}

	var done func(chat.SessionState) bool
	switch *mode {
	case "chat":
		err = ctrl.SendChatMessage(*text, chat.TranslationMode(*translate))
		done = func(s chat.SessionState) bool {
			for _, msg := range s.Feed {
				if msg.Kind == chat.KindChat && msg.Sender == *user {
					return true
				}
			}
			return false
		}
	case "grammar":
		err = ctrl.RequestGrammarCheck(*text)
		done = func(s chat.SessionState) bool { return s.LastGrammarResult != nil }
	case "bot":
		err = ctrl.RequestBotAnswer(*text)
		done = func(s chat.SessionState) bool { return s.LastBotAnswer != nil }
	case "listen":
		done = func(chat.SessionState) bool { return false }
	default:
		flag.Usage()
		log.Fatalf("unknown mode %q", *mode)
	}
	if err != nil {
		log.Fatalf("request failed: %v", err)
	}

	printed := 0
	for {
		state := ctrl.Snapshot()
		printed = printRows(view.Project(state), printed)

		if done(state) {
			printBanners(view.Project(state))
			log.Printf("%s test finished", *mode)
			return
		}
		if state.Status.Terminal() {
			log.Fatalf("session ended: %s (%v)", view.StatusLabel(state.Status), ctrl.Err())
		}

		select {
		case <-changes:
		case <-ctx.Done():
			if *mode == "listen" {
				return
			}
			log.Fatalf("no reply within %s", *wait)
		}
	}
}

func printRows(vm view.ViewModel, from int) int {
	from = min(from, len(vm.Rows))
	for _, row := range vm.Rows[from:] {
		switch row.Kind {
		case view.RowNotice:
			fmt.Printf("-- %s --\n", row.Text)
		default:
			fmt.Printf("[%s] %s: %s\n", row.Initials, row.Sender, row.Text)
		}
	}
	return len(vm.Rows)
}

func printBanners(vm view.ViewModel) {
	for _, b := range vm.Banners {
		fmt.Printf("%s: %s\n", b.Title, b.Text)
	}
}
