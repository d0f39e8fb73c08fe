package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/celestix/gotgproto"
	"github.com/celestix/gotgproto/sessionMaker"
	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram/auth/qrlogin"
	"github.com/joho/godotenv"
	"github.com/mdp/qrterminal/v3"

	"github.com/blockedby/tg-forwarder/internal/config"
	"github.com/blockedby/tg-forwarder/internal/database"
	"github.com/blockedby/tg-forwarder/internal/logger"
	"github.com/blockedby/tg-forwarder/internal/telegram"
)

func main() {
	fmt.Println("=== telegram auth tool ===")
	fmt.Println("this tool logs in and stores the session in the forwarder database")
	fmt.Println()

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("error: failed to load config: %v\n", err)
		os.Exit(1)
	}
	// keep stdout clean for prompts and the qr code
	if err := logger.Init("error", cfg.LogFile); err != nil {
		fmt.Printf("error: failed to init logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		fmt.Printf("error: failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	reader := bufio.NewReader(os.Stdin)
	apiID, apiHash := getAPICredentials(reader, cfg)
	cfg.TGApiID = apiID
	cfg.TGApiHash = apiHash

	fmt.Println("choose authentication method:")
	fmt.Println("  1. qr code (scan with the telegram app)")
	fmt.Println("  2. phone number (sms/code)")
	fmt.Print("\nenter choice [1]: ")

	choice, _ := reader.ReadString('\n')
	choice = strings.TrimSpace(choice)

	if choice == "2" {
		err = authWithPhone(cfg, db, reader)
	} else {
		err = authWithQR(ctx, cfg, db)
	}
	if err != nil {
		fmt.Printf("error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\n✓ authentication successful!")
	fmt.Println("the session is stored in the database, the forwarder will start ready")
}

// getAPICredentials reads telegram api credentials from config or prompts.
func getAPICredentials(reader *bufio.Reader, cfg *config.Config) (int, string) {
	apiID := cfg.TGApiID
	apiHash := cfg.TGApiHash

	if apiID == 0 {
		fmt.Print("enter your api_id (from https://my.telegram.org): ")
		raw, _ := reader.ReadString('\n')
		id, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			fmt.Printf("error: invalid api_id: %v\n", err)
			os.Exit(1)
		}
		apiID = id
	}
	if apiHash == "" {
		fmt.Print("enter your api_hash: ")
		raw, _ := reader.ReadString('\n')
		apiHash = strings.TrimSpace(raw)
	}

	return apiID, apiHash
}

// authWithQR runs the qr login flow and saves the captured session
// into the sessions table.
func authWithQR(ctx context.Context, cfg *config.Config, db *database.DB) error {
	bundle, err := telegram.NewQRClient(cfg)
	if err != nil {
		return fmt.Errorf("create qr client: %w", err)
	}

	var sessionData *session.Data
	err = bundle.Client.Run(ctx, func(ctx context.Context) error {
		qr := bundle.Client.QR()
		loggedIn := qrlogin.OnLoginToken(&bundle.Dispatcher)

		_, err := qr.Auth(ctx, loggedIn, func(_ context.Context, token qrlogin.Token) error {
			fmt.Println("\nscan this code with telegram (settings > devices > link desktop device):")
			fmt.Println()
			qrterminal.GenerateHalfBlock(token.URL(), qrterminal.L, os.Stdout)
			return nil
		})
		if err != nil {
			return err
		}

		loader := session.Loader{Storage: bundle.Storage}
		sessionData, err = loader.Load(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("qr auth flow failed: %w", err)
	}

	sess, err := telegram.ConvertToGotgprotoSession(sessionData)
	if err != nil {
		return fmt.Errorf("convert session: %w", err)
	}
	if err := db.GORM.Save(sess).Error; err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// authWithPhone authenticates with a phone number. gotgproto handles
// the code prompt and writes the session to the database itself.
func authWithPhone(cfg *config.Config, db *database.DB, reader *bufio.Reader) error {
	fmt.Print("enter your phone number (with country code, e.g. +1234567890): ")
	phone, _ := reader.ReadString('\n')
	phone = strings.TrimSpace(phone)

	fmt.Println("\nauthenticating... (check telegram for code)")

	client, err := gotgproto.NewClient(
		cfg.TGApiID,
		cfg.TGApiHash,
		gotgproto.ClientTypePhone(phone),
		&gotgproto.ClientOpts{
			Session:          sessionMaker.SqlSession(db.GORM.Dialector),
			DisableCopyright: true,
		},
	)
	if err != nil {
		return err
	}
	defer client.Stop()

	fmt.Printf("logged in as: @%s\n", client.Self.Username)
	return nil
}
