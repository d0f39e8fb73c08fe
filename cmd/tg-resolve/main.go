package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/celestix/gotgproto"
	"github.com/celestix/gotgproto/sessionMaker"
	"github.com/gotd/td/tg"
	"github.com/joho/godotenv"
)

// resolves chat usernames to the numeric ids used in rules files.
func main() {
	if len(os.Args) < 2 {
		fmt.Println("usage: tg-resolve @channel_username [@more ...]")
		fmt.Println("example: tg-resolve @durov @telegram")
		os.Exit(1)
	}

	_ = godotenv.Load()
	ctx := context.Background()

	// read credentials from env
	apiIDStr := os.Getenv("TG_API_ID")
	apiHash := os.Getenv("TG_API_HASH")
	sessionString := os.Getenv("TG_SESSION_STRING")

	if apiIDStr == "" || apiHash == "" || sessionString == "" {
		fmt.Println("error: missing required environment variables")
		fmt.Println("please set: TG_API_ID, TG_API_HASH, TG_SESSION_STRING")
		os.Exit(1)
	}

	apiID, err := strconv.Atoi(apiIDStr)
	if err != nil {
		fmt.Printf("error: invalid TG_API_ID: %v\n", err)
		os.Exit(1)
	}

	// create telegram client with string session
	client, err := gotgproto.NewClient(
		apiID,
		apiHash,
		gotgproto.ClientTypePhone(""),
		&gotgproto.ClientOpts{
			Session:          sessionMaker.StringSession(sessionString),
			DisableCopyright: true,
			InMemory:         true, // don't write to disk
		},
	)
	if err != nil {
		fmt.Printf("error creating client: %v\n", err)
		os.Exit(1)
	}
	defer client.Stop()

	failed := false
	for _, arg := range os.Args[1:] {
		username := strings.TrimPrefix(arg, "@")

		resolved, err := client.API().ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{
			Username: username,
		})
		if err != nil {
			fmt.Printf("@%s: error resolving: %v\n", username, err)
			failed = true
			continue
		}

		if len(resolved.Chats) == 0 {
			// could be a user account
			if len(resolved.Users) > 0 {
				if user, ok := resolved.Users[0].(*tg.User); ok {
					fmt.Printf("@%s: user, id=%d\n", username, user.ID)
					continue
				}
			}
			fmt.Printf("@%s: not found\n", username)
			failed = true
			continue
		}

		switch chat := resolved.Chats[0].(type) {
		case *tg.Channel:
			kind := "channel"
			if chat.Megagroup {
				kind = "supergroup"
			}
			fmt.Printf("@%s: %s %q, id=%d access_hash=%d\n",
				username, kind, chat.Title, chat.ID, chat.AccessHash)
		case *tg.Chat:
			fmt.Printf("@%s: group %q, id=%d\n", username, chat.Title, chat.ID)
		default:
			fmt.Printf("@%s: unexpected chat type %T\n", username, chat)
			failed = true
		}
	}

	if failed {
		os.Exit(1)
	}
}
