package main

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gosuda/sealchat/sealchat"
	"github.com/gosuda/sealchat/wire"
)

var rootCmd = &cobra.Command{
	Use:   "sealchat-client",
	Short: "Interactive terminal client for a sealchat server",
	RunE:  runClient,
}

var (
	flagAddr     string
	flagLogLevel string
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagAddr, "addr", defaultAddr(), "server address (env: SERVER_HOST/SERVER_PORT)")
	flags.StringVar(&flagLogLevel, "log-level", "warn", "log level: trace/debug/info/warn/error")
}

func defaultAddr() string {
	host := strings.TrimSpace(os.Getenv("SERVER_HOST"))
	if host == "" {
		host = "127.0.0.1"
	}
	port := strings.TrimSpace(os.Getenv("SERVER_PORT"))
	if port == "" {
		port = "8888"
	}
	return net.JoinHostPort(host, port)
}

func main() {
	// Logs go to stderr so chat output on stdout stays readable.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute client command")
	}
}

func runClient(cmd *cobra.Command, args []string) error {
	level, err := zerolog.ParseLevel(flagLogLevel)
	if err != nil {
		return fmt.Errorf("parse log level %q: %w", flagLogLevel, err)
	}
	zerolog.SetGlobalLevel(level)

	client := sealchat.NewClient(flagAddr,
		sealchat.WithConnectHandler(func() {
			fmt.Println("* connected; /login or /signup to begin")
		}),
		sealchat.WithDisconnectHandler(func(err error) {
			if err != nil {
				fmt.Printf("* disconnected: %v\n", err)
				return
			}
			fmt.Println("* disconnected")
		}),
		sealchat.WithResponseHandler(printResponse),
		sealchat.WithMessageHandler(func(msg wire.NewMessagePayload) {
			fmt.Printf("[%s] %s\n", msg.SenderName, msg.Text)
		}),
		sealchat.WithErrorHandler(func(err error) {
			fmt.Printf("* error: %v\n", err)
		}),
	)
	client.Start()
	defer client.Close()

	fmt.Printf("sealchat %s\n", flagAddr)
	printHelp()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := handleCommand(client, line); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			fmt.Printf("* %v\n", err)
		}
	}
	return scanner.Err()
}

var errQuit = errors.New("quit")

func handleCommand(client *sealchat.Client, line string) error {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/signup":
		if len(fields) < 4 {
			return errors.New("usage: /signup <email> <password> <full name>")
		}
		return client.Signup(strings.Join(fields[3:], " "), fields[1], fields[2])
	case "/login":
		if len(fields) != 3 {
			return errors.New("usage: /login <email> <password>")
		}
		return client.Login(fields[1], fields[2])
	case "/chat":
		if len(fields) < 3 {
			return errors.New("usage: /chat <user-id> <text>")
		}
		return client.SendChat(fields[1], strings.Join(fields[2:], " "))
	case "/who":
		return client.WhoIsOnline()
	case "/logout":
		return client.Logout()
	case "/help":
		printHelp()
		return nil
	case "/quit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q, try /help", fields[0])
	}
}

func printHelp() {
	fmt.Println("commands:")
	fmt.Println("  /signup <email> <password> <full name>")
	fmt.Println("  /login <email> <password>")
	fmt.Println("  /chat <user-id> <text>")
	fmt.Println("  /who")
	fmt.Println("  /logout")
	fmt.Println("  /quit")
}

func printResponse(resp wire.ResponsePayload) {
	switch {
	case resp.Users != nil:
		fmt.Printf("* %d online:\n", len(resp.Users))
		for _, u := range resp.Users {
			fmt.Printf("    %s  %s\n", u.ID, u.FullName)
		}
	case resp.UserInfo != nil:
		fmt.Printf("* %s (your id: %s)\n", resp.Message, resp.UserInfo.ID)
	default:
		fmt.Printf("* [%s] %s\n", resp.Status, resp.Message)
	}
}
