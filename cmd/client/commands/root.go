package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"secure_chat/internal/service/app"
	"secure_chat/internal/utils/log"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	home      string
	serverURL string
	username  string
	logLevel  string

	api *app.APIClient
)

func Execute() error {
	root := &cobra.Command{
		Use:          "securechat",
		Short:        "End-to-end encrypted chat client",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if home == "" {
				dir, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				home = filepath.Join(dir, ".securechat")
			}
			if err := os.MkdirAll(home, 0o700); err != nil {
				return err
			}

			// the TUI owns the terminal, so logs go to a file
			if err := log.Init(log.Options{Level: logLevel, OutputPath: filepath.Join(home, "client.log")}); err != nil {
				return err
			}

			if serverURL == "" {
				serverURL = os.Getenv("SECURECHAT_SERVER")
			}
			if serverURL == "" {
				serverURL = "http://localhost:3000"
			}
			var err error
			api, err = app.NewAPIClient(serverURL)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			log.Sync()
		},
	}

	root.PersistentFlags().StringVar(&home, "home", "", "config dir (default ~/.securechat)")
	root.PersistentFlags().StringVar(&serverURL, "server", "", "relay base URL (default $SECURECHAT_SERVER or http://localhost:3000)")
	root.PersistentFlags().StringVarP(&username, "username", "u", "", "account name")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level")

	root.AddCommand(registerCmd(), chatCmd(), logoutCmd())
	return root.Execute()
}

func requireUsername(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	if username != "" {
		return username, nil
	}
	return "", fmt.Errorf("username required (argument or --username)")
}

func readPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	if term.IsTerminal(int(os.Stdin.Fd())) {
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		return string(b), err
	}

	var line string
	_, err := fmt.Fscanln(os.Stdin, &line)
	return strings.TrimSpace(line), err
}
