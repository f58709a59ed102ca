package commands

import (
	"errors"
	"fmt"

	"secure_chat/internal/service/app"

	"github.com/spf13/cobra"
)

func registerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register [username]",
		Short: "Create an account; keys are generated and wrapped locally",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := requireUsername(args)
			if err != nil {
				return err
			}
			password, err := readPassword("Password: ")
			if err != nil {
				return err
			}
			confirm, err := readPassword("Confirm password: ")
			if err != nil {
				return err
			}
			if password != confirm {
				return errors.New("passwords do not match")
			}
			if password == "" {
				return errors.New("password must not be empty")
			}

			orch := app.NewOrchestrator(api, nil)
			if err := orch.Register(cmd.Context(), name, password); err != nil {
				if errors.Is(err, app.ErrConflict) {
					return fmt.Errorf("username %q is taken", name)
				}
				return err
			}
			fmt.Println("Registered. Run `securechat chat` to log in.")
			return nil
		},
	}
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout [username]",
		Short: "Remove the locally cached private key",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := requireUsername(args)
			if err != nil {
				return err
			}
			return app.NewKeyCache(home, name).Clear()
		},
	}
}
