package commands

import (
	"context"
	"errors"
	"fmt"

	"secure_chat/internal/service/app"
	"secure_chat/internal/utils/log"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat [username]",
		Short: "Log in and open the chat window",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := requireUsername(args)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			ui := app.NewTUI()
			orch := app.NewOrchestrator(api, ui)
			ui.Bind(orch)
			defer orch.Close()

			keys := app.NewKeyCache(home, name)
			id, err := keys.Load()
			switch {
			case err == nil:
				orch.Resume(id)
			case errors.Is(err, app.ErrKeyAbsent):
				password, err := readPassword("Password: ")
				if err != nil {
					return err
				}
				if id, err = orch.Login(ctx, name, password); err != nil {
					if errors.Is(err, app.ErrAuthenticationFailure) {
						return errors.New("wrong username or password")
					}
					return err
				}
				if err := keys.Save(id); err != nil {
					log.Warn("cache identity failed", zap.Error(err))
				}
			default:
				return fmt.Errorf("load key cache: %w", err)
			}

			tx, err := app.DialEvents(ctx, api.EventsURL())
			if err != nil {
				return fmt.Errorf("connect to relay: %w", err)
			}
			defer tx.Close()
			if err := orch.Attach(tx); err != nil {
				return err
			}

			go func() {
				if err := orch.Bootstrap(ctx); err != nil {
					ui.ShowError(err.Error())
				}
				if err := tx.Listen(ctx, orch.HandleEvent); err != nil {
					log.Error("event channel closed", zap.Error(err))
					ui.ShowError("disconnected from relay")
				}
			}()

			log.Info("chat started", zap.String("user", id.UserID))
			return ui.Run()
		},
	}
}
