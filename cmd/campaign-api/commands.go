package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/campaign/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/campaign/backend/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func newReconcileCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Recompute the running total from confirmed contributions and report drift",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			logger, err := newLogger(appConfig)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			db, closeDB, err := openDatabase(appConfig, logger)
			if err != nil {
				return err
			}
			defer closeDB()

			service, err := newLedgerService(appConfig, db, nil, nil, logger)
			if err != nil {
				return err
			}
			result, err := service.Bootstrap(cmd.Context())
			if err != nil {
				logger.Error("reconcile failed", zap.Error(err))
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "previous=%s current=%s drift=%s\n",
				result.Previous.StringFixed(2), result.Current.StringFixed(2), result.Drift().StringFixed(2))
			return nil
		},
	}
}

func newHashPasswordCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print a bcrypt hash for auth.moderator_password_hash",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password := ""
			if len(args) == 1 {
				password = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return errors.New("password must be passed as an argument or on stdin")
				}
				password = strings.TrimRight(line, "\r\n")
			}
			hashed, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hashed)
			return nil
		},
	}
}
