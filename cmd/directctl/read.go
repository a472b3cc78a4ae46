package main

import (
	"fmt"

	"github.com/devrev/pairdb/directclient/internal/model"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var readCmd = &cobra.Command{
	Use:   "read [resource-path]",
	Short: "Reads a resource from the replicas of its partition",
	Long: `Reads a resource at the requested consistency level. Strong and bounded
staleness reads go through the quorum reader, session reads honour the
session token and eventual reads take the first valid replica.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		op, err := model.ParseOperationType(viper.GetString("operation"))
		if err != nil {
			return err
		}
		if op.IsWriteOperation() {
			return fmt.Errorf("%s is a write operation, use the write command", op)
		}
		req, err := newRequestFromFlags(op, args[0])
		if err != nil {
			return err
		}

		s, err := newStack(cfg, logger)
		if err != nil {
			return err
		}
		defer closeStack(s)

		resp, err := s.client.Invoke(cmd.Context(), req)
		return printResult(cmd.OutOrStdout(), req, resp, err)
	},
}

func init() {
	readCmd.Flags().String("operation", "Read", "read-only operation: Read, Head, Query, ReadFeed, HeadFeed")
	readCmd.Flags().String("consistency", "", "consistency level, defaults to the account level")
	addRequestFlags(readCmd)
}

func closeStack(s *stack) {
	ctx, cancel := shutdownContext()
	defer cancel()
	if err := s.Close(ctx); err != nil {
		s.logger.Warn("failed to close direct client", zap.Error(err))
	}
}
