package main

import (
	"fmt"

	"github.com/devrev/pairdb/directclient/internal/model"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var writeCmd = &cobra.Command{
	Use:   "write [resource-path]",
	Short: "Writes a resource through the partition primary",
	Long: `Sends a write to the primary replica. For globally strong accounts the
command waits until the write is committed in every read region.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		op, err := model.ParseOperationType(viper.GetString("operation"))
		if err != nil {
			return err
		}
		if !op.IsWriteOperation() {
			return fmt.Errorf("%s is not a write operation, use the read command", op)
		}
		body, err := readBody(viper.GetString("body"), viper.GetString("body-file"))
		if err != nil {
			return err
		}
		req, err := newRequestFromFlags(op, args[0])
		if err != nil {
			return err
		}
		req.Body = body
		if len(body) > 0 {
			req.Headers[model.HeaderContentType] = "application/json"
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
	writeCmd.Flags().String("operation", "Upsert", "write operation: Create, Replace, Upsert, Delete, Patch, ExecuteJavaScript")
	writeCmd.Flags().String("body", "", "request body")
	writeCmd.Flags().String("body-file", "", "file holding the request body, - for stdin")
	addRequestFlags(writeCmd)
}
