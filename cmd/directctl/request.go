package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	storeerrors "github.com/devrev/pairdb/directclient/internal/errors"
	"github.com/devrev/pairdb/directclient/internal/model"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/grpc/status"
)

// addRequestFlags adds the routing and session flags shared by read and write
func addRequestFlags(cmd *cobra.Command) {
	cmd.Flags().String("resource-type", "Document", "resource type addressed by the path")
	cmd.Flags().String("partition-key", "", "partition key used to route the request")
	cmd.Flags().String("range-id", "", "partition key range id, skips partition key hashing")
	cmd.Flags().String("session-token", "", "session token to read your own writes")
	cmd.Flags().Int("replica-index", -1, "pin the request to one resolved replica")
	cmd.Flags().StringToString("header", nil, "extra request headers (name=value)")
}

// newRequestFromFlags builds a request for path from the bound flags
func newRequestFromFlags(op model.OperationType, path string) (*model.Request, error) {
	rt := model.ResourceDocument
	if name := viper.GetString("resource-type"); name != "" {
		parsed, err := model.ParseResourceType(name)
		if err != nil {
			return nil, err
		}
		rt = parsed
	}

	req := model.NewRequest(op, rt, path)
	req.PartitionKey = viper.GetString("partition-key")
	req.PartitionKeyRangeID = viper.GetString("range-id")
	req.SessionToken = viper.GetString("session-token")
	if index := viper.GetInt("replica-index"); viper.IsSet("replica-index") && index >= 0 {
		req.WithReplicaIndex(index)
	}
	for name, value := range viper.GetStringMapString("header") {
		req.Headers[name] = value
	}

	if level := viper.GetString("consistency"); level != "" {
		parsed, err := model.ParseConsistencyLevel(level)
		if err != nil {
			return nil, err
		}
		req.ConsistencyLevel = parsed
	}
	return req, nil
}

// responseView is the JSON rendering of a replica response
type responseView struct {
	ActivityID          string          `json:"activity_id"`
	Status              int             `json:"status"`
	LSN                 int64           `json:"lsn"`
	PartitionKeyRangeID string          `json:"partition_key_range_id,omitempty"`
	SessionToken        string          `json:"session_token,omitempty"`
	RequestCharge       float64         `json:"request_charge"`
	Body                json.RawMessage `json:"body,omitempty"`
	RawBody             string          `json:"raw_body,omitempty"`
}

// errorView is the JSON rendering of a failed request
type errorView struct {
	ActivityID string                 `json:"activity_id"`
	Code       string                 `json:"code"`
	Status     int                    `json:"status"`
	SubStatus  int                    `json:"sub_status"`
	Message    string                 `json:"message"`
	GRPCCode   string                 `json:"grpc_code"`
	Details    map[string]interface{} `json:"details,omitempty"`
}

func newResponseView(req *model.Request, resp *model.StoreResponse) responseView {
	view := responseView{
		ActivityID:          req.ActivityID,
		Status:              resp.Status,
		LSN:                 resp.LSN(),
		PartitionKeyRangeID: resp.PartitionKeyRangeID(),
		SessionToken:        resp.SessionToken(),
		RequestCharge:       resp.RequestCharge(),
	}
	if len(resp.Body) > 0 {
		if json.Valid(resp.Body) {
			view.Body = json.RawMessage(resp.Body)
		} else {
			view.RawBody = string(resp.Body)
		}
	}
	return view
}

func newErrorView(req *model.Request, err error) errorView {
	view := errorView{ActivityID: req.ActivityID, Message: err.Error(), GRPCCode: status.Code(err).String()}
	if se, ok := storeerrors.AsStoreError(err); ok {
		view.Code = se.Code.String()
		view.Status = se.StatusCode
		view.SubStatus = se.SubStatus
		view.Message = se.Message
		view.Details = se.Details
	}
	return view
}

// printResult writes the outcome of req as indented JSON and passes err through
func printResult(w io.Writer, req *model.Request, resp *model.StoreResponse, err error) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err != nil {
		if encErr := enc.Encode(newErrorView(req, err)); encErr != nil {
			return encErr
		}
		return fmt.Errorf("request %s failed: %w", req.ActivityID, err)
	}
	return enc.Encode(newResponseView(req, resp))
}

// readBody returns the literal body flag or the contents of the body file
func readBody(literal, file string) ([]byte, error) {
	switch {
	case literal != "" && file != "":
		return nil, fmt.Errorf("--body and --body-file are mutually exclusive")
	case file == "-":
		return io.ReadAll(os.Stdin)
	case file != "":
		return os.ReadFile(file)
	default:
		return []byte(literal), nil
	}
}
