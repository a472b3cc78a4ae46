package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"testing"

	storeerrors "github.com/devrev/pairdb/directclient/internal/errors"
	"github.com/devrev/pairdb/directclient/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestNetworkErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retriable bool
		failure   bool
	}{
		{"connect error", &ConnectError{Address: "h:1", Err: errors.New("negotiation rejected")}, true, true},
		{"dial op", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("i/o timeout")}, true, true},
		{"unknown host", &net.DNSError{Err: "no such host", Name: "nowhere"}, true, true},
		{"refused", fmt.Errorf("write: %w", syscall.ECONNREFUSED), true, true},
		{"no route", syscall.EHOSTUNREACH, true, true},
		{"unverified peer", x509.UnknownAuthorityError{}, true, true},
		{"tls alert", fmt.Errorf("remote error: %w", tls.AlertError(40)), true, true},
		{"tls handshake timeout", errors.New("net/http: TLS handshake timeout"), true, true},
		{"handshake deadline", &ConnectError{Address: "h:1", Err: fmt.Errorf("tls handshake: %w", context.DeadlineExceeded)}, true, true},
		{"reset", &net.OpError{Op: "read", Net: "tcp", Err: syscall.ECONNRESET}, false, true},
		{"read timeout", os.ErrDeadlineExceeded, false, true},
		{"call deadline", context.DeadlineExceeded, false, true},
		{"eof", io.EOF, false, true},
		{"closed", net.ErrClosed, false, true},
		{"generic", errors.New("boom"), false, false},
		{"nil", nil, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retriable, IsRetriableNetworkError(tt.err))
			assert.Equal(t, tt.failure, IsNetworkFailure(tt.err))
		})
	}
}

func TestMapNetworkError(t *testing.T) {
	read := model.NewRequest(model.OperationRead, model.ResourceDocument, "d")
	create := model.NewRequest(model.OperationCreate, model.ResourceDocument, "d")
	refused := &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}
	reset := &net.OpError{Op: "read", Err: syscall.ECONNRESET}
	generic := errors.New("boom")

	tests := []struct {
		name string
		req  *model.Request
		err  error
		want storeerrors.ErrorCode
	}{
		{"write refused", create, refused, storeerrors.ErrCodeGone},
		{"write reset", create, reset, storeerrors.ErrCodeServiceUnavailable},
		{"write generic", create, generic, storeerrors.ErrCodeServiceUnavailable},
		{"read refused", read, refused, storeerrors.ErrCodeGone},
		{"read reset", read, reset, storeerrors.ErrCodeGone},
		{"read generic", read, generic, storeerrors.ErrCodeServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mapped := MapNetworkError(tt.req, "rntbd://h:1/p/", tt.err)
			assert.Equal(t, tt.want, mapped.Code)
			assert.Equal(t, "rntbd://h:1/p/", mapped.PhysicalAddress)
			assert.ErrorIs(t, mapped, tt.err)
		})
	}
}
