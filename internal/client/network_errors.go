package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"syscall"

	storeerrors "github.com/devrev/pairdb/directclient/internal/errors"
	"github.com/devrev/pairdb/directclient/internal/model"
)

// ConnectError marks a failure to establish or negotiate a connection. The
// request never reached the replica.
type ConnectError struct {
	Address string
	Err     error
}

func (e *ConnectError) Error() string {
	return "connect to " + e.Address + ": " + e.Err.Error()
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// IsRetriableNetworkError reports faults where the request certainly did not
// reach the replica: connect failures, connect timeouts, unknown hosts, TLS
// handshake failures, unreachable networks and unverified peers
func IsRetriableNetworkError(err error) bool {
	if err == nil {
		return false
	}

	var connectErr *ConnectError
	if errors.As(err, &connectErr) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return true
	}

	return isTLSError(err)
}

func isTLSError(err error) bool {
	var alertErr tls.AlertError
	if errors.As(err, &alertErr) {
		return true
	}
	// net/http reports its own handshake deadline with an unexported type
	if strings.Contains(err.Error(), "TLS handshake timeout") {
		return true
	}
	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return true
	}
	var verifyErr *tls.CertificateVerificationError
	if errors.As(err, &verifyErr) {
		return true
	}
	var unknownAuthority x509.UnknownAuthorityError
	if errors.As(err, &unknownAuthority) {
		return true
	}
	var hostnameErr x509.HostnameError
	if errors.As(err, &hostnameErr) {
		return true
	}
	var invalidErr x509.CertificateInvalidError
	return errors.As(err, &invalidErr)
}

// IsNetworkFailure is broader than IsRetriableNetworkError: it also covers
// faults after the request may have been sent, such as read timeouts,
// resets and closed connections
func IsNetworkFailure(err error) bool {
	if err == nil {
		return false
	}
	if IsRetriableNetworkError(err) {
		return true
	}

	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNABORTED) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}

	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// MapNetworkError converts a network fault into the shared error taxonomy.
// Writes are redirected (Gone) only when the request cannot have reached the
// replica; reads are idempotent and any network failure redirects them.
func MapNetworkError(req *model.Request, physicalAddress string, err error) *storeerrors.StoreError {
	var mapped *storeerrors.StoreError
	if req.OperationType.IsWriteOperation() {
		if IsRetriableNetworkError(err) {
			mapped = storeerrors.Gone("replica unreachable before the write was sent", err)
		} else {
			mapped = storeerrors.ServiceUnavailable("write outcome unknown after network failure", err)
		}
	} else if IsNetworkFailure(err) {
		mapped = storeerrors.Gone("replica unreachable", err)
	} else {
		mapped = storeerrors.ServiceUnavailable("unexpected transport failure", err)
	}
	return mapped.WithResponseContext(req.ResourcePath, physicalAddress, nil)
}
