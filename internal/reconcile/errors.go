package reconcile

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var (
	// ErrRunInProgress indicates a sync run for the same user is already active.
	ErrRunInProgress = errors.New("reconcile: sync already running for user")
	// ErrMissingCredential indicates the user has never authorised the service.
	ErrMissingCredential = errors.New("reconcile: user has no stored credential")
	// ErrMissingUsername indicates a run request without a target user.
	ErrMissingUsername = errors.New("reconcile: username is required")

	errMissingStore      = errors.New("record store is required")
	errMissingSource     = errors.New("data source is required")
	errMissingReconciler = errors.New("reconciler is required")
	noOpLogger           = zap.NewNop()
)

const (
	opReconcilerNew = "reconcile.reconciler.new"
	opRunnerNew     = "reconcile.runner.new"
	opRun           = "reconcile.run"
	opRefresh       = "reconcile.refresh_first_page"
	opStart         = "reconcile.start"

	reasonMissingStore      = "missing_store"
	reasonMissingSource     = "missing_source"
	reasonMissingReconciler = "missing_reconciler"
	reasonMissingUsername   = "missing_username"
	reasonMissingCredential = "missing_credential"
	reasonRunInProgress     = "run_in_progress"
	reasonIDFailed          = "id_generation_failed"
	reasonFetchUserFailed   = "fetch_user_failed"
	reasonFetchBeersFailed  = "fetch_beers_failed"
	reasonFetchFriends      = "fetch_friends_failed"
	reasonUserStoreFailed   = "user_store_failed"
	reasonBeerStoreFailed   = "beer_store_failed"
	reasonFriendStoreFailed = "friend_store_failed"
	reasonLastUpdateFailed  = "last_update_failed"
	reasonRequestCountFail  = "request_count_failed"

	fieldRunID    = "run_id"
	fieldUsername = "username"
	fieldOffset   = "offset"
)

// ServiceError carries a stable "<operation>.<reason>" code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

func logError(logger *zap.Logger, operation, reason string, err error, fields ...zap.Field) {
	if logger == nil {
		logger = noOpLogger
	}
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	logger.Error("reconcile error", attrs...)
}
