package transfer

import (
	"github.com/pkg/errors"
	"github.com/stanstork/pgtransfer/internal/database"
	"github.com/stanstork/pgtransfer/internal/models"
)

var (
	// ErrValidation: bad request or profile, the job never starts.
	ErrValidation = models.ErrValidation
	// ErrConnection: a database could not be reached.
	ErrConnection = database.ErrConnection

	ErrJobAlreadyRunning    = errors.New("transfer already in progress")
	ErrSchemaMismatch       = errors.New("destination table is not compatible with the source")
	ErrVerificationMismatch = errors.New("row count verification failed")
	ErrCancelled            = errors.New("transfer stopped")

	// ErrIncompleteTransfer: the source ran out of rows before the counted total.
	ErrIncompleteTransfer = errors.New("fewer rows copied than counted")
)
