package crud

import (
	"errors"
	"fmt"

	"github.com/schooladmin/recordsync/internal/domain/records"
	"github.com/schooladmin/recordsync/internal/domain/shared"
)

// Status levels.
const (
	LevelSuccess = "success"
	LevelInfo    = "info"
	LevelError   = "error"
)

// Status is the one-line message shown to the user after an operation.
type Status struct {
	Level string `json:"level"`
	Text  string `json:"text"`
}

var pastTense = map[string]string{
	OpCreate:          "created",
	OpCreateAggregate: "created",
	OpUpdatePartial:   "updated",
	OpUpdateFull:      "updated",
	OpDelete:          "deleted",
	OpUpload:          "uploaded",
}

// StatusMessage turns the outcome of an operation into a status line.
// Server messages are passed through verbatim; network failures are prefixed
// so the two stay distinguishable.
func StatusMessage(op string, kind records.Kind, res Result, err error) Status {
	if err == nil {
		switch {
		case res.NoChange:
			return Status{Level: LevelInfo, Text: "No changes to save"}
		case op == OpUpload && res.Message != "":
			return Status{Level: LevelSuccess, Text: res.Message}
		case op == OpUpload:
			return Status{Level: LevelSuccess, Text: "File uploaded successfully"}
		case op == OpCreateAggregate:
			return Status{Level: LevelSuccess, Text: "Student and related records created successfully"}
		}
		verb, ok := pastTense[op]
		if !ok {
			verb = "saved"
		}
		return Status{Level: LevelSuccess, Text: fmt.Sprintf("%s %s successfully", kind.Label(), verb)}
	}

	msg := shared.UserMessage(err)
	switch {
	case errors.Is(err, shared.ErrCancelled):
		return Status{Level: LevelInfo, Text: msg}
	case shared.IsClientValidation(err), shared.IsNotFoundLocally(err), shared.IsServerValidation(err):
		return Status{Level: LevelError, Text: msg}
	case shared.IsNetwork(err):
		return Status{Level: LevelError, Text: "Network error: " + msg}
	}
	return Status{Level: LevelError, Text: "Error: " + msg}
}
