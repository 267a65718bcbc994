package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"charchat/internal/util"
	"charchat/pkg/auth"
	"charchat/pkg/provider"
	"charchat/pkg/storage"
	"charchat/services/provider/internal/app"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

// writeAppError maps application errors onto status codes. Unknown errors
// are logged and reported as internal errors.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.Is(err, app.ErrEmailAndPasswordRequired),
		errors.Is(err, app.ErrRefreshTokenRequired),
		errors.Is(err, auth.ErrPasswordRequired),
		errors.Is(err, auth.ErrPasswordTooShort),
		errors.Is(err, app.ErrFilterRequired),
		errors.Is(err, app.ErrInvalidRow),
		errors.Is(err, app.ErrInvalidObjectPath),
		errors.Is(err, provider.ErrUnknownColumn),
		errors.Is(err, errBadQuery):
		writeError(w, http.StatusBadRequest, provider.CodeValidation, err.Error())
	case errors.Is(err, app.ErrUserAlreadyRegistered):
		writeError(w, http.StatusBadRequest, provider.CodeUserExists, err.Error())
	case errors.Is(err, app.ErrInvalidCredentials), errors.Is(err, app.ErrInvalidRefreshToken):
		writeError(w, http.StatusBadRequest, provider.CodeInvalidGrant, err.Error())
	case errors.Is(err, app.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, provider.CodeUnauthorized, err.Error())
	case errors.Is(err, app.ErrRowLevelSecurity):
		writeError(w, http.StatusForbidden, provider.CodeRowLevelSecurity, err.Error())
	case errors.Is(err, provider.ErrUnknownTable):
		writeError(w, http.StatusNotFound, provider.CodeUnknownTable, err.Error())
	case errors.Is(err, app.ErrBucketNotFound), errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, provider.CodeNotFound, err.Error())
	case errors.Is(err, provider.ErrDuplicateKey):
		writeError(w, http.StatusConflict, provider.CodeDuplicateKey, err.Error())
	case errors.Is(err, provider.ErrForeignKey):
		writeError(w, http.StatusConflict, provider.CodeForeignKey, provider.ErrForeignKey.Error())
	case errors.Is(err, app.ErrObjectTooLarge), errors.As(err, &maxBytesErr):
		writeError(w, http.StatusRequestEntityTooLarge, provider.CodeValidation, app.ErrObjectTooLarge.Error())
	case errors.Is(err, app.ErrStorageDisabled):
		writeError(w, http.StatusServiceUnavailable, provider.CodeInternal, err.Error())
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, provider.CodeInternal, "internal error")
	}
}
