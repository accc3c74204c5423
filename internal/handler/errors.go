package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/authgate/internal/middleware"
	"github.com/hitoshi/authgate/internal/model"
)

const (
	errCodeInvalidRequest = "INVALID_REQUEST"
	maxRequestBodyBytes   = 64 << 10
)

var errInvalidRequest = &model.APIError{
	Code:     errCodeInvalidRequest,
	Message:  "リクエストボディの解析に失敗しました。",
	Category: "validation",
	Action:   "正しいJSON形式でリクエストしてください。",
}

// credentialFailure は認証失敗を呼び出し側に区別させないための共通エラーを返す。
// messageは操作ごとに呼び出し側が選ぶ。
func credentialFailure(message string) *model.APIError {
	return &model.APIError{
		Code:     model.ErrCodeInvalidCredentials,
		Message:  message,
		Category: "auth",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// isCredentialFailure はアカウント列挙を防ぐために同一のレスポンスにまとめるエラーかを返す。
func isCredentialFailure(apiErr *model.APIError) bool {
	switch apiErr.Code {
	case model.ErrCodeInvalidCredentials, model.ErrCodeNoPasswordSet, model.ErrCodeInvalidCode:
		return true
	}
	return false
}

// handleServiceError はサービス層のエラーをHTTPレスポンスに変換する。
// 認証失敗の理由はログのみに記録し、レスポンスはfailureMessageで統一する。
func handleServiceError(w http.ResponseWriter, r *http.Request, err error, failureMessage string, retryAfter time.Duration) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		slog.Error("internal server error",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	switch {
	case isCredentialFailure(apiErr):
		slog.Info("authentication failed",
			slog.String("path", r.URL.Path),
			slog.String("reason", apiErr.Code),
		)
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, credentialFailure(failureMessage))
	case apiErr.Code == model.ErrCodeRateLimited:
		middleware.WriteRateLimitResponse(w, retryAfter)
	default:
		status := mapAPIErrorToHTTPStatus(apiErr)
		if status >= http.StatusInternalServerError {
			slog.Error("request failed",
				slog.String("path", r.URL.Path),
				slog.String("error", err.Error()),
			)
		}
		middleware.WriteErrorResponse(w, status, apiErr)
	}
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidState,
		model.ErrCodeInvalidAuthorizationCode,
		model.ErrCodeNoPrimaryEmail,
		model.ErrCodeUnverifiedEmail,
		model.ErrCodeProviderAlreadyLinked,
		model.ErrCodePasswordRequired,
		errCodeInvalidRequest:
		return http.StatusBadRequest
	case model.ErrCodeInvalidCredentials, model.ErrCodeNoPasswordSet, model.ErrCodeInvalidCode:
		return http.StatusUnauthorized
	case model.ErrCodeUnknownProvider, model.ErrCodeUserNotFound:
		return http.StatusNotFound
	case model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON はリクエストボディをJSONとしてdstに読み込む。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	return json.NewDecoder(r.Body).Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
