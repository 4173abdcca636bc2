package httpadapter

import (
	"net/http"

	"github.com/kirillkom/corpus-router/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrUnknownModel):
		return http.StatusUnprocessableEntity
	case domain.IsKind(err, domain.ErrSessionNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrSelectionFailed):
		return http.StatusBadGateway
	case domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	case domain.IsKind(err, domain.ErrIndexAbsent), domain.IsKind(err, domain.ErrEmptyCorpus):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
