package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/fos/internal/domain"
)

// statusFor переводит доменную ошибку в HTTP-статус.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrProductNotFound),
		errors.Is(err, domain.ErrVoucherNotFound),
		errors.Is(err, domain.ErrLoyaltyAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUserRequired),
		errors.Is(err, domain.ErrItemsRequired),
		errors.Is(err, domain.ErrItemQtyInvalid),
		errors.Is(err, domain.ErrItemPriceInvalid),
		errors.Is(err, domain.ErrShippingAddressRequired),
		errors.Is(err, domain.ErrPointsBelowMinimum):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrOutOfStock),
		errors.Is(err, domain.ErrProductUnavailable),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrInsufficientPoints),
		errors.Is(err, domain.ErrVoucherNotApplicable),
		errors.Is(err, domain.ErrVoucherExhausted),
		errors.Is(err, domain.ErrOrderVersionConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondError пишет единый формат ошибки.
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	body := gin.H{"error": err.Error()}
	if status == http.StatusInternalServerError {
		// Внутренние детали наружу не отдаём.
		body = gin.H{"error": "internal server error"}
	}
	c.JSON(status, body)
}
