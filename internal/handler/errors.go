package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/cookieshop/internal/domain/order"
	"github.com/xenking/cookieshop/internal/domain/pricing"
	"github.com/xenking/cookieshop/internal/domain/product"
	"github.com/xenking/cookieshop/internal/domain/promo"
	"github.com/xenking/cookieshop/pkg/httpmiddleware"
)

var promoRejections = []error{
	promo.ErrNotFound,
	promo.ErrInactive,
	promo.ErrExpired,
	promo.ErrExhausted,
}

// respondError maps err to a status and writes the error body. Promo lookup
// failures are resource misses on admin routes and rejections elsewhere.
func respondError(w http.ResponseWriter, r *http.Request, err error, promoIsResource bool) {
	status, msg := classify(err, promoIsResource)
	if status >= http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		msg = "internal error"
	}
	httpmiddleware.WriteError(w, status, msg)
}

func classify(err error, promoIsResource bool) (int, string) {
	var (
		badReq      *badRequestError
		badStatus   *order.InvalidStatusError
		badPromo    *promo.ValidationError
		noProduct   *order.ProductNotFoundError
		badQuantity *order.InvalidQuantityError
	)
	switch {
	case errors.As(err, &badReq):
		return http.StatusBadRequest, badReq.Error()
	case errors.As(err, &badStatus):
		return http.StatusBadRequest, badStatus.Error()
	case errors.As(err, &badPromo):
		return http.StatusBadRequest, badPromo.Error()
	case errors.Is(err, order.ErrEmptyItems):
		return http.StatusBadRequest, order.ErrEmptyItems.Error()
	case errors.Is(err, pricing.ErrNegativeAmount):
		return http.StatusBadRequest, pricing.ErrNegativeAmount.Error()
	case errors.Is(err, promo.ErrCodeTaken):
		return http.StatusConflict, promo.ErrCodeTaken.Error()
	case errors.As(err, &noProduct):
		return http.StatusUnprocessableEntity, noProduct.Error()
	case errors.As(err, &badQuantity):
		return http.StatusUnprocessableEntity, badQuantity.Error()
	case errors.Is(err, order.ErrNotFound):
		return http.StatusNotFound, order.ErrNotFound.Error()
	case errors.Is(err, product.ErrNotFound):
		return http.StatusNotFound, product.ErrNotFound.Error()
	}
	for _, rejection := range promoRejections {
		if !errors.Is(err, rejection) {
			continue
		}
		if promoIsResource && rejection == promo.ErrNotFound {
			return http.StatusNotFound, rejection.Error()
		}
		return http.StatusUnprocessableEntity, rejection.Error()
	}
	return http.StatusInternalServerError, err.Error()
}

func notFound(w http.ResponseWriter, what string) {
	httpmiddleware.WriteError(w, http.StatusNotFound, what+" not found")
}
