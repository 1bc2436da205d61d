package http

import (
	"fmt"
	"net/http"
	"strconv"

	apperrors "keymint/internal/errors"
	"keymint/internal/license"
)

const defaultPageSize = 50

// filterFromQuery builds a key filter from list query parameters.
func filterFromQuery(r *http.Request) (license.Filter, error) {
	var filter license.Filter
	q := r.URL.Query()

	if v := q.Get("status"); v != "" {
		status := license.Status(v)
		if !status.Valid() {
			return filter, fmt.Errorf("%w: invalid status %q", apperrors.ErrValidation, v)
		}
		filter.Status = &status
	}
	if v := q.Get("source"); v != "" {
		source := license.Source(v)
		if !source.Valid() {
			return filter, fmt.Errorf("%w: invalid source %q", apperrors.ErrValidation, v)
		}
		filter.Source = &source
	}
	if v := q.Get("product_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return filter, fmt.Errorf("%w: invalid product_id %q", apperrors.ErrValidation, v)
		}
		filter.ProductID = &id
	}
	if v := q.Get("order_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return filter, fmt.Errorf("%w: invalid order_id %q", apperrors.ErrValidation, v)
		}
		filter.OrderID = &id
	}

	filter.Limit = defaultPageSize
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			return filter, fmt.Errorf("%w: invalid limit %q", apperrors.ErrValidation, v)
		}
		filter.Limit = limit
	}
	if v := q.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			return filter, fmt.Errorf("%w: invalid offset %q", apperrors.ErrValidation, v)
		}
		filter.Offset = offset
	}
	return filter, nil
}

// parseID parses a positive int64 path parameter.
func parseID(value, name string) (int64, error) {
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s %q", apperrors.ErrValidation, name, value)
	}
	return id, nil
}
