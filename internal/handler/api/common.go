package api

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"paybridge/internal/models"
)

// Response helpers for the standard envelope.
func successResponse(c echo.Context, msg string, obj interface{}) error {
	return c.JSON(http.StatusOK, models.APIResponse{
		Status: true,
		Msg:    msg,
		Obj:    obj,
	})
}

func errorResponse(c echo.Context, code int, msg string) error {
	return c.JSON(code, models.APIResponse{
		Status: false,
		Msg:    msg,
		Obj:    nil,
	})
}

func paginatedResponse(data interface{}, total int64, page, limit int) models.PaginatedResponse {
	return models.PaginatedResponse{
		Data:       data,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: totalPages(total, limit),
	}
}

func totalPages(total int64, limit int) int {
	if limit <= 0 {
		limit = 50
	}
	pages := int(total) / limit
	if int(total)%limit != 0 {
		pages++
	}
	if pages == 0 {
		pages = 1
	}
	return pages
}

// RequestValidator plugs go-playground/validator into echo.
type RequestValidator struct {
	v *validator.Validate
}

func NewRequestValidator() *RequestValidator {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return &RequestValidator{v: v}
}

func (rv *RequestValidator) Validate(i interface{}) error {
	return rv.v.Struct(i)
}

// bindAndValidate binds the body into obj and validates it, writing the
// error response itself. It reports whether the handler may continue.
func bindAndValidate(c echo.Context, obj interface{}) (bool, error) {
	if err := c.Bind(obj); err != nil {
		return false, errorResponse(c, http.StatusBadRequest, "Invalid request body")
	}
	if err := c.Validate(obj); err != nil {
		return false, errorResponse(c, http.StatusUnprocessableEntity, validationMessage(err))
	}
	return true, nil
}

func validationMessage(err error) string {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		switch e.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("Field '%s' is required", e.Field()))
		case "email":
			msgs = append(msgs, fmt.Sprintf("Field '%s' must be a valid email address", e.Field()))
		case "url":
			msgs = append(msgs, fmt.Sprintf("Field '%s' must be a valid URL", e.Field()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("Field '%s' must be at most %s", e.Field(), e.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("Field '%s' failed on the '%s' rule", e.Field(), e.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}
