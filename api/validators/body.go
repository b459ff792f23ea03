package validators

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	pkgerrors "github.com/angelmondragon/creditshare-backend/pkg/errors"
)

const maxBodyBytes = 1 << 20

var referralCodePattern = regexp.MustCompile(`^[A-Za-z0-9]{6,8}$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	_ = v.RegisterValidation("referral_code", func(fl validator.FieldLevel) bool {
		return referralCodePattern.MatchString(strings.TrimSpace(fl.Field().String()))
	})
	return v
}

// DecodeJSONBody decodes exactly one JSON object and runs struct validation.
func DecodeJSONBody(r *http.Request, dest any) error {
	return decode(r, dest, false)
}

// DecodeOptionalJSONBody treats an empty body as the zero value of dest.
func DecodeOptionalJSONBody(r *http.Request, dest any) error {
	return decode(r, dest, true)
}

var errBodyRequired = pkgerrors.New(pkgerrors.CodeValidation, "request body required")

func decode(r *http.Request, dest any, allowEmpty bool) error {
	if r.Body == nil {
		r.Body = http.NoBody
	}
	defer func() { _, _ = io.Copy(io.Discard, r.Body) }()

	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	err := dec.Decode(dest)
	switch {
	case errors.Is(err, io.EOF) && allowEmpty:
	case errors.Is(err, io.EOF):
		return errBodyRequired
	case err != nil:
		return invalidBody(err)
	case dec.More():
		return invalidBody(errors.New("body must hold a single JSON object"))
	}
	return validateStruct(dest)
}

func invalidBody(err error) error {
	return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid request body").
		WithDetails(map[string]any{"error": err.Error()})
}

func validateStruct(dest any) error {
	err := validate.Struct(dest)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "validation failed")
	}
	details := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		details[fe.Field()] = describe(fe)
	}
	return pkgerrors.New(pkgerrors.CodeValidation, "validation failed").WithDetails(details)
}

// tagMessages renders a failed tag; %s is the tag parameter.
var tagMessages = map[string]string{
	"required":      "is required",
	"min":           "must be at least %s",
	"max":           "must be at most %s",
	"gte":           "must be greater than or equal to %s",
	"email":         "must be a valid email",
	"uuid":          "must be a valid uuid",
	"referral_code": "must be 6 to 8 letters or digits",
}

func describe(fe validator.FieldError) string {
	msg, ok := tagMessages[fe.Tag()]
	if !ok {
		return "is invalid"
	}
	if strings.Contains(msg, "%s") {
		return fmt.Sprintf(msg, fe.Param())
	}
	return msg
}
