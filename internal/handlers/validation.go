package handlers

import (
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/revaspay/commissions/internal/models"
	"github.com/shopspring/decimal"
)

var registerOnce sync.Once

// RegisterValidators adds the domain tags to gin's validator engine
func RegisterValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}

		// report json field names instead of Go names
		v.RegisterTagNameFunc(func(field reflect.StructField) string {
			for _, tag := range []string{"json", "form"} {
				name := strings.SplitN(field.Tag.Get(tag), ",", 2)[0]
				if name != "" && name != "-" {
					return name
				}
			}
			return field.Name
		})

		v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
			if d, ok := field.Interface().(decimal.Decimal); ok {
				return d.String()
			}
			return nil
		}, decimal.Decimal{})

		_ = v.RegisterValidation("commission_type", enumValidator(func(s string) error {
			_, err := models.ParseCommissionType(s)
			return err
		}))
		_ = v.RegisterValidation("commission_status", enumValidator(func(s string) error {
			_, err := models.ParseCommissionStatus(s)
			return err
		}))
		_ = v.RegisterValidation("payout_method", enumValidator(func(s string) error {
			_, err := models.ParsePayoutMethod(s)
			return err
		}))
		_ = v.RegisterValidation("payout_status", enumValidator(func(s string) error {
			_, err := models.ParsePayoutStatus(s)
			return err
		}))
		_ = v.RegisterValidation("currency", enumValidator(func(s string) error {
			_, err := models.ParseCurrency(s)
			return err
		}))
		_ = v.RegisterValidation("decimal_nonneg", func(fl validator.FieldLevel) bool {
			d, err := decimal.NewFromString(fl.Field().String())
			return err == nil && !d.IsNegative()
		})
	})
}

// enumValidator accepts empty strings so optional fields only need omitempty
// semantics from the tag order.
func enumValidator(parse func(string) error) validator.Func {
	return func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if s == "" {
			return true
		}
		return parse(s) == nil
	}
}
