package records

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/schooladmin/recordsync/internal/domain/shared"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
		v.RegisterCustomTypeFunc(func(rv reflect.Value) any {
			r, ok := rv.Interface().(Real)
			if !ok {
				return nil
			}
			return r.InexactFloat64()
		}, Real{})
		_ = v.RegisterValidation("isodate", func(fl validator.FieldLevel) bool {
			_, err := time.Parse(DateLayout, fl.Field().String())
			return err == nil
		})
		validate = v
	})
	return validate
}

// Validate checks required fields, numeric ranges and formats of a draft.
// Every violation is reported in one ClientValidation error.
func Validate(d Draft) error {
	if d == nil {
		return shared.Invalid("records", "Validate", "nothing to submit")
	}
	err := validatorInstance().Struct(d)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return shared.WrapError("records", "Validate", shared.ErrClientValidation, "invalid "+d.Kind().Label(), err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fieldPath(fe), fe))
	}
	return shared.Invalid("records", "Validate", "%s", strings.Join(msgs, "; "))
}

// ValidatePatch applies the draft rules of the kind to the changed fields of a
// partial update only.
func ValidatePatch(k Kind, p Patch) error {
	d, err := newDraft(k)
	if err != nil {
		return err
	}
	t := reflect.TypeOf(d).Elem()

	var msgs []string
	for _, name := range p.Fields() {
		tag, ok := ruleFor(t, name)
		if !ok {
			continue
		}
		v := p[name]
		if v == nil {
			if hasRule(tag, "required") {
				msgs = append(msgs, "Missing "+name)
			}
			continue
		}
		// required is settled by the nil check; Var would reject a zero code.
		tag = withoutRule(tag, "required")
		if tag == "" {
			continue
		}
		if err := validatorInstance().Var(v, tag); err != nil {
			var verrs validator.ValidationErrors
			if errors.As(err, &verrs) {
				for _, fe := range verrs {
					msgs = append(msgs, describe(name, fe))
				}
				continue
			}
			msgs = append(msgs, fmt.Sprintf("%s is invalid", name))
		}
	}
	if len(msgs) > 0 {
		return shared.Invalid("records", "ValidatePatch", "%s", strings.Join(msgs, "; "))
	}
	return nil
}

func ruleFor(t reflect.Type, jsonName string) (string, bool) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == jsonName {
			tag := f.Tag.Get("validate")
			return tag, tag != ""
		}
	}
	return "", false
}

func hasRule(tag, rule string) bool {
	for _, r := range strings.Split(tag, ",") {
		if r == rule {
			return true
		}
	}
	return false
}

func withoutRule(tag, rule string) string {
	rules := strings.Split(tag, ",")
	kept := rules[:0]
	for _, r := range rules {
		if r != rule {
			kept = append(kept, r)
		}
	}
	return strings.Join(kept, ",")
}

// fieldPath drops the struct name from the namespace, so nested lines read
// "enrollments[0].semester".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return fe.Field()
}

func describe(name string, fe validator.FieldError) string {
	text := fe.Kind() == reflect.String
	switch fe.Tag() {
	case "required":
		return "Missing " + name
	case "min", "gte":
		if text {
			return fmt.Sprintf("%s must be at least %s characters", name, fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s", name, fe.Param())
	case "max", "lte":
		if text {
			return fmt.Sprintf("%s must be at most %s characters", name, fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s", name, fe.Param())
	case "email":
		return name + " must be a valid email address"
	case "isodate":
		return name + " must be a date in YYYY-MM-DD format"
	}
	return fmt.Sprintf("%s failed %s", name, fe.Tag())
}
