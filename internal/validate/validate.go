// Package validate checks hosts and host prototypes before they are stored.
//
// Struct constraints live in validate tags on the linkage and discovery types;
// this package registers the custom tags they use and adds the checks that
// need the store, such as name uniqueness.
package validate

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/sloppy/hostlink/internal/discovery"
	"github.com/sloppy/hostlink/internal/linkage"
)

var (
	technicalNamePattern = regexp.MustCompile(`^[0-9a-zA-Z_. \-]+$`)
	userMacroPattern     = regexp.MustCompile(`^\{\$[A-Z0-9_.]+(:.*)?\}$`)
)

// FieldError is a single failed constraint.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"value,omitempty"`
}

// Errors collects every failed constraint of one object.
type Errors []FieldError

func (e Errors) Error() string {
	parts := make([]string, 0, len(e))
	for _, fe := range e {
		parts = append(parts, fe.Field+": "+fe.Message)
	}
	return strings.Join(parts, "; ")
}

// FieldErrors extracts the field errors wrapped in err, if any.
func FieldErrors(err error) Errors {
	var errs Errors
	if errors.As(err, &errs) {
		return errs
	}
	return nil
}

// Validator implements linkage.Validator and discovery.PrototypeValidator.
type Validator struct {
	structValidator *validator.Validate
}

var (
	_ linkage.Validator            = (*Validator)(nil)
	_ discovery.PrototypeValidator = (*Validator)(nil)
)

// New returns a validator with the host tags registered.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	mustRegister(v, "technicalname", func(fl validator.FieldLevel) bool {
		return technicalNamePattern.MatchString(fl.Field().String())
	})
	mustRegister(v, "usermacro", func(fl validator.FieldLevel) bool {
		return userMacroPattern.MatchString(fl.Field().String())
	})
	mustRegister(v, "lldmacro", func(fl validator.FieldLevel) bool {
		return discovery.HasMacro(fl.Field().String())
	})
	return &Validator{structValidator: v}
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register %s validation: %v", tag, err))
	}
}

// ValidateHost checks field constraints, macro names and name uniqueness. The
// host itself is skipped in the uniqueness lookup so updates keep their names.
func (v *Validator) ValidateHost(ctx context.Context, lookup linkage.HostLookup, h *linkage.Host) error {
	spec := h.Spec()
	errs := v.structErrors(&spec)

	seen := make(map[string]bool, len(h.Macros))
	for i, m := range h.Macros {
		if seen[m.Macro] {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("macros[%d].macro", i),
				Message: fmt.Sprintf("macro %q is defined more than once", m.Macro),
				Value:   m.Macro,
			})
		}
		seen[m.Macro] = true
	}

	mainCount := 0
	for _, iface := range h.Interfaces {
		if iface.Main {
			mainCount++
		}
		if iface.UseIP && iface.IP == "" {
			errs = append(errs, FieldError{Field: "interfaces.ip", Message: "is required when connecting by IP"})
		}
		if !iface.UseIP && iface.DNS == "" {
			errs = append(errs, FieldError{Field: "interfaces.dns", Message: "is required when connecting by DNS"})
		}
	}
	if len(h.Interfaces) > 0 && mainCount != 1 {
		errs = append(errs, FieldError{Field: "interfaces.main", Message: "exactly one interface must be the default"})
	}

	if lookup != nil && h.TechnicalName != "" {
		other, ok, err := lookup.FindHostByName(ctx, h.TechnicalName)
		if err != nil {
			return fmt.Errorf("find host by name: %w", err)
		}
		if ok && other.ID != h.ID {
			errs = append(errs, FieldError{
				Field:   "technical_name",
				Message: fmt.Sprintf("host with the same name %q already exists", h.TechnicalName),
				Value:   h.TechnicalName,
			})
		}
		other, ok, err = lookup.FindHostByVisibleName(ctx, h.Name())
		if err != nil {
			return fmt.Errorf("find host by visible name: %w", err)
		}
		if ok && other.ID != h.ID {
			errs = append(errs, FieldError{
				Field:   "visible_name",
				Message: fmt.Sprintf("host with the same visible name %q already exists", h.Name()),
				Value:   h.Name(),
			})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ValidatePrototype checks a host prototype before discovery applies it.
func (v *Validator) ValidatePrototype(p *discovery.Prototype) error {
	errs := v.structErrors(p)
	if p.Interface != nil {
		if err := v.structValidator.Var(p.Interface.Port, "required,max=64"); err != nil {
			errs = append(errs, FieldError{Field: "interface.port", Message: "is required", Value: p.Interface.Port})
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ValidateField checks a single value against a policy field rule.
func (v *Validator) ValidateField(rule linkage.FieldRule, value any) error {
	if rule.Constraint == "" {
		return nil
	}
	err := v.structValidator.Var(value, rule.Constraint)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate %s: %w", rule.Field, err)
	}
	out := make(Errors, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldError{Field: string(rule.Field), Message: message(fe), Value: fe.Value()})
	}
	return out
}

func (v *Validator) structErrors(s any) Errors {
	err := v.structValidator.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return Errors{{Field: "document", Message: err.Error()}}
	}
	out := make(Errors, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldError{Field: fieldPath(fe.Namespace()), Message: message(fe), Value: fe.Value()})
	}
	return out
}

// fieldPath drops the struct name from a namespace like HostSpec.macros[0].macro.
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "required_if":
		if strings.HasPrefix(fe.Param(), "Connect ") {
			return "is required when connecting with a pre-shared key"
		}
		return "is required when monitored by proxy"
	case "max":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("must have at most %s entries", fe.Param())
		}
		return fmt.Sprintf("must be at most %s characters long", fe.Param())
	case "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("must have at least %s entries", fe.Param())
		}
		return fmt.Sprintf("must be at least %s characters long", fe.Param())
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "ip":
		return "must be a valid IP address"
	case "technicalname":
		return "may only contain letters, digits, spaces, dots, dashes and underscores"
	case "usermacro":
		return `must look like {$NAME} or {$NAME:context}`
	case "lldmacro":
		return "must contain a low-level discovery macro such as {#HOST}"
	}
	return fmt.Sprintf("failed %q constraint", fe.Tag())
}
