package service

import (
	"errors"
	"reflect"
	"strings"
	"time"

	"fieldbook/internal/dates"
	"fieldbook/internal/domain"
	"fieldbook/internal/models"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("clock", func(fl validator.FieldLevel) bool {
		return dates.ValidTime(fl.Field().String())
	})
	_ = v.RegisterValidation("postcode", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if len(s) != 4 {
			return false
		}
		for _, r := range s {
			if r < '0' || r > '9' {
				return false
			}
		}
		return true
	})
	return v
}

// validationError converts validator output into a domain.ValidationError keyed by JSON field name.
func validationError(err error) error {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return domain.NewValidationError("request", err.Error())
	}
	fields := make(map[string]string, len(ve))
	for _, fe := range ve {
		fields[fe.Field()] = fieldMessage(fe)
	}
	return &domain.ValidationError{Fields: fields}
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "postcode":
		return "must be 4 digits"
	case "clock":
		return "must be a time like 14:30"
	case "datetime":
		return "must be a date like 2025-03-10"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "max":
		return "is too long"
	default:
		return "is invalid"
	}
}

// normalizeClock accepts "2:30 PM" as well as "14:30" and returns the 24-hour form.
// Unparseable input is returned trimmed so the validator can report it.
func normalizeClock(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if out, err := dates.To24Hour(s); err == nil {
		return out
	}
	return s
}

// CreateRequest is the booking form submitted by a customer or an admin.
type CreateRequest struct {
	Date             string          `json:"date" validate:"required,datetime=2006-01-02"`
	BookingTime      string          `json:"booking_time" validate:"omitempty,clock"`
	Duration         models.Duration `json:"duration" validate:"required,oneof=half-day full-day"`
	Service          string          `json:"service" validate:"required,max=200"`
	CustomerName     string          `json:"customer_name" validate:"required,max=200"`
	Email            string          `json:"email" validate:"required,email"`
	Phone            string          `json:"phone" validate:"required,max=50"`
	SiteContactName  string          `json:"site_contact_name" validate:"max=200"`
	SiteContactPhone string          `json:"site_contact_phone" validate:"max=50"`
	Address          string          `json:"address" validate:"required,max=500"`
	Postcode         string          `json:"postcode" validate:"required,postcode"`
	ProjectDetails   string          `json:"project_details" validate:"max=5000"`
	Notes            string          `json:"notes" validate:"max=5000"`
	BillingName      string          `json:"billing_name" validate:"max=200"`
	BillingEmail     string          `json:"billing_email" validate:"omitempty,email"`

	// Set by the caller, never by the form.
	Role  models.Role `json:"-"`
	Actor string      `json:"-"`
}

func (r *CreateRequest) normalize() {
	r.Date = strings.TrimSpace(r.Date)
	r.BookingTime = normalizeClock(r.BookingTime)
	r.Duration = models.Duration(strings.TrimSpace(string(r.Duration)))
	r.Service = strings.TrimSpace(r.Service)
	r.CustomerName = strings.TrimSpace(r.CustomerName)
	r.Email = models.NormalizeEmail(r.Email)
	r.Phone = strings.TrimSpace(r.Phone)
	r.SiteContactName = strings.TrimSpace(r.SiteContactName)
	r.SiteContactPhone = strings.TrimSpace(r.SiteContactPhone)
	r.Address = strings.TrimSpace(r.Address)
	r.Postcode = strings.TrimSpace(r.Postcode)
	r.ProjectDetails = strings.TrimSpace(r.ProjectDetails)
	r.Notes = strings.TrimSpace(r.Notes)
	r.BillingName = strings.TrimSpace(r.BillingName)
	r.BillingEmail = models.NormalizeEmail(r.BillingEmail)
}

func (r *CreateRequest) booking(date time.Time) *models.Booking {
	b := &models.Booking{
		Date:             date,
		Duration:         r.Duration,
		Status:           models.StatusConfirmed,
		Service:          r.Service,
		CustomerName:     r.CustomerName,
		Email:            r.Email,
		Phone:            r.Phone,
		SiteContactName:  r.SiteContactName,
		SiteContactPhone: r.SiteContactPhone,
		Address:          r.Address,
		Postcode:         r.Postcode,
		ProjectDetails:   r.ProjectDetails,
		Notes:            r.Notes,
		BillingName:      r.BillingName,
		BillingEmail:     r.BillingEmail,
	}
	if r.BookingTime != "" {
		t := r.BookingTime
		b.BookingTime = &t
	}
	return b
}

// patchCheck mirrors the validated fields of models.BookingPatch.
type patchCheck struct {
	BookingTime  string `json:"booking_time" validate:"omitempty,clock"`
	Duration     string `json:"duration" validate:"omitempty,oneof=half-day full-day"`
	Service      string `json:"service" validate:"max=200"`
	Address      string `json:"address" validate:"max=500"`
	Postcode     string `json:"postcode" validate:"omitempty,postcode"`
	BillingEmail string `json:"billing_email" validate:"omitempty,email"`
	Payment      string `json:"payment_status" validate:"omitempty,oneof=unpaid invoiced paid"`
}

// normalizePatch trims string fields in place and validates the ones with a format.
// Required fields cannot be blanked through a patch.
func normalizePatch(p *models.BookingPatch, loc *time.Location) error {
	trim := func(s *string) {
		if s != nil {
			*s = strings.TrimSpace(*s)
		}
	}
	for _, s := range []*string{p.Service, p.SiteContactName, p.SiteContactPhone, p.Address,
		p.Postcode, p.ProjectDetails, p.Notes, p.BillingName, p.PaymentStatus, p.PaymentReference} {
		trim(s)
	}
	if p.BookingTime != nil {
		t := normalizeClock(*p.BookingTime)
		p.BookingTime = &t
	}
	if p.BillingEmail != nil {
		e := models.NormalizeEmail(*p.BillingEmail)
		p.BillingEmail = &e
	}
	if p.Date != nil {
		d := dates.In(*p.Date, loc)
		p.Date = &d
	}

	var check patchCheck
	deref := func(s *string) string {
		if s == nil {
			return ""
		}
		return *s
	}
	check.BookingTime = deref(p.BookingTime)
	check.Service = deref(p.Service)
	check.Address = deref(p.Address)
	check.Postcode = deref(p.Postcode)
	check.BillingEmail = deref(p.BillingEmail)
	check.Payment = deref(p.PaymentStatus)
	if p.Duration != nil {
		check.Duration = string(*p.Duration)
		if check.Duration == "" {
			check.Duration = "-"
		}
	}

	fields := map[string]string{}
	if err := validate.Struct(check); err != nil {
		var ve *domain.ValidationError
		if errors.As(validationError(err), &ve) {
			fields = ve.Fields
		}
	}
	for name, s := range map[string]*string{"service": p.Service, "address": p.Address, "postcode": p.Postcode} {
		if s != nil && *s == "" {
			fields[name] = "is required"
		}
	}
	if len(fields) > 0 {
		return &domain.ValidationError{Fields: fields}
	}
	return nil
}
