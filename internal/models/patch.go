package models

import (
	"reflect"
	"strings"
	"time"
)

// BookingPatch lists the mutable booking fields. A nil field is left untouched;
// an empty BookingTime clears the time of day.
type BookingPatch struct {
	Date             *time.Time `json:"date,omitempty" db:"date,civil"`
	BookingTime      *string    `json:"booking_time,omitempty" db:"booking_time"`
	Duration         *Duration  `json:"duration,omitempty" db:"duration"`
	Service          *string    `json:"service,omitempty" db:"service"`
	SiteContactName  *string    `json:"site_contact_name,omitempty" db:"site_contact_name"`
	SiteContactPhone *string    `json:"site_contact_phone,omitempty" db:"site_contact_phone"`
	Address          *string    `json:"address,omitempty" db:"address"`
	Postcode         *string    `json:"postcode,omitempty" db:"postcode"`
	ProjectDetails   *string    `json:"project_details,omitempty" db:"project_details"`
	Notes            *string    `json:"notes,omitempty" db:"notes"`
	BillingName      *string    `json:"billing_name,omitempty" db:"billing_name"`
	BillingEmail     *string    `json:"billing_email,omitempty" db:"billing_email"`
	PaymentStatus    *string    `json:"payment_status,omitempty" db:"payment_status"`
	PaymentReference *string    `json:"payment_reference,omitempty" db:"payment_reference"`

	Status          *Status    `json:"-" db:"status" diff:"-"`
	RescheduledFrom *time.Time `json:"-" db:"rescheduled_from,civil" diff:"-"`
	RescheduledTo   *time.Time `json:"-" db:"rescheduled_to,civil" diff:"-"`
	RescheduledAt   *time.Time `json:"-" db:"rescheduled_at" diff:"-"`
	RescheduledBy   *string    `json:"-" db:"rescheduled_by" diff:"-"`
}

// Change is the outcome of diffing a patch against a stored booking.
type Change struct {
	ChangedFields []string
	OldValues     map[string]any
	NewValues     map[string]any
	// Patch carries only the fields that actually differ.
	Patch BookingPatch
}

func (c Change) Empty() bool {
	return len(c.ChangedFields) == 0
}

// Has reports whether any of the named fields changed.
func (c Change) Has(fields ...string) bool {
	for _, changed := range c.ChangedFields {
		for _, f := range fields {
			if changed == f {
				return true
			}
		}
	}
	return false
}

// Reschedules reports whether the change moves the booking in time.
func (c Change) Reschedules() bool {
	return c.Has("date", "booking_time")
}

type patchField struct {
	index  int
	name   string
	column string
	civil  bool
	diff   bool
	target string
}

var patchFields = buildPatchFields()

func buildPatchFields() []patchField {
	t := reflect.TypeOf(BookingPatch{})
	fields := make([]patchField, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		name := strings.Split(sf.Tag.Get("json"), ",")[0]
		if name == "" || name == "-" {
			name = sf.Name
		}
		dbTag := strings.Split(sf.Tag.Get("db"), ",")
		fields = append(fields, patchField{
			index:  i,
			name:   name,
			column: dbTag[0],
			civil:  len(dbTag) > 1 && dbTag[1] == "civil",
			diff:   sf.Tag.Get("diff") != "-",
			target: sf.Name,
		})
	}
	return fields
}

// Empty reports whether no field is set.
func (p BookingPatch) Empty() bool {
	pv := reflect.ValueOf(p)
	for _, f := range patchFields {
		if !pv.Field(f.index).IsNil() {
			return false
		}
	}
	return true
}

// Diff compares the patch with the stored booking and keeps only real changes.
func Diff(before *Booking, patch BookingPatch) Change {
	change := Change{
		OldValues: make(map[string]any),
		NewValues: make(map[string]any),
	}
	pv := reflect.ValueOf(patch)
	bv := reflect.ValueOf(before).Elem()
	out := reflect.ValueOf(&change.Patch).Elem()

	for _, f := range patchFields {
		if !f.diff {
			continue
		}
		field := pv.Field(f.index)
		if field.IsNil() {
			continue
		}
		target := bv.FieldByName(f.target)
		oldVal := auditValue(target, f.civil)
		newVal := auditValue(field.Elem(), f.civil)
		if target.Kind() == reflect.Ptr && newVal == "" {
			newVal = nil
		}
		if reflect.DeepEqual(oldVal, newVal) {
			continue
		}
		change.ChangedFields = append(change.ChangedFields, f.name)
		change.OldValues[f.name] = oldVal
		change.NewValues[f.name] = newVal
		out.Field(f.index).Set(field)
	}
	return change
}

// Apply writes every set field of the patch into b.
func Apply(b *Booking, patch BookingPatch) {
	pv := reflect.ValueOf(patch)
	bv := reflect.ValueOf(b).Elem()
	for _, f := range patchFields {
		field := pv.Field(f.index)
		if field.IsNil() {
			continue
		}
		target := bv.FieldByName(f.target)
		val := field.Elem()
		if target.Kind() != reflect.Ptr {
			target.Set(val)
			continue
		}
		if val.Kind() == reflect.String && val.String() == "" {
			target.Set(reflect.Zero(target.Type()))
			continue
		}
		ptr := reflect.New(target.Type().Elem())
		ptr.Elem().Set(val)
		target.Set(ptr)
	}
}

// Columns returns the column names and SQL arguments for the set fields.
func (p BookingPatch) Columns() ([]string, []any) {
	var cols []string
	var args []any
	pv := reflect.ValueOf(p)
	bt := reflect.TypeOf(Booking{})
	for _, f := range patchFields {
		field := pv.Field(f.index)
		if field.IsNil() {
			continue
		}
		cols = append(cols, f.column)
		val := field.Elem()
		target, _ := bt.FieldByName(f.target)
		switch {
		case f.civil:
			args = append(args, val.Interface().(time.Time).Format(DateLayout))
		case val.Kind() == reflect.String && val.String() == "" && target.Type.Kind() == reflect.Ptr:
			args = append(args, nil)
		case val.Kind() == reflect.String:
			args = append(args, val.String())
		default:
			args = append(args, val.Interface())
		}
	}
	return cols, args
}

func auditValue(v reflect.Value, civil bool) any {
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	if t, ok := v.Interface().(time.Time); ok {
		if civil {
			return t.Format(DateLayout)
		}
		return t.Format(time.RFC3339)
	}
	if v.Kind() == reflect.String {
		return v.String()
	}
	return v.Interface()
}
