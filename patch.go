package goPortal

import (
	"encoding/json"
	"sort"
)

// PatchField names a [SessionState] field addressable by a patch.
type PatchField string

const (
	FieldIsAuthenticated  PatchField = "is_authenticated"
	FieldIsVerified       PatchField = "is_verified"
	FieldIsActive         PatchField = "is_active"
	FieldUsername         PatchField = "username"
	FieldPhoneNumber      PatchField = "phone_number"
	FieldPaymentURL       PatchField = "payment_url"
	FieldPasswordExpired  PatchField = "password_expired"
	FieldMustLogin        PatchField = "mustLogin"
	FieldMustLogout       PatchField = "mustLogout"
	FieldRepeatLogin      PatchField = "repeatLogin"
	FieldProceedToPayment PatchField = "proceedToPayment"
)

type patchValueKind uint8

const (
	patchUnset patchValueKind = iota
	patchSet
	patchNull
)

// PatchValue is one field assignment. A value is either Set (overwrite), Null
// (clear an optional field) or Unset ("no preference": the key is present but
// the owner leaves the field unchanged).
type PatchValue struct {
	kind patchValueKind
	b    bool
	s    string
	isS  bool
}

// Bool returns a set boolean value.
func Bool(v bool) PatchValue { return PatchValue{kind: patchSet, b: v} }

// String returns a set string value.
func String(v string) PatchValue { return PatchValue{kind: patchSet, s: v, isS: true} }

// Null returns a value that clears an optional field.
func Null() PatchValue { return PatchValue{kind: patchNull} }

// Unset returns a "no preference" value.
func Unset() PatchValue { return PatchValue{kind: patchUnset} }

// IsUnset reports whether v leaves the field unchanged.
func (v PatchValue) IsUnset() bool { return v.kind == patchUnset }

// IsNull reports whether v clears the field.
func (v PatchValue) IsNull() bool { return v.kind == patchNull }

// BoolValue returns the boolean payload and whether v is a set boolean.
func (v PatchValue) BoolValue() (bool, bool) {
	return v.b, v.kind == patchSet && !v.isS
}

// StringValue returns the string payload and whether v is a set string.
func (v PatchValue) StringValue() (string, bool) {
	return v.s, v.kind == patchSet && v.isS
}

// MarshalJSON renders Set values as-is, Null as null. Unset values are
// dropped by SessionPatch.MarshalJSON and never reach this method.
func (v PatchValue) MarshalJSON() ([]byte, error) {
	switch {
	case v.kind == patchNull, v.kind == patchUnset:
		return []byte("null"), nil
	case v.isS:
		return json.Marshal(v.s)
	default:
		return json.Marshal(v.b)
	}
}

// SessionPatch maps fields to new values with total-overwrite semantics. A nil
// or empty patch means "no mutation". Owners apply a patch atomically.
type SessionPatch map[PatchField]PatchValue

// Empty reports whether p carries no assignments.
func (p SessionPatch) Empty() bool { return len(p) == 0 }

// Has reports whether p mentions field, including Unset values.
func (p SessionPatch) Has(field PatchField) bool {
	_, ok := p[field]
	return ok
}

// Fields returns the mentioned fields in stable order.
func (p SessionPatch) Fields() []PatchField {
	out := make([]PatchField, 0, len(p))
	for f := range p {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Merge returns a new patch where fields in next overwrite fields in p.
func (p SessionPatch) Merge(next SessionPatch) SessionPatch {
	if len(p) == 0 && len(next) == 0 {
		return nil
	}
	out := make(SessionPatch, len(p)+len(next))
	for f, v := range p {
		out[f] = v
	}
	for f, v := range next {
		out[f] = v
	}
	return out
}

// MarshalJSON drops Unset fields so the wire form matches "leave unchanged".
func (p SessionPatch) MarshalJSON() ([]byte, error) {
	m := make(map[PatchField]PatchValue, len(p))
	for f, v := range p {
		if v.IsUnset() {
			continue
		}
		m[f] = v
	}
	return json.Marshal(m)
}

// Apply returns a copy of s with p applied. Unset values and values of the
// wrong type leave the field unchanged.
func (s SessionState) Apply(p SessionPatch) SessionState {
	out := s
	for field, v := range p {
		if v.IsUnset() {
			continue
		}
		switch field {
		case FieldIsAuthenticated:
			applyBool(&out.IsAuthenticated, v)
		case FieldIsVerified:
			applyBool(&out.IsVerified, v)
		case FieldIsActive:
			applyBool(&out.IsActive, v)
		case FieldPasswordExpired:
			applyBool(&out.PasswordExpired, v)
		case FieldMustLogin:
			applyBool(&out.MustLogin, v)
		case FieldMustLogout:
			applyBool(&out.MustLogout, v)
		case FieldRepeatLogin:
			applyBool(&out.RepeatLogin, v)
		case FieldProceedToPayment:
			applyBool(&out.ProceedToPayment, v)
		case FieldUsername:
			applyString(&out.Username, v)
		case FieldPhoneNumber:
			applyString(&out.PhoneNumber, v)
		case FieldPaymentURL:
			applyString(&out.PaymentURL, v)
		}
	}
	return out
}

func applyBool(dst *bool, v PatchValue) {
	if v.IsNull() {
		*dst = false
		return
	}
	if b, ok := v.BoolValue(); ok {
		*dst = b
	}
}

func applyString(dst *string, v PatchValue) {
	if v.IsNull() {
		*dst = ""
		return
	}
	if s, ok := v.StringValue(); ok {
		*dst = s
	}
}
