// Package flow holds the declarative definitions of the multi-step forms
// (steps, fields, validation rules, document slots) and the validator that
// evaluates a step against a draft.
package flow

import (
	"fmt"
	"regexp"
	"time"
)

// StepKind selects how a step gates advancement.
type StepKind string

const (
	KindForm      StepKind = "form"
	KindSummary   StepKind = "summary"
	KindOffer     StepKind = "offer"
	KindAuthPhone StepKind = "auth-phone"
	KindAuthOTP   StepKind = "auth-otp"
	KindTerminal  StepKind = "terminal"
)

// Target selects where a submission is written.
type Target string

const (
	// TargetApplication adds a new record to the flow's collection.
	TargetApplication Target = "application"
	// TargetProfile merges the submitted fields into users/<uid>.
	TargetProfile Target = "profile"
)

// PhoneCheck is the advisory lookup run before an OTP is requested.
type PhoneCheck string

const (
	PhoneCheckNone         PhoneCheck = ""
	PhoneCheckMustNotExist PhoneCheck = "must-not-exist"
	PhoneCheckMustExist    PhoneCheck = "must-exist"
)

// RuleKind names a validation rule.
type RuleKind string

const (
	RuleRequired  RuleKind = "required"
	RulePattern   RuleKind = "pattern"
	RuleMinLength RuleKind = "min_length"
	RulePositive  RuleKind = "positive"
	RuleEquals    RuleKind = "equals"
	RuleMinAge    RuleKind = "min_age"
	RuleOneOf     RuleKind = "one_of"
	RuleRange     RuleKind = "range"
)

// Rule is one validation rule on a field. Which of the optional members are
// relevant depends on Kind.
type Rule struct {
	Kind    RuleKind `yaml:"kind" json:"kind"`
	Message string   `yaml:"message" json:"message"`

	// Pattern is either a built-in pattern name (see Patterns) or a regexp.
	Pattern string `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	// Field is the other field compared by an equals rule.
	Field string `yaml:"field,omitempty" json:"field,omitempty"`
	// Value is the minimum for min_length, min_age and range.
	Value int `yaml:"value,omitempty" json:"value,omitempty"`
	// Max is the inclusive upper bound of a range rule.
	Max int `yaml:"max,omitempty" json:"max,omitempty"`
	// Choices or Set (a named choice set) enumerate one_of values.
	Choices []string `yaml:"choices,omitempty" json:"choices,omitempty"`
	Set     string   `yaml:"set,omitempty" json:"set,omitempty"`

	re      *regexp.Regexp
	allowed map[string]struct{}
}

// Field is a named scalar input.
type Field struct {
	Name  string  `yaml:"name" json:"name"`
	Label string  `yaml:"label" json:"label"`
	Type  string  `yaml:"type,omitempty" json:"type,omitempty"`
	Rules []*Rule `yaml:"rules,omitempty" json:"rules,omitempty"`
	// Transient fields are collected but never written to the record.
	Transient bool `yaml:"transient,omitempty" json:"transient,omitempty"`
}

// Required reports whether the field carries a required rule.
func (f *Field) Required() bool {
	for _, r := range f.Rules {
		if r.Kind == RuleRequired {
			return true
		}
	}
	return false
}

// Slot is a named file input on a step.
type Slot struct {
	Name     string `yaml:"name" json:"name"`
	Label    string `yaml:"label" json:"label"`
	Optional bool   `yaml:"optional,omitempty" json:"optional,omitempty"`
	// MaxSize overrides the flow's max file size when positive.
	MaxSize int64  `yaml:"max_size,omitempty" json:"maxSize,omitempty"`
	Message string `yaml:"message,omitempty" json:"message,omitempty"`
}

// Step is one page of a flow.
type Step struct {
	ID    string   `yaml:"id" json:"id"`
	Title string   `yaml:"title" json:"title"`
	Kind  StepKind `yaml:"kind" json:"kind"`

	Fields []*Field `yaml:"fields,omitempty" json:"fields,omitempty"`
	Slots  []*Slot  `yaml:"slots,omitempty" json:"slots,omitempty"`

	// Submit makes a successful advance from this step run the submission.
	Submit bool `yaml:"submit,omitempty" json:"submit,omitempty"`
	// RequireAuth blocks advancing until the session's phone is verified.
	RequireAuth bool `yaml:"require_auth,omitempty" json:"requireAuth,omitempty"`

	// Delay holds the applicant on this step for a fixed time after a
	// successful validation, showing DelayLabel.
	Delay      time.Duration `yaml:"delay,omitempty" json:"delay,omitempty"`
	DelayLabel string        `yaml:"delay_label,omitempty" json:"delayLabel,omitempty"`

	// Flag gates an offer step; FlagMessage is reported while it is unset.
	Flag        string `yaml:"flag,omitempty" json:"flag,omitempty"`
	FlagMessage string `yaml:"flag_message,omitempty" json:"flagMessage,omitempty"`
}

// Field returns the named field on this step, or nil.
func (s *Step) Field(name string) *Field {
	for _, f := range s.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Flow is a complete multi-step form.
type Flow struct {
	Kind  string `yaml:"kind" json:"kind"`
	Title string `yaml:"title" json:"title"`

	// Collection receives application records; StoragePrefix roots the
	// object paths of uploaded documents.
	Collection    string `yaml:"collection,omitempty" json:"collection,omitempty"`
	StoragePrefix string `yaml:"storage_prefix,omitempty" json:"storagePrefix,omitempty"`

	// MaxFileSize caps every slot of the flow unless the slot overrides it.
	// Zero means unbounded.
	MaxFileSize int64 `yaml:"max_file_size,omitempty" json:"maxFileSize,omitempty"`

	Target          Target     `yaml:"target,omitempty" json:"target,omitempty"`
	PhoneCheck      PhoneCheck `yaml:"phone_check,omitempty" json:"phoneCheck,omitempty"`
	LockAfterSubmit bool       `yaml:"lock_after_submit,omitempty" json:"lockAfterSubmit,omitempty"`

	Steps []*Step `yaml:"steps" json:"steps"`
}

// Len returns the number of steps.
func (f *Flow) Len() int { return len(f.Steps) }

// Step returns the step at the 1-based index, or nil when out of range.
func (f *Flow) Step(index int) *Step {
	if index < 1 || index > len(f.Steps) {
		return nil
	}
	return f.Steps[index-1]
}

// Fields returns every field of the flow in step order.
func (f *Flow) Fields() []*Field {
	var out []*Field
	for _, s := range f.Steps {
		out = append(out, s.Fields...)
	}
	return out
}

// HasField reports whether any step declares the named field.
func (f *Flow) HasField(name string) bool {
	for _, s := range f.Steps {
		if s.Field(name) != nil {
			return true
		}
	}
	return false
}

// Slots returns every slot of the flow in step order.
func (f *Flow) Slots() []*Slot {
	var out []*Slot
	for _, s := range f.Steps {
		out = append(out, s.Slots...)
	}
	return out
}

// SlotLimits maps every slot name to its effective max size.
func (f *Flow) SlotLimits() map[string]int64 {
	limits := make(map[string]int64)
	for _, sl := range f.Slots() {
		limit := f.MaxFileSize
		if sl.MaxSize > 0 {
			limit = sl.MaxSize
		}
		limits[sl.Name] = limit
	}
	return limits
}

// SubmitsProfile reports whether the flow writes into the user profile.
func (f *Flow) SubmitsProfile() bool { return f.Target == TargetProfile }

// compile resolves patterns and choice sets and checks the flow is usable.
func (f *Flow) compile() error {
	if f.Kind == "" {
		return fmt.Errorf("flow has no kind")
	}
	if len(f.Steps) == 0 {
		return fmt.Errorf("flow %s has no steps", f.Kind)
	}
	if f.Target == "" {
		f.Target = TargetApplication
	}
	switch f.Target {
	case TargetApplication, TargetProfile:
	default:
		return fmt.Errorf("flow %s: unknown target %q", f.Kind, f.Target)
	}
	switch f.PhoneCheck {
	case PhoneCheckNone, PhoneCheckMustExist, PhoneCheckMustNotExist:
	default:
		return fmt.Errorf("flow %s: unknown phone check %q", f.Kind, f.PhoneCheck)
	}

	steps := make(map[string]bool)
	slots := make(map[string]bool)
	submits := 0
	for i, s := range f.Steps {
		if s.ID == "" {
			return fmt.Errorf("flow %s: step %d has no id", f.Kind, i+1)
		}
		if steps[s.ID] {
			return fmt.Errorf("flow %s: duplicate step id %q", f.Kind, s.ID)
		}
		steps[s.ID] = true

		if s.Kind == "" {
			s.Kind = KindForm
		}
		switch s.Kind {
		case KindForm, KindSummary, KindTerminal, KindAuthPhone, KindAuthOTP:
		case KindOffer:
			if s.Flag == "" {
				return fmt.Errorf("flow %s: offer step %q has no flag", f.Kind, s.ID)
			}
		default:
			return fmt.Errorf("flow %s: step %q has unknown kind %q", f.Kind, s.ID, s.Kind)
		}
		if s.Submit {
			if s.Kind != KindForm {
				return fmt.Errorf("flow %s: submit step %q must be a form", f.Kind, s.ID)
			}
			submits++
		}
		if s.Delay < 0 {
			return fmt.Errorf("flow %s: step %q has a negative delay", f.Kind, s.ID)
		}

		for _, sl := range s.Slots {
			if slots[sl.Name] {
				return fmt.Errorf("flow %s: duplicate slot %q", f.Kind, sl.Name)
			}
			slots[sl.Name] = true
		}
		for _, fd := range s.Fields {
			for _, r := range fd.Rules {
				if err := r.compile(); err != nil {
					return fmt.Errorf("flow %s: field %q: %w", f.Kind, fd.Name, err)
				}
			}
		}
	}
	if submits > 1 {
		return fmt.Errorf("flow %s has %d submit steps", f.Kind, submits)
	}
	if f.Target == TargetApplication && submits == 1 && f.Collection == "" {
		return fmt.Errorf("flow %s submits an application but has no collection", f.Kind)
	}
	if len(slots) > 0 && f.StoragePrefix == "" {
		return fmt.Errorf("flow %s has document slots but no storage prefix", f.Kind)
	}
	return nil
}

func (r *Rule) compile() error {
	switch r.Kind {
	case RuleRequired, RulePositive:
	case RulePattern:
		expr := r.Pattern
		if named, ok := Patterns[expr]; ok {
			expr = named
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return fmt.Errorf("compiling pattern %q: %w", r.Pattern, err)
		}
		r.re = re
	case RuleMinLength, RuleMinAge:
		if r.Value <= 0 {
			return fmt.Errorf("%s rule needs a positive value", r.Kind)
		}
	case RuleRange:
		if r.Max < r.Value {
			return fmt.Errorf("range rule has max %d below value %d", r.Max, r.Value)
		}
	case RuleEquals:
		if r.Field == "" {
			return fmt.Errorf("equals rule needs a field")
		}
	case RuleOneOf:
		choices := r.Choices
		if r.Set != "" {
			set, ok := ChoiceSets[r.Set]
			if !ok {
				return fmt.Errorf("unknown choice set %q", r.Set)
			}
			choices = set
		}
		if len(choices) == 0 {
			return fmt.Errorf("one_of rule has no choices")
		}
		r.allowed = make(map[string]struct{}, len(choices))
		for _, c := range choices {
			r.allowed[c] = struct{}{}
		}
	default:
		return fmt.Errorf("unknown rule kind %q", r.Kind)
	}
	if r.Message == "" {
		return fmt.Errorf("%s rule has no message", r.Kind)
	}
	return nil
}
