// Package validate implements the form checks run on every field change and
// again on submit. Failures are returned as FieldErrors values keyed by the
// form's JSON field names; they are meant to be rendered inline, not
// propagated as errors.
package validate

import (
	"errors"
	"reflect"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// SubScheduleForm is the create/edit form of a calendar event.
type SubScheduleForm struct {
	MainScheduleTitle string    `json:"mainScheduleTitle" validate:"required"`
	SubScheduleTitle  string    `json:"subScheduleTitle" validate:"required"`
	StartTime         time.Time `json:"start_time" validate:"required"`
	EndTime           time.Time `json:"end_time" validate:"required,gtfield=StartTime"`
	Description       string    `json:"description"`
	Color             string    `json:"color" validate:"omitempty,hexcolor"`
}

// MainScheduleForm is the "add goal" form.
type MainScheduleForm struct {
	Title     string    `json:"title" validate:"required"`
	StartTime time.Time `json:"start_time" validate:"required"`
	EndTime   time.Time `json:"end_time" validate:"required,gtfield=StartTime"`
	Color     string    `json:"color" validate:"omitempty,hexcolor"`
}

// AIRequestForm is the text intake of the AI schedule generator.
type AIRequestForm struct {
	StartDateTime   time.Time `json:"startDateTime" validate:"required"`
	EndDateTime     time.Time `json:"endDateTime" validate:"required,gtfield=StartDateTime"`
	Task            string    `json:"task" validate:"required"`
	AvailableTime   string    `json:"availableTime" validate:"required"`
	AdditionalNotes string    `json:"additionalNotes"`
}

// SignupForm is the registration form.
type SignupForm struct {
	Name            string `json:"name" validate:"required"`
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required,password"`
	ConfirmPassword string `json:"confirmPassword" validate:"required,eqfield=Password"`
	BirthDate       string `json:"birthDate" validate:"required"`
}

// FieldErrors maps a form field (JSON name) to its user-facing message.
type FieldErrors map[string]string

// OK reports whether no field failed.
func (fe FieldErrors) OK() bool { return len(fe) == 0 }

// Error makes FieldErrors usable where an error is expected, e.g. when the
// store rejects an upsert.
func (fe FieldErrors) Error() string {
	parts := make([]string, 0, len(fe))
	for k, v := range fe {
		parts = append(parts, k+": "+v)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

var messages = map[string]string{
	"startDateTime.required": "시작 시간을 입력해주세요.",
	"endDateTime.required":   "종료 시간을 입력해주세요.",
	"endDateTime.gtfield":    "종료 시간은 시작 시간보다 나중이어야 합니다.",
	"task.required":          "해야 할 일을 입력해주세요.",
	"availableTime.required": "수행 가능 시간을 입력해주세요.",

	"start_time.required": "시작 시간을 입력해주세요.",
	"end_time.required":   "종료 시간을 입력해주세요.",
	"end_time.gtfield":    "종료 시간은 시작 시간보다 나중이어야 합니다.",

	"mainScheduleTitle.required": "목표를 선택해주세요.",
	"subScheduleTitle.required":  "일정 제목을 입력해주세요.",
	"title.required":             "목표 이름을 입력해주세요.",

	"name.required":            "이름을 입력해주세요.",
	"email.required":           "이메일을 입력해주세요.",
	"email.email":              "유효한 이메일 형식이 아닙니다.",
	"password.required":        "비밀번호를 입력해주세요.",
	"password.password":        "비밀번호는 최소 8자, 문자와 숫자를 포함해야 합니다.",
	"confirmPassword.required": "비밀번호 확인을 입력해주세요.",
	"confirmPassword.eqfield":  "비밀번호가 일치하지 않습니다.",
	"birthDate.required":       "생년월일을 입력해주세요.",

	".hexcolor": "색상은 #RRGGBB 형식이어야 합니다.",
	".required": "필수 입력 항목입니다.",
}

var (
	validateOnce sync.Once
	v            *validator.Validate
)

func instance() *validator.Validate {
	validateOnce.Do(func() {
		v = validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(jsonName)
		_ = v.RegisterValidation("password", validPassword)
	})
	return v
}

// All validates every field of form (full submit).
func All(form any) FieldErrors {
	return collect(instance().Struct(form))
}

// Field validates a single field of form, addressed by its JSON name, and
// returns its message or "" when valid (per-field change). Cross-field rules
// still see the sibling values.
func Field(form any, name string) string {
	goName, ok := goFieldName(form, name)
	if !ok {
		return ""
	}
	errs := collect(instance().StructPartial(form, goName))
	return errs[name]
}

func collect(err error) FieldErrors {
	out := FieldErrors{}
	if err == nil {
		return out
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		out["_"] = err.Error()
		return out
	}
	for _, fe := range verrs {
		field := fe.Field()
		if _, seen := out[field]; seen {
			continue
		}
		out[field] = message(field, fe.Tag())
	}
	return out
}

func message(field, tag string) string {
	if m, ok := messages[field+"."+tag]; ok {
		return m
	}
	if m, ok := messages["."+tag]; ok {
		return m
	}
	return field + " is invalid (" + tag + ")"
}

func validPassword(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if len([]rune(s)) < 8 {
		return false
	}
	var letter, digit bool
	for _, r := range s {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	return letter && digit
}

func jsonName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	if name == "" {
		return f.Name
	}
	return name
}

func goFieldName(form any, name string) (string, bool) {
	t := reflect.TypeOf(form)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return "", false
	}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if jsonName(f) == name {
			return f.Name, true
		}
	}
	return "", false
}
