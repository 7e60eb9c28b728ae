package subscriptions

import (
	"errors"
	"reflect"
	"strings"

	"github.com/bissquit/job-alerts/internal/domain"
	"github.com/bissquit/job-alerts/internal/matching"
	"github.com/go-playground/validator/v10"
)

// fields is the validated shape of a subscription after normalization.
type fields struct {
	OwnerID         string `json:"owner_id" validate:"required,max=64"`
	Keyword         string `json:"keyword" validate:"required,max=50,keyword"`
	Province        string `json:"province" validate:"max=100"`
	District        string `json:"district" validate:"max=100"`
	Category        string `json:"category" validate:"max=100"`
	EmploymentType  string `json:"employment_type" validate:"max=50"`
	WorkMode        string `json:"work_mode" validate:"max=50"`
	ExperienceLevel string `json:"experience_level" validate:"max=50"`
	SalaryBucket    string `json:"salary_bucket" validate:"salary_bucket"`
	Frequency       string `json:"frequency" validate:"required,oneof=daily weekly"`
	DeliveryMethod  string `json:"delivery_method" validate:"required,oneof=email in-app both"`
}

func fieldsOf(sub *domain.Subscription) fields {
	return fields{
		OwnerID:         sub.OwnerID,
		Keyword:         sub.Keyword,
		Province:        sub.Criteria.Province.Value(),
		District:        sub.Criteria.District.Value(),
		Category:        sub.Criteria.Category.Value(),
		EmploymentType:  sub.Criteria.EmploymentType.Value(),
		WorkMode:        sub.Criteria.WorkMode.Value(),
		ExperienceLevel: sub.Criteria.ExperienceLevel.Value(),
		SalaryBucket:    string(sub.Criteria.SalaryBucket),
		Frequency:       string(sub.Frequency),
		DeliveryMethod:  string(sub.DeliveryMethod),
	}
}

func newValidator() *validator.Validate {
	v := validator.New()

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// A keyword must be exactly one token as job text is tokenized, otherwise
	// no job keyword can ever equal it.
	_ = v.RegisterValidation("keyword", func(fl validator.FieldLevel) bool {
		kw := fl.Field().String()
		tokens := matching.Tokenize(kw)
		return len(tokens) == 1 && tokens[0] == kw
	})
	_ = v.RegisterValidation("salary_bucket", func(fl validator.FieldLevel) bool {
		return domain.SalaryBucket(fl.Field().String()).IsValid()
	})

	return v
}

// toValidationError converts validator output into a *ValidationError for
// the first failing field.
func toValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}

	fe := verrs[0]
	return &ValidationError{Field: fe.Field(), Reason: reason(fe)}
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "keyword":
		return "must be a single word of letters, digits, '+' or '#', with '.' or '-' only inside the word"
	case "salary_bucket":
		return "unknown salary bucket"
	default:
		return "failed " + fe.Tag() + " check"
	}
}
