package jobs

import (
	"errors"
	"fmt"
	"strings"

	"github.com/geocoder89/rsvphub/internal/domain/job"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the struct tags on job.Job plus the rules tags cannot say.
func Validate(j job.Job) error {
	if !j.Kind.IsValid() {
		return ErrInvalidJobKind
	}
	if j.Status != "" && !j.Status.IsValid() {
		return ErrInvalidJobStatus
	}

	if err := validate.Struct(j); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field()+":"+fe.Tag())
			}
			return fmt.Errorf("%w: %s", ErrInvalidJobPayload, strings.Join(fields, ","))
		}
		return fmt.Errorf("%w: %v", ErrInvalidJobPayload, err)
	}

	switch j.Kind {
	case job.KindRegistrationConfirmed, job.KindRegistrationCancelled:
		if strings.TrimSpace(j.RegistrationID) == "" {
			return fmt.Errorf("%w: registrationId is required for %s", ErrInvalidJobPayload, j.Kind)
		}
	}

	return nil
}
