package models

import (
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"sync"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		err := validate.RegisterValidation("sensorname", func(fl validator.FieldLevel) bool {
			return SensorName(fl.Field().String()).Valid()
		})
		if err != nil {
			panic(err)
		}
	})
	return validate
}

func (t SensorType) Validate() error {
	if !t.Name.Valid() {
		return errors.Wrap(ErrValidation, (&SensorNameError{Name: string(t.Name)}).Error())
	}
	if err := validatorInstance().Struct(t); err != nil {
		return errors.Wrap(ErrValidation, err.Error())
	}
	return nil
}

func (v ObservedValue) Validate() error {
	if err := validatorInstance().Struct(v); err != nil {
		return errors.Wrap(ErrValidation, err.Error())
	}
	if !v.finite() {
		return errors.Wrap(ErrValidation, "value must be a finite number")
	}
	return nil
}

func (r Reading) Validate() error {
	if err := validatorInstance().Struct(r); err != nil {
		return errors.Wrap(ErrValidation, err.Error())
	}
	if !(ObservedValue{Value: *r.Value}).finite() {
		return errors.Wrap(ErrValidation, "value must be a finite number")
	}
	return nil
}

// ValidateReference checks that the value points at one of the given sensor types.
func ValidateReference(v ObservedValue, types map[int64]SensorType) error {
	if _, ok := types[v.SensorTypeId]; !ok {
		return &UnknownSensorTypeError{Id: v.SensorTypeId}
	}
	return nil
}
