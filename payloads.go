package auth

import (
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// RegisterPayload carries the fields needed to create an account.
type RegisterPayload struct {
	Email     string `form:"email" json:"email"`
	Username  string `form:"username" json:"username"`
	Password  string `form:"password" json:"password"`
	FirstName string `form:"first_name" json:"first_name"`
	LastName  string `form:"last_name" json:"last_name"`
	Phone     string `form:"phone_number" json:"phone_number"`
}

// Validate will run validation rules
func (r RegisterPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.Length(6, 320), is.Email),
		validation.Field(&r.Username, validation.Length(3, 50)),
		validation.Field(&r.Password, validation.Required, validation.Length(8, 100)),
		validation.Field(&r.FirstName, validation.Required, validation.Length(1, 100)),
		validation.Field(&r.LastName, validation.Required, validation.Length(1, 100)),
		validation.Field(&r.Phone, validation.Length(7, 20)),
	)
}

// LoginPayload carries login credentials.
type LoginPayload struct {
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
}

// GetIdentifier returns the identifier
func (r LoginPayload) GetIdentifier() string {
	return r.Email
}

// GetPassword will return the password
func (r LoginPayload) GetPassword() string {
	return r.Password
}

// Validate will run validation rules
func (r LoginPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required),
	)
}

// ChangePasswordPayload requires the current password before a change.
type ChangePasswordPayload struct {
	CurrentPassword string `form:"current_password" json:"current_password"`
	NewPassword     string `form:"new_password" json:"new_password"`
}

// Validate will run validation rules
func (r ChangePasswordPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.CurrentPassword, validation.Required),
		validation.Field(&r.NewPassword, validation.Required, validation.Length(8, 100)),
	)
}

// PasswordResetRequestPayload starts the reset flow for an email.
type PasswordResetRequestPayload struct {
	Email string `form:"email" json:"email"`
}

// Validate will run validation rules
func (r PasswordResetRequestPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
	)
}

// PasswordResetCompletePayload consumes a reset token.
type PasswordResetCompletePayload struct {
	Token       string `form:"token" json:"token"`
	NewPassword string `form:"new_password" json:"new_password"`
}

// Validate will run validation rules
func (r PasswordResetCompletePayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Token, validation.Required, validation.Length(32, 128)),
		validation.Field(&r.NewPassword, validation.Required, validation.Length(8, 100)),
	)
}
