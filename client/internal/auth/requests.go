package auth

import (
	"strings"

	"drivepower/client/internal/api"
)

const minPasswordLength = 6

// LoginRequest carries user credentials. Remember asks the server for a long-lived token.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Remember bool   `json:"rememberMe"`
}

func (r LoginRequest) validate() error {
	if err := validateEmail(r.Email); err != nil {
		return err
	}
	if strings.TrimSpace(r.Password) == "" {
		return api.NewValidationError("Password is required.")
	}
	return nil
}

// ManagerLoginRequest authenticates a manager by email or the unique id issued at
// registration.
type ManagerLoginRequest struct {
	Email    string `json:"email,omitempty"`
	UniqueID string `json:"uniqueId,omitempty"`
	Password string `json:"password"`
}

func (r ManagerLoginRequest) validate() error {
	if strings.TrimSpace(r.UniqueID) == "" {
		if err := validateEmail(r.Email); err != nil {
			return err
		}
	}
	if strings.TrimSpace(r.Password) == "" {
		return api.NewValidationError("Password is required.")
	}
	return nil
}

// RegisterRequest creates a customer account.
type RegisterRequest struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Phone    string `json:"phoneNumber,omitempty"`
}

func (r RegisterRequest) validate() error {
	return validateRegistration(r.FullName, r.Email, r.Password)
}

// ManagerRegisterRequest creates a manager account that operators approve.
type ManagerRegisterRequest struct {
	FullName    string `json:"fullName"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	Phone       string `json:"phoneNumber,omitempty"`
	CompanyName string `json:"companyName,omitempty"`
}

func (r ManagerRegisterRequest) validate() error {
	return validateRegistration(r.FullName, r.Email, r.Password)
}

func validateRegistration(fullName, email, password string) error {
	if strings.TrimSpace(fullName) == "" {
		return api.NewValidationError("Full name is required.")
	}
	if err := validateEmail(email); err != nil {
		return err
	}
	if len(password) < minPasswordLength {
		return api.NewValidationError("Password must be at least 6 characters.")
	}
	return nil
}

func validateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return api.NewValidationError("Email is required.")
	}
	at := strings.Index(email, "@")
	if at <= 0 || at == len(email)-1 {
		return api.NewValidationError("Email address is not valid.")
	}
	return nil
}
