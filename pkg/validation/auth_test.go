package validation

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateUsername(t *testing.T) {
	tests := []struct {
		name     string
		username string
		wantErr  bool
		errMsg   string
	}{
		{name: "valid username", username: "testuser"},
		{name: "valid username with numbers", username: "user123"},
		{name: "valid username with underscore", username: "test_user"},
		{name: "valid username with hyphen", username: "test-user"},
		{name: "minimum length username", username: "abc"},
		{
			name:     "empty username",
			username: "",
			wantErr:  true,
			errMsg:   "username cannot be empty",
		},
		{
			name:     "username too short",
			username: "ab",
			wantErr:  true,
			errMsg:   "username must be at least 3 characters long",
		},
		{
			name:     "username too long",
			username: strings.Repeat("a", 51),
			wantErr:  true,
			errMsg:   "username must be at most 50 characters long",
		},
		{
			name:     "username with spaces",
			username: "test user",
			wantErr:  true,
			errMsg:   "username can only contain letters, numbers, underscores, and hyphens",
		},
		{
			name:     "username with non-ascii letters",
			username: "fractalé",
			wantErr:  true,
			errMsg:   "username can only contain letters, numbers, underscores, and hyphens",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUsername(tt.username)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateUsername() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil {
				return
			}
			if !errors.Is(err, ErrInvalidCredentials) {
				t.Errorf("ValidateUsername() error = %v, want ErrInvalidCredentials", err)
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("ValidateUsername() error message = %q, want it to contain %q", err.Error(), tt.errMsg)
			}
		})
	}
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
		errMsg   string
	}{
		{name: "valid password", password: "s3cret!"},
		{name: "minimum length", password: "123456"},
		{name: "maximum length", password: strings.Repeat("p", 72)},
		{name: "multibyte counts by characters", password: "ééééé€"},
		{
			name:     "empty password",
			password: "",
			wantErr:  true,
			errMsg:   "password cannot be empty",
		},
		{
			name:     "too short",
			password: "12345",
			wantErr:  true,
			errMsg:   "password must be at least 6 characters long",
		},
		{
			name:     "longer than bcrypt accepts",
			password: strings.Repeat("p", 73),
			wantErr:  true,
			errMsg:   "password must be at most 72 bytes long",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePassword(tt.password)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidatePassword() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("ValidatePassword() error message = %q, want it to contain %q", err.Error(), tt.errMsg)
			}
		})
	}
}

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		name    string
		email   string
		wantErr bool
	}{
		{"empty email is allowed", "", false},
		{"valid email", "user@example.com", false},
		{"valid email with plus", "user+tag@example.co.uk", false},
		{"missing at", "userexample.com", true},
		{"missing domain", "user@", true},
		{"missing tld", "user@example", true},
		{"spaces", "user @example.com", true},
		{"too long", strings.Repeat("a", 250) + "@example.com", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEmail(tt.email)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateEmail() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateLogin(t *testing.T) {
	if err := ValidateLogin(Credentials{Username: "alice", Password: "x"}); err != nil {
		t.Errorf("ValidateLogin() error = %v", err)
	}
	for _, c := range []Credentials{
		{Password: "secret"},
		{Username: "alice"},
		{},
	} {
		if err := ValidateLogin(c); !errors.Is(err, ErrMissingFields) {
			t.Errorf("ValidateLogin(%+v) error = %v, want ErrMissingFields", c, err)
		}
	}
}

func TestValidateRegistration(t *testing.T) {
	tests := []struct {
		name    string
		creds   Credentials
		wantErr error
	}{
		{
			name:  "valid registration",
			creds: Credentials{Username: "alice", Email: "alice@example.com", Password: "secret123"},
		},
		{
			name:  "valid registration without email",
			creds: Credentials{Username: "alice", Password: "secret123"},
		},
		{
			name:    "missing password",
			creds:   Credentials{Username: "alice"},
			wantErr: ErrMissingFields,
		},
		{
			name:    "short username",
			creds:   Credentials{Username: "al", Password: "secret123"},
			wantErr: ErrInvalidCredentials,
		},
		{
			name:    "bad email",
			creds:   Credentials{Username: "alice", Email: "not-an-email", Password: "secret123"},
			wantErr: ErrInvalidCredentials,
		},
		{
			name:    "short password",
			creds:   Credentials{Username: "alice", Password: "123"},
			wantErr: ErrInvalidCredentials,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRegistration(tt.creds)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateRegistration() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateRegistration() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCredentials_Normalize(t *testing.T) {
	c := Credentials{Username: "  alice ", Email: " Alice@Example.COM ", Password: " pass word "}
	c.Normalize()

	if c.Username != "alice" {
		t.Errorf("Username = %q", c.Username)
	}
	if c.Email != "alice@example.com" {
		t.Errorf("Email = %q", c.Email)
	}
	if c.Password != " pass word " {
		t.Errorf("Password = %q, want it untouched", c.Password)
	}
}
