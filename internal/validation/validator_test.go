package validation

import (
	"errors"
	"strings"
	"testing"
)

type loginInput struct {
	Email    string `json:"email" validate:"omitempty,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Mode     string `json:"mode" validate:"omitempty,oneof=a b"`
}

func TestStructPasses(t *testing.T) {
	if err := Struct(&loginInput{Email: "a@b.io", Password: "longenough"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStructReportsJSONFieldNames(t *testing.T) {
	err := Struct(&loginInput{Email: "nope", Password: "short", Mode: "c"})
	var verr *Error
	if !errors.As(err, &verr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if len(verr.Fields) != 3 {
		t.Fatalf("expected 3 field errors, got %+v", verr.Fields)
	}
	got := map[string]string{}
	for _, f := range verr.Fields {
		got[f.Field] = f.Message
	}
	if got["email"] != "email must be a valid email address" {
		t.Fatalf("email message=%q", got["email"])
	}
	if got["password"] != "password must be at least 8 characters" {
		t.Fatalf("password message=%q", got["password"])
	}
	if !strings.Contains(got["mode"], "one of: a b") {
		t.Fatalf("mode message=%q", got["mode"])
	}
}

func TestStructRequired(t *testing.T) {
	err := Struct(&loginInput{})
	if err == nil || err.Error() != "password is required" {
		t.Fatalf("unexpected error: %v", err)
	}
}
